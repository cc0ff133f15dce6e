package builtin

import (
	"context"
	"strings"

	"onebridge/pkg/onebot"
	"onebridge/pkg/plugin"
)

const pingCommand = "/ping"

// Ping answers /ping with pong.
type Ping struct {
	enabled bool
}

func NewPing(enabled bool) *Ping {
	return &Ping{enabled: enabled}
}

func (p *Ping) ID() string          { return IDPing }
func (p *Ping) Enabled() bool       { return p.enabled }
func (p *Ping) Description() string { return pingCommand + " replies pong" }

func (p *Ping) Handle(_ context.Context, event onebot.MessageEvent) (plugin.Result, error) {
	if !strings.EqualFold(strings.TrimSpace(event.RawText), pingCommand) {
		return plugin.Pass(), nil
	}
	return plugin.Reply("pong"), nil
}
