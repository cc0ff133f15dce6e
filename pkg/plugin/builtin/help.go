package builtin

import (
	"context"
	"errors"
	"strings"

	"onebridge/pkg/onebot"
	"onebridge/pkg/plugin"
)

const helpCommand = "/help"

// UnitLister reports the currently loaded plugin units.
type UnitLister interface {
	Units() []plugin.Unit
}

// Help answers /help with the loaded plugins.
type Help struct {
	enabled bool
	units   UnitLister
}

func NewHelp(enabled bool, units UnitLister) *Help {
	return &Help{enabled: enabled, units: units}
}

func (h *Help) ID() string          { return IDHelp }
func (h *Help) Enabled() bool       { return h.enabled }
func (h *Help) Description() string { return helpCommand + " lists available plugins" }

func (h *Help) Handle(_ context.Context, event onebot.MessageEvent) (plugin.Result, error) {
	if !strings.EqualFold(strings.TrimSpace(event.RawText), helpCommand) {
		return plugin.Pass(), nil
	}
	if h.units == nil {
		return plugin.Pass(), errors.New("help plugin has no unit lister")
	}

	var b strings.Builder
	b.WriteString("Available plugins:")
	for _, unit := range h.units.Units() {
		b.WriteString("\n- ")
		b.WriteString(unit.ID)
		if unit.Description != "" {
			b.WriteString(": ")
			b.WriteString(unit.Description)
		}
	}

	return plugin.Reply(b.String()), nil
}
