package builtin

import (
	"context"

	"onebridge/pkg/onebot"
	"onebridge/pkg/plugin"
)

// Blocklist claims and suppresses every message from a listed sender.
type Blocklist struct {
	enabled bool
	users   map[int64]struct{}
}

func NewBlocklist(enabled bool, users []int64) *Blocklist {
	set := make(map[int64]struct{}, len(users))
	for _, id := range users {
		set[id] = struct{}{}
	}
	return &Blocklist{enabled: enabled, users: set}
}

func (b *Blocklist) ID() string          { return IDBlocklist }
func (b *Blocklist) Enabled() bool       { return b.enabled }
func (b *Blocklist) Description() string { return "ignores messages from blocked users" }

func (b *Blocklist) Handle(_ context.Context, event onebot.MessageEvent) (plugin.Result, error) {
	if _, blocked := b.users[event.SenderID]; blocked {
		return plugin.Suppress(), nil
	}
	return plugin.Pass(), nil
}
