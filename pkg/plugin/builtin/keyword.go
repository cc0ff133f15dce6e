package builtin

import (
	"context"
	"strings"

	"onebridge/pkg/onebot"
	"onebridge/pkg/plugin"
)

// Keyword answers messages that exactly match a configured keyword.
// Matching ignores surrounding whitespace and case.
type Keyword struct {
	enabled bool
	replies map[string]string
}

func NewKeyword(enabled bool, replies map[string]string) *Keyword {
	normalized := make(map[string]string, len(replies))
	for key, reply := range replies {
		key = normalizeKeyword(key)
		if key == "" {
			continue
		}
		normalized[key] = reply
	}
	return &Keyword{enabled: enabled, replies: normalized}
}

func (k *Keyword) ID() string          { return IDKeyword }
func (k *Keyword) Enabled() bool       { return k.enabled && len(k.replies) > 0 }
func (k *Keyword) Description() string { return "answers configured keywords" }

func (k *Keyword) Handle(_ context.Context, event onebot.MessageEvent) (plugin.Result, error) {
	reply, ok := k.replies[normalizeKeyword(event.RawText)]
	if !ok {
		return plugin.Pass(), nil
	}
	if strings.TrimSpace(reply) == "" {
		return plugin.Suppress(), nil
	}
	return plugin.Reply(reply), nil
}

func normalizeKeyword(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
