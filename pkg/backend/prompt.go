package backend

import (
	_ "embed"
	"strings"

	"onebridge/pkg/config"
)

//go:embed templates/chat.md
var defaultChatPrompt string

// SystemPrompt resolves the system prompt sent with each conversation.
// Providers that own their prompt server side (a Dify app, an OpenCode
// agent) get none unless one is configured.
func SystemPrompt(cfg config.BackendConfig) string {
	if prompt := strings.TrimSpace(cfg.SystemPrompt); prompt != "" {
		return prompt
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "dify", "opencode":
		return ""
	default:
		return strings.TrimSpace(defaultChatPrompt)
	}
}
