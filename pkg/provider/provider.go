// Package provider selects the AI backend client named by backend.provider.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"onebridge/pkg/config"
	"onebridge/pkg/provider/dify"
	providerfantasy "onebridge/pkg/provider/fantasy"
	provideropenai "onebridge/pkg/provider/openai"
	"onebridge/pkg/provider/opencode"
	providertypes "onebridge/pkg/provider/types"
)

// DefaultName is used when backend.provider is empty.
const DefaultName = "dify"

// Client is one concrete AI backend.
type Client interface {
	Health(ctx context.Context) error
	CreateSession(ctx context.Context, title string) (string, error)
	Prompt(ctx context.Context, req providertypes.PromptRequest) (providertypes.PromptResult, error)
}

var constructors = map[string]func(*config.Config) (Client, error){
	"dify":     func(cfg *config.Config) (Client, error) { return dify.New(cfg) },
	"openai":   func(cfg *config.Config) (Client, error) { return provideropenai.New(cfg) },
	"opencode": func(cfg *config.Config) (Client, error) { return opencode.New(cfg) },
	"fantasy":  func(cfg *config.Config) (Client, error) { return providerfantasy.New(cfg) },
}

// Names lists the supported provider names in sorted order.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the client selected by backend.provider.
func New(cfg *config.Config) (Client, error) {
	name := cfg.Backend.Provider
	if name == "" {
		name = DefaultName
	}

	construct, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q (supported: %v)", name, Names())
	}

	slog.Default().With("component", "provider.factory").Debug("Building provider client", "provider", name, "model", cfg.Backend.Model)
	client, err := construct(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s provider: %w", name, err)
	}
	return client, nil
}
