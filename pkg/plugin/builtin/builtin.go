// Package builtin provides the plugins shipped with the bridge.
package builtin

import (
	"fmt"

	"onebridge/pkg/config"
	"onebridge/pkg/plugin"
)

const (
	IDBlocklist = "blocklist"
	IDPing      = "ping"
	IDHelp      = "help"
	IDKeyword   = "keyword"
)

// Priorities fix the order built-ins run in. Lower runs first.
const (
	PriorityBlocklist = 10
	PriorityPing      = 20
	PriorityHelp      = 30
	PriorityKeyword   = 40
)

// Register adds every built-in plugin to registry. Each is enabled according
// to cfg.Enabled. The help plugin lists the units loaded into chain.
func Register(registry *plugin.Registry, chain *plugin.Chain, cfg config.PluginsConfig) error {
	plugins := []struct {
		plugin   plugin.Plugin
		priority int
	}{
		{NewBlocklist(cfg.IsEnabled(IDBlocklist), cfg.Blocklist.Users), PriorityBlocklist},
		{NewPing(cfg.IsEnabled(IDPing)), PriorityPing},
		{NewHelp(cfg.IsEnabled(IDHelp), chain), PriorityHelp},
		{NewKeyword(cfg.IsEnabled(IDKeyword), cfg.Keyword.Replies), PriorityKeyword},
	}

	for _, p := range plugins {
		if err := registry.Register(p.plugin, p.priority); err != nil {
			return fmt.Errorf("register builtin %s: %w", p.plugin.ID(), err)
		}
	}

	return nil
}
