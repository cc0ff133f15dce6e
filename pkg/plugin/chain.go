package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"onebridge/pkg/onebot"
)

// Unit describes one loaded plugin.
type Unit struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

// Chain is a loaded, ordered snapshot of enabled plugins. It is safe for
// concurrent use by many connections.
type Chain struct {
	registry *Registry
	log      *slog.Logger

	mu       sync.RWMutex
	units    []Plugin
	loadedAt time.Time
}

func NewChain(registry *Registry, log *slog.Logger) *Chain {
	if log == nil {
		log = slog.Default()
	}
	return &Chain{
		registry: registry,
		log:      log.With("component", "plugin.chain"),
	}
}

// Load replaces the snapshot with the registry's enabled plugins. Handle calls
// already running keep the snapshot they started with.
func (c *Chain) Load() []Unit {
	var loaded []Plugin
	for _, p := range c.registry.Ordered() {
		if !p.Enabled() {
			continue
		}
		loaded = append(loaded, p)
	}

	c.mu.Lock()
	c.units = loaded
	c.loadedAt = time.Now().UTC()
	c.mu.Unlock()

	units := describe(loaded)
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	c.log.Info("Plugins loaded", "count", len(loaded), "plugins", ids)

	return units
}

// Units returns the loaded snapshot in priority order.
func (c *Chain) Units() []Unit {
	return describe(c.snapshot())
}

// LoadedAt returns when the snapshot was last replaced.
func (c *Chain) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

func (c *Chain) snapshot() []Plugin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.units
}

// Handle offers event to each loaded plugin in order and returns the first
// claiming result along with the claimant's ID. A plugin that errors or
// panics is logged and treated as declining. A canceled ctx claims the
// message unanswered: plugins that never ran cannot be assumed to decline.
func (c *Chain) Handle(ctx context.Context, event onebot.MessageEvent) (Result, string) {
	for _, p := range c.snapshot() {
		if err := ctx.Err(); err != nil {
			c.log.Warn("Plugin chain interrupted; message suppressed",
				"next_plugin", p.ID(),
				"message_type", string(event.Type),
				"error", err,
			)
			return Suppress(), ""
		}

		result, err := safeHandle(ctx, p, event)
		if err != nil {
			c.log.Warn("Plugin failed",
				"plugin_id", p.ID(),
				"message_type", string(event.Type),
				"error", err,
			)
			continue
		}
		if !result.Handled {
			continue
		}

		c.log.Debug("Plugin claimed message",
			"plugin_id", p.ID(),
			"message_type", string(event.Type),
			"suppressed", result.Suppressed(),
		)
		return result, p.ID()
	}

	return Pass(), ""
}

func safeHandle(ctx context.Context, p Plugin, event onebot.MessageEvent) (result Result, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = Pass()
			err = fmt.Errorf("plugin panic: %v", recovered)
		}
	}()

	return p.Handle(ctx, event)
}

func describe(plugins []Plugin) []Unit {
	units := make([]Unit, len(plugins))
	for i, p := range plugins {
		units[i] = Unit{ID: p.ID()}
		if d, ok := p.(Describer); ok {
			units[i].Description = d.Description()
		}
	}
	return units
}
