// Package plugin runs inbound chat messages through an ordered chain of
// capability units. The first unit that claims a message wins.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"onebridge/pkg/onebot"
)

// ErrPluginAlreadyRegistered indicates a plugin with the same ID exists.
var ErrPluginAlreadyRegistered = errors.New("plugin already registered")

// ErrPluginNotFound indicates the specified plugin was not found.
var ErrPluginNotFound = errors.New("plugin not found")

// Result is a unit's verdict. Reply is ignored unless Handled is set; a
// handled result with an empty Reply suppresses any response.
type Result struct {
	Handled bool
	Reply   string
}

// Pass declines the message so the chain moves on.
func Pass() Result { return Result{} }

// Reply claims the message and answers it with text.
func Reply(text string) Result { return Result{Handled: true, Reply: text} }

// Suppress claims the message without answering it.
func Suppress() Result { return Result{Handled: true} }

// Suppressed reports whether the result claims the message with nothing to send.
func (r Result) Suppressed() bool { return r.Handled && r.Reply == "" }

// Plugin is one capability unit.
type Plugin interface {
	ID() string
	Enabled() bool
	Handle(ctx context.Context, event onebot.MessageEvent) (Result, error)
}

// Describer is implemented by plugins that can summarize themselves for /help.
type Describer interface {
	Description() string
}

type entry struct {
	plugin   Plugin
	priority int
	seq      int
}

// Registry holds every known plugin keyed by ID with a fixed priority.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	seq     int
	logger  *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With("component", "plugin.registry"),
	}
}

// Register stores p at priority; lower priorities run first and ties keep
// registration order. Returns ErrPluginAlreadyRegistered for a duplicate ID.
func (r *Registry) Register(p Plugin, priority int) error {
	id := strings.TrimSpace(p.ID())
	if id == "" {
		return errors.New("plugin id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("%w: %s", ErrPluginAlreadyRegistered, id)
	}

	r.entries[id] = &entry{plugin: p, priority: priority, seq: r.seq}
	r.seq++

	r.logger.Debug("Plugin registered", "plugin_id", id, "priority", priority)
	return nil
}

// Unregister removes a plugin. Chains keep their loaded snapshot until reloaded.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; !exists {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	delete(r.entries, id)
	return nil
}

// Get returns the plugin registered under id.
func (r *Registry) Get(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.plugin, true
}

// Ordered returns all registered plugins in priority order.
func (r *Registry) Ordered() []Plugin {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})

	out := make([]Plugin, len(entries))
	for i, e := range entries {
		out[i] = e.plugin
	}
	return out
}
