package gateway

import (
	"errors"
	"fmt"
	"log/slog"

	"onebridge/pkg/backend"
	"onebridge/pkg/bus"
	"onebridge/pkg/config"
	"onebridge/pkg/dedupe"
	"onebridge/pkg/plugin"
	"onebridge/pkg/plugin/builtin"
	"onebridge/pkg/policy"
	"onebridge/pkg/provider"
	"onebridge/pkg/reply"
	"onebridge/pkg/router"
)

// Pipeline is the wired dispatch engine shared by the server and the
// interactive console.
type Pipeline struct {
	Router  *router.Router
	Backend *backend.Adapter
	Chain   *plugin.Chain
	Store   policy.AdminStore
	Events  *bus.Bus
}

// NewPipeline builds the provider client from cfg and wires the pipeline
// around it.
func NewPipeline(cfg *config.Config, log *slog.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	client, err := provider.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize provider: %w", err)
	}
	return NewPipelineWithClient(cfg, client, log)
}

// NewPipelineWithClient wires the pipeline around an existing provider client.
func NewPipelineWithClient(cfg *config.Config, client provider.Client, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}

	store, err := policy.Open(cfg.Groups, log)
	if err != nil {
		return nil, fmt.Errorf("open group store: %w", err)
	}

	registry := plugin.NewRegistry(log)
	chain := plugin.NewChain(registry, log)
	if err := builtin.Register(registry, chain, cfg.Plugins); err != nil {
		_ = store.Close()
		return nil, err
	}
	chain.Load()

	events := bus.New()
	adapter := backend.New(client, cfg.Backend, log)

	opts := router.Options{
		Path:              cfg.Listener.Path,
		FrameQueue:        cfg.Listener.FrameQueue,
		HeartbeatInterval: cfg.Heartbeat.Interval(),
		BackendTimeout:    cfg.Backend.Timeout(),
		Bus:               events,
	}
	if cfg.Backend.PlainText {
		opts.Format = reply.PlainText
	}
	if cfg.Dedupe.Enabled {
		opts.Dedupe = dedupe.New(cfg.Dedupe.TTL(), cfg.Dedupe.MaxEntries)
	}

	return &Pipeline{
		Router:  router.New(policy.NewGate(store, log), chain, adapter, opts, log),
		Backend: adapter,
		Chain:   chain,
		Store:   store,
		Events:  events,
	}, nil
}

// Close releases the store and the event bus. Live sessions are closed
// through the router.
func (p *Pipeline) Close() error {
	p.Router.Close()
	p.Events.Close()
	return p.Store.Close()
}
