// Package gateway runs the bridge: the WebSocket listener for the IM
// gateway, status endpoints and backend health polling.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"onebridge/pkg/backend"
	"onebridge/pkg/config"
	"onebridge/pkg/plugin"
	"onebridge/pkg/router"
)

const defaultHealthCheckInterval = 30 * time.Second

type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	pipeline *Pipeline
	counter  *eventCounter

	mu              sync.RWMutex
	startedAt       time.Time
	listening       bool
	backendLastOKAt time.Time
	backendLastErr  string
}

type statusResponse struct {
	Status          string                 `json:"status"`
	UptimeSeconds   int64                  `json:"uptime_seconds"`
	ListenPath      string                 `json:"listen_path"`
	BackendLastOKAt string                 `json:"backend_last_ok_at,omitempty"`
	BackendLastErr  string                 `json:"backend_last_error,omitempty"`
	Sessions        []router.SessionInfo   `json:"sessions"`
	Plugins         []plugin.Unit          `json:"plugins"`
	Conversations   []backend.Conversation `json:"conversations"`
	Events          map[string]int64       `json:"events"`
}

func NewService(cfg *config.Config, pipeline *Pipeline, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:      cfg,
		log:      log.With("component", "gateway.service"),
		pipeline: pipeline,
		counter:  newEventCounter(),
	}, nil
}

// Run listens on the configured address until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	addr := s.cfg.Listener.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts gateway connections on ln until ctx is done, then closes
// live sessions and shuts the listener down.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkBackendHealth(ctx); err != nil {
		s.log.Warn("Backend not healthy at startup", "error", err)
	}

	events, unsubscribe := s.pipeline.Events.Subscribe(ctx, 64)
	go func() {
		defer unsubscribe()
		observeEvents(ctx, events, s.counter, s.log.With("component", "gateway.events"))
	}()
	go s.pollBackendHealth(ctx)

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(ln)
	}()

	s.setListening(true)
	s.log.Info("Bridge listening", "address", ln.Addr().String(), "path", s.pipeline.Router.Path())

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}

	s.setListening(false)
	s.pipeline.Router.Close()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("Listener shutdown incomplete", "error", err)
	}

	s.log.Info("Bridge stopped")
	return runErr
}

// Handler serves the status endpoints. Every other path goes to the
// WebSocket server, which rejects paths other than the listen path.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/", router.NewServer(s.pipeline.Router, s.cfg.Listener.MaxFrameBytes, s.log))
	return mux
}

func (s *Service) pollBackendHealth(ctx context.Context) {
	interval := s.cfg.Backend.HealthCheckInterval()
	if interval <= 0 {
		interval = defaultHealthCheckInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.checkBackendHealth(ctx); err != nil {
				s.log.Warn("Backend health check failed", "error", err)
			}
		}
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}
	backendLastOK := ""
	if !s.backendLastOKAt.IsZero() {
		backendLastOK = s.backendLastOKAt.Format(time.RFC3339)
	}
	backendLastErr := s.backendLastErr
	s.mu.RUnlock()

	return statusResponse{
		Status:          status,
		UptimeSeconds:   uptime,
		ListenPath:      s.pipeline.Router.Path(),
		BackendLastOKAt: backendLastOK,
		BackendLastErr:  backendLastErr,
		Sessions:        s.pipeline.Router.Sessions(),
		Plugins:         s.pipeline.Chain.Units(),
		Conversations:   s.pipeline.Backend.Conversations(),
		Events:          s.counter.snapshot(),
	}
}

// isReady requires the listener to be up and the last backend health check
// to have passed.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.listening {
		return false
	}
	if s.backendLastOKAt.IsZero() {
		return false
	}
	return s.backendLastErr == ""
}

func (s *Service) checkBackendHealth(ctx context.Context) error {
	if err := s.pipeline.Backend.Health(ctx); err != nil {
		s.mu.Lock()
		s.backendLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("backend health check failed: %w", err)
	}

	s.mu.Lock()
	s.backendLastErr = ""
	s.backendLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setListening(listening bool) {
	s.mu.Lock()
	s.listening = listening
	s.mu.Unlock()
}
