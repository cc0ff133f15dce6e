package router

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

const DefaultMaxFrameBytes = 1 << 20

// Server upgrades HTTP requests and hands the connections to a Router.
// Every path is upgraded so the router can reject it with a close frame.
type Server struct {
	router        *Router
	upgrader      websocket.Upgrader
	maxFrameBytes int64
	log           *slog.Logger
}

func NewServer(router *Router, maxFrameBytes int64, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}

	return &Server{
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway is not a browser; there is no origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		maxFrameBytes: maxFrameBytes,
		log:           log.With("component", "router.server"),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "path", req.URL.Path, "remote_addr", req.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(s.maxFrameBytes)

	s.log.Debug("WebSocket upgraded", "path", req.URL.Path, "remote_addr", req.RemoteAddr)
	if err := s.router.Accept(req.Context(), conn, req.URL.Path); err != nil && !errors.Is(err, ErrPathRejected) {
		s.log.Error("Connection ended with error", "remote_addr", req.RemoteAddr, "error", err)
	}
}
