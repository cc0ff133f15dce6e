// Package router owns gateway connections and routes each inbound chat
// message through the policy gate, the plugin chain and the AI backend.
package router

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"onebridge/pkg/bus"
	"onebridge/pkg/dedupe"
	"onebridge/pkg/onebot"
	"onebridge/pkg/plugin"
	providertypes "onebridge/pkg/provider/types"
)

const (
	DefaultPath           = "/onebot/v11/ws"
	DefaultFrameQueue     = 64
	DefaultBackendTimeout = 60 * time.Second
)

// ErrPathRejected is returned by Accept when the requested path does not
// match the listen path.
var ErrPathRejected = errors.New("connection path rejected")

// Gate decides whether a group is served.
type Gate interface {
	IsEnabled(ctx context.Context, groupID int64) bool
}

// Chain is the loaded plugin chain.
type Chain interface {
	Load() []plugin.Unit
	Handle(ctx context.Context, event onebot.MessageEvent) (plugin.Result, string)
}

// Backend answers messages no plugin claimed.
type Backend interface {
	SendRequest(ctx context.Context, text string, identity int64, isGroup bool) (providertypes.PromptResult, error)
	ExtractAnswer(result providertypes.PromptResult) (string, bool)
}

// Options tune a Router. Zero values take the package defaults.
type Options struct {
	Path              string
	FrameQueue        int
	HeartbeatInterval time.Duration
	BackendTimeout    time.Duration
	// Format rewrites backend answers before sending, for example to strip
	// markdown. Plugin replies are sent as is.
	Format func(string) string
	Dedupe *dedupe.Cache
	Bus    *bus.Bus
}

type Router struct {
	gate    Gate
	chain   Chain
	backend Backend
	opts    Options
	log     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	done     chan struct{}
}

func New(gate Gate, chain Chain, backend Backend, opts Options, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(opts.Path) == "" {
		opts.Path = DefaultPath
	}
	opts.Path = normalizePath(opts.Path)
	if opts.FrameQueue <= 0 {
		opts.FrameQueue = DefaultFrameQueue
	}
	if opts.BackendTimeout <= 0 {
		opts.BackendTimeout = DefaultBackendTimeout
	}

	return &Router{
		gate:     gate,
		chain:    chain,
		backend:  backend,
		opts:     opts,
		log:      log.With("component", "router"),
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
}

// Path is the only accepted connection path.
func (r *Router) Path() string { return r.opts.Path }

// Accept runs one connection until it closes. A path mismatch closes the
// connection with a policy-violation frame and returns ErrPathRejected.
// Any other termination returns nil.
func (r *Router) Accept(ctx context.Context, conn Conn, path string) error {
	sess := newSession(conn, path, r.opts.HeartbeatInterval, r.log)

	if path != r.opts.Path {
		sess.log.Warn("Rejecting connection on unexpected path", "path", path, "want", r.opts.Path)
		sess.close(websocket.ClosePolicyViolation, "unexpected path")
		r.publish(ctx, bus.Event{
			Type:      bus.EventSessionRejected,
			SessionID: sess.id,
			Payload:   map[string]string{"path": path},
		})
		return ErrPathRejected
	}

	if !r.register(sess) {
		sess.log.Warn("Rejecting connection during shutdown")
		sess.close(websocket.CloseGoingAway, "shutting down")
		return nil
	}
	defer r.unregister(sess)

	sess.activate()
	units := r.chain.Load()
	sess.log.Info("Gateway connected", "path", path, "plugins", len(units))
	r.publish(ctx, bus.Event{Type: bus.EventSessionOpened, SessionID: sess.id})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go sess.monitor.Run(connCtx)
	go func() {
		select {
		case <-connCtx.Done():
			sess.close(websocket.CloseGoingAway, "shutting down")
		case <-r.done:
			sess.close(websocket.CloseGoingAway, "shutting down")
		case <-sess.done:
		}
	}()

	frames := make(chan []byte, r.opts.FrameQueue)
	readErr := make(chan error, 1)
	go readFrames(sess, frames, readErr)

	dropped := 0
	for frame := range frames {
		if sess.State() == StateClosed {
			dropped++
			continue
		}
		r.handleFrame(connCtx, sess, frame)
	}

	err := <-readErr
	sess.close(0, "")
	cancel()

	attrs := []any{"pulses", sess.monitor.Status().Pulses}
	if dropped > 0 {
		attrs = append(attrs, "dropped_frames", dropped)
	}
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		attrs = append(attrs, "reason", err.Error())
	}
	sess.log.Info("Gateway disconnected", attrs...)

	closed := bus.Event{Type: bus.EventSessionClosed, SessionID: sess.id}
	if err != nil {
		closed.Error = err.Error()
	}
	r.publish(ctx, closed)
	return nil
}

// readFrames feeds frames into the bounded queue until the connection
// fails, then closes the session and the queue.
func readFrames(sess *Session, frames chan<- []byte, readErr chan<- error) {
	defer close(frames)

	for {
		messageType, data, err := sess.conn.ReadMessage()
		if err != nil {
			sess.close(0, "")
			readErr <- err
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		select {
		case frames <- data:
		case <-sess.done:
			readErr <- nil
			return
		}
	}
}

func (r *Router) handleFrame(ctx context.Context, sess *Session, frame []byte) {
	event, err := onebot.Decode(frame)
	if err != nil {
		category := onebot.CategoryFromError(err)
		sess.log.Warn("Dropping malformed frame", "category", category, "error", err)
		r.publish(ctx, bus.Event{
			Type:      bus.EventFrameDropped,
			SessionID: sess.id,
			Payload:   map[string]string{"category": category},
			Error:     err.Error(),
		})
		return
	}

	switch ev := event.(type) {
	case onebot.HeartbeatEvent:
		record := sess.monitor.RecordPulse(ev)
		sess.log.Debug("Heartbeat received", "self_id", ev.SelfID, "interval", ev.Interval.String())
		r.publish(ctx, bus.Event{
			Type:      bus.EventHeartbeat,
			At:        record.At,
			SessionID: sess.id,
		})

	case onebot.MessageEvent:
		if ev.MessageID != 0 && r.opts.Dedupe.Seen(dedupe.Key(ev.SelfID, ev.MessageID)) {
			sess.log.Debug("Dropping redelivered message", "message_id", ev.MessageID)
			r.publish(ctx, bus.Event{
				Type:        bus.EventFrameDropped,
				SessionID:   sess.id,
				MessageType: string(ev.Type),
				TargetID:    ev.TargetID(),
				Payload:     map[string]string{"category": "duplicate", "message_id": strconv.FormatInt(ev.MessageID, 10)},
			})
			return
		}
		r.dispatch(ctx, sess.id, sess.log, sess, ev)

	case onebot.UnknownEvent:
		sess.log.Debug("Ignoring unsupported event", "post_type", ev.PostType, "detail", ev.Detail)
		r.publish(ctx, bus.Event{
			Type:      bus.EventFrameDropped,
			SessionID: sess.id,
			Payload:   map[string]string{"category": "unsupported", "post_type": ev.PostType},
		})
	}
}

// Sessions returns a snapshot of live sessions, oldest first.
func (r *Router) Sessions() []SessionInfo {
	r.mu.RLock()
	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, sess := range r.sessions {
		infos = append(infos, sess.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].OpenedAt.Before(infos[j].OpenedAt) })
	return infos
}

// Close closes every live session and rejects new ones.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()
}

func (r *Router) register(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	r.sessions[sess.id] = sess
	return true
}

func (r *Router) unregister(sess *Session) {
	r.mu.Lock()
	delete(r.sessions, sess.id)
	r.mu.Unlock()
}

// publish reports an observation. Events outlive the connection that
// caused them.
func (r *Router) publish(ctx context.Context, event bus.Event) {
	r.opts.Bus.Publish(context.WithoutCancel(ctx), event)
}

// normalizePath gives a configured path its leading slash. Incoming paths
// are compared against the result byte for byte.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
