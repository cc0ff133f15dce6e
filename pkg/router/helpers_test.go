package router

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"onebridge/pkg/logger"
	"onebridge/pkg/onebot"
	"onebridge/pkg/plugin"
	providertypes "onebridge/pkg/provider/types"
)

type fakeGate struct {
	mu       sync.Mutex
	disabled map[int64]bool
	calls    int
}

func (g *fakeGate) IsEnabled(_ context.Context, groupID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return !g.disabled[groupID]
}

type backendCall struct {
	Text     string
	Identity int64
	IsGroup  bool
}

type fakeBackend struct {
	mu     sync.Mutex
	answer string
	err    error
	delay  time.Duration
	calls  []backendCall
	// started is signalled when a request begins, if non-nil.
	started chan struct{}
}

func (b *fakeBackend) SendRequest(ctx context.Context, text string, identity int64, isGroup bool) (providertypes.PromptResult, error) {
	b.mu.Lock()
	b.calls = append(b.calls, backendCall{Text: text, Identity: identity, IsGroup: isGroup})
	answer, err, delay, started := b.answer, b.err, b.delay, b.started
	b.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return providertypes.PromptResult{}, ctx.Err()
		}
	}
	if err != nil {
		return providertypes.PromptResult{}, err
	}
	return providertypes.PromptResult{Text: answer}, nil
}

func (b *fakeBackend) ExtractAnswer(result providertypes.PromptResult) (string, bool) {
	return result.Text, result.Text != ""
}

func (b *fakeBackend) Calls() []backendCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backendCall(nil), b.calls...)
}

type fakePlugin struct {
	id      string
	matches func(onebot.MessageEvent) bool
	result  plugin.Result
	err     error
	panics  bool

	mu    sync.Mutex
	calls int
}

func (p *fakePlugin) ID() string    { return p.id }
func (p *fakePlugin) Enabled() bool { return true }

func (p *fakePlugin) Handle(_ context.Context, event onebot.MessageEvent) (plugin.Result, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.panics {
		panic("plugin exploded")
	}
	if p.err != nil {
		return plugin.Pass(), p.err
	}
	if p.matches != nil && !p.matches(event) {
		return plugin.Pass(), nil
	}
	return p.result, nil
}

func (p *fakePlugin) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newChain(t *testing.T, plugins ...*fakePlugin) *plugin.Chain {
	t.Helper()

	registry := plugin.NewRegistry(logger.Discard())
	for i, p := range plugins {
		if err := registry.Register(p, (i+1)*10); err != nil {
			t.Fatalf("Register(%s) error: %v", p.id, err)
		}
	}
	return plugin.NewChain(registry, logger.Discard())
}

type fakeSender struct {
	mu      sync.Mutex
	actions []onebot.Action
	err     error
}

func (s *fakeSender) Send(action onebot.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.actions = append(s.actions, action)
	return nil
}

func (s *fakeSender) Actions() []onebot.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]onebot.Action(nil), s.actions...)
}

type wsFrame struct {
	messageType int
	data        []byte
}

// fakeConn is an in-memory Conn. Frames pushed with push are read in order;
// finish makes the next read report a normal close.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []wsFrame
	notify  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 32),
		closed: make(chan struct{}),
		notify: make(chan struct{}, 64),
	}
}

func (c *fakeConn) push(payload string) { c.in <- []byte(payload) }

func (c *fakeConn) finish() { close(c.in) }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, net.ErrClosed
	default:
	}

	select {
	case data, ok := <-c.in:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	c.mu.Lock()
	c.written = append(c.written, wsFrame{messageType: messageType, data: append([]byte(nil), data...)})
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// actions decodes every text frame written so far.
func (c *fakeConn) actions(t *testing.T) []onebot.Action {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []onebot.Action
	for _, f := range c.written {
		if f.messageType != websocket.TextMessage {
			continue
		}
		var action onebot.Action
		if err := json.Unmarshal(f.data, &action); err != nil {
			t.Fatalf("decode written action: %v", err)
		}
		out = append(out, action)
	}
	return out
}

func (c *fakeConn) closeFrames() []wsFrame {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []wsFrame
	for _, f := range c.written {
		if f.messageType == websocket.CloseMessage {
			out = append(out, f)
		}
	}
	return out
}

func privateFrame(messageID, userID int64, text string) string {
	payload, _ := json.Marshal(map[string]any{
		"post_type":    "message",
		"message_type": "private",
		"message_id":   messageID,
		"self_id":      1,
		"raw_message":  text,
		"sender":       map[string]any{"user_id": userID, "nickname": "tester"},
	})
	return string(payload)
}

func groupFrame(messageID, groupID, userID int64, text string) string {
	payload, _ := json.Marshal(map[string]any{
		"post_type":    "message",
		"message_type": "group",
		"message_id":   messageID,
		"self_id":      1,
		"group_id":     groupID,
		"raw_message":  text,
		"sender":       map[string]any{"user_id": userID},
	})
	return string(payload)
}

const heartbeatFrame = `{"post_type":"meta_event","meta_event_type":"heartbeat","self_id":1,"interval":5000,"time":1700000000}`

func runAccept(t *testing.T, r *Router, conn Conn, path string) <-chan error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- r.Accept(context.Background(), conn, path) }()
	return done
}

func waitAccept(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Accept did not return")
		return errors.New("unreachable")
	}
}
