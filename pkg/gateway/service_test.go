package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onebridge/pkg/bus"
	"onebridge/pkg/config"
	"onebridge/pkg/logger"
	"onebridge/pkg/onebot"
	"onebridge/pkg/policy"
	providertypes "onebridge/pkg/provider/types"
)

type recordingProvider struct {
	mu sync.Mutex

	healthErr         error
	healthCalls       int
	createSessionNext int
	promptSessionIDs  []string
	promptTexts       []string
}

func (p *recordingProvider) Health(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthCalls++
	return p.healthErr
}

func (p *recordingProvider) CreateSession(context.Context, string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createSessionNext++
	return fmt.Sprintf("session-%d", p.createSessionNext), nil
}

func (p *recordingProvider) Prompt(_ context.Context, req providertypes.PromptRequest) (providertypes.PromptResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.promptSessionIDs = append(p.promptSessionIDs, req.SessionID)
	p.promptTexts = append(p.promptTexts, req.Prompt)
	return providertypes.PromptResult{Text: "**ok:" + req.Prompt + "**", SessionID: req.SessionID}, nil
}

func (p *recordingProvider) snapshot() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.promptSessionIDs...), append([]string(nil), p.promptTexts...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{}
	cfg.Listener.Path = "/onebot/v11/ws"
	cfg.Backend.Provider = "dify"
	cfg.Backend.PlainText = true
	cfg.Plugins.Enabled = []string{"ping", "help"}
	cfg.Groups.Store = "sqlite"
	cfg.Groups.Path = filepath.Join(t.TempDir(), "groups.db")
	cfg.Dedupe.Enabled = true
	return cfg
}

type runningService struct {
	svc      *Service
	pipeline *Pipeline
	baseURL  string
	wsURL    string
	cancel   context.CancelFunc
	done     chan error
	stopOnce sync.Once
}

func startService(t *testing.T, cfg *config.Config, client *recordingProvider) *runningService {
	t.Helper()

	pipeline, err := NewPipelineWithClient(cfg, client, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pipeline.Close() })

	svc, err := NewService(cfg, pipeline, logger.Discard())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, ln) }()

	rs := &runningService{
		svc:      svc,
		pipeline: pipeline,
		baseURL:  "http://" + ln.Addr().String(),
		wsURL:    "ws://" + ln.Addr().String(),
		cancel:   cancel,
		done:     done,
	}
	t.Cleanup(rs.stop)

	require.Eventually(t, func() bool {
		resp, err := http.Get(rs.baseURL + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	return rs
}

func (rs *runningService) stop() {
	rs.stopOnce.Do(func() {
		rs.cancel()
		select {
		case <-rs.done:
		case <-time.After(5 * time.Second):
		}
	})
}

func getStatus(t *testing.T, url string) (int, statusResponse) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var status statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	return resp.StatusCode, status
}

func readAction(t *testing.T, conn *websocket.Conn) onebot.Action {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var action onebot.Action
	require.NoError(t, json.Unmarshal(data, &action))
	return action
}

func TestServiceBridgesGatewayToBackend(t *testing.T) {
	cfg := testConfig(t)
	client := &recordingProvider{}
	rs := startService(t, cfg, client)

	require.NoError(t, rs.pipeline.Store.SetGroupSetting(context.Background(), policy.GroupSetting{GroupID: 100, Enabled: false}))

	conn, _, err := websocket.DefaultDialer.Dial(rs.wsURL+cfg.Listener.Path, nil)
	require.NoError(t, err)
	defer conn.Close()

	frames := []string{
		`{"post_type":"meta_event","meta_event_type":"heartbeat","self_id":1,"interval":5000}`,
		`{"post_type":"message","message_type":"private","message_id":1,"self_id":1,"raw_message":"one","sender":{"user_id":42}}`,
		`{"post_type":"message","message_type":"private","message_id":1,"self_id":1,"raw_message":"one","sender":{"user_id":42}}`,
		`{"post_type":"message","message_type":"group","message_id":2,"self_id":1,"group_id":100,"raw_message":"muted","sender":{"user_id":7}}`,
		`{"post_type":"message","message_type":"group","message_id":3,"self_id":1,"group_id":200,"raw_message":"/ping","sender":{"user_id":7}}`,
		`{"post_type":"message","message_type":"private","message_id":4,"self_id":1,"raw_message":"two","sender":{"user_id":42}}`,
	}
	for _, f := range frames {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(f)))
	}

	first := readAction(t, conn)
	assert.Equal(t, onebot.ActionSendPrivate, first.Action)
	assert.Equal(t, int64(42), first.Params.UserID)
	assert.Equal(t, "ok:one", first.Params.Message)

	second := readAction(t, conn)
	assert.Equal(t, onebot.ActionSendGroup, second.Action)
	assert.Equal(t, int64(200), second.Params.GroupID)
	assert.Equal(t, "pong", second.Params.Message)

	third := readAction(t, conn)
	assert.Equal(t, "ok:two", third.Params.Message)

	sessionIDs, prompts := client.snapshot()
	assert.Equal(t, []string{"one", "two"}, prompts)
	require.Len(t, sessionIDs, 2)
	assert.Equal(t, sessionIDs[0], sessionIDs[1])

	code, status := getStatus(t, rs.baseURL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", status.Status)
	require.Len(t, status.Sessions, 1)
	assert.Equal(t, 1, status.Sessions[0].Heartbeat.Pulses)
	require.Len(t, status.Conversations, 1)
	assert.Equal(t, "private:42", status.Conversations[0].Key)

	require.Eventually(t, func() bool {
		_, status := getStatus(t, rs.baseURL+"/healthz")
		return status.Events[string(bus.EventReplySent)] == 3 &&
			status.Events[string(bus.EventPolicyBlocked)] == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServiceRejectsOtherPaths(t *testing.T) {
	rs := startService(t, testConfig(t), &recordingProvider{})

	conn, _, err := websocket.DefaultDialer.Dial(rs.wsURL+"/other", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "unexpected error: %v", err)
}

func TestServiceNotReadyWhenBackendUnhealthy(t *testing.T) {
	rs := startService(t, testConfig(t), &recordingProvider{healthErr: errors.New("dify unreachable")})

	code, status := getStatus(t, rs.baseURL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", status.Status)
	assert.True(t, strings.Contains(status.BackendLastErr, "dify unreachable"))
	assert.Equal(t, []string{"ping", "help"}, unitIDs(status))
}

func TestServiceShutdownClosesSessions(t *testing.T) {
	cfg := testConfig(t)
	rs := startService(t, cfg, &recordingProvider{})

	conn, _, err := websocket.DefaultDialer.Dial(rs.wsURL+cfg.Listener.Path, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return len(rs.pipeline.Router.Sessions()) == 1 }, 5*time.Second, 10*time.Millisecond)
	rs.stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
}

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	if svc.isReady() {
		t.Fatal("expected not ready before listening")
	}

	svc.listening = true
	if svc.isReady() {
		t.Fatal("expected not ready without backend health")
	}

	svc.backendLastOKAt = time.Now().UTC()
	if !svc.isReady() {
		t.Fatal("expected ready with listener and healthy backend")
	}

	svc.backendLastErr = "boom"
	if svc.isReady() {
		t.Fatal("expected not ready when backend has error")
	}
}

func TestNewServiceRequiresPipeline(t *testing.T) {
	if _, err := NewService(&config.Config{}, nil, nil); err == nil {
		t.Fatal("expected error without pipeline")
	}
	if _, err := NewService(nil, &Pipeline{}, nil); err == nil {
		t.Fatal("expected error without config")
	}
}

func unitIDs(status statusResponse) []string {
	ids := make([]string, len(status.Plugins))
	for i, u := range status.Plugins {
		ids[i] = u.ID
	}
	return ids
}
