// Package backend maps IM conversations onto AI provider sessions.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"onebridge/pkg/config"
	"onebridge/pkg/provider"
	providertypes "onebridge/pkg/provider/types"
)

// ConversationKey names the backend conversation for one private peer or
// one group. All members of a group share the group's conversation.
func ConversationKey(identity int64, isGroup bool) string {
	if isGroup {
		return "group:" + strconv.FormatInt(identity, 10)
	}
	return "private:" + strconv.FormatInt(identity, 10)
}

// Adapter owns the provider client and the per-conversation session map.
type Adapter struct {
	client  provider.Client
	model   string
	system  string
	timeout time.Duration
	log     *slog.Logger

	mu            sync.RWMutex
	conversations map[string]*conversation
}

// conversation is the provider session tracked for one conversation key.
// promptMu keeps at most one request in flight per conversation; stateMu
// guards the fields read by Conversations.
type conversation struct {
	promptMu sync.Mutex
	started  bool

	stateMu   sync.Mutex
	sessionID string
	lastUsed  time.Time
	turns     int
	usage     providertypes.TokenUsage
}

func (c *conversation) setSession(sessionID string) {
	c.stateMu.Lock()
	c.sessionID = sessionID
	c.stateMu.Unlock()
}

func (c *conversation) touch() {
	c.stateMu.Lock()
	c.lastUsed = time.Now()
	c.stateMu.Unlock()
}

func (c *conversation) record(usage *providertypes.TokenUsage) {
	c.stateMu.Lock()
	c.turns++
	addUsage(&c.usage, usage)
	c.stateMu.Unlock()
}

// Conversation is a read-only view of one tracked conversation.
type Conversation struct {
	Key       string                   `json:"key"`
	SessionID string                   `json:"session_id,omitempty"`
	LastUsed  time.Time                `json:"last_used"`
	Turns     int                      `json:"turns"`
	Usage     providertypes.TokenUsage `json:"usage"`
}

func New(client provider.Client, cfg config.BackendConfig, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		client:        client,
		model:         strings.TrimSpace(cfg.Model),
		system:        SystemPrompt(cfg),
		timeout:       cfg.Timeout(),
		log:           log.With("component", "backend.adapter"),
		conversations: make(map[string]*conversation),
	}
}

// Timeout is the bound callers should put on one SendRequest.
func (a *Adapter) Timeout() time.Duration {
	return a.timeout
}

// SendRequest sends text to the conversation for identity, starting a
// provider session on first use.
func (a *Adapter) SendRequest(ctx context.Context, text string, identity int64, isGroup bool) (providertypes.PromptResult, error) {
	if a == nil || a.client == nil {
		return providertypes.PromptResult{}, errors.New("backend is not configured")
	}

	key := ConversationKey(identity, isGroup)
	conv := a.conversationFor(key)

	conv.promptMu.Lock()
	defer conv.promptMu.Unlock()

	if !conv.started {
		sessionID, err := a.client.CreateSession(ctx, "onebridge:"+key)
		if err != nil {
			return providertypes.PromptResult{}, fmt.Errorf("start session for %s: %w", key, err)
		}
		conv.setSession(sessionID)
		conv.started = true
		a.log.Debug("Backend session started", "conversation", key, "backend_session", sessionID)
	}

	started := time.Now()
	result, err := a.client.Prompt(ctx, providertypes.PromptRequest{
		SessionID:    conv.sessionID,
		Prompt:       text,
		Model:        a.model,
		User:         key,
		SystemPrompt: a.system,
	})
	conv.touch()
	if err != nil {
		return providertypes.PromptResult{}, fmt.Errorf("prompt %s: %w", key, err)
	}

	// Some providers mint the conversation on the first turn.
	if result.SessionID != "" && result.SessionID != conv.sessionID {
		a.log.Debug("Backend session assigned", "conversation", key, "backend_session", result.SessionID)
		conv.setSession(result.SessionID)
	}
	conv.record(result.Metadata.Usage)

	attrs := []any{
		"conversation", key,
		"provider", result.Metadata.Provider,
		"model", result.Metadata.Model,
		"duration", time.Since(started),
	}
	a.log.Debug("Backend request completed", append(attrs, usageAttrs(result.Metadata.Usage)...)...)
	return result, nil
}

// ExtractAnswer returns the trimmed answer and whether it is usable.
func ExtractAnswer(result providertypes.PromptResult) (string, bool) {
	answer := strings.TrimSpace(result.Text)
	return answer, answer != ""
}

// ExtractAnswer is the method form of the package function.
func (a *Adapter) ExtractAnswer(result providertypes.PromptResult) (string, bool) {
	return ExtractAnswer(result)
}

// Health checks the provider.
func (a *Adapter) Health(ctx context.Context) error {
	if a == nil || a.client == nil {
		return errors.New("backend is not configured")
	}
	return a.client.Health(ctx)
}

// Forget drops the session for one conversation so the next request starts
// a fresh one.
func (a *Adapter) Forget(identity int64, isGroup bool) bool {
	key := ConversationKey(identity, isGroup)

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.conversations[key]; !ok {
		return false
	}
	delete(a.conversations, key)
	return true
}

// Conversations returns a snapshot of tracked conversations.
func (a *Adapter) Conversations() []Conversation {
	a.mu.RLock()
	convs := make(map[string]*conversation, len(a.conversations))
	for key, conv := range a.conversations {
		convs[key] = conv
	}
	a.mu.RUnlock()

	out := make([]Conversation, 0, len(convs))
	for key, conv := range convs {
		conv.stateMu.Lock()
		out = append(out, Conversation{
			Key:       key,
			SessionID: conv.sessionID,
			LastUsed:  conv.lastUsed,
			Turns:     conv.turns,
			Usage:     conv.usage,
		})
		conv.stateMu.Unlock()
	}
	return out
}

func (a *Adapter) conversationFor(key string) *conversation {
	a.mu.RLock()
	conv, ok := a.conversations[key]
	a.mu.RUnlock()
	if ok {
		return conv
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if conv, ok = a.conversations[key]; ok {
		return conv
	}
	conv = &conversation{}
	a.conversations[key] = conv
	return conv
}
