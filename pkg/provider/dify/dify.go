// Package dify talks to a Dify chat application over its service API.
package dify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"

	"onebridge/pkg/config"
	"onebridge/pkg/provider/internal/call"
	providertypes "onebridge/pkg/provider/types"
)

const (
	name = "dify"

	pathChatMessages = "chat-messages"
	pathParameters   = "parameters"

	responseModeBlocking = "blocking"
	defaultUser          = "onebridge"
)

// Client calls the Dify service API over the OpenAI SDK's generic
// bearer-authenticated JSON transport.
type Client struct {
	api     osdk.Client
	baseURL string
	timeout time.Duration
}

type chatRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	ConversationID string         `json:"conversation_id"`
	User           string         `json:"user"`
}

func New(cfg *config.Config) (*Client, error) {
	pc := cfg.Providers.Dify

	baseURL := strings.TrimSpace(pc.BaseURL)
	if baseURL == "" {
		return nil, errors.New("providers.dify.base_url is required")
	}

	envName := strings.TrimSpace(pc.APIKeyEnv)
	if envName == "" {
		envName = "DIFY_API_KEY"
	}
	apiKey := call.Secret(envName)
	if apiKey == "" {
		return nil, fmt.Errorf("providers.dify.api_key_env (%s) must point to a set environment variable", envName)
	}

	timeout := call.Seconds(pc.RequestTimeoutSeconds)
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &Client{
		api:     osdk.NewClient(opts...),
		baseURL: baseURL,
		timeout: timeout,
	}, nil
}

// Health fetches the app parameters, which any valid app key may read.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := call.Bound(ctx, c.timeout)
	defer cancel()

	span := call.Start(name, "health")
	var raw []byte
	if err := c.api.Get(ctx, pathParameters, nil, &raw); err != nil {
		return span.Fail(fmt.Errorf("health check failed: %w", err))
	}
	if !gjson.ValidBytes(raw) {
		return span.Fail(errors.New("health check returned invalid JSON"))
	}
	span.Done()
	return nil
}

// CreateSession returns an empty ID. Dify mints the conversation on the first
// chat message and reports it back in PromptResult.SessionID.
func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	call.Start(name, "create_session", "title", strings.TrimSpace(title)).Done("deferred", true)
	return "", nil
}

// Prompt sends a blocking chat message. An empty SessionID starts a new
// Dify conversation; the user field carries the bridge conversation key.
func (c *Client) Prompt(ctx context.Context, req providertypes.PromptRequest) (providertypes.PromptResult, error) {
	sessionID, prompt, err := call.Turn(req, false)
	if err != nil {
		return providertypes.PromptResult{}, err
	}
	user := strings.TrimSpace(req.User)
	if user == "" {
		user = defaultUser
	}

	ctx, cancel := call.Bound(ctx, c.timeout)
	defer cancel()

	span := call.Start(name, "prompt", "session_id", sessionID, "user", user, "prompt_length", len(prompt))
	body := chatRequest{
		Inputs:         map[string]any{},
		Query:          prompt,
		ResponseMode:   responseModeBlocking,
		ConversationID: sessionID,
		User:           user,
	}

	var raw []byte
	if err := c.api.Post(ctx, pathChatMessages, body, &raw); err != nil {
		return providertypes.PromptResult{}, span.Fail(fmt.Errorf("prompt failed: %w", err))
	}

	result, err := parseChatResponse(raw)
	if err != nil {
		return providertypes.PromptResult{}, span.Fail(err)
	}
	if result.SessionID == "" {
		result.SessionID = sessionID
	}

	span.Done("session_id", result.SessionID, "response_length", len(result.Text))
	return result, nil
}

// parseChatResponse reads a blocking chat-messages payload. A missing answer
// is not an error; the caller decides whether an empty answer is usable.
func parseChatResponse(raw []byte) (providertypes.PromptResult, error) {
	if !gjson.ValidBytes(raw) {
		return providertypes.PromptResult{}, errors.New("prompt returned invalid JSON")
	}

	fields := gjson.GetManyBytes(raw,
		"answer",
		"conversation_id",
		"message_id",
		"metadata.usage.prompt_tokens",
		"metadata.usage.completion_tokens",
		"metadata.usage.total_tokens",
	)

	usage := providertypes.TokenUsage{
		InputTokens:  fields[3].Int(),
		OutputTokens: fields[4].Int(),
		TotalTokens:  fields[5].Int(),
	}

	return providertypes.PromptResult{
		Text:      strings.TrimSpace(fields[0].String()),
		SessionID: strings.TrimSpace(fields[1].String()),
		Metadata: providertypes.PromptMetadata{
			Provider:  name,
			MessageID: fields[2].String(),
			Usage:     usage.UsagePtr(),
		},
	}, nil
}
