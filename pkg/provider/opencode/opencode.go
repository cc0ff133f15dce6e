// Package opencode answers through an OpenCode server, one OpenCode session
// per IM conversation.
package opencode

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sdk "github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"

	"onebridge/pkg/config"
	"onebridge/pkg/provider/internal/call"
	providertypes "onebridge/pkg/provider/types"
)

const (
	name            = "opencode"
	pathHealth      = "/global/health"
	defaultUsername = "opencode"
)

type Client struct {
	api     *sdk.Client
	timeout time.Duration
	model   string
}

type healthResponse struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version"`
}

func New(cfg *config.Config) (*Client, error) {
	pc := cfg.Providers.OpenCode
	baseURL := strings.TrimSpace(pc.BaseURL)
	if baseURL == "" {
		return nil, errors.New("providers.opencode.base_url is required")
	}

	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if header, ok := basicAuth(pc); ok {
		opts = append(opts, option.WithHeader("Authorization", header))
	}

	return &Client{
		api:     sdk.NewClient(opts...),
		timeout: call.Seconds(pc.RequestTimeoutSeconds),
		model:   strings.TrimSpace(cfg.Backend.Model),
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := call.Bound(ctx, c.timeout)
	defer cancel()

	span := call.Start(name, "health")
	var status healthResponse
	if err := c.api.Get(ctx, pathHealth, nil, &status); err != nil {
		return span.Fail(fmt.Errorf("health check failed: %w", err))
	}
	if !status.Healthy {
		return span.Fail(errors.New("opencode server reported unhealthy status"))
	}
	span.Done("version", status.Version)
	return nil
}

// CreateSession opens an OpenCode session titled after the conversation key.
func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	ctx, cancel := call.Bound(ctx, c.timeout)
	defer cancel()

	params := sdk.SessionNewParams{}
	if title = strings.TrimSpace(title); title != "" {
		params.Title = sdk.F(title)
	}

	span := call.Start(name, "create_session", "title", title)
	session, err := c.api.Session.New(ctx, params)
	if err != nil {
		return "", span.Fail(fmt.Errorf("create session failed: %w", err))
	}
	if session.ID == "" {
		return "", span.Fail(errors.New("create session returned empty session id"))
	}
	span.Done("session_id", session.ID)
	return session.ID, nil
}

func (c *Client) Prompt(ctx context.Context, req providertypes.PromptRequest) (providertypes.PromptResult, error) {
	sessionID, prompt, err := call.Turn(req, true)
	if err != nil {
		return providertypes.PromptResult{}, err
	}
	model := call.Model(req, c.model)

	ctx, cancel := call.Bound(ctx, c.timeout)
	defer cancel()

	span := call.Start(name, "prompt", "session_id", sessionID, "model", model, "prompt_length", len(prompt))
	response, err := c.api.Session.Prompt(ctx, sessionID, promptParams(prompt, model, req.SystemPrompt))
	if err != nil {
		return providertypes.PromptResult{}, span.Fail(fmt.Errorf("prompt failed: %w", err))
	}

	text := joinText(response.Parts)
	span.Done("response_length", len(text), "parts_count", len(response.Parts))

	tokens := response.Info.Tokens
	usage := providertypes.TokenUsage{
		InputTokens:     round(tokens.Input),
		OutputTokens:    round(tokens.Output),
		TotalTokens:     round(tokens.Input) + round(tokens.Output),
		ReasoningTokens: round(tokens.Reasoning),
		CacheReadTokens: round(tokens.Cache.Read),
	}

	return providertypes.PromptResult{
		Text:      text,
		SessionID: sessionID,
		Metadata: providertypes.PromptMetadata{
			Provider:  strings.TrimSpace(response.Info.ProviderID),
			Model:     strings.TrimSpace(response.Info.ModelID),
			MessageID: strings.TrimSpace(response.Info.ID),
			Usage:     usage.UsagePtr(),
		},
	}, nil
}

// promptParams sends one text part. A "provider/model" reference pins the
// model; anything else leaves the server default.
func promptParams(prompt, model, systemPrompt string) sdk.SessionPromptParams {
	params := sdk.SessionPromptParams{
		Parts: sdk.F([]sdk.SessionPromptParamsPartUnion{
			sdk.TextPartInputParam{
				Type: sdk.F(sdk.TextPartInputTypeText),
				Text: sdk.F(prompt),
			},
		}),
	}
	if system := strings.TrimSpace(systemPrompt); system != "" {
		params.System = sdk.F(system)
	}
	if providerID, modelID, ok := call.ModelRef(model); ok {
		params.Model = sdk.F(sdk.SessionPromptParamsModel{
			ProviderID: sdk.F(providerID),
			ModelID:    sdk.F(modelID),
		})
	}
	return params
}

func basicAuth(cfg config.OpenCodeProviderConfig) (string, bool) {
	password := call.Secret(cfg.PasswordEnv)
	if password == "" {
		return "", false
	}

	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = defaultUsername
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password)), true
}

// joinText keeps non-empty text parts, dropping reasoning and tool parts.
func joinText(parts []sdk.Part) string {
	var b strings.Builder
	for _, part := range parts {
		if part.Type != sdk.PartTypeText {
			continue
		}
		text := strings.TrimSpace(part.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(text)
	}
	return b.String()
}

func round(value float64) int64 {
	if value <= 0 {
		return 0
	}
	return int64(math.Round(value))
}
