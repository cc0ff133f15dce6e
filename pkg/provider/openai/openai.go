// Package openai answers through the Responses API, keeping each IM
// conversation in a server-side OpenAI conversation.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/conversations"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"onebridge/pkg/config"
	"onebridge/pkg/provider/internal/call"
	providertypes "onebridge/pkg/provider/types"
)

const name = "openai"

type Client struct {
	api      osdk.Client
	timeout  time.Duration
	model    string
	sampling call.Sampling
}

func New(cfg *config.Config) (*Client, error) {
	pc := cfg.Providers.OpenAI
	account, err := call.OpenAIAccount(pc)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(account.APIKey)}
	if account.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(account.BaseURL))
	}
	if account.Organization != "" {
		opts = append(opts, option.WithOrganization(account.Organization))
	}
	if account.Project != "" {
		opts = append(opts, option.WithProject(account.Project))
	}

	timeout := call.Seconds(pc.RequestTimeoutSeconds)
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &Client{
		api:      osdk.NewClient(opts...),
		timeout:  timeout,
		model:    strings.TrimSpace(cfg.Backend.Model),
		sampling: call.SamplingOf(cfg.Backend),
	}, nil
}

// Health lists models, which needs a valid key but no quota.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := call.Bound(ctx, c.timeout)
	defer cancel()

	span := call.Start(name, "health")
	if _, err := c.api.Models.List(ctx); err != nil {
		return span.Fail(fmt.Errorf("health check failed: %w", err))
	}
	span.Done()
	return nil
}

// CreateSession opens an empty OpenAI conversation. The title is only logged.
func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	ctx, cancel := call.Bound(ctx, c.timeout)
	defer cancel()

	span := call.Start(name, "create_session", "title", strings.TrimSpace(title))
	conversation, err := c.api.Conversations.New(ctx, conversations.ConversationNewParams{})
	if err != nil {
		return "", span.Fail(fmt.Errorf("create session failed: %w", err))
	}

	id := ""
	if conversation != nil {
		id = strings.TrimSpace(conversation.ID)
	}
	if id == "" {
		return "", span.Fail(errors.New("create session returned empty conversation id"))
	}
	span.Done("session_id", id)
	return id, nil
}

func (c *Client) Prompt(ctx context.Context, req providertypes.PromptRequest) (providertypes.PromptResult, error) {
	sessionID, prompt, err := call.Turn(req, true)
	if err != nil {
		return providertypes.PromptResult{}, err
	}
	model, err := call.OpenAIModel(call.Model(req, c.model))
	if err != nil {
		return providertypes.PromptResult{}, err
	}

	ctx, cancel := call.Bound(ctx, c.timeout)
	defer cancel()

	span := call.Start(name, "prompt", "session_id", sessionID, "model", model, "prompt_length", len(prompt))
	response, err := c.api.Responses.New(ctx, c.buildParams(model, sessionID, prompt, req))
	if err != nil {
		return providertypes.PromptResult{}, span.Fail(fmt.Errorf("prompt failed: %w", err))
	}

	text := strings.TrimSpace(response.OutputText())
	span.Done("response_length", len(text))

	return providertypes.PromptResult{
		Text:      text,
		SessionID: sessionID,
		Metadata: providertypes.PromptMetadata{
			Provider:  name,
			Model:     model,
			MessageID: response.ID,
			Usage:     usageOf(response.Usage),
		},
	}, nil
}

func usageOf(u responses.ResponseUsage) *providertypes.TokenUsage {
	return providertypes.TokenUsage{
		InputTokens:     u.InputTokens,
		OutputTokens:    u.OutputTokens,
		TotalTokens:     u.TotalTokens,
		ReasoningTokens: u.OutputTokensDetails.ReasoningTokens,
		CacheReadTokens: u.InputTokensDetails.CachedTokens,
	}.UsagePtr()
}

// buildParams scopes the turn to the conversation. The conversation key is
// sent as the safety identifier so abuse signals map back to one chat.
func (c *Client) buildParams(model, sessionID, prompt string, req providertypes.PromptRequest) responses.ResponseNewParams {
	params := responses.ResponseNewParams{
		Model: model,
		Input: responses.ResponseNewParamsInputUnion{OfString: osdk.String(prompt)},
		Conversation: responses.ResponseNewParamsConversationUnion{
			OfConversationObject: &responses.ResponseConversationParam{ID: sessionID},
		},
	}
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		params.Instructions = osdk.String(system)
	}
	if user := strings.TrimSpace(req.User); user != "" {
		params.SafetyIdentifier = osdk.String(user)
	}
	if c.sampling.MaxTokens != nil {
		params.MaxOutputTokens = osdk.Int(*c.sampling.MaxTokens)
	}
	if c.sampling.Temperature != nil {
		params.Temperature = osdk.Float(*c.sampling.Temperature)
	}
	return params
}
