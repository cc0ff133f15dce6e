// Package fantasy answers in-process through charm.land/fantasy, keeping
// each conversation's history in memory.
package fantasy

import (
	"context"
	"fmt"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	"onebridge/pkg/config"
	"onebridge/pkg/provider/internal/call"
	providertypes "onebridge/pkg/provider/types"
)

const name = "fantasy"

type modelSource interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

type generateFunc func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error)

type Client struct {
	models   modelSource
	timeout  time.Duration
	model    string
	sampling call.Sampling
	generate generateFunc
	history  *transcripts
}

// New builds the client from providers.openai settings.
func New(cfg *config.Config) (*Client, error) {
	account, err := call.OpenAIAccount(cfg.Providers.OpenAI)
	if err != nil {
		return nil, err
	}
	model, err := call.OpenAIModel(cfg.Backend.Model)
	if err != nil {
		return nil, err
	}

	models, err := provideropenai.New(accountOptions(account)...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	return &Client{
		models:   models,
		timeout:  call.Seconds(cfg.Providers.OpenAI.RequestTimeoutSeconds),
		model:    model,
		sampling: call.SamplingOf(cfg.Backend),
		generate: runAgent,
		history:  newTranscripts(),
	}, nil
}

func accountOptions(account call.Account) []provideropenai.Option {
	opts := []provideropenai.Option{provideropenai.WithAPIKey(account.APIKey)}
	if account.BaseURL != "" {
		opts = append(opts, provideropenai.WithBaseURL(account.BaseURL))
	}
	if account.Organization != "" {
		opts = append(opts, provideropenai.WithOrganization(account.Organization))
	}
	if account.Project != "" {
		opts = append(opts, provideropenai.WithProject(account.Project))
	}
	return opts
}

// Health resolves the configured model without generating.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := call.Bound(ctx, c.timeout)
	defer cancel()

	span := call.Start(name, "health", "model", c.model)
	if _, err := c.models.LanguageModel(ctx, c.model); err != nil {
		return span.Fail(fmt.Errorf("health check failed: %w", err))
	}
	span.Done()
	return nil
}

// CreateSession opens an empty transcript. The title is unused.
func (c *Client) CreateSession(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.history.open(), nil
}

// SessionCount reports how many transcripts are held.
func (c *Client) SessionCount() int {
	return c.history.count()
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

	past, ok := c.history.replay(sessionID)
	if !ok {
		return providertypes.PromptResult{}, fmt.Errorf("session %s is not started", sessionID)
	}
	if system := strings.TrimSpace(req.SystemPrompt); system != "" && len(past) == 0 {
		intro := textMessage(core.MessageRoleSystem, system)
		past = append(past, intro)
		c.history.extend(sessionID, intro)
	}

	ctx, cancel := call.Bound(ctx, c.timeout)
	defer cancel()

	span := call.Start(name, "prompt", "session_id", sessionID, "model", model, "history", len(past))
	lm, err := c.models.LanguageModel(ctx, model)
	if err != nil {
		return providertypes.PromptResult{}, span.Fail(fmt.Errorf("resolve language model: %w", err))
	}

	generate := c.generate
	if generate == nil {
		generate = runAgent
	}
	result, err := generate(ctx, lm, core.AgentCall{
		Prompt:          prompt,
		Messages:        past,
		MaxOutputTokens: c.sampling.MaxTokens,
		Temperature:     c.sampling.Temperature,
	})
	if err != nil {
		return providertypes.PromptResult{}, span.Fail(fmt.Errorf("prompt failed: %w", err))
	}

	answer := answerText(result.Response.Content)
	span.Done("response_length", len(answer))

	if answer == "" {
		c.history.extend(sessionID, core.NewUserMessage(prompt))
	} else {
		c.history.extend(sessionID, core.NewUserMessage(prompt), textMessage(core.MessageRoleAssistant, answer))
	}

	return providertypes.PromptResult{
		Text:      answer,
		SessionID: sessionID,
		Metadata: providertypes.PromptMetadata{
			Provider: "openai",
			Model:    model,
			Usage:    usageOf(result),
		},
	}, nil
}

func usageOf(result *core.AgentResult) *providertypes.TokenUsage {
	u := result.TotalUsage
	return providertypes.TokenUsage{
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		TotalTokens:         u.TotalTokens,
		ReasoningTokens:     u.ReasoningTokens,
		CacheCreationTokens: u.CacheCreationTokens,
		CacheReadTokens:     u.CacheReadTokens,
	}.UsagePtr()
}

// answerText joins the non-blank text parts of content, one per line.
func answerText(content core.ResponseContent) string {
	var b strings.Builder
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}
		text, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}
		line := strings.TrimSpace(text.Text)
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

func runAgent(ctx context.Context, lm core.LanguageModel, agentCall core.AgentCall) (*core.AgentResult, error) {
	return core.NewAgent(lm).Generate(ctx, agentCall)
}
