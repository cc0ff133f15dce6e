// Package call holds the request plumbing shared by the provider clients.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"onebridge/pkg/config"
	providertypes "onebridge/pkg/provider/types"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrPromptRequired  = errors.New("prompt is required")
	ErrModelRequired   = errors.New("model is required")
)

// Bound applies timeout to ctx. A non-positive timeout leaves ctx unbounded.
func Bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// Seconds converts a config field to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Span traces one provider request at debug level.
type Span struct {
	log     *slog.Logger
	started time.Time
}

// Start logs the beginning of operation against provider.
func Start(provider, operation string, attrs ...any) *Span {
	log := slog.Default().With("component", "provider."+provider, "operation", operation)
	log.Debug("Provider request started", attrs...)
	return &Span{log: log, started: time.Now()}
}

// Fail logs err and returns it unchanged.
func (s *Span) Fail(err error) error {
	s.log.Debug("Provider request failed", "duration_ms", time.Since(s.started).Milliseconds(), "error", err)
	return err
}

// Done logs completion with attrs.
func (s *Span) Done(attrs ...any) {
	s.log.Debug("Provider request completed", append([]any{"duration_ms", time.Since(s.started).Milliseconds()}, attrs...)...)
}

// Secret returns the first non-empty value among the named environment
// variables. Blank names are skipped.
func Secret(envNames ...string) string {
	for _, name := range envNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	return ""
}

// Account is the resolved credential set for an OpenAI-compatible endpoint.
// Empty optional fields mean "use the SDK default".
type Account struct {
	APIKey       string
	BaseURL      string
	Organization string
	Project      string
}

// OpenAIAccount resolves providers.openai, reading the key from the
// configured variable or OPENAI_API_KEY.
func OpenAIAccount(pc config.OpenAIProviderConfig) (Account, error) {
	apiKey := Secret(pc.APIKeyEnv, "OPENAI_API_KEY")
	if apiKey == "" {
		return Account{}, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}
	return Account{
		APIKey:       apiKey,
		BaseURL:      strings.TrimSpace(pc.BaseURL),
		Organization: strings.TrimSpace(pc.Organization),
		Project:      strings.TrimSpace(pc.Project),
	}, nil
}

// Sampling holds optional generation limits. Nil fields leave the model
// default in place.
type Sampling struct {
	MaxTokens   *int64
	Temperature *float64
}

// SamplingOf maps backend settings; non-positive values are unset.
func SamplingOf(backend config.BackendConfig) Sampling {
	var s Sampling
	if backend.MaxTokens > 0 {
		n := int64(backend.MaxTokens)
		s.MaxTokens = &n
	}
	if backend.Temperature > 0 {
		t := backend.Temperature
		s.Temperature = &t
	}
	return s
}

// ModelRef splits a "provider/model" reference.
func ModelRef(ref string) (providerID string, modelID string, ok bool) {
	providerID, modelID, found := strings.Cut(strings.TrimSpace(ref), "/")
	providerID = strings.TrimSpace(providerID)
	modelID = strings.TrimSpace(modelID)
	if !found || providerID == "" || modelID == "" {
		return "", "", false
	}
	return providerID, modelID, true
}

// OpenAIModel returns the bare model ID for an OpenAI-served model. Both
// "gpt-5-mini" and "openai/gpt-5-mini" are accepted.
func OpenAIModel(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrModelRequired
	}
	if !strings.Contains(ref, "/") {
		return ref, nil
	}

	providerID, modelID, ok := ModelRef(ref)
	if !ok {
		return "", fmt.Errorf("model %q is invalid", ref)
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not served by openai", providerID)
	}
	return modelID, nil
}

// Turn validates req and returns its trimmed session ID and prompt.
// Providers that mint conversations themselves pass needSession=false.
func Turn(req providertypes.PromptRequest, needSession bool) (sessionID string, prompt string, err error) {
	sessionID = strings.TrimSpace(req.SessionID)
	if needSession && sessionID == "" {
		return "", "", ErrSessionRequired
	}
	prompt = strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", "", ErrPromptRequired
	}
	return sessionID, prompt, nil
}

// Model picks the request model, falling back to the configured default.
func Model(req providertypes.PromptRequest, fallback string) string {
	if model := strings.TrimSpace(req.Model); model != "" {
		return model
	}
	return strings.TrimSpace(fallback)
}
