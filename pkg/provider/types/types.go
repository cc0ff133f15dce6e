package types

// PromptRequest is one conversational turn sent to a provider.
type PromptRequest struct {
	// SessionID is the provider-side conversation. Providers that mint the
	// conversation on the first turn accept an empty value.
	SessionID    string
	Prompt       string
	Model        string
	User         string
	SystemPrompt string
}

// PromptResult is the normalized provider response payload. An empty Text
// with a nil error means the provider answered with nothing usable.
type PromptResult struct {
	Text      string
	SessionID string
	Metadata  PromptMetadata
}

// PromptMetadata carries provider/model identity and optional usage accounting.
type PromptMetadata struct {
	Provider  string
	Model     string
	MessageID string
	Usage     *TokenUsage
}

// TokenUsage captures token accounting across providers.
type TokenUsage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	TotalTokens         int64 `json:"total_tokens"`
	ReasoningTokens     int64 `json:"reasoning_tokens,omitempty"`
	CacheCreationTokens int64 `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int64 `json:"cache_read_tokens,omitempty"`
}

// IsZero reports whether all token counters are unset/zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 &&
		u.OutputTokens == 0 &&
		u.TotalTokens == 0 &&
		u.ReasoningTokens == 0 &&
		u.CacheCreationTokens == 0 &&
		u.CacheReadTokens == 0
}

// UsagePtr returns nil for zero usage so callers can omit it.
func (u TokenUsage) UsagePtr() *TokenUsage {
	if u.IsZero() {
		return nil
	}
	return &u
}
