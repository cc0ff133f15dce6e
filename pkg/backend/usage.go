package backend

import (
	providertypes "onebridge/pkg/provider/types"
)

// addUsage folds one turn's token counts into total. A nil turn is a no-op.
func addUsage(total *providertypes.TokenUsage, turn *providertypes.TokenUsage) {
	if turn == nil {
		return
	}
	total.InputTokens += turn.InputTokens
	total.OutputTokens += turn.OutputTokens
	total.TotalTokens += turn.TotalTokens
	total.ReasoningTokens += turn.ReasoningTokens
	total.CacheCreationTokens += turn.CacheCreationTokens
	total.CacheReadTokens += turn.CacheReadTokens
}

// usageAttrs flattens usage into slog key/value pairs, omitting zero counters.
func usageAttrs(usage *providertypes.TokenUsage) []any {
	if usage == nil || usage.IsZero() {
		return nil
	}

	attrs := []any{
		"usage_input_tokens", usage.InputTokens,
		"usage_output_tokens", usage.OutputTokens,
		"usage_total_tokens", usage.TotalTokens,
	}
	if usage.ReasoningTokens > 0 {
		attrs = append(attrs, "usage_reasoning_tokens", usage.ReasoningTokens)
	}
	if usage.CacheCreationTokens > 0 {
		attrs = append(attrs, "usage_cache_creation_tokens", usage.CacheCreationTokens)
	}
	if usage.CacheReadTokens > 0 {
		attrs = append(attrs, "usage_cache_read_tokens", usage.CacheReadTokens)
	}
	return attrs
}
