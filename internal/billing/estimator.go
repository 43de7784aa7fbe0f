package billing

import (
	"math"
	"strings"

	"github.com/suPer8Hu/gopherchat-stream/internal/ai"
)

// Fallback rates for upstreams that omit cost/usage entirely: $1 per
// million input tokens, $4 per million output tokens.
const (
	fallbackInputUSDPerMTok  = 1.0
	fallbackOutputUSDPerMTok = 4.0
	wordsToTokens            = 1.33
)

// EstimateTokens is a coarse per-word token heuristic. Empty text is 0;
// any non-empty text counts at least 1.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	n := int(math.Ceil(float64(words) * wordsToTokens))
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateCostCents converts an upstream usage summary, or failing that a
// token heuristic over the prompt and output, into cents at 4-decimal
// precision. ok is false when there is nothing to estimate from (callers
// treat that as a zero charge).
func EstimateCostCents(usage *ai.Usage, prompt []ai.Message, output string) (cents float64, ok bool) {
	// Upstream-reported cost is authoritative when present.
	if usage != nil && usage.HasCost {
		return clampCents(usage.TotalCostUSD * 100), true
	}

	// Reported token counts win even when zero; the heuristic covers only
	// fields the upstream omitted.
	promptTokens := 0
	if usage != nil && usage.HasPromptTokens {
		promptTokens = usage.PromptTokens
	} else {
		parts := make([]string, 0, len(prompt))
		for _, m := range prompt {
			parts = append(parts, m.Content)
		}
		promptTokens = EstimateTokens(strings.Join(parts, " "))
	}
	completionTokens := 0
	if usage != nil && usage.HasCompletionTokens {
		completionTokens = usage.CompletionTokens
	} else {
		completionTokens = EstimateTokens(output)
	}
	if promptTokens <= 0 && completionTokens <= 0 {
		return 0, false
	}

	totalUSD := float64(promptTokens)/1e6*fallbackInputUSDPerMTok +
		float64(completionTokens)/1e6*fallbackOutputUSDPerMTok
	return clampCents(totalUSD * 100), true
}

func clampCents(c float64) float64 {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	c = math.Round(c*10000) / 10000
	if c < 0 {
		return 0
	}
	return c
}
