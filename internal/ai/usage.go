package ai

import "encoding/json"

// Usage is the canonical form of an upstream usage summary. OpenRouter and
// the providers behind it disagree on field naming (snake_case, camelCase,
// bare "cost"), so all aliases are folded here and nowhere else.
type Usage struct {
	// Token counts are meaningful only when the matching Has flag is true;
	// an explicit zero from the upstream is a real count, not an omission.
	PromptTokens        int
	HasPromptTokens     bool
	CompletionTokens    int
	HasCompletionTokens bool
	TotalTokens         int

	// TotalCostUSD is meaningful only when HasCost is true; some upstreams
	// report a legitimate zero cost.
	TotalCostUSD float64
	HasCost      bool
}

func (u *Usage) UnmarshalJSON(b []byte) error {
	var raw struct {
		PromptTokensSnake     *int `json:"prompt_tokens"`
		PromptTokensCamel     *int `json:"promptTokens"`
		CompletionTokensSnake *int `json:"completion_tokens"`
		CompletionTokensCamel *int `json:"completionTokens"`
		TotalTokensSnake      *int `json:"total_tokens"`
		TotalTokensCamel      *int `json:"totalTokens"`

		TotalCostSnake *float64 `json:"total_cost"`
		TotalCostCamel *float64 `json:"totalCost"`
		Cost           *float64 `json:"cost"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	pick := func(snake, camel *int) (int, bool) {
		if snake != nil {
			return *snake, true
		}
		if camel != nil {
			return *camel, true
		}
		return 0, false
	}
	u.PromptTokens, u.HasPromptTokens = pick(raw.PromptTokensSnake, raw.PromptTokensCamel)
	u.CompletionTokens, u.HasCompletionTokens = pick(raw.CompletionTokensSnake, raw.CompletionTokensCamel)
	u.TotalTokens, _ = pick(raw.TotalTokensSnake, raw.TotalTokensCamel)

	switch {
	case raw.TotalCostSnake != nil:
		u.TotalCostUSD, u.HasCost = *raw.TotalCostSnake, true
	case raw.TotalCostCamel != nil:
		u.TotalCostUSD, u.HasCost = *raw.TotalCostCamel, true
	case raw.Cost != nil:
		u.TotalCostUSD, u.HasCost = *raw.Cost, true
	}
	return nil
}
