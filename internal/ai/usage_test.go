package ai

import (
	"encoding/json"
	"testing"
)

func TestUsage_NormalizesFieldAliases(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Usage
	}{
		{
			name: "snake_case",
			in:   `{"prompt_tokens":10,"completion_tokens":20,"total_tokens":30,"total_cost":0.5}`,
			want: Usage{
				PromptTokens: 10, HasPromptTokens: true,
				CompletionTokens: 20, HasCompletionTokens: true,
				TotalTokens: 30, TotalCostUSD: 0.5, HasCost: true,
			},
		},
		{
			name: "camelCase",
			in:   `{"promptTokens":10,"completionTokens":20,"totalTokens":30,"totalCost":0.5}`,
			want: Usage{
				PromptTokens: 10, HasPromptTokens: true,
				CompletionTokens: 20, HasCompletionTokens: true,
				TotalTokens: 30, TotalCostUSD: 0.5, HasCost: true,
			},
		},
		{
			name: "bare cost",
			in:   `{"cost":0.25}`,
			want: Usage{TotalCostUSD: 0.25, HasCost: true},
		},
		{
			name: "no cost",
			in:   `{"prompt_tokens":5}`,
			want: Usage{PromptTokens: 5, HasPromptTokens: true},
		},
		{
			name: "zero cost is still present",
			in:   `{"total_cost":0}`,
			want: Usage{HasCost: true},
		},
		{
			name: "zero tokens are still present",
			in:   `{"prompt_tokens":0,"completion_tokens":0}`,
			want: Usage{HasPromptTokens: true, HasCompletionTokens: true},
		},
	}

	for _, tc := range cases {
		var got Usage
		if err := json.Unmarshal([]byte(tc.in), &got); err != nil {
			t.Fatalf("%s: unmarshal: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %+v want %+v", tc.name, got, tc.want)
		}
	}
}
