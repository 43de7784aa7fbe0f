package ai

import (
	"strings"
	"testing"
)

func TestDecoder_ReassemblesLineSplitAcrossChunks(t *testing.T) {
	d := NewDecoder()

	first := d.Feed([]byte(`data: {"choices":[{"delta":{"content":"He`))
	if len(first) != 0 {
		t.Fatalf("expected no deltas from incomplete chunk, got %d", len(first))
	}

	second := d.Feed([]byte("llo\"}}]}\n\n"))
	if len(second) != 1 {
		t.Fatalf("expected 1 delta after completing the line, got %d", len(second))
	}
	if second[0].Content != "Hello" {
		t.Fatalf("unexpected content: %q", second[0].Content)
	}
}

func TestDecoder_SkipsMalformedLines(t *testing.T) {
	d := NewDecoder()

	deltas := d.Feed([]byte("data: not-json\ndata: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n"))
	if len(deltas) != 1 {
		t.Fatalf("expected 1 delta, got %d", len(deltas))
	}
	if deltas[0].Content != "ok" {
		t.Fatalf("unexpected content: %q", deltas[0].Content)
	}
}

func TestDecoder_IgnoresNonDataLinesAndDone(t *testing.T) {
	d := NewDecoder()

	input := ": keepalive comment\n" +
		"event: message\n" +
		"\n" +
		"data: [DONE]\n" +
		"data: {\"choices\":[{\"delta\":{\"reasoning\":\"hmm\"}}]}\n"
	deltas := d.Feed([]byte(input))
	if len(deltas) != 1 {
		t.Fatalf("expected 1 delta, got %d", len(deltas))
	}
	if deltas[0].Reasoning != "hmm" {
		t.Fatalf("unexpected reasoning: %q", deltas[0].Reasoning)
	}
}

func TestDecoder_DropsOversizedFragment(t *testing.T) {
	d := NewDecoder()

	big := "data: " + strings.Repeat("x", maxFragmentBytes)
	if deltas := d.Feed([]byte(big)); len(deltas) != 0 {
		t.Fatalf("expected no deltas from unterminated line, got %d", len(deltas))
	}
	if d.rest != "" {
		t.Fatalf("expected fragment dropped, still holding %d bytes", len(d.rest))
	}

	// decoding resumes once the runaway line finally ends
	deltas := d.Feed([]byte("tail-of-dropped-line\ndata: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n"))
	if len(deltas) != 1 || deltas[0].Content != "ok" {
		t.Fatalf("expected decoding to resume with 1 delta, got %+v", deltas)
	}
}

func TestDecode_UsageLastOneWins(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}],\"usage\":{\"prompt_tokens\":1}}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}],\"usage\":{\"prompt_tokens\":7,\"completion_tokens\":3}}\n\n" +
		"data: [DONE]\n\n"

	var content strings.Builder
	var usage *Usage
	err := Decode(strings.NewReader(body), func(d Delta) error {
		content.WriteString(d.Content)
		if d.Usage != nil {
			usage = d.Usage
		}
		return nil
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if content.String() != "ab" {
		t.Fatalf("unexpected content: %q", content.String())
	}
	if usage == nil || usage.PromptTokens != 7 || usage.CompletionTokens != 3 {
		t.Fatalf("expected last usage to win, got %+v", usage)
	}
}
