package explain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/CanopyHQ/rationale/internal/causal"
	"github.com/CanopyHQ/rationale/internal/span"
)

func sampleEvidence() []causal.Evidence {
	spans := []span.Span{
		{
			SpanID:       "call_1_span_0",
			Text:         "customer: this is unacceptable I want a supervisor. agent: let me escalate this.",
			TranscriptID: "call_1",
			TurnIDs:      []int{1, 2, 3},
		},
		{
			SpanID:       "call_1_span_3",
			Text:         "customer: I have been waiting for two weeks. agent: I see the delay in the system.",
			TranscriptID: "call_1",
			TurnIDs:      []int{4, 5, 6},
		},
	}
	return causal.Wrap(spans)
}

func TestExtractCitations(t *testing.T) {
	evidence := sampleEvidence()

	tests := []struct {
		name        string
		explanation string
		wantNumbers []int
	}{
		{"single citation", "The escalation stems from frustration [Evidence 1].", []int{1}},
		{"multiple citations", "See [Evidence 1] and [Evidence 2] for details.", []int{1, 2}},
		{"out of range ignored", "See [Evidence 3] and [Evidence 1].", []int{1}},
		{"zero ignored", "See [Evidence 0].", nil},
		{"case insensitive", "see [evidence 2]", []int{2}},
		{"no citations", "No references here.", nil},
		{"repeated citation", "[Evidence 1] then again [Evidence 1].", []int{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			citations := ExtractCitations(tt.explanation, evidence)
			if len(citations) != len(tt.wantNumbers) {
				t.Fatalf("expected %d citations, got %d", len(tt.wantNumbers), len(citations))
			}
			for i, c := range citations {
				if c.EvidenceNumber != tt.wantNumbers[i] {
					t.Errorf("citation %d: number = %d, want %d", i, c.EvidenceNumber, tt.wantNumbers[i])
				}
				ev := evidence[c.EvidenceNumber-1]
				if c.SpanID != ev.SpanID {
					t.Errorf("citation %d: span_id = %s, want %s", i, c.SpanID, ev.SpanID)
				}
				if c.TranscriptID != ev.TranscriptID {
					t.Errorf("citation %d: transcript_id = %s, want %s", i, c.TranscriptID, ev.TranscriptID)
				}
			}
		})
	}
}

func TestExtractCitations_TruncatesText(t *testing.T) {
	long := causal.Wrap([]span.Span{{
		SpanID: "s1",
		Text:   strings.Repeat("a", 300),
	}})
	citations := ExtractCitations("[Evidence 1]", long)
	if len(citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(citations))
	}
	if len(citations[0].Text) != citationTextLimit {
		t.Errorf("expected text truncated to %d, got %d", citationTextLimit, len(citations[0].Text))
	}

	// The cut never splits a multibyte rune
	multibyte := causal.Wrap([]span.Span{{
		SpanID: "s2",
		Text:   "a" + strings.Repeat("é", citationTextLimit),
	}})
	citations = ExtractCitations("[Evidence 1]", multibyte)
	if len(citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(citations))
	}
	if !utf8.ValidString(citations[0].Text) {
		t.Error("truncation split a rune")
	}
	if len(citations[0].Text) > citationTextLimit {
		t.Errorf("text length = %d, want <= %d", len(citations[0].Text), citationTextLimit)
	}
}

func TestBuildPrompt(t *testing.T) {
	evidence := sampleEvidence()

	prompt := buildPrompt("Why did the escalation happen?", evidence, "")
	if !strings.Contains(prompt, "User Query: Why did the escalation happen?") {
		t.Error("prompt missing query")
	}
	if !strings.Contains(prompt, "[Evidence 1]") || !strings.Contains(prompt, "[Evidence 2]") {
		t.Error("prompt missing evidence blocks")
	}
	if !strings.Contains(prompt, "Transcript: call_1") {
		t.Error("prompt missing transcript id")
	}
	if !strings.Contains(prompt, "Turns: 1-3") {
		t.Error("prompt missing turn range")
	}
	if strings.Contains(prompt, "Previous Context") {
		t.Error("prompt should not mention context when none supplied")
	}

	withContext := buildPrompt("what about it?", evidence, "Q: earlier question\nA: earlier answer...")
	if !strings.Contains(withContext, "Previous Context:\nQ: earlier question") {
		t.Error("prompt missing context section")
	}
}

func TestBuildPrompt_LimitsEvidence(t *testing.T) {
	var spans []span.Span
	for i := 0; i < 15; i++ {
		spans = append(spans, span.Span{SpanID: "s", Text: "text", TranscriptID: "t"})
	}
	prompt := buildPrompt("query", causal.Wrap(spans), "")
	if strings.Contains(prompt, "[Evidence 11]") {
		t.Error("prompt should include at most 10 evidence blocks")
	}
	if !strings.Contains(prompt, "[Evidence 10]") {
		t.Error("prompt should include the tenth evidence block")
	}
}

func TestTemplateGenerator(t *testing.T) {
	g := NewTemplateGenerator()
	evidence := sampleEvidence()

	out, err := g.Generate(context.Background(), "Why did the escalation happen?", evidence, "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.Contains(out, "[Evidence 1]") {
		t.Error("template output missing citation")
	}

	// Citations extracted from the template output are all in range
	citations := ExtractCitations(out, evidence)
	if len(citations) == 0 {
		t.Fatal("expected extractable citations")
	}
	for _, c := range citations {
		if c.EvidenceNumber < 1 || c.EvidenceNumber > len(evidence) {
			t.Errorf("citation out of range: %d", c.EvidenceNumber)
		}
	}

	// Deterministic
	again, _ := g.Generate(context.Background(), "Why did the escalation happen?", evidence, "")
	if out != again {
		t.Error("template output not deterministic")
	}
}

func TestTemplateGenerator_NoEvidence(t *testing.T) {
	g := NewTemplateGenerator()
	out, err := g.Generate(context.Background(), "why", nil, "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out == "" {
		t.Error("expected a non-empty message for empty evidence")
	}
}

func TestGenerateWithCitations(t *testing.T) {
	evidence := sampleEvidence()
	result, err := GenerateWithCitations(context.Background(), NewTemplateGenerator(),
		"Why did the escalation happen?", evidence, "")
	if err != nil {
		t.Fatalf("GenerateWithCitations failed: %v", err)
	}
	if result.EvidenceCount != len(evidence) {
		t.Errorf("evidence_count = %d, want %d", result.EvidenceCount, len(evidence))
	}
	if result.Explanation == "" {
		t.Error("expected explanation text")
	}
	if len(result.Citations) == 0 {
		t.Error("expected citations")
	}
}

type failingGenerator struct{ calls int }

func (g *failingGenerator) Generate(ctx context.Context, query string, evidence []causal.Evidence, contextSummary string) (string, error) {
	g.calls++
	return "", errors.New("service down")
}

func TestFallbackGenerator_Sticky(t *testing.T) {
	primary := &failingGenerator{}
	f := NewFallbackGenerator(primary)
	evidence := sampleEvidence()

	out, err := f.Generate(context.Background(), "why", evidence, "")
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if out == "" {
		t.Error("expected fallback output")
	}

	primary.calls = 0
	if _, err := f.Generate(context.Background(), "why again", evidence, ""); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if primary.calls != 0 {
		t.Errorf("expected primary to be skipped after failure, got %d calls", primary.calls)
	}
}
