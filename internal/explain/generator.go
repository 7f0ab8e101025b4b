// Package explain turns ranked evidence into natural-language causal
// explanations with evidence citations.
package explain

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/CanopyHQ/rationale/internal/causal"
)

// Generator produces an explanation for a query from ranked evidence.
// contextSummary carries prior conversation turns for follow-up queries and
// may be empty.
type Generator interface {
	Generate(ctx context.Context, query string, evidence []causal.Evidence, contextSummary string) (string, error)
}

// Citation links an explanation back to a specific evidence span
type Citation struct {
	EvidenceNumber int    `json:"evidence_number"` // 1-based position in the evidence list
	SpanID         string `json:"span_id"`
	Text           string `json:"text"` // Truncated for display
	TranscriptID   string `json:"transcript_id"`
	TurnIDs        []int  `json:"turn_ids,omitempty"`
}

// Result is an explanation plus its extracted citations
type Result struct {
	Explanation   string     `json:"explanation"`
	Citations     []Citation `json:"citations"`
	EvidenceCount int        `json:"evidence_count"`
}

const (
	maxPromptEvidence = 10
	citationTextLimit = 200
)

// NewGeneratorFromEnv picks the generator for this process: the LLM-backed
// generator when an API key is configured, wrapped so failures degrade to
// the deterministic template generator, otherwise the template generator
// alone.
func NewGeneratorFromEnv() Generator {
	if os.Getenv("OPENAI_API_KEY") != "" {
		if llm, err := NewLLMGenerator(); err == nil {
			return NewFallbackGenerator(llm)
		}
	}
	return NewTemplateGenerator()
}

// FallbackGenerator wraps a primary generator and falls back to the template
// generator on errors
type FallbackGenerator struct {
	primary  Generator
	fallback Generator
	failed   bool // sticky: once primary fails, stay on fallback for the session
}

func NewFallbackGenerator(primary Generator) *FallbackGenerator {
	return &FallbackGenerator{
		primary:  primary,
		fallback: NewTemplateGenerator(),
	}
}

func (f *FallbackGenerator) Generate(ctx context.Context, query string, evidence []causal.Evidence, contextSummary string) (string, error) {
	if f.failed {
		return f.fallback.Generate(ctx, query, evidence, contextSummary)
	}
	out, err := f.primary.Generate(ctx, query, evidence, contextSummary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Explanation service failed (%v), falling back to template\n", err)
		f.failed = true
		return f.fallback.Generate(ctx, query, evidence, contextSummary)
	}
	return out, nil
}

// GenerateWithCitations runs the generator and extracts evidence citations
// from the resulting text
func GenerateWithCitations(ctx context.Context, g Generator, query string, evidence []causal.Evidence, contextSummary string) (Result, error) {
	explanation, err := g.Generate(ctx, query, evidence, contextSummary)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Explanation:   explanation,
		Citations:     ExtractCitations(explanation, evidence),
		EvidenceCount: len(evidence),
	}, nil
}

var citationRe = regexp.MustCompile(`(?i)\[Evidence\s+(\d+)\]`)

// ExtractCitations pulls [Evidence N] references out of an explanation.
// N is 1-based; out-of-range references are ignored.
func ExtractCitations(explanation string, evidence []causal.Evidence) []Citation {
	var citations []Citation
	for _, match := range citationRe.FindAllStringSubmatch(explanation, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || n < 1 || n > len(evidence) {
			continue
		}
		ev := evidence[n-1]
		text := clip(ev.Text, citationTextLimit)
		citations = append(citations, Citation{
			EvidenceNumber: n,
			SpanID:         ev.SpanID,
			Text:           text,
			TranscriptID:   ev.TranscriptID,
			TurnIDs:        ev.TurnIDs,
		})
	}
	return citations
}

// formatEvidence renders the top evidence spans as numbered prompt blocks
func formatEvidence(evidence []causal.Evidence) string {
	var blocks []string
	for i, ev := range evidence {
		if i >= maxPromptEvidence {
			break
		}
		var b strings.Builder
		fmt.Fprintf(&b, "[Evidence %d]\n", i+1)
		fmt.Fprintf(&b, "Transcript: %s\n", ev.TranscriptID)
		if len(ev.TurnIDs) > 0 {
			fmt.Fprintf(&b, "Turns: %d-%d\n", ev.TurnIDs[0], ev.TurnIDs[len(ev.TurnIDs)-1])
		}
		fmt.Fprintf(&b, "Text: %s\n", ev.Text)
		if ev.Scored {
			fmt.Fprintf(&b, "Relevance Score: %.2f\n", ev.EvidenceScore)
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n")
}

// buildPrompt assembles the explanation prompt from query, evidence, and
// optional prior-conversation context
func buildPrompt(query string, evidence []causal.Evidence, contextSummary string) string {
	var b strings.Builder
	b.WriteString(`You are an expert analyst specializing in understanding causal relationships in customer service conversations. Your task is to analyze dialogue evidence and provide clear, evidence-based causal explanations.

User Query: `)
	b.WriteString(query)
	b.WriteString("\n\nEvidence from Conversations:\n")
	b.WriteString(formatEvidence(evidence))
	b.WriteString(`

Instructions:
1. Analyze the provided evidence to identify causal relationships between dialogue patterns and the business event mentioned in the query.
2. Provide a structured explanation that:
   - Clearly articulates the causal mechanisms
   - References specific evidence spans with citations
   - Explains how conversational elements led to the event
   - Identifies key contributing factors and behaviors
3. Be specific and data-driven, avoiding vague correlations.
4. Cite evidence using [Evidence N] format when referencing specific spans.

`)
	if contextSummary != "" {
		b.WriteString("Previous Context:\n")
		b.WriteString(contextSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("Provide your causal explanation:")
	return b.String()
}

// TemplateGenerator produces deterministic explanations without any external
// service. Output quality is basic but citations stay well-formed, so the
// rest of the pipeline behaves identically to the LLM path.
type TemplateGenerator struct{}

func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

func (g *TemplateGenerator) Generate(ctx context.Context, query string, evidence []causal.Evidence, contextSummary string) (string, error) {
	if len(evidence) == 0 {
		return fmt.Sprintf("No dialogue evidence was found for the query %q. The corpus may not contain relevant conversations.", query), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analysis of %d dialogue spans for the query %q.\n\n", len(evidence), query)
	if contextSummary != "" {
		b.WriteString("Building on the earlier conversation, the following evidence remains most relevant.\n\n")
	}

	n := len(evidence)
	if n > 3 {
		n = 3
	}
	b.WriteString("Key contributing factors:\n")
	for i := 0; i < n; i++ {
		ev := evidence[i]
		excerpt := ev.Text
		if len(excerpt) > 160 {
			excerpt = excerpt[:160] + "..."
		}
		fmt.Fprintf(&b, "%d. %s [Evidence %d]\n", i+1, excerpt, i+1)
	}

	top := evidence[0]
	if top.Patterns != nil && top.Patterns.CausalIndicators > 0 {
		fmt.Fprintf(&b, "\nThe top-ranked span contains %d causal indicators, suggesting the event resulted in part from the exchange cited in [Evidence 1].",
			top.Patterns.CausalIndicators)
	} else {
		b.WriteString("\nThe ranked evidence above shows the exchanges most closely associated with the event in question.")
	}
	return b.String(), nil
}

// clip cuts s to at most max bytes without splitting a UTF-8 rune.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
