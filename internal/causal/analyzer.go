package causal

import (
	"github.com/CanopyHQ/rationale/internal/span"
	"github.com/CanopyHQ/rationale/internal/transcript"
)

// Event-anchored extraction windows used when analyzing a single event
const (
	rationaleWindowBefore = 10
	rationaleWindowAfter  = 5
)

// Analyzer runs pattern detection and evidence scoring over span sets
type Analyzer struct {
	scorer *Scorer
}

// NewAnalyzer creates an analyzer with the given evidence weights
func NewAnalyzer(weights Weights) *Analyzer {
	return &Analyzer{scorer: NewScorer(weights)}
}

// AnalyzeCausalSpans runs the full analysis pipeline over a span set:
// pattern detection per span, temporal annotation when an anchor is known
// (eventTurnIndex >= 0), sequential annotation, then evidence scoring and
// ranking. The stage order is fixed: pattern and temporal/sequential
// annotation feed the evidence formula, so both precede scoring.
func (a *Analyzer) AnalyzeCausalSpans(evidence []Evidence, query, eventType string, eventTurnIndex, topK int) []Evidence {
	out := make([]Evidence, len(evidence))
	for i, ev := range evidence {
		ev.Patterns = DetectPatterns(ev.Span, eventType)
		out[i] = ev
	}

	if eventTurnIndex >= 0 {
		out = DetectTemporalPatterns(out, eventTurnIndex)
	}
	out = DetectSequentialPatterns(out)

	out = a.scorer.ScoreEvidence(out)
	return a.scorer.RankEvidence(out, topK)
}

// Rationale summarizes the top evidence for one event
type Rationale struct {
	TopSpans         []Evidence `json:"top_spans"`
	NumSpans         int        `json:"num_spans"`
	AvgEvidenceScore float64    `json:"avg_evidence_score"`
}

// RationaleResult is the full output of single-event causal extraction
type RationaleResult struct {
	Event       transcript.Event `json:"event"`
	Query       string           `json:"query"`
	CausalSpans []Evidence       `json:"causal_spans"`
	Aggregated  Aggregated       `json:"aggregated_evidence"`
	Rationale   Rationale        `json:"rationale"`
}

// ExtractCausalRationale extracts event-anchored spans around a single
// event, analyzes them, and aggregates the top topK into a rationale.
func (a *Analyzer) ExtractCausalRationale(t *transcript.Transcript, ev transcript.Event, query string, topK int) RationaleResult {
	anchor := span.ResolveAnchor(t, ev)
	spans := span.EventAnchoredSpans(t, anchor, rationaleWindowBefore, rationaleWindowAfter)

	analyzed := a.AnalyzeCausalSpans(Wrap(spans), query, ev.EventType, anchor, topK)
	agg := AggregateEvidence(analyzed, topK)

	top := analyzed
	if topK > 0 && len(top) > topK {
		top = top[:topK]
	}
	return RationaleResult{
		Event:       ev,
		Query:       query,
		CausalSpans: analyzed,
		Aggregated:  agg,
		Rationale: Rationale{
			TopSpans:         top,
			NumSpans:         len(analyzed),
			AvgEvidenceScore: agg.AvgEvidenceScore,
		},
	}
}

// PatternAnalysis summarizes cross-event pattern extraction
type PatternAnalysis struct {
	NumEvents        int     `json:"num_events"`
	NumSpans         int     `json:"num_spans"`
	AvgEvidenceScore float64 `json:"avg_evidence_score"`
}

// PatternAnalysisResult is the output of event-type-wide analysis
type PatternAnalysisResult struct {
	EventType   string          `json:"event_type"`
	Query       string          `json:"query"`
	CausalSpans []Evidence      `json:"causal_spans"`
	Aggregated  Aggregated      `json:"aggregated_evidence"`
	Analysis    PatternAnalysis `json:"pattern_analysis"`
}

// AnalyzeEventPatterns analyzes the preceding windows of every event of
// the given type in the transcript. Unlike ExtractCausalRationale there is
// no single anchor, so spans get no temporal annotation.
func (a *Analyzer) AnalyzeEventPatterns(t *transcript.Transcript, eventType, query string, topK int) PatternAnalysisResult {
	spans := span.EventTypeSpans(t, eventType, rationaleWindowBefore)

	analyzed := a.AnalyzeCausalSpans(Wrap(spans), query, eventType, -1, topK)
	agg := AggregateEvidence(analyzed, topK)

	return PatternAnalysisResult{
		EventType:   eventType,
		Query:       query,
		CausalSpans: analyzed,
		Aggregated:  agg,
		Analysis: PatternAnalysis{
			NumEvents:        len(t.EventsOfType(eventType)),
			NumSpans:         len(analyzed),
			AvgEvidenceScore: agg.AvgEvidenceScore,
		},
	}
}
