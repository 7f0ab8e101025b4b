package causal

import (
	"sort"
	"strings"

	"github.com/CanopyHQ/rationale/internal/span"
)

// Temporal relation of a span to an anchor event
const (
	RelationPrecedes = "precedes"
	RelationFollows  = "follows"
	RelationOverlaps = "overlaps"
)

// Patterns holds the indicator counts and behavioral flags detected in a
// single span, plus the combined pattern score in [0,1].
type Patterns struct {
	TemporalIndicators    int             `json:"temporal_indicators"`
	CausalIndicators      int             `json:"causal_indicators"`
	ConditionalIndicators int             `json:"conditional_indicators"`
	ConsequenceIndicators int             `json:"consequence_indicators"`
	BehavioralFlags       map[string]bool `json:"behavioral_flags"`
	BehavioralCounts      map[string]int  `json:"behavioral_counts"`
	PatternScore          float64         `json:"pattern_score"`
}

// Evidence pairs an immutable span with the annotations the analysis
// stages attach to it. The span itself is never modified; each stage
// returns fresh Evidence values with its fields filled in.
type Evidence struct {
	span.Span `json:"span"`

	Patterns *Patterns `json:"patterns,omitempty"`

	TemporalRelation string  `json:"temporal_relation,omitempty"`
	TemporalDistance int     `json:"temporal_distance,omitempty"`
	TemporalScore    float64 `json:"temporal_score,omitempty"`
	TemporalScored   bool    `json:"-"`

	SequentialNeighbors int     `json:"sequential_neighbors"`
	SequentialScore     float64 `json:"sequential_score"`

	// Retrieval-assigned signals
	Relevance  float64 `json:"relevance,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`

	EvidenceScore float64    `json:"evidence_score"`
	Components    Components `json:"evidence_components"`
	Scored        bool       `json:"-"`
}

// Components records the per-signal inputs to an evidence score
type Components struct {
	Relevance  float64 `json:"relevance"`
	Temporal   float64 `json:"temporal"`
	Pattern    float64 `json:"pattern"`
	Similarity float64 `json:"similarity"`
}

// Wrap lifts plain spans into unannotated Evidence values
func Wrap(spans []span.Span) []Evidence {
	out := make([]Evidence, len(spans))
	for i, s := range spans {
		out[i] = Evidence{Span: s}
	}
	return out
}

// DetectPatterns scores a span's text against the indicator, behavioral,
// and event-specific lexicons. eventType may be empty; unmatched event
// types contribute no extra lexicon.
func DetectPatterns(s span.Span, eventType string) *Patterns {
	text := strings.ToLower(s.Text)

	p := &Patterns{
		TemporalIndicators:    countIndicators(text, indicatorLexicons[CategoryTemporal]),
		CausalIndicators:      countIndicators(text, indicatorLexicons[CategoryCausal]),
		ConditionalIndicators: countIndicators(text, indicatorLexicons[CategoryConditional]),
		ConsequenceIndicators: countIndicators(text, indicatorLexicons[CategoryConsequence]),
		BehavioralFlags:       make(map[string]bool),
		BehavioralCounts:      make(map[string]int),
	}

	for name, words := range behavioralLexicons {
		count := countIndicators(text, words)
		p.BehavioralFlags[name] = count > 0
		p.BehavioralCounts[name] = count
	}
	if eventType != "" {
		if name, words, ok := triggerLexicon(eventType); ok {
			count := countIndicators(text, words)
			p.BehavioralFlags["event_"+name] = count > 0
			p.BehavioralCounts["event_"+name] = count
		}
	}

	p.PatternScore = patternScore(p)
	return p
}

func patternScore(p *Patterns) float64 {
	counts := map[string]int{
		CategoryTemporal:    p.TemporalIndicators,
		CategoryCausal:      p.CausalIndicators,
		CategoryConditional: p.ConditionalIndicators,
		CategoryConsequence: p.ConsequenceIndicators,
	}

	score := 0.0
	for category, weight := range patternWeights {
		normalized := float64(counts[category]) / indicatorNorm
		if normalized > 1 {
			normalized = 1
		}
		score += weight * normalized
	}

	for _, fired := range p.BehavioralFlags {
		if fired {
			score += behavioralBonus
			break
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

// DetectTemporalPatterns classifies each span's relation to the anchor
// event (precedes / follows / overlaps) and scores its temporal proximity.
// Distance is the turn-index gap to the nearer span boundary; the score is
// 1 at distance 0 and decays as 1/(1+distance/10), never reaching 0.
func DetectTemporalPatterns(evidence []Evidence, eventTurnIndex int) []Evidence {
	out := make([]Evidence, len(evidence))
	for i, ev := range evidence {
		switch {
		case ev.Span.EndTurnIndex < eventTurnIndex:
			ev.TemporalRelation = RelationPrecedes
			ev.TemporalDistance = eventTurnIndex - ev.Span.EndTurnIndex
		case ev.Span.StartTurnIndex > eventTurnIndex:
			ev.TemporalRelation = RelationFollows
			ev.TemporalDistance = ev.Span.StartTurnIndex - eventTurnIndex
		default:
			ev.TemporalRelation = RelationOverlaps
			ev.TemporalDistance = 0
		}
		if ev.TemporalDistance == 0 {
			ev.TemporalScore = 1.0
		} else {
			ev.TemporalScore = 1.0 / (1.0 + float64(ev.TemporalDistance)/10.0)
		}
		ev.TemporalScored = true
		out[i] = ev
	}
	return out
}

// DetectSequentialPatterns sorts spans by start index and counts, for each
// span, how many of its immediate neighbors in sort order are sequential
// with it (end-to-start gap within 2 turns). The returned evidence is in
// start-index order.
func DetectSequentialPatterns(evidence []Evidence) []Evidence {
	out := make([]Evidence, len(evidence))
	copy(out, evidence)
	if len(out) < 2 {
		for i := range out {
			out[i].SequentialNeighbors = 0
			out[i].SequentialScore = 0
		}
		return out
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Span.StartTurnIndex < out[j].Span.StartTurnIndex
	})

	for i := range out {
		neighbors := 0
		if i > 0 && isSequential(out[i-1].Span, out[i].Span) {
			neighbors++
		}
		if i < len(out)-1 && isSequential(out[i].Span, out[i+1].Span) {
			neighbors++
		}
		out[i].SequentialNeighbors = neighbors
		score := float64(neighbors) / 2.0
		if score > 1 {
			score = 1
		}
		out[i].SequentialScore = score
	}
	return out
}

func isSequential(first, second span.Span) bool {
	gap := second.StartTurnIndex - first.EndTurnIndex
	if gap < 0 {
		gap = -gap
	}
	return gap <= 2
}
