package causal

import (
	"sort"
	"strings"
)

// Weights combine the four evidence signals into one score. They need not
// sum to 1, though the defaults do.
type Weights struct {
	Relevance  float64 `json:"relevance"`
	Temporal   float64 `json:"temporal"`
	Pattern    float64 `json:"pattern"`
	Similarity float64 `json:"similarity"`
}

// DefaultWeights returns the standard evidence weighting
func DefaultWeights() Weights {
	return Weights{Relevance: 0.4, Temporal: 0.3, Pattern: 0.2, Similarity: 0.1}
}

// defaultTemporal is the neutral prior used for spans with no temporal
// annotation: neither close to nor far from an anchor
const defaultTemporal = 0.5

// DefaultMinScore is the evidence-score threshold used by FilterEvidence
// when none is supplied
const DefaultMinScore = 0.3

// Scorer combines relevance, temporal, pattern, and similarity signals
// into a single evidence score per span
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with the given weights
func NewScorer(weights Weights) *Scorer {
	return &Scorer{weights: weights}
}

// ScoreEvidence computes the weighted evidence score for each span and
// returns the spans sorted by descending score. The sort is stable so ties
// keep their input order.
func (s *Scorer) ScoreEvidence(evidence []Evidence) []Evidence {
	out := make([]Evidence, len(evidence))
	for i, ev := range evidence {
		pattern := 0.0
		if ev.Patterns != nil {
			pattern = ev.Patterns.PatternScore
		}
		temporal := defaultTemporal
		if ev.TemporalScored {
			temporal = ev.TemporalScore
		}

		ev.Components = Components{
			Relevance:  ev.Relevance,
			Temporal:   temporal,
			Pattern:    pattern,
			Similarity: ev.Similarity,
		}
		ev.EvidenceScore = s.weights.Relevance*ev.Relevance +
			s.weights.Temporal*temporal +
			s.weights.Pattern*pattern +
			s.weights.Similarity*ev.Similarity
		ev.Scored = true
		out[i] = ev
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EvidenceScore > out[j].EvidenceScore
	})
	return out
}

// RankEvidence sorts spans by descending evidence score, scoring any
// unscored spans first, and truncates to topK when topK > 0.
func (s *Scorer) RankEvidence(evidence []Evidence, topK int) []Evidence {
	scored := true
	for _, ev := range evidence {
		if !ev.Scored {
			scored = false
			break
		}
	}
	out := evidence
	if !scored {
		out = s.ScoreEvidence(evidence)
	} else {
		out = make([]Evidence, len(evidence))
		copy(out, evidence)
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].EvidenceScore > out[j].EvidenceScore
		})
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// Aggregated is the evidence bundle handed to explanation generation
type Aggregated struct {
	Text             string     `json:"text"`
	Spans            []Evidence `json:"spans"`
	TurnIDs          []int      `json:"turn_ids"`
	Speakers         []string   `json:"speakers"`
	TranscriptIDs    []string   `json:"transcript_ids"`
	NumSpans         int        `json:"num_spans"`
	AvgEvidenceScore float64    `json:"avg_evidence_score"`
}

// AggregateEvidence combines the first maxSpans spans (already
// rank-ordered by the caller) into a single bundle: texts joined with a
// space, turn ids / speakers / transcript ids unioned, and the mean
// evidence score. An empty input yields an empty bundle with score 0.
func AggregateEvidence(evidence []Evidence, maxSpans int) Aggregated {
	top := evidence
	if maxSpans > 0 && len(top) > maxSpans {
		top = top[:maxSpans]
	}

	texts := make([]string, 0, len(top))
	turnIDSet := make(map[int]bool)
	speakerSet := make(map[string]bool)
	transcriptSet := make(map[string]bool)
	total := 0.0

	for _, ev := range top {
		texts = append(texts, ev.Span.Text)
		for _, id := range ev.Span.TurnIDs {
			turnIDSet[id] = true
		}
		for _, sp := range ev.Span.Speakers {
			speakerSet[sp] = true
		}
		if ev.Span.TranscriptID != "" {
			transcriptSet[ev.Span.TranscriptID] = true
		}
		total += ev.EvidenceScore
	}

	agg := Aggregated{
		Text:          strings.Join(texts, " "),
		Spans:         top,
		TurnIDs:       sortedInts(turnIDSet),
		Speakers:      sortedStrings(speakerSet),
		TranscriptIDs: sortedStrings(transcriptSet),
		NumSpans:      len(top),
	}
	if len(top) > 0 {
		agg.AvgEvidenceScore = total / float64(len(top))
	}
	return agg
}

// FilterEvidence keeps spans whose evidence score meets minScore,
// preserving input order, then truncates to maxSpans when maxSpans > 0.
// Filtering happens before truncation.
func FilterEvidence(evidence []Evidence, minScore float64, maxSpans int) []Evidence {
	var out []Evidence
	for _, ev := range evidence {
		if ev.EvidenceScore >= minScore {
			out = append(out, ev)
		}
	}
	if maxSpans > 0 && len(out) > maxSpans {
		out = out[:maxSpans]
	}
	return out
}

func sortedInts(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func sortedStrings(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
