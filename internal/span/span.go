// Package span builds dialogue spans (contiguous turn windows) from
// transcripts. Spans are the evidence unit for causal analysis.
package span

import (
	"fmt"
	"strings"

	"github.com/CanopyHQ/rationale/internal/transcript"
)

// DefaultWindowSize is the number of consecutive turns per span
const DefaultWindowSize = 5

// Span is a contiguous window of dialogue turns. It is a value type and
// read-only once produced; analysis stages attach their results in
// separate annotation records rather than mutating the span.
type Span struct {
	SpanID         string   `json:"span_id"`
	Text           string   `json:"text"`
	StartTurnIndex int      `json:"start_turn_index"`
	EndTurnIndex   int      `json:"end_turn_index"`
	TurnIDs        []int    `json:"turn_ids"`
	Speakers       []string `json:"speakers"`
	TranscriptID   string   `json:"transcript_id"`
	WindowSize     int      `json:"window_size"`
}

// WindowSpans produces every contiguous window of windowSize consecutive
// turns (stride 1), ordered by start index. For N turns and window W it
// yields max(0, N-W+1) spans. A window larger than the input yields no
// spans rather than an error. Turns must carry the TurnIndex assigned by
// transcript.Preprocess; span indices and IDs are derived from it.
func WindowSpans(transcriptID string, turns []transcript.Turn, windowSize int) []Span {
	if windowSize <= 0 || len(turns) < windowSize {
		return nil
	}
	spans := make([]Span, 0, len(turns)-windowSize+1)
	for i := 0; i+windowSize <= len(turns); i++ {
		spans = append(spans, buildSpan(transcriptID, turns[i:i+windowSize]))
	}
	return spans
}

// IndexSpans windows a transcript's turns for corpus indexing. Transcripts
// shorter than the default window collapse to a single span covering every
// turn, so short transcripts stay retrievable instead of producing nothing.
func IndexSpans(transcriptID string, turns []transcript.Turn) []Span {
	if len(turns) == 0 {
		return nil
	}
	if len(turns) < DefaultWindowSize {
		return []Span{buildSpan(transcriptID, turns)}
	}
	return WindowSpans(transcriptID, turns, DefaultWindowSize)
}

// EventAnchoredSpans slices the window of turns around an event anchor
// (before turns preceding it, after turns following it) and windows the
// slice with the default window size. Indices in the produced spans refer
// to the original turn numbering. A slice shorter than the window at a
// transcript boundary yields one span covering the whole slice.
func EventAnchoredSpans(t *transcript.Transcript, eventTurnIndex, before, after int) []Span {
	if len(t.Turns) == 0 || eventTurnIndex < 0 || eventTurnIndex >= len(t.Turns) {
		return nil
	}
	start := eventTurnIndex - before
	if start < 0 {
		start = 0
	}
	end := eventTurnIndex + after + 1
	if end > len(t.Turns) {
		end = len(t.Turns)
	}
	window := t.Turns[start:end]
	if len(window) < DefaultWindowSize {
		return []Span{buildSpan(t.TranscriptID, window)}
	}
	return WindowSpans(t.TranscriptID, window, DefaultWindowSize)
}

// EventTypeSpans returns the union of event-anchored spans (no trailing
// window) for every event in the transcript whose normalized type equals
// eventType. Overlapping windows from nearby events are deduplicated.
func EventTypeSpans(t *transcript.Transcript, eventType string, before int) []Span {
	seen := make(map[string]bool)
	var out []Span
	for _, ev := range t.EventsOfType(eventType) {
		for _, s := range EventAnchoredSpans(t, ev.TurnIndex, before, 0) {
			if seen[s.SpanID] {
				continue
			}
			seen[s.SpanID] = true
			out = append(out, s)
		}
	}
	return out
}

// ResolveAnchor returns the anchor turn index for an event, or -1 when the
// event carries no resolvable anchor.
func ResolveAnchor(t *transcript.Transcript, ev transcript.Event) int {
	if ev.TurnIndex >= 0 && ev.TurnIndex < len(t.Turns) {
		return ev.TurnIndex
	}
	if ev.TurnID != 0 {
		for i, turn := range t.Turns {
			if turn.TurnID == ev.TurnID {
				return i
			}
		}
	}
	return -1
}

func buildSpan(transcriptID string, turns []transcript.Turn) Span {
	texts := make([]string, 0, len(turns))
	turnIDs := make([]int, 0, len(turns))
	speakers := make([]string, 0, len(turns))
	for _, t := range turns {
		texts = append(texts, t.Text)
		turnIDs = append(turnIDs, t.TurnID)
		speakers = append(speakers, t.Speaker)
	}
	start := turns[0].TurnIndex
	return Span{
		SpanID:         fmt.Sprintf("%s_span_%d", transcriptID, start),
		Text:           strings.Join(texts, " "),
		StartTurnIndex: start,
		EndTurnIndex:   turns[len(turns)-1].TurnIndex,
		TurnIDs:        turnIDs,
		Speakers:       speakers,
		TranscriptID:   transcriptID,
		WindowSize:     len(turns),
	}
}
