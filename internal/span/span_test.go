package span

import (
	"fmt"
	"testing"

	"github.com/CanopyHQ/rationale/internal/transcript"
)

func makeTurns(n int) []transcript.Turn {
	turns := make([]transcript.Turn, n)
	for i := range turns {
		turns[i] = transcript.Turn{
			TurnID:    i + 1,
			Speaker:   transcript.SpeakerAgent,
			Text:      fmt.Sprintf("turn %d", i),
			TurnIndex: i,
		}
	}
	return turns
}

func makeTranscript(n int, events ...transcript.Event) *transcript.Transcript {
	return &transcript.Transcript{
		TranscriptID: "t1",
		Turns:        makeTurns(n),
		Events:       events,
	}
}

func TestWindowSpans_Count(t *testing.T) {
	tests := []struct {
		n, w, want int
	}{
		{10, 5, 6},
		{5, 5, 1},
		{4, 5, 0},
		{0, 5, 0},
		{3, 1, 3},
	}
	for _, tt := range tests {
		got := WindowSpans("t1", makeTurns(tt.n), tt.w)
		if len(got) != tt.want {
			t.Errorf("WindowSpans(n=%d, w=%d) = %d spans, want %d", tt.n, tt.w, len(got), tt.want)
		}
	}
}

func TestIndexSpans_ShortTranscriptFallback(t *testing.T) {
	spans := IndexSpans("t1", makeTurns(3))
	if len(spans) != 1 {
		t.Fatalf("3-turn transcript should collapse to 1 span, got %d", len(spans))
	}
	if got := spans[0].TurnIDs; len(got) != 3 {
		t.Errorf("fallback span should cover all turns, got ids %v", got)
	}
	if IndexSpans("t1", nil) != nil {
		t.Error("empty transcript should yield nil")
	}
	if got := IndexSpans("t1", makeTurns(10)); len(got) != 10-DefaultWindowSize+1 {
		t.Errorf("long transcript should window normally, got %d spans", len(got))
	}
}

func TestWindowSpans_TurnIDs(t *testing.T) {
	spans := WindowSpans("t1", makeTurns(8), 3)
	for i, s := range spans {
		if s.StartTurnIndex != i || s.EndTurnIndex != i+2 {
			t.Errorf("span %d indices [%d,%d]", i, s.StartTurnIndex, s.EndTurnIndex)
		}
		if len(s.TurnIDs) != 3 {
			t.Fatalf("span %d has %d turn ids", i, len(s.TurnIDs))
		}
		for j, id := range s.TurnIDs {
			if id != i+j+1 {
				t.Errorf("span %d turn_ids = %v", i, s.TurnIDs)
				break
			}
		}
		if s.WindowSize != 3 {
			t.Errorf("span %d window size %d", i, s.WindowSize)
		}
	}
}

func TestWindowSpans_TextJoin(t *testing.T) {
	spans := WindowSpans("t1", makeTurns(3), 3)
	if len(spans) != 1 {
		t.Fatalf("want 1 span, got %d", len(spans))
	}
	if spans[0].Text != "turn 0 turn 1 turn 2" {
		t.Errorf("Text = %q", spans[0].Text)
	}
}

func TestEventAnchoredSpans_Bounds(t *testing.T) {
	ts := makeTranscript(20)
	spans := EventAnchoredSpans(ts, 10, 5, 3)

	lo, hi := 5, 14 // [anchor-before, anchor+after] inclusive
	for _, s := range spans {
		if s.StartTurnIndex < lo || s.EndTurnIndex > hi {
			t.Errorf("span [%d,%d] outside window [%d,%d]", s.StartTurnIndex, s.EndTurnIndex, lo, hi)
		}
	}
	// 9 turns in window, W=5 => 5 spans
	if len(spans) != 5 {
		t.Errorf("spans = %d, want 5", len(spans))
	}
}

func TestEventAnchoredSpans_ClampsAtStart(t *testing.T) {
	ts := makeTranscript(20)
	spans := EventAnchoredSpans(ts, 1, 10, 2)
	for _, s := range spans {
		if s.StartTurnIndex < 0 {
			t.Errorf("negative start index %d", s.StartTurnIndex)
		}
		if s.EndTurnIndex > 3 {
			t.Errorf("span end %d beyond anchor+after", s.EndTurnIndex)
		}
	}
}

func TestEventAnchoredSpans_ShortWindow(t *testing.T) {
	// 3-turn transcript: window smaller than default size yields one
	// boundary span covering the slice
	ts := makeTranscript(3)
	spans := EventAnchoredSpans(ts, 1, 1, 1)
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.StartTurnIndex != 0 || s.EndTurnIndex != 2 || s.WindowSize != 3 {
		t.Errorf("boundary span = %+v", s)
	}
}

func TestEventAnchoredSpans_InvalidAnchor(t *testing.T) {
	ts := makeTranscript(5)
	if got := EventAnchoredSpans(ts, -1, 5, 5); got != nil {
		t.Errorf("anchor -1 should yield nil, got %v", got)
	}
	if got := EventAnchoredSpans(ts, 5, 5, 5); got != nil {
		t.Errorf("anchor out of range should yield nil, got %v", got)
	}
	empty := &transcript.Transcript{TranscriptID: "e"}
	if got := EventAnchoredSpans(empty, 0, 5, 5); got != nil {
		t.Errorf("empty transcript should yield nil, got %v", got)
	}
}

func TestEventTypeSpans(t *testing.T) {
	ts := makeTranscript(30,
		transcript.Event{EventType: "escalation", TurnIndex: 10},
		transcript.Event{EventType: "escalation", TurnIndex: 12},
		transcript.Event{EventType: "refund", TurnIndex: 20},
	)
	spans := EventTypeSpans(ts, "escalation", 10)
	if len(spans) == 0 {
		t.Fatal("expected spans for escalation events")
	}
	seen := make(map[string]bool)
	for _, s := range spans {
		if seen[s.SpanID] {
			t.Errorf("duplicate span %s", s.SpanID)
		}
		seen[s.SpanID] = true
		// No span may extend past its nearest anchor (after=0)
		if s.EndTurnIndex > 12 {
			t.Errorf("span [%d,%d] extends past last escalation anchor", s.StartTurnIndex, s.EndTurnIndex)
		}
	}
	if len(EventTypeSpans(ts, "satisfaction", 10)) != 0 {
		t.Error("expected no spans for absent event type")
	}
}

func TestResolveAnchor(t *testing.T) {
	ts := makeTranscript(5)
	if got := ResolveAnchor(ts, transcript.Event{TurnIndex: 3}); got != 3 {
		t.Errorf("explicit index: got %d", got)
	}
	if got := ResolveAnchor(ts, transcript.Event{TurnIndex: -1, TurnID: 2}); got != 1 {
		t.Errorf("turn_id lookup: got %d", got)
	}
	if got := ResolveAnchor(ts, transcript.Event{TurnIndex: -1, TurnID: 99}); got != -1 {
		t.Errorf("unresolvable: got %d", got)
	}
}
