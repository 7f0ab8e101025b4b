package causal

import (
	"math"
	"testing"

	"github.com/CanopyHQ/rationale/internal/span"
)

func textSpan(start, end int, text string) span.Span {
	return span.Span{
		SpanID:         "t1_span_" + string(rune('0'+start)),
		Text:           text,
		StartTurnIndex: start,
		EndTurnIndex:   end,
		TranscriptID:   "t1",
		WindowSize:     end - start + 1,
	}
}

func TestDetectPatterns_IndicatorCounts(t *testing.T) {
	s := textSpan(0, 4, "He was upset because the order was late. Therefore he asked again.")
	p := DetectPatterns(s, "")

	if p.CausalIndicators != 1 {
		t.Errorf("CausalIndicators = %d, want 1", p.CausalIndicators)
	}
	if p.ConsequenceIndicators != 1 {
		t.Errorf("ConsequenceIndicators = %d, want 1", p.ConsequenceIndicators)
	}
	if !p.BehavioralFlags["frustration"] {
		t.Error("frustration flag should fire on 'upset'")
	}
	if !p.BehavioralFlags["repetition"] {
		t.Error("repetition flag should fire on 'again'")
	}
	if p.BehavioralCounts["frustration"] != 1 {
		t.Errorf("frustration count = %d", p.BehavioralCounts["frustration"])
	}
}

func TestDetectPatterns_WholeWordOnly(t *testing.T) {
	// "sol" and "cancellation" must not match "so" and "cancel"
	s := textSpan(0, 4, "The sol system cancellation")
	p := DetectPatterns(s, "")
	if p.ConsequenceIndicators != 0 {
		t.Errorf("ConsequenceIndicators = %d, want 0", p.ConsequenceIndicators)
	}
	if p.BehavioralCounts["refund_signals"] != 0 {
		t.Errorf("refund_signals = %d, want 0", p.BehavioralCounts["refund_signals"])
	}
}

func TestDetectPatterns_CaseInsensitive(t *testing.T) {
	s := textSpan(0, 4, "BECAUSE of the delay, THEREFORE we refunded.")
	p := DetectPatterns(s, "")
	if p.CausalIndicators != 1 || p.ConsequenceIndicators != 1 {
		t.Errorf("counts = %+v", p)
	}
}

func TestDetectPatterns_EventLexicon(t *testing.T) {
	s := textSpan(0, 4, "I am not satisfied and I want to speak to your manager")
	p := DetectPatterns(s, "escalation")

	if !p.BehavioralFlags["event_escalation_triggers"] {
		t.Error("escalation trigger flag should fire")
	}
	if p.BehavioralCounts["event_escalation_triggers"] < 2 {
		t.Errorf("escalation trigger count = %d, want >= 2", p.BehavioralCounts["event_escalation_triggers"])
	}
	if p.BehavioralCounts["escalation_signals"] != 1 {
		t.Errorf("escalation_signals = %d, want 1 ('manager')", p.BehavioralCounts["escalation_signals"])
	}
}

func TestDetectPatterns_UnknownEventType(t *testing.T) {
	s := textSpan(0, 4, "I want money back")
	p := DetectPatterns(s, "satisfaction")
	for name := range p.BehavioralCounts {
		if len(name) > 6 && name[:6] == "event_" {
			t.Errorf("unexpected event lexicon %q for unknown event type", name)
		}
	}
}

func TestDetectPatterns_ScoreRange(t *testing.T) {
	texts := []string{
		"",
		"plain text with nothing causal at all here",
		"because because because because because because because so thus hence therefore if when unless before after then next manager refund cancel upset",
	}
	for _, text := range texts {
		p := DetectPatterns(textSpan(0, 4, text), "escalation")
		if p.PatternScore < 0 || p.PatternScore > 1 {
			t.Errorf("PatternScore = %v out of [0,1] for %q", p.PatternScore, text)
		}
	}
}

func TestDetectPatterns_BehavioralBonus(t *testing.T) {
	// No indicators, one behavioral flag: score is exactly the bonus
	p := DetectPatterns(textSpan(0, 4, "speak to a supervisor please"), "")
	if math.Abs(p.PatternScore-0.2) > 1e-9 {
		t.Errorf("PatternScore = %v, want 0.2", p.PatternScore)
	}
}

func TestDetectPatterns_IndicatorNormalization(t *testing.T) {
	// 5 causal hits saturate the causal category: 0.4 * min(5/5, 1)
	p := DetectPatterns(textSpan(0, 4, "because because because because because"), "")
	if math.Abs(p.PatternScore-0.4) > 1e-9 {
		t.Errorf("PatternScore = %v, want 0.4", p.PatternScore)
	}
	// 10 hits must not score higher
	p2 := DetectPatterns(textSpan(0, 4, "because because because because because because because because because because"), "")
	if math.Abs(p2.PatternScore-0.4) > 1e-9 {
		t.Errorf("PatternScore = %v, want 0.4 (saturated)", p2.PatternScore)
	}
}

func TestDetectTemporalPatterns(t *testing.T) {
	evidence := Wrap([]span.Span{
		textSpan(0, 4, "a"),   // precedes anchor 10 by 6
		textSpan(8, 12, "b"),  // overlaps
		textSpan(15, 19, "c"), // follows by 5
	})
	out := DetectTemporalPatterns(evidence, 10)

	if out[0].TemporalRelation != RelationPrecedes || out[0].TemporalDistance != 6 {
		t.Errorf("span 0: %s d=%d", out[0].TemporalRelation, out[0].TemporalDistance)
	}
	if out[1].TemporalRelation != RelationOverlaps || out[1].TemporalDistance != 0 || out[1].TemporalScore != 1.0 {
		t.Errorf("span 1: %+v", out[1])
	}
	if out[2].TemporalRelation != RelationFollows || out[2].TemporalDistance != 5 {
		t.Errorf("span 2: %s d=%d", out[2].TemporalRelation, out[2].TemporalDistance)
	}

	want := 1.0 / (1.0 + 6.0/10.0)
	if math.Abs(out[0].TemporalScore-want) > 1e-9 {
		t.Errorf("span 0 score = %v, want %v", out[0].TemporalScore, want)
	}
	for i, ev := range out {
		if !ev.TemporalScored {
			t.Errorf("span %d not marked temporally scored", i)
		}
		if ev.TemporalScore <= 0 || ev.TemporalScore > 1 {
			t.Errorf("span %d score %v out of (0,1]", i, ev.TemporalScore)
		}
	}
}

func TestDetectSequentialPatterns(t *testing.T) {
	evidence := Wrap([]span.Span{
		textSpan(20, 24, "far"),
		textSpan(0, 4, "first"),
		textSpan(5, 9, "second"),
	})
	out := DetectSequentialPatterns(evidence)

	// Returned in start-index order
	if out[0].Span.StartTurnIndex != 0 || out[1].Span.StartTurnIndex != 5 || out[2].Span.StartTurnIndex != 20 {
		t.Fatalf("not sorted by start index: %v %v %v",
			out[0].Span.StartTurnIndex, out[1].Span.StartTurnIndex, out[2].Span.StartTurnIndex)
	}
	// Gap 5-4=1: first two are sequential; third is isolated
	if out[0].SequentialNeighbors != 1 || out[0].SequentialScore != 0.5 {
		t.Errorf("first: n=%d s=%v", out[0].SequentialNeighbors, out[0].SequentialScore)
	}
	if out[1].SequentialNeighbors != 1 {
		t.Errorf("second: n=%d", out[1].SequentialNeighbors)
	}
	if out[2].SequentialNeighbors != 0 || out[2].SequentialScore != 0 {
		t.Errorf("third: n=%d s=%v", out[2].SequentialNeighbors, out[2].SequentialScore)
	}
}

func TestDetectSequentialPatterns_SingleSpan(t *testing.T) {
	out := DetectSequentialPatterns(Wrap([]span.Span{textSpan(0, 4, "only")}))
	if len(out) != 1 || out[0].SequentialScore != 0 {
		t.Errorf("single span: %+v", out)
	}
}

func TestDetectSequentialPatterns_ScoreRange(t *testing.T) {
	evidence := Wrap([]span.Span{
		textSpan(0, 4, "a"), textSpan(1, 5, "b"), textSpan(2, 6, "c"),
	})
	for _, ev := range DetectSequentialPatterns(evidence) {
		if ev.SequentialScore < 0 || ev.SequentialScore > 1 {
			t.Errorf("score %v out of [0,1]", ev.SequentialScore)
		}
	}
}
