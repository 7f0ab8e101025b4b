package transcript

import (
	"regexp"
	"strings"
)

// speakerVariants maps a canonical speaker label to the raw labels that
// normalize to it. Kept as a table so the mapping is swappable without
// touching the normalization logic.
var speakerVariants = map[string][]string{
	SpeakerAgent:    {"agent", "representative", "rep", "support"},
	SpeakerCustomer: {"customer", "client", "caller", "user"},
}

// eventTypeAliases maps raw event labels to canonical event types
var eventTypeAliases = map[string]string{
	"escalation":     "escalation",
	"escalate":       "escalation",
	"refund":         "refund",
	"refund_request": "refund",
	"churn":          "churn",
	"churn_intent":   "churn",
	"cancellation":   "churn",
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Preprocess normalizes a transcript in a fresh copy: speaker labels are
// canonicalized, text is cleaned, sequential turn indices are assigned,
// event types are canonicalized, and event anchors are resolved. Events
// whose anchor cannot be resolved keep TurnIndex -1; downstream span
// extraction treats them as having no spans rather than failing.
func Preprocess(t *Transcript) *Transcript {
	out := &Transcript{
		TranscriptID: t.TranscriptID,
		Metadata:     t.Metadata,
	}

	out.Turns = make([]Turn, 0, len(t.Turns))
	for i, turn := range t.Turns {
		turn.Speaker = NormalizeSpeaker(turn.Speaker)
		turn.Text = cleanText(turn.Text)
		turn.TurnIndex = i
		out.Turns = append(out.Turns, turn)
	}

	out.Events = make([]Event, 0, len(t.Events))
	for _, ev := range t.Events {
		ev.EventType = NormalizeEventType(ev.EventType)
		if idx, ok := resolveAnchor(out.Turns, ev); ok {
			ev.TurnIndex = idx
		} else {
			ev.TurnIndex = -1
		}
		out.Events = append(out.Events, ev)
	}

	out.Structure = extractStructure(out.Turns)
	return out
}

// NormalizeSpeaker maps a raw speaker label to agent, customer, or unknown
func NormalizeSpeaker(speaker string) string {
	s := strings.ToLower(strings.TrimSpace(speaker))
	if s == "" {
		return SpeakerUnknown
	}
	for canonical, variants := range speakerVariants {
		for _, v := range variants {
			if strings.Contains(s, v) {
				return canonical
			}
		}
	}
	return SpeakerUnknown
}

// NormalizeEventType maps a raw event label to its canonical event type.
// Unknown labels pass through lower-cased.
func NormalizeEventType(eventType string) string {
	s := strings.ToLower(strings.TrimSpace(eventType))
	if canonical, ok := eventTypeAliases[s]; ok {
		return canonical
	}
	return s
}

func cleanText(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// resolveAnchor finds the anchor turn index for an event: an explicit
// turn_index wins, otherwise the turn with a matching turn_id.
func resolveAnchor(turns []Turn, ev Event) (int, bool) {
	if ev.TurnIndex >= 0 && ev.TurnIndex < len(turns) {
		return ev.TurnIndex, true
	}
	if ev.TurnID != 0 {
		for i, turn := range turns {
			if turn.TurnID == ev.TurnID {
				return i, true
			}
		}
	}
	return 0, false
}

func extractStructure(turns []Turn) *DialogueStructure {
	if len(turns) == 0 {
		return &DialogueStructure{SpeakerDistribution: map[string]int{}}
	}

	dist := make(map[string]int)
	totalLen := 0
	for _, t := range turns {
		dist[t.Speaker]++
		totalLen += len(t.Text)
	}

	var segments []Segment
	current := Segment{Speaker: turns[0].Speaker, StartTurn: 0, EndTurn: 0}
	for i := 1; i < len(turns); i++ {
		if turns[i].Speaker == current.Speaker {
			current.EndTurn = i
			continue
		}
		segments = append(segments, current)
		current = Segment{Speaker: turns[i].Speaker, StartTurn: i, EndTurn: i}
	}
	segments = append(segments, current)

	return &DialogueStructure{
		TotalTurns:          len(turns),
		SpeakerDistribution: dist,
		AverageTurnLength:   float64(totalLen) / float64(len(turns)),
		Segments:            segments,
	}
}
