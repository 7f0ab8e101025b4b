// Package transcript provides the dialogue transcript data model,
// loading, and preprocessing for Rationale
package transcript

import (
	"encoding/json"
	"strings"
)

// Speaker labels after normalization
const (
	SpeakerAgent    = "agent"
	SpeakerCustomer = "customer"
	SpeakerUnknown  = "unknown"
)

// Turn represents a single turn in a dialogue transcript
type Turn struct {
	TurnID    int     `json:"turn_id"`
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp,omitempty"`
	TurnIndex int     `json:"turn_index"`
}

// Event represents a tracked business event in a transcript
// (e.g. an escalation, refund request, or churn signal).
// TurnIndex is the resolved anchor turn; -1 until preprocessing
// resolves it (by turn_index if present, else by turn_id lookup).
type Event struct {
	EventType  string                 `json:"event_type"`
	EventLabel string                 `json:"event_label,omitempty"`
	TurnID     int                    `json:"turn_id,omitempty"`
	TurnIndex  int                    `json:"turn_index"`
	Timestamp  float64                `json:"timestamp,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON defaults TurnIndex to -1 so an absent turn_index is
// distinguishable from a valid index 0.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	aux := alias{TurnIndex: -1}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = Event(aux)
	return nil
}

// Segment is a run of consecutive turns by the same speaker
type Segment struct {
	Speaker   string `json:"speaker"`
	StartTurn int    `json:"start_turn"`
	EndTurn   int    `json:"end_turn"`
}

// DialogueStructure summarizes the shape of a dialogue
type DialogueStructure struct {
	TotalTurns          int            `json:"total_turns"`
	SpeakerDistribution map[string]int `json:"speaker_distribution"`
	AverageTurnLength   float64        `json:"average_turn_length"`
	Segments            []Segment      `json:"segments"`
}

// Transcript is a multi-turn dialogue with its tracked events
type Transcript struct {
	TranscriptID string                 `json:"transcript_id"`
	Turns        []Turn                 `json:"turns"`
	Events       []Event                `json:"events"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Structure    *DialogueStructure     `json:"dialogue_structure,omitempty"`
}

// EventsOfType returns the transcript's events whose normalized type
// equals eventType (case-insensitive).
func (t *Transcript) EventsOfType(eventType string) []Event {
	var out []Event
	for _, e := range t.Events {
		if strings.EqualFold(e.EventType, eventType) {
			out = append(out, e)
		}
	}
	return out
}
