// Package causal detects causal/behavioral patterns in dialogue spans and
// scores them as evidence for event explanations.
package causal

import (
	"regexp"
	"strings"
)

// Indicator lexicons are declarative word tables, kept apart from the
// scoring logic so they can be tuned and tested in isolation.

// Indicator categories feeding the pattern score
const (
	CategoryTemporal    = "temporal"
	CategoryCausal      = "causal"
	CategoryConditional = "conditional"
	CategoryConsequence = "consequence"
)

var indicatorLexicons = map[string][]string{
	CategoryTemporal:    {"before", "after", "then", "next", "previously", "earlier", "later"},
	CategoryCausal:      {"because", "due to", "as a result", "led to", "caused", "resulted in"},
	CategoryConditional: {"if", "when", "unless", "provided that"},
	CategoryConsequence: {"therefore", "thus", "hence", "consequently", "so"},
}

// Behavioral lexicons flag conversational signals of trouble
var behavioralLexicons = map[string][]string{
	"hesitation":         {"um", "uh", "well", "let me think", "hmm"},
	"frustration":        {"frustrated", "annoyed", "upset", "disappointed"},
	"repetition":         {"again", "repeat", "same", "once more"},
	"escalation_signals": {"supervisor", "manager", "escalate", "complaint", "formal"},
	"refund_signals":     {"refund", "money back", "return", "cancel", "chargeback"},
	"churn_signals":      {"cancel", "close account", "switch", "leave", "terminate"},
}

// Event-specific trigger lexicons, selected by substring match on the
// normalized event type
var eventTriggerLexicons = []struct {
	match string
	name  string
	words []string
}{
	{"escalation", "escalation_triggers", []string{
		"not satisfied", "unhappy", "want to speak", "need manager",
		"file complaint", "not helping", "waste of time",
	}},
	{"refund", "refund_triggers", []string{
		"not working", "defective", "broken", "not as described",
		"want money back", "dissatisfied", "poor quality",
	}},
	{"churn", "churn_triggers", []string{
		"too expensive", "better option", "switching", "leaving",
		"not worth it", "found alternative", "better deal",
	}},
}

// Pattern score weights per indicator category
var patternWeights = map[string]float64{
	CategoryTemporal:    0.2,
	CategoryCausal:      0.4,
	CategoryConditional: 0.2,
	CategoryConsequence: 0.2,
}

// behavioralBonus is added to the pattern score when any behavioral
// lexicon fires
const behavioralBonus = 0.2

// indicatorNorm caps the contribution of a single category: counts are
// normalized by min(count/indicatorNorm, 1)
const indicatorNorm = 5.0

var wordRes = map[string]*regexp.Regexp{}

func init() {
	for _, words := range indicatorLexicons {
		compileWords(words)
	}
	for _, words := range behavioralLexicons {
		compileWords(words)
	}
	for _, lex := range eventTriggerLexicons {
		compileWords(lex.words)
	}
}

func compileWords(words []string) {
	for _, w := range words {
		if _, ok := wordRes[w]; !ok {
			wordRes[w] = regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`)
		}
	}
}

// countIndicators counts case-insensitive whole-word occurrences of the
// lexicon's entries in text. Text must already be lower-cased.
func countIndicators(text string, words []string) int {
	count := 0
	for _, w := range words {
		count += len(wordRes[w].FindAllStringIndex(text, -1))
	}
	return count
}

// triggerLexicon returns the event-specific lexicon for an event type, or
// ok=false when no lexicon applies.
func triggerLexicon(eventType string) (name string, words []string, ok bool) {
	et := strings.ToLower(eventType)
	for _, lex := range eventTriggerLexicons {
		if strings.Contains(et, lex.match) {
			return lex.name, lex.words, true
		}
	}
	return "", nil, false
}
