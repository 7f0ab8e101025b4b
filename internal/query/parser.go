// Package query parses natural-language questions about tracked business
// events into event type, intent, and key terms.
package query

import (
	"regexp"
	"strings"
)

// Intents recognized by the parser
const (
	IntentCausalInquiry   = "causal_inquiry"
	IntentPatternAnalysis = "pattern_analysis"
	IntentSpecificEvent   = "specific_event"
)

// Parsed holds the structured reading of a query
type Parsed struct {
	OriginalQuery string   `json:"original_query"`
	EventType     string   `json:"event_type,omitempty"` // Empty when no event type detected
	Intent        string   `json:"intent"`
	KeyTerms      []string `json:"key_terms"`
	IsCausal      bool     `json:"is_causal"`
	IsPattern     bool     `json:"is_pattern"`
	IsSpecific    bool     `json:"is_specific"`
}

// eventTypes are matched by substring against the lower-cased query, in order
var eventTypes = []string{"escalation", "refund", "churn", "complaint", "satisfaction"}

// eventStems catch inflected forms ("escalated", "cancelling", "complained")
var eventStems = []struct {
	stem      string
	eventType string
}{
	{"escalat", "escalation"},
	{"refund", "refund"},
	{"churn", "churn"},
	{"cancel", "churn"},
	{"complain", "complaint"},
}

var intentPatterns = []struct {
	intent   string
	patterns []string
}{
	{IntentCausalInquiry, []string{
		`why.*happen`,
		`what.*cause`,
		`what.*lead.*to`,
		`what.*trigger`,
		`how.*occur`,
		`what.*reason`,
	}},
	{IntentPatternAnalysis, []string{
		`what.*pattern`,
		`what.*common`,
		`what.*typical`,
		`what.*frequent`,
		`identify.*pattern`,
	}},
	{IntentSpecificEvent, []string{
		`about.*call`,
		`for.*call`,
		`in.*call`,
		`regarding.*call`,
	}},
}

var stopwords = buildSet(
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for",
	"of", "with", "by", "from", "as", "is", "are", "was", "were", "be",
	"been", "being", "have", "has", "had", "do", "does", "did", "will",
	"would", "should", "could", "may", "might", "must", "can", "what",
	"why", "how", "when", "where", "who", "which", "that", "this", "these",
	"those", "i", "you", "he", "she", "it", "we", "they", "me", "him",
	"her", "us", "them", "my", "your", "his", "its", "our", "their",
)

var conjunctions = []string{"and", "or", "but", "also", "additionally"}

var (
	intentRes      map[string][]*regexp.Regexp
	wordRe         = regexp.MustCompile(`\b\w+\b`)
	conjunctionRes map[string]*regexp.Regexp
)

func init() {
	intentRes = make(map[string][]*regexp.Regexp)
	for _, group := range intentPatterns {
		for _, p := range group.patterns {
			intentRes[group.intent] = append(intentRes[group.intent], regexp.MustCompile(p))
		}
	}
	conjunctionRes = make(map[string]*regexp.Regexp, len(conjunctions))
	for _, conj := range conjunctions {
		conjunctionRes[conj] = regexp.MustCompile(`(?i)\b` + conj + `\b`)
	}
}

func buildSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// Parse extracts event type, intent, and key terms from a query
func Parse(q string) Parsed {
	lower := strings.ToLower(q)
	intent := determineIntent(lower)

	return Parsed{
		OriginalQuery: q,
		EventType:     ExtractEventType(q),
		Intent:        intent,
		KeyTerms:      KeyTerms(q),
		IsCausal:      intent == IntentCausalInquiry,
		IsPattern:     intent == IntentPatternAnalysis,
		IsSpecific:    intent == IntentSpecificEvent,
	}
}

// ExtractEventType returns the canonical event type mentioned in the query,
// or "" if none is detected. Exact type names win over stem variants.
func ExtractEventType(q string) string {
	lower := strings.ToLower(q)
	for _, et := range eventTypes {
		if strings.Contains(lower, et) {
			return et
		}
	}
	for _, s := range eventStems {
		if strings.Contains(lower, s.stem) {
			return s.eventType
		}
	}
	return ""
}

// determineIntent matches the intent pattern tables in declaration order,
// defaulting to causal inquiry
func determineIntent(lower string) string {
	for _, group := range intentPatterns {
		for _, re := range intentRes[group.intent] {
			if re.MatchString(lower) {
				return group.intent
			}
		}
	}
	return IntentCausalInquiry
}

// KeyTerms returns the query's content words: stopwords removed, words of
// three or more characters only, lower-cased, in order of appearance.
func KeyTerms(q string) []string {
	words := wordRe.FindAllString(strings.ToLower(q), -1)
	var terms []string
	for _, w := range words {
		if stopwords[w] || len(w) <= 2 {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// Decompose splits a compound query into sub-queries at conjunction
// boundaries. A query without conjunctions comes back as a single element.
func Decompose(q string) []string {
	subs := []string{q}
	for _, conj := range conjunctions {
		re := conjunctionRes[conj]
		var next []string
		for _, sq := range subs {
			if !re.MatchString(sq) {
				next = append(next, sq)
				continue
			}
			for _, part := range re.Split(sq, -1) {
				part = strings.TrimSpace(part)
				if part != "" {
					next = append(next, part)
				}
			}
		}
		subs = next
	}
	return subs
}
