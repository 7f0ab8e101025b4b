package query

import (
	"reflect"
	"testing"
)

func TestExtractEventType(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"exact escalation", "Why did the escalation happen?", "escalation"},
		{"exact refund", "What caused the refund?", "refund"},
		{"exact churn", "Why is churn increasing?", "churn"},
		{"exact complaint", "What patterns show up in complaint calls?", "complaint"},
		{"exact satisfaction", "What drives satisfaction scores?", "satisfaction"},
		{"stem escalated", "Why was this call escalated?", "escalation"},
		{"stem cancelling maps to churn", "Why are customers cancelling?", "churn"},
		{"stem complained", "The customer complained about delays", "complaint"},
		{"no event type", "What happened on that call?", ""},
		{"case insensitive", "WHY DID THE REFUND HAPPEN", "refund"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractEventType(tt.query); got != tt.want {
				t.Errorf("ExtractEventType(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestParse_Intent(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"why happen", "Why did the escalation happen?", IntentCausalInquiry},
		{"what cause", "What caused the customer to leave?", IntentCausalInquiry},
		{"what led to", "What led to the refund?", IntentCausalInquiry},
		{"pattern", "What patterns lead to churn?", IntentCausalInquiry}, // causal patterns win in table order
		{"pure pattern", "What patterns are common in escalations?", IntentPatternAnalysis},
		{"identify pattern", "Identify the patterns in refund requests", IntentPatternAnalysis},
		{"specific call", "Tell me about call 42", IntentSpecificEvent},
		{"default causal", "Escalations this week", IntentCausalInquiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Parse(tt.query)
			if p.Intent != tt.want {
				t.Errorf("Parse(%q).Intent = %q, want %q", tt.query, p.Intent, tt.want)
			}
		})
	}
}

func TestParse_Flags(t *testing.T) {
	p := Parse("Why did the escalation happen?")
	if !p.IsCausal || p.IsPattern || p.IsSpecific {
		t.Errorf("expected causal flags only, got causal=%v pattern=%v specific=%v",
			p.IsCausal, p.IsPattern, p.IsSpecific)
	}
	if p.OriginalQuery != "Why did the escalation happen?" {
		t.Errorf("original query not preserved: %q", p.OriginalQuery)
	}
}

func TestKeyTerms(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			"drops stopwords and short words",
			"Why did the customer ask for a refund?",
			[]string{"customer", "ask", "refund"},
		},
		{
			"lowercases",
			"ESCALATION Supervisor",
			[]string{"escalation", "supervisor"},
		},
		{
			"all stopwords",
			"why is it that",
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KeyTerms(tt.query)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("KeyTerms(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestDecompose(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			"no conjunctions",
			"Why did the escalation happen?",
			[]string{"Why did the escalation happen?"},
		},
		{
			"single and",
			"Why did the escalation happen and what was the outcome?",
			[]string{"Why did the escalation happen", "what was the outcome?"},
		},
		{
			"multiple conjunctions",
			"Show refunds and escalations but not churn",
			[]string{"Show refunds", "escalations", "not churn"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decompose(tt.query)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decompose(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}
