package explain

import (
	"regexp"
	"strings"
)

// Structured is an explanation decomposed into presentation-friendly parts
type Structured struct {
	Summary          string   `json:"summary"`
	KeyFactors       []string `json:"key_factors"`
	CausalMechanisms []string `json:"causal_mechanisms"`
	FullExplanation  string   `json:"full_explanation"`
}

var (
	numberedItemRe = regexp.MustCompile(`\d+[.)]\s*([^\n]+)`)
	bulletItemRe   = regexp.MustCompile(`[-•]\s*([^\n]+)`)
	mechanismRes   = []*regexp.Regexp{
		regexp.MustCompile(`(?i)because\s+([^.]+)`),
		regexp.MustCompile(`(?i)due\s+to\s+([^.]+)`),
		regexp.MustCompile(`(?i)led\s+to\s+([^.]+)`),
		regexp.MustCompile(`(?i)caused\s+([^.]+)`),
		regexp.MustCompile(`(?i)resulted\s+in\s+([^.]+)`),
	}
)

const maxExtracted = 5

// Structure decomposes an explanation into summary, key factors, and causal
// mechanisms
func Structure(explanation string) Structured {
	return Structured{
		Summary:          extractSummary(explanation),
		KeyFactors:       extractKeyFactors(explanation),
		CausalMechanisms: extractCausalMechanisms(explanation),
		FullExplanation:  explanation,
	}
}

// extractSummary returns the first sentence of the explanation
func extractSummary(explanation string) string {
	if idx := strings.Index(explanation, "."); idx >= 0 {
		return strings.TrimSpace(explanation[:idx]) + "."
	}
	if len(explanation) > 200 {
		return explanation[:200] + "..."
	}
	return explanation
}

// extractKeyFactors pulls numbered or bulleted list items; without any, the
// first few substantial sentences serve as factors
func extractKeyFactors(explanation string) []string {
	var factors []string
	for _, m := range numberedItemRe.FindAllStringSubmatch(explanation, -1) {
		factors = append(factors, strings.TrimSpace(m[1]))
	}
	for _, m := range bulletItemRe.FindAllStringSubmatch(explanation, -1) {
		factors = append(factors, strings.TrimSpace(m[1]))
	}

	if len(factors) == 0 {
		sentences := strings.Split(explanation, ".")
		for i, s := range sentences {
			if i >= 3 {
				break
			}
			s = strings.TrimSpace(s)
			if len(s) > 20 {
				factors = append(factors, s)
			}
		}
	}

	if len(factors) > maxExtracted {
		factors = factors[:maxExtracted]
	}
	return factors
}

// extractCausalMechanisms finds causal-language clauses in the explanation
func extractCausalMechanisms(explanation string) []string {
	var mechanisms []string
	for _, re := range mechanismRes {
		for _, m := range re.FindAllStringSubmatch(explanation, -1) {
			mechanisms = append(mechanisms, strings.TrimSpace(m[1]))
		}
	}
	if len(mechanisms) > maxExtracted {
		mechanisms = mechanisms[:maxExtracted]
	}
	return mechanisms
}
