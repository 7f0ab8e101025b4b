// Package retrieval combines corpus search, reranking, and event-specific
// span extraction into ranked evidence candidates.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/CanopyHQ/rationale/internal/causal"
)

// Reranker scores candidate texts for relevance to a query. Scores are
// treated as the relevance component of the evidence score.
type Reranker interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// LexicalReranker is the default reranker: word-overlap similarity between
// query and candidate, no model or network dependency. Scores are in [0,1].
type LexicalReranker struct{}

func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{}
}

func (r *LexicalReranker) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	scores := make([]float64, len(texts))
	queryWords := strings.Fields(strings.ToLower(query))
	for i, text := range texts {
		scores[i] = wordOverlap(queryWords, strings.Fields(strings.ToLower(text)))
	}
	return scores, nil
}

// wordOverlap is a Jaccard-like similarity over word multisets
func wordOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setB := make(map[string]bool, len(b))
	for _, w := range b {
		setB[w] = true
	}
	matches := 0
	for _, w := range a {
		if setB[w] {
			matches++
		}
	}
	union := len(a) + len(b) - matches
	if union == 0 {
		return 0
	}
	return float64(matches) / float64(union)
}

// Rerank scores each evidence span's relevance to the query, sorts by
// descending relevance, and truncates to topK if topK > 0.
func Rerank(ctx context.Context, r Reranker, query string, evidence []causal.Evidence, topK int) ([]causal.Evidence, error) {
	if len(evidence) == 0 {
		return evidence, nil
	}
	texts := make([]string, len(evidence))
	for i := range evidence {
		texts[i] = evidence[i].Text
	}
	scores, err := r.Score(ctx, query, texts)
	if err != nil {
		return nil, err
	}
	for i := range evidence {
		evidence[i].Relevance = scores[i]
	}
	sort.SliceStable(evidence, func(i, j int) bool {
		return evidence[i].Relevance > evidence[j].Relevance
	})
	if topK > 0 && len(evidence) > topK {
		evidence = evidence[:topK]
	}
	return evidence, nil
}

// RerankCombined blends reranker relevance with retrieval similarity
// (default 0.7/0.3) and writes the blend into the relevance component, which
// the evidence scorer then consumes.
func RerankCombined(ctx context.Context, r Reranker, query string, evidence []causal.Evidence, topK int, similarityWeight, relevanceWeight float64) ([]causal.Evidence, error) {
	if similarityWeight <= 0 && relevanceWeight <= 0 {
		similarityWeight = 0.3
		relevanceWeight = 0.7
	}
	reranked, err := Rerank(ctx, r, query, evidence, 0)
	if err != nil {
		return nil, err
	}
	for i := range reranked {
		reranked[i].Relevance = similarityWeight*reranked[i].Similarity + relevanceWeight*reranked[i].Relevance
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Relevance > reranked[j].Relevance
	})
	if topK > 0 && len(reranked) > topK {
		reranked = reranked[:topK]
	}
	return reranked, nil
}
