package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/CanopyHQ/rationale/internal/causal"
	"github.com/CanopyHQ/rationale/internal/corpus"
	"github.com/CanopyHQ/rationale/internal/span"
	"github.com/CanopyHQ/rationale/internal/transcript"
)

// Default fan-out sizes: retrieve wide, rerank down
const (
	DefaultTopK       = 20
	DefaultRerankTopK = 10
)

// Searcher is the corpus search contract the pipeline depends on
type Searcher interface {
	Search(ctx context.Context, query string, limit int, filter *corpus.SearchFilter) ([]corpus.Hit, error)
}

// Pipeline runs corpus search followed by reranking
type Pipeline struct {
	searcher   Searcher
	reranker   Reranker // nil disables reranking
	topK       int
	rerankTopK int
}

// NewPipeline creates a retrieval pipeline with default fan-out. A nil
// reranker disables the rerank stage; results are then truncated by
// similarity order alone.
func NewPipeline(searcher Searcher, reranker Reranker) *Pipeline {
	return &Pipeline{
		searcher:   searcher,
		reranker:   reranker,
		topK:       DefaultTopK,
		rerankTopK: DefaultRerankTopK,
	}
}

// Retrieve finds the spans most relevant to the query. Similarity comes from
// the corpus search; relevance from the reranker when one is configured.
func (p *Pipeline) Retrieve(ctx context.Context, query string, filter *corpus.SearchFilter) ([]causal.Evidence, error) {
	hits, err := p.searcher.Search(ctx, query, p.topK, filter)
	if err != nil {
		return nil, fmt.Errorf("corpus search failed: %w", err)
	}

	evidence := evidenceFromHits(hits)

	if p.reranker != nil && len(evidence) > 0 {
		return Rerank(ctx, p.reranker, query, evidence, p.rerankTopK)
	}
	if len(evidence) > p.rerankTopK {
		evidence = evidence[:p.rerankTopK]
	}
	return evidence, nil
}

// RetrieveForEvent retrieves spans for a specific event type. When a
// transcript is supplied, event-anchored spans extracted from it (preceding
// window of 10 turns) are merged with the corpus results, deduplicated by
// text, and reranked together.
func (p *Pipeline) RetrieveForEvent(ctx context.Context, query, eventType string, t *transcript.Transcript) ([]causal.Evidence, error) {
	filter := &corpus.SearchFilter{EventType: eventType}
	hits, err := p.searcher.Search(ctx, query, p.topK, filter)
	if err != nil {
		return nil, fmt.Errorf("corpus search failed: %w", err)
	}
	evidence := evidenceFromHits(hits)

	if t != nil {
		eventSpans := span.EventTypeSpans(t, eventType, 10)
		evidence = append(evidence, causal.Wrap(eventSpans)...)
		evidence = dedupeByText(evidence)
	}

	if p.reranker != nil && len(evidence) > 0 {
		return Rerank(ctx, p.reranker, query, evidence, p.rerankTopK)
	}
	if len(evidence) > p.rerankTopK {
		evidence = evidence[:p.rerankTopK]
	}
	return evidence, nil
}

// RetrieveWithContext retrieves spans for a query enriched with prior
// conversation text. The last three context entries are prepended to the
// query before search.
func (p *Pipeline) RetrieveWithContext(ctx context.Context, query string, contextTexts []string) ([]causal.Evidence, error) {
	enhanced := query
	if len(contextTexts) > 0 {
		recent := contextTexts
		if len(recent) > 3 {
			recent = recent[len(recent)-3:]
		}
		enhanced = strings.Join(recent, " ") + " " + query
	}
	return p.Retrieve(ctx, enhanced, nil)
}

func evidenceFromHits(hits []corpus.Hit) []causal.Evidence {
	evidence := make([]causal.Evidence, 0, len(hits))
	for _, hit := range hits {
		ev := causal.Evidence{Span: hit.Span}
		ev.Similarity = hit.Similarity
		evidence = append(evidence, ev)
	}
	return evidence
}

// dedupeByText keeps the first occurrence of each span text, preserving order
func dedupeByText(evidence []causal.Evidence) []causal.Evidence {
	seen := make(map[string]bool, len(evidence))
	var out []causal.Evidence
	for _, ev := range evidence {
		if seen[ev.Text] {
			continue
		}
		seen[ev.Text] = true
		out = append(out, ev)
	}
	return out
}
