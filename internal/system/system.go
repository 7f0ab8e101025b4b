// Package system wires the corpus, retrieval, analysis, conversation, and
// explanation components and runs the request state machine.
package system

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/CanopyHQ/rationale/internal/causal"
	"github.com/CanopyHQ/rationale/internal/conversation"
	"github.com/CanopyHQ/rationale/internal/corpus"
	"github.com/CanopyHQ/rationale/internal/explain"
	"github.com/CanopyHQ/rationale/internal/query"
	"github.com/CanopyHQ/rationale/internal/retrieval"
	"github.com/CanopyHQ/rationale/internal/span"
	"github.com/CanopyHQ/rationale/internal/transcript"
)

const (
	responseEvidenceLimit = 10
	evidenceTextLimit     = 500
	analysisTopK          = 10
)

// System holds all wired components. Created at process start, torn down at
// shutdown; no global instance.
type System struct {
	Store         *corpus.Store
	Conversations *conversation.Manager

	pipeline  *retrieval.Pipeline
	analyzer  *causal.Analyzer
	generator explain.Generator
}

// New wires a complete system from environment configuration
func New() (*System, error) {
	store, err := corpus.NewStore(corpus.NewEmbedderFromEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	return NewWithComponents(store, retrieval.NewLexicalReranker(), explain.NewGeneratorFromEnv()), nil
}

// NewWithComponents wires a system around explicit collaborators
func NewWithComponents(store *corpus.Store, reranker retrieval.Reranker, generator explain.Generator) *System {
	return &System{
		Store:         store,
		Conversations: conversation.NewManager(),
		pipeline:      retrieval.NewPipeline(store, reranker),
		analyzer:      causal.NewAnalyzer(causal.DefaultWeights()),
		generator:     generator,
	}
}

// Close releases system resources
func (s *System) Close() error {
	return s.Store.Close()
}

// EvidenceView is the display form of one evidence span
type EvidenceView struct {
	EvidenceID       int      `json:"evidence_id"` // 1-based rank
	SpanID           string   `json:"span_id"`
	Text             string   `json:"text"` // Truncated for display
	TranscriptID     string   `json:"transcript_id"`
	TurnIDs          []int    `json:"turn_ids,omitempty"`
	Speakers         []string `json:"speakers,omitempty"`
	EvidenceScore    float64  `json:"evidence_score"`
	TemporalRelation string   `json:"temporal_relation,omitempty"`
	PatternScore     float64  `json:"pattern_score"`
}

// Response is the uniform answer shape for both initial and follow-up
// queries
type Response struct {
	Response         string                 `json:"response"`
	Summary          string                 `json:"summary,omitempty"`
	KeyFactors       []string               `json:"key_factors,omitempty"`
	CausalMechanisms []string               `json:"causal_mechanisms,omitempty"`
	Evidence         []EvidenceView         `json:"evidence"`
	Citations        []explain.Citation     `json:"citations"`
	EvidenceCount    int                    `json:"evidence_count"`
	ContextUsed      bool                   `json:"context_used"`
	Metadata         map[string]interface{} `json:"metadata"`
}

// Ask answers a query, routing it through the initial or follow-up path.
// An empty conversationID starts a new conversation. The conversation turn
// is recorded only after explanation generation succeeds; a failed external
// call leaves conversation state untouched.
func (s *System) Ask(ctx context.Context, q, conversationID string) (Response, error) {
	conversationID = s.Conversations.GetOrCreate(conversationID).ConversationID

	// Hold the per-conversation lock across the whole read-decide-append
	// window so parallel requests can't enhance from stale context
	lock := s.Conversations.Lock(conversationID)
	defer lock.Unlock()

	if s.Conversations.IsFollowup(q, conversationID) {
		return s.askFollowup(ctx, q, conversationID)
	}
	return s.askInitial(ctx, q, conversationID)
}

// askInitial handles a standalone query
func (s *System) askInitial(ctx context.Context, q, conversationID string) (Response, error) {
	parsed := query.Parse(q)

	var evidence []causal.Evidence
	var err error
	if parsed.EventType != "" {
		evidence, err = s.pipeline.RetrieveForEvent(ctx, q, parsed.EventType, nil)
	} else {
		evidence, err = s.pipeline.Retrieve(ctx, q, nil)
	}
	if err != nil {
		return Response{}, err
	}

	analyzed := s.analyzer.AnalyzeCausalSpans(evidence, q, parsed.EventType, -1, analysisTopK)

	result, err := explain.GenerateWithCitations(ctx, s.generator, q, analyzed, "")
	if err != nil {
		return Response{}, fmt.Errorf("explanation generation failed: %w", err)
	}
	structured := explain.Structure(result.Explanation)

	s.Conversations.AddTurn(conversationID, q, result.Explanation, map[string]interface{}{
		"is_followup":    false,
		"event_type":     parsed.EventType,
		"evidence_count": len(analyzed),
	})

	return Response{
		Response:         result.Explanation,
		Summary:          structured.Summary,
		KeyFactors:       structured.KeyFactors,
		CausalMechanisms: structured.CausalMechanisms,
		Evidence:         evidenceViews(analyzed),
		Citations:        result.Citations,
		EvidenceCount:    len(analyzed),
		ContextUsed:      false,
		Metadata: map[string]interface{}{
			"conversation_id": conversationID,
			"query":           q,
			"is_followup":     false,
			"event_type":      parsed.EventType,
			"intent":          parsed.Intent,
			"evidence_count":  len(analyzed),
		},
	}, nil
}

// askFollowup handles a query that references earlier turns
func (s *System) askFollowup(ctx context.Context, q, conversationID string) (Response, error) {
	recentQueries := s.Conversations.RecentQueries(conversationID, 3)
	enhanced := enhanceQuery(q, recentQueries)
	parsed := query.Parse(enhanced)

	evidence, err := s.pipeline.RetrieveWithContext(ctx, enhanced, recentQueries)
	if err != nil {
		return Response{}, err
	}

	analyzed := s.analyzer.AnalyzeCausalSpans(evidence, enhanced, parsed.EventType, -1, analysisTopK)

	contextSummary := s.Conversations.ContextSummary(conversationID)
	result, err := explain.GenerateWithCitations(ctx, s.generator, enhanced, analyzed, contextSummary)
	if err != nil {
		return Response{}, fmt.Errorf("explanation generation failed: %w", err)
	}

	// The turn records the original query, not the enhanced one
	s.Conversations.AddTurn(conversationID, q, result.Explanation, map[string]interface{}{
		"is_followup":    true,
		"evidence_count": len(analyzed),
		"enhanced_query": enhanced,
	})

	return Response{
		Response:      result.Explanation,
		Evidence:      evidenceViews(analyzed),
		Citations:     result.Citations,
		EvidenceCount: len(analyzed),
		ContextUsed:   len(recentQueries) > 0,
		Metadata: map[string]interface{}{
			"conversation_id": conversationID,
			"query":           q,
			"enhanced_query":  enhanced,
			"is_followup":     true,
			"event_type":      parsed.EventType,
			"intent":          parsed.Intent,
			"context_turns":   len(recentQueries),
			"evidence_count":  len(analyzed),
		},
	}, nil
}

// enhanceQuery folds the last two prior queries into the current one. With
// no prior queries the current query passes through unchanged.
func enhanceQuery(q string, recentQueries []string) string {
	if len(recentQueries) == 0 {
		return q
	}
	last := recentQueries
	if len(last) > 2 {
		last = last[len(last)-2:]
	}
	return fmt.Sprintf("Previous queries: %s. Current query: %s", strings.Join(last, "; "), q)
}

func evidenceViews(evidence []causal.Evidence) []EvidenceView {
	views := make([]EvidenceView, 0, len(evidence))
	for i, ev := range evidence {
		if i >= responseEvidenceLimit {
			break
		}
		text := clip(ev.Text, evidenceTextLimit)
		view := EvidenceView{
			EvidenceID:    i + 1,
			SpanID:        ev.SpanID,
			Text:          text,
			TranscriptID:  ev.TranscriptID,
			TurnIDs:       ev.TurnIDs,
			Speakers:      ev.Speakers,
			EvidenceScore: ev.EvidenceScore,
		}
		view.TemporalRelation = ev.TemporalRelation
		if ev.Patterns != nil {
			view.PatternScore = ev.Patterns.PatternScore
		}
		views = append(views, view)
	}
	return views
}

// ImportResult summarizes a transcript import run
type ImportResult struct {
	Transcripts int           `json:"transcripts"`
	Spans       int           `json:"spans"`
	Errors      []string      `json:"errors,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// ImportFile loads, preprocesses, windows, and stores the transcripts in a
// single file
func (s *System) ImportFile(ctx context.Context, path string) (ImportResult, error) {
	start := time.Now()
	transcripts, err := transcript.LoadAll(path)
	if err != nil {
		return ImportResult{Duration: time.Since(start)}, err
	}
	result := s.storeTranscripts(ctx, transcripts, nil)
	result.Duration = time.Since(start)
	return result, nil
}

// ImportDir loads every matching transcript file under dir. Malformed files
// are reported in Errors without aborting the batch.
func (s *System) ImportDir(ctx context.Context, dir, pattern string) (ImportResult, error) {
	start := time.Now()
	loaded, err := transcript.LoadBatch(dir, pattern)
	if err != nil {
		return ImportResult{Duration: time.Since(start)}, err
	}
	result := s.storeTranscripts(ctx, loaded.Transcripts, loaded.Errors)
	result.Duration = time.Since(start)
	return result, nil
}

func (s *System) storeTranscripts(ctx context.Context, transcripts []*transcript.Transcript, loadErrors []string) ImportResult {
	result := ImportResult{Errors: loadErrors}
	for _, raw := range transcripts {
		t := transcript.Preprocess(raw)
		spans := span.IndexSpans(t.TranscriptID, t.Turns)
		if err := s.Store.AddTranscript(ctx, t, spans); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", t.TranscriptID, err))
			continue
		}
		result.Transcripts++
		result.Spans += len(spans)
	}
	return result
}

// ClearConversation deletes a conversation's history
func (s *System) ClearConversation(conversationID string) {
	s.Conversations.Clear(conversationID)
}

// CorpusStats reports corpus contents
func (s *System) CorpusStats(ctx context.Context) (corpus.Stats, error) {
	return s.Store.GetStats(ctx)
}

// clip cuts s to at most max bytes without splitting a UTF-8 rune.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
