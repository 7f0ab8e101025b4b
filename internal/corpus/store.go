package corpus

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/CanopyHQ/rationale/internal/span"
	"github.com/CanopyHQ/rationale/internal/transcript"
	_ "github.com/mattn/go-sqlite3"
)

// Hit is a stored span returned from a corpus search
type Hit struct {
	Span       span.Span `json:"span"`
	Similarity float64   `json:"similarity,omitempty"` // Set during search
	HasEvent   bool      `json:"has_event"`
	EventTypes []string  `json:"event_types,omitempty"`
}

// SearchFilter narrows a corpus search
type SearchFilter struct {
	EventType    string // Only spans annotated with this event type
	TranscriptID string // Only spans from this transcript
}

// Stats summarizes corpus contents
type Stats struct {
	Transcripts     int    `json:"transcripts"`
	Spans           int    `json:"spans"`
	SpansWithEvents int    `json:"spans_with_events"`
	DBSize          string `json:"db_size"`
}

// Store provides span corpus storage using SQLite
type Store struct {
	db       *sql.DB
	dataDir  string
	embedder Embedder

	// Vector index for fast KNN search (no-op if sqlite-vec unavailable)
	vecIdx *vecIndex
}

// GetDB returns the underlying SQL database handle
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// NewStore creates a new span corpus store. Data lives under
// RATIONALE_DATA_DIR, defaulting to ~/.rationale.
func NewStore(embedder Embedder) (*Store, error) {
	dataDir := os.Getenv("RATIONALE_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home dir: %w", err)
		}
		dataDir = filepath.Join(home, ".rationale")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "corpus.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:       db,
		dataDir:  dataDir,
		embedder: embedder,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	// Initialize sqlite-vec vector index for fast KNN search
	store.vecIdx = newVecIndex(db, embedder.Dimensions())
	if store.vecIdx.available {
		if n, err := store.vecIdx.Backfill(db); err == nil && n > 0 {
			fmt.Fprintf(os.Stderr, "🔍 Backfilled %d spans into vec index\n", n)
		}
	}

	fmt.Fprintf(os.Stderr, "📁 Span corpus: %s\n", dbPath)
	return store, nil
}

// initSchema creates the database tables
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcripts (
		transcript_id TEXT PRIMARY KEY,
		num_turns INTEGER NOT NULL,
		num_events INTEGER NOT NULL,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS spans (
		span_id TEXT PRIMARY KEY,
		transcript_id TEXT NOT NULL,
		text TEXT NOT NULL,
		text_hash TEXT,
		start_turn_index INTEGER NOT NULL,
		end_turn_index INTEGER NOT NULL,
		turn_ids TEXT,
		speakers TEXT,
		window_size INTEGER,
		has_event INTEGER DEFAULT 0,
		event_types TEXT,
		embedding TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (transcript_id) REFERENCES transcripts(transcript_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_spans_transcript_id ON spans(transcript_id);
	CREATE INDEX IF NOT EXISTS idx_spans_has_event ON spans(has_event);
	CREATE INDEX IF NOT EXISTS idx_spans_text_hash ON spans(text_hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// textHash calculates SHA256 of span text for skip-unchanged detection
func textHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// AddTranscript stores a transcript's spans, replacing any previous spans
// for the same transcript ID. Spans whose text is unchanged keep their
// stored embedding instead of being re-embedded.
func (s *Store) AddTranscript(ctx context.Context, t *transcript.Transcript, spans []span.Span) error {
	if t == nil || t.TranscriptID == "" {
		return fmt.Errorf("transcript has no ID")
	}

	// Read existing embeddings keyed by span text hash so re-imports of
	// unchanged transcripts don't hit the embedder again
	existing := make(map[string][]float32)
	rows, err := s.db.QueryContext(ctx, `SELECT text_hash, embedding FROM spans WHERE transcript_id = ?`, t.TranscriptID)
	if err == nil {
		for rows.Next() {
			var hash string
			var embJSON sql.NullString
			if err := rows.Scan(&hash, &embJSON); err != nil {
				continue
			}
			if !embJSON.Valid {
				continue
			}
			var emb []float32
			if json.Unmarshal([]byte(embJSON.String), &emb) == nil && len(emb) == s.embedder.Dimensions() {
				existing[hash] = emb
			}
		}
		rows.Close()
	}

	// Replace semantics: drop the old spans before inserting
	if err := s.deleteSpans(ctx, t.TranscriptID); err != nil {
		return err
	}

	metadataJSON, _ := json.Marshal(t.Metadata)
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO transcripts (transcript_id, num_turns, num_events, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.TranscriptID, len(t.Turns), len(t.Events), string(metadataJSON), time.Now())
	if err != nil {
		return fmt.Errorf("failed to store transcript: %w", err)
	}

	// Batch-embed only the texts we don't already have vectors for
	var missingTexts []string
	var missingIdx []int
	embeddings := make([][]float32, len(spans))
	for i, sp := range spans {
		if emb, ok := existing[textHash(sp.Text)]; ok {
			embeddings[i] = emb
			continue
		}
		missingTexts = append(missingTexts, sp.Text)
		missingIdx = append(missingIdx, i)
	}
	if len(missingTexts) > 0 {
		embedded, err := s.embedder.EmbedBatch(missingTexts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Embedding failed: %v\n", err)
			for _, i := range missingIdx {
				embeddings[i] = make([]float32, s.embedder.Dimensions())
			}
		} else {
			for j, i := range missingIdx {
				embeddings[i] = embedded[j]
			}
		}
	}

	now := time.Now()
	for i, sp := range spans {
		eventTypes := spanEventTypes(t, sp)
		hasEvent := 0
		if len(eventTypes) > 0 {
			hasEvent = 1
		}

		turnIDsJSON, _ := json.Marshal(sp.TurnIDs)
		speakersJSON, _ := json.Marshal(sp.Speakers)
		eventTypesJSON, _ := json.Marshal(eventTypes)
		embeddingJSON, _ := json.Marshal(embeddings[i])

		_, err = s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO spans
			(span_id, transcript_id, text, text_hash, start_turn_index, end_turn_index,
			 turn_ids, speakers, window_size, has_event, event_types, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sp.SpanID, sp.TranscriptID, sp.Text, textHash(sp.Text), sp.StartTurnIndex, sp.EndTurnIndex,
			string(turnIDsJSON), string(speakersJSON), sp.WindowSize, hasEvent, string(eventTypesJSON),
			string(embeddingJSON), now)
		if err != nil {
			return fmt.Errorf("failed to store span %s: %w", sp.SpanID, err)
		}

		if s.vecIdx != nil {
			s.vecIdx.Insert(sp.SpanID, embeddings[i])
		}
	}

	return nil
}

// spanEventTypes returns the sorted unique event types whose anchor turn
// falls inside the span
func spanEventTypes(t *transcript.Transcript, sp span.Span) []string {
	seen := make(map[string]bool)
	for _, ev := range t.Events {
		idx := span.ResolveAnchor(t, ev)
		if idx < 0 || idx < sp.StartTurnIndex || idx > sp.EndTurnIndex {
			continue
		}
		if ev.EventType != "" {
			seen[ev.EventType] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	types := make([]string, 0, len(seen))
	for et := range seen {
		types = append(types, et)
	}
	sort.Strings(types)
	return types
}

// Search finds the spans most similar to the query, optionally filtered by
// event type or transcript. Similarity is cosine, in [0, 1] for normalized
// embeddings.
func (s *Store) Search(ctx context.Context, query string, limit int, filter *SearchFilter) ([]Hit, error) {
	queryEmbedding, err := s.embedder.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Fast path: sqlite-vec KNN index
	if s.vecIdx != nil && s.vecIdx.available {
		hits, err := s.searchWithVecIndex(ctx, queryEmbedding, limit, filter)
		if err == nil && len(hits) > 0 {
			return hits, nil
		}
		// Fall through to linear scan on error or empty results
	}

	return s.searchLinearScan(ctx, queryEmbedding, limit, filter)
}

// searchWithVecIndex uses the sqlite-vec KNN index, overfetching candidates
// then applying filters in Go.
func (s *Store) searchWithVecIndex(ctx context.Context, queryEmbedding []float32, limit int, filter *SearchFilter) ([]Hit, error) {
	overfetchLimit := limit * 3
	if filter != nil && (filter.EventType != "" || filter.TranscriptID != "") {
		overfetchLimit = limit * 5
	}
	if overfetchLimit < 20 {
		overfetchLimit = 20
	}

	results, err := s.vecIdx.Search(queryEmbedding, overfetchLimit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	distanceMap := make(map[string]float64, len(results))
	placeholders := make([]string, len(results))
	args := make([]interface{}, len(results))
	for i, r := range results {
		distanceMap[r.SpanID] = r.Distance
		placeholders[i] = "?"
		args[i] = r.SpanID
	}

	sqlQuery := `SELECT span_id, transcript_id, text, start_turn_index, end_turn_index,
		turn_ids, speakers, window_size, has_event, event_types, embedding
		FROM spans WHERE span_id IN (` + strings.Join(placeholders, ",") + `)`

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		hit, _, err := s.scanSpan(rows)
		if err != nil {
			continue
		}
		if !matchesFilter(hit, filter) {
			continue
		}
		hit.Similarity = 1.0 - distanceMap[hit.Span.SpanID]
		hits = append(hits, hit)
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// searchLinearScan is the brute-force cosine path (fallback when the vec
// index is unavailable).
func (s *Store) searchLinearScan(ctx context.Context, queryEmbedding []float32, limit int, filter *SearchFilter) ([]Hit, error) {
	sqlQuery := `SELECT span_id, transcript_id, text, start_turn_index, end_turn_index,
		turn_ids, speakers, window_size, has_event, event_types, embedding FROM spans`
	args := []interface{}{}
	var where []string

	if filter != nil && filter.TranscriptID != "" {
		where = append(where, "transcript_id = ?")
		args = append(args, filter.TranscriptID)
	}
	if filter != nil && filter.EventType != "" {
		where = append(where, "has_event = 1")
	}
	if len(where) > 0 {
		sqlQuery += ` WHERE ` + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query spans: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		hit, embedding, err := s.scanSpan(rows)
		if err != nil {
			continue
		}
		if !matchesFilter(hit, filter) {
			continue
		}
		hit.Similarity = cosineSimilarity(queryEmbedding, embedding)
		hits = append(hits, hit)
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// matchesFilter applies the event-type and transcript filters to a hit
func matchesFilter(hit Hit, filter *SearchFilter) bool {
	if filter == nil {
		return true
	}
	if filter.TranscriptID != "" && hit.Span.TranscriptID != filter.TranscriptID {
		return false
	}
	if filter.EventType != "" {
		found := false
		for _, et := range hit.EventTypes {
			if strings.EqualFold(et, filter.EventType) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SpansForTranscript returns all stored spans for a transcript, optionally
// restricted to spans annotated with the given event type.
func (s *Store) SpansForTranscript(ctx context.Context, transcriptID, eventType string) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT span_id, transcript_id, text, start_turn_index, end_turn_index,
		turn_ids, speakers, window_size, has_event, event_types, embedding
		FROM spans WHERE transcript_id = ? ORDER BY start_turn_index`, transcriptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query spans: %w", err)
	}
	defer rows.Close()

	filter := &SearchFilter{EventType: eventType}
	var hits []Hit
	for rows.Next() {
		hit, _, err := s.scanSpan(rows)
		if err != nil {
			continue
		}
		if !matchesFilter(hit, filter) {
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) scanSpan(rows *sql.Rows) (Hit, []float32, error) {
	var hit Hit
	var turnIDsJSON, speakersJSON, eventTypesJSON, embeddingJSON sql.NullString
	var hasEvent int

	err := rows.Scan(&hit.Span.SpanID, &hit.Span.TranscriptID, &hit.Span.Text,
		&hit.Span.StartTurnIndex, &hit.Span.EndTurnIndex,
		&turnIDsJSON, &speakersJSON, &hit.Span.WindowSize, &hasEvent, &eventTypesJSON, &embeddingJSON)
	if err != nil {
		return Hit{}, nil, err
	}

	hit.HasEvent = hasEvent != 0
	if turnIDsJSON.Valid {
		json.Unmarshal([]byte(turnIDsJSON.String), &hit.Span.TurnIDs)
	}
	if speakersJSON.Valid {
		json.Unmarshal([]byte(speakersJSON.String), &hit.Span.Speakers)
	}
	if eventTypesJSON.Valid {
		json.Unmarshal([]byte(eventTypesJSON.String), &hit.EventTypes)
	}
	var embedding []float32
	if embeddingJSON.Valid {
		json.Unmarshal([]byte(embeddingJSON.String), &embedding)
	}
	return hit, embedding, nil
}

// DeleteTranscript removes a transcript and its spans from the corpus
func (s *Store) DeleteTranscript(ctx context.Context, transcriptID string) error {
	if err := s.deleteSpans(ctx, transcriptID); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE transcript_id = ?`, transcriptID)
	if err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("transcript not found: %s", transcriptID)
	}
	return nil
}

func (s *Store) deleteSpans(ctx context.Context, transcriptID string) error {
	if s.vecIdx != nil && s.vecIdx.available {
		rows, err := s.db.QueryContext(ctx, `SELECT span_id FROM spans WHERE transcript_id = ?`, transcriptID)
		if err == nil {
			for rows.Next() {
				var spanID string
				if rows.Scan(&spanID) == nil {
					s.vecIdx.Delete(spanID)
				}
			}
			rows.Close()
		}
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM spans WHERE transcript_id = ?`, transcriptID)
	if err != nil {
		return fmt.Errorf("failed to delete spans: %w", err)
	}
	return nil
}

// CountSpans returns the total number of stored spans
func (s *Store) CountSpans(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spans`).Scan(&count)
	return count, err
}

// CountTranscripts returns the total number of stored transcripts
func (s *Store) CountTranscripts(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcripts`).Scan(&count)
	return count, err
}

// GetStats summarizes the corpus contents
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	var err error
	if stats.Transcripts, err = s.CountTranscripts(ctx); err != nil {
		return stats, err
	}
	if stats.Spans, err = s.CountSpans(ctx); err != nil {
		return stats, err
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spans WHERE has_event = 1`).Scan(&stats.SpansWithEvents); err != nil {
		return stats, err
	}
	stats.DBSize, _ = s.Size()
	return stats, nil
}

// Size returns the database file size as a human-readable string
func (s *Store) Size() (string, error) {
	dbPath := filepath.Join(s.dataDir, "corpus.db")
	info, err := os.Stat(dbPath)
	if err != nil {
		return "unknown", err
	}

	size := info.Size()
	if size < 1024 {
		return fmt.Sprintf("%d B", size), nil
	} else if size < 1024*1024 {
		return fmt.Sprintf("%.1f KB", float64(size)/1024), nil
	}
	return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024)), nil
}

// GetEmbedderDimensions returns the dimensions of the configured embedder
func (s *Store) GetEmbedderDimensions() int {
	return s.embedder.Dimensions()
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
