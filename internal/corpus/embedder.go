// Package corpus stores dialogue spans in SQLite with a sqlite-vec index
// for semantic retrieval
package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
)

// Embedder generates vector embeddings for text
type Embedder interface {
	Embed(text string) ([]float32, error)
	EmbedBatch(texts []string) ([][]float32, error)
	Dimensions() int
}

// NewEmbedderFromEnv picks the embedder for this process: OpenAI when an
// API key is configured, wrapped so a failing key degrades to the local
// embedder instead of breaking ingestion, otherwise local only.
func NewEmbedderFromEnv() Embedder {
	if os.Getenv("OPENAI_API_KEY") != "" {
		if openai, err := NewOpenAIEmbedder(); err == nil {
			return NewFallbackEmbedder(openai)
		}
	}
	return NewLocalEmbedder()
}

// FallbackEmbedder wraps a primary embedder and falls back to local on
// errors (e.g. expired API keys)
type FallbackEmbedder struct {
	primary  Embedder
	fallback Embedder
	failed   bool // sticky: once primary fails, stay on fallback for the session
}

func NewFallbackEmbedder(primary Embedder) *FallbackEmbedder {
	return &FallbackEmbedder{
		primary:  primary,
		fallback: NewLocalEmbedder(),
	}
}

func (f *FallbackEmbedder) Embed(text string) ([]float32, error) {
	if f.failed {
		return f.fallback.Embed(text)
	}
	result, err := f.primary.Embed(text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Primary embedder failed (%v), falling back to local\n", err)
		f.failed = true
		return f.fallback.Embed(text)
	}
	return result, nil
}

func (f *FallbackEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	if f.failed {
		return f.fallback.EmbedBatch(texts)
	}
	result, err := f.primary.EmbedBatch(texts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Primary embedder failed (%v), falling back to local\n", err)
		f.failed = true
		return f.fallback.EmbedBatch(texts)
	}
	return result, nil
}

func (f *FallbackEmbedder) Dimensions() int {
	if f.failed {
		return f.fallback.Dimensions()
	}
	return f.primary.Dimensions()
}

// OpenAIEmbedder uses OpenAI's embedding API
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
}

// NewOpenAIEmbedder creates an embedder using OpenAI's API
func NewOpenAIEmbedder() (*OpenAIEmbedder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return &OpenAIEmbedder{
		apiKey:     apiKey,
		model:      "text-embedding-3-small",
		dimensions: 1536,
		client:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (e *OpenAIEmbedder) Embed(text string) ([]float32, error) {
	results, err := e.EmbedBatch([]string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"model": e.model,
		"input": texts,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest("POST", "https://api.openai.com/v1/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// LocalEmbedder generates deterministic hash-feature embeddings with no
// network dependency. Quality is below a real model but recall stays
// usable and ingestion never blocks on an external service.
type LocalEmbedder struct {
	dimensions int
	stopwords  map[string]bool
}

const localDimensions = 256

func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{
		dimensions: localDimensions,
		stopwords:  buildStopwords(),
	}
}

func buildStopwords() map[string]bool {
	words := []string{
		"a", "an", "the", "and", "or", "but", "in", "on", "at", "to",
		"for", "of", "with", "by", "from", "as", "is", "are", "was",
		"were", "be", "been", "it", "this", "that", "i", "you", "we",
		"they", "he", "she", "my", "your", "our",
	}
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func (e *LocalEmbedder) Embed(text string) ([]float32, error) {
	return e.features(text), nil
}

func (e *LocalEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.features(text)
	}
	return out, nil
}

func (e *LocalEmbedder) Dimensions() int {
	return e.dimensions
}

// features hashes unigrams, bigrams, and character trigrams into a fixed
// vector, then L2-normalizes so dot products are cosine similarities
func (e *LocalEmbedder) features(text string) []float32 {
	v := make([]float32, e.dimensions)
	words := tokenize(text)

	for _, w := range words {
		if e.stopwords[w] {
			continue
		}
		v[hashString(w)%e.dimensions] += 1.0
	}
	for i := 0; i+1 < len(words); i++ {
		bigram := words[i] + " " + words[i+1]
		v[hashString(bigram)%e.dimensions] += 0.5
	}
	lower := strings.ToLower(text)
	for i := 0; i+3 <= len(lower); i++ {
		v[hashString(lower[i:i+3])%e.dimensions] += 0.25
	}

	normalize(v)
	return v
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

func hashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// cosineSimilarity computes the cosine between two vectors; 0 when either
// is empty or lengths differ
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
