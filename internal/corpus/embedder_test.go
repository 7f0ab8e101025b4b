package corpus

import (
	"errors"
	"math"
	"testing"
)

func TestLocalEmbedder_Deterministic(t *testing.T) {
	e := NewLocalEmbedder()

	a, err := e.Embed("the customer asked for a refund")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	b, err := e.Embed("the customer asked for a refund")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if len(a) != e.Dimensions() {
		t.Errorf("expected %d dimensions, got %d", e.Dimensions(), len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at index %d: %f != %f", i, a[i], b[i])
		}
	}
}

func TestLocalEmbedder_Normalized(t *testing.T) {
	e := NewLocalEmbedder()

	v, err := e.Embed("agent escalated the case to a supervisor")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("expected unit norm, got %f", norm)
	}
}

func TestLocalEmbedder_EmptyText(t *testing.T) {
	e := NewLocalEmbedder()

	v, err := e.Embed("")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	for i, x := range v {
		if x != 0 {
			t.Fatalf("expected zero vector for empty text, got %f at %d", x, i)
		}
	}
}

func TestLocalEmbedder_SimilarTextScoresHigher(t *testing.T) {
	e := NewLocalEmbedder()

	query, _ := e.Embed("customer wants refund for broken product")
	related, _ := e.Embed("the customer demanded a refund because the product arrived broken")
	unrelated, _ := e.Embed("weather forecast sunny skies all weekend")

	simRelated := cosineSimilarity(query, related)
	simUnrelated := cosineSimilarity(query, unrelated)

	if simRelated <= simUnrelated {
		t.Errorf("expected related text to score higher: related=%f unrelated=%f", simRelated, simUnrelated)
	}
}

func TestLocalEmbedder_EmbedBatch(t *testing.T) {
	e := NewLocalEmbedder()

	texts := []string{"first span text", "second span text", "third span text"}
	batch, err := e.EmbedBatch(texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(batch) != len(texts) {
		t.Fatalf("expected %d embeddings, got %d", len(texts), len(batch))
	}

	for i, text := range texts {
		single, _ := e.Embed(text)
		for j := range single {
			if batch[i][j] != single[j] {
				t.Fatalf("batch embedding %d differs from single embedding at %d", i, j)
			}
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1.0},
		{"empty", nil, nil, 0.0},
		{"mismatched lengths", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 0, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestFallbackEmbedder_StickyFallback(t *testing.T) {
	primary := &failingEmbedder{}
	f := NewFallbackEmbedder(primary)

	v, err := f.Embed("some text")
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if len(v) != localDimensions {
		t.Errorf("expected fallback dimensions %d, got %d", localDimensions, len(v))
	}
	if !f.failed {
		t.Error("expected failure to be sticky")
	}

	// Second call must not touch the primary again
	primary.calls = 0
	if _, err := f.Embed("more text"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if primary.calls != 0 {
		t.Errorf("expected primary to be skipped after failure, got %d calls", primary.calls)
	}
}

type failingEmbedder struct {
	calls int
}

func (e *failingEmbedder) Embed(text string) ([]float32, error) {
	e.calls++
	return nil, errEmbedderDown
}

func (e *failingEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	e.calls++
	return nil, errEmbedderDown
}

func (e *failingEmbedder) Dimensions() int { return 1536 }

var errEmbedderDown = errors.New("embedder down")
