package corpus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanopyHQ/rationale/internal/span"
	"github.com/CanopyHQ/rationale/internal/transcript"
)

func billingTranscript() *transcript.Transcript {
	return transcript.Preprocess(&transcript.Transcript{
		TranscriptID: "billing_001",
		Turns: []transcript.Turn{
			{TurnID: 1, Speaker: "customer", Text: "My invoice shows a duplicate charge this month."},
			{TurnID: 2, Speaker: "agent", Text: "The billing system error caused the duplicate charge."},
			{TurnID: 3, Speaker: "customer", Text: "I am cancelling my plan because of these billing errors."},
			{TurnID: 4, Speaker: "agent", Text: "The repeated errors led to your cancellation, I understand."},
		},
		Events: []transcript.Event{
			{EventType: "churn", TurnID: 3, TurnIndex: -1},
		},
	})
}

func TestSearchWithTranscriptScope(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	// Two transcripts about different problems
	support := supportTranscript()
	err := store.AddTranscript(ctx, support, span.IndexSpans(support.TranscriptID, support.Turns))
	require.NoError(t, err)

	billing := billingTranscript()
	err = store.AddTranscript(ctx, billing, span.IndexSpans(billing.TranscriptID, billing.Turns))
	require.NoError(t, err)

	// Unscoped search sees both transcripts
	hits, err := store.Search(ctx, "customer problem with the order or invoice", 20, nil)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, hit := range hits {
		seen[hit.Span.TranscriptID] = true
	}
	assert.True(t, seen["call_100"], "expected spans from call_100")
	assert.True(t, seen["billing_001"], "expected spans from billing_001")

	// Scoped to one transcript only
	hits, err = store.Search(ctx, "duplicate charge on the invoice", 20, &SearchFilter{TranscriptID: "billing_001"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, hit := range hits {
		assert.Equal(t, "billing_001", hit.Span.TranscriptID)
	}
}

func TestSearchScopeAndEventFilterCombined(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	support := supportTranscript()
	err := store.AddTranscript(ctx, support, span.IndexSpans(support.TranscriptID, support.Turns))
	require.NoError(t, err)

	billing := billingTranscript()
	err = store.AddTranscript(ctx, billing, span.IndexSpans(billing.TranscriptID, billing.Turns))
	require.NoError(t, err)

	// churn events only exist in the billing transcript
	hits, err := store.Search(ctx, "cancellation", 20, &SearchFilter{EventType: "churn"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, hit := range hits {
		assert.Equal(t, "billing_001", hit.Span.TranscriptID)
		assert.True(t, hit.HasEvent)
		assert.Contains(t, hit.EventTypes, "churn")
	}

	// A filter combining both dimensions with no matches comes back empty
	hits, err = store.Search(ctx, "refund", 20, &SearchFilter{EventType: "refund", TranscriptID: "billing_001"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStatsAcrossTranscripts(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	support := supportTranscript()
	require.NoError(t, store.AddTranscript(ctx, support, span.IndexSpans(support.TranscriptID, support.Turns)))

	billing := billingTranscript()
	require.NoError(t, store.AddTranscript(ctx, billing, span.IndexSpans(billing.TranscriptID, billing.Turns)))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Transcripts)
	assert.Greater(t, stats.Spans, 0)
	assert.Greater(t, stats.SpansWithEvents, 0)
	assert.NotEmpty(t, stats.DBSize)

	// Deleting one transcript shrinks the counts
	require.NoError(t, store.DeleteTranscript(ctx, "billing_001"))
	stats, err = store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Transcripts)
}
