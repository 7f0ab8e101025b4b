package acceptance

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cucumber/godog"

	"github.com/CanopyHQ/rationale/internal/corpus"
	"github.com/CanopyHQ/rationale/internal/explain"
	"github.com/CanopyHQ/rationale/internal/retrieval"
	"github.com/CanopyHQ/rationale/internal/system"
)

// TestContext holds state between steps. Each scenario gets a fresh
// system over a temp data directory, with the deterministic local
// embedder and template generator so runs need no network.
type TestContext struct {
	ctx context.Context
	sys *system.System

	tmpDir      string
	origDataDir string

	lastResponse *system.Response
	lastErr      error
	lastConvID   string
}

func NewTestContext() *TestContext {
	return &TestContext{ctx: context.Background()}
}

func (tc *TestContext) setup() error {
	if tc.sys != nil {
		return nil
	}

	tmpDir, err := os.MkdirTemp("", "rationale-acceptance-*")
	if err != nil {
		return err
	}
	tc.tmpDir = tmpDir
	tc.origDataDir = os.Getenv("RATIONALE_DATA_DIR")
	os.Setenv("RATIONALE_DATA_DIR", tmpDir)

	store, err := corpus.NewStore(corpus.NewLocalEmbedder())
	if err != nil {
		os.RemoveAll(tmpDir)
		os.Setenv("RATIONALE_DATA_DIR", tc.origDataDir)
		return fmt.Errorf("failed to create store: %w", err)
	}

	tc.sys = system.NewWithComponents(store, retrieval.NewLexicalReranker(), explain.NewTemplateGenerator())
	return nil
}

func (tc *TestContext) teardown() {
	if tc.sys != nil {
		tc.sys.Close()
		tc.sys = nil
	}
	if tc.tmpDir != "" {
		os.RemoveAll(tc.tmpDir)
		os.Setenv("RATIONALE_DATA_DIR", tc.origDataDir)
		tc.tmpDir = ""
	}
	tc.lastResponse = nil
	tc.lastErr = nil
	tc.lastConvID = ""
}

// Corpus steps

func (tc *TestContext) emptyCorpus() error {
	return tc.setup()
}

func (tc *TestContext) importTranscriptDoc(doc *godog.DocString) error {
	if err := tc.setup(); err != nil {
		return err
	}

	// Sanity-check the docstring before handing it to the importer
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(doc.Content), &raw); err != nil {
		return fmt.Errorf("transcript docstring is not valid JSON: %w", err)
	}

	path := tc.tmpDir + "/scenario.json"
	if err := os.WriteFile(path, []byte(doc.Content), 0o644); err != nil {
		return err
	}

	result, err := tc.sys.ImportFile(tc.ctx, path)
	if err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("import reported errors: %v", result.Errors)
	}
	return nil
}

func (tc *TestContext) corpusContainsTranscripts(count int) error {
	stats, err := tc.sys.CorpusStats(tc.ctx)
	if err != nil {
		return err
	}
	if stats.Transcripts != count {
		return fmt.Errorf("corpus has %d transcripts, expected %d", stats.Transcripts, count)
	}
	return nil
}

func (tc *TestContext) corpusContainsSpans(count int) error {
	stats, err := tc.sys.CorpusStats(tc.ctx)
	if err != nil {
		return err
	}
	if stats.Spans < count {
		return fmt.Errorf("corpus has %d spans, expected at least %d", stats.Spans, count)
	}
	return nil
}

// Query steps

func (tc *TestContext) ask(query string) error {
	return tc.askInConversation(query, "")
}

func (tc *TestContext) askInConversation(query, conversationID string) error {
	if err := tc.setup(); err != nil {
		return err
	}

	resp, err := tc.sys.Ask(tc.ctx, query, conversationID)
	tc.lastErr = err
	if err != nil {
		return err
	}
	tc.lastResponse = &resp
	if id, ok := resp.Metadata["conversation_id"].(string); ok {
		tc.lastConvID = id
	}
	return nil
}

// Response steps

func (tc *TestContext) checkExplanation() error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if tc.lastResponse.Response == "" {
		return fmt.Errorf("explanation is empty")
	}
	return nil
}

func (tc *TestContext) checkHasEvidence() error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if tc.lastResponse.EvidenceCount == 0 {
		return fmt.Errorf("response has no evidence")
	}
	return nil
}

func (tc *TestContext) checkEvidenceCount(count int) error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if tc.lastResponse.EvidenceCount < count {
		return fmt.Errorf("response has %d evidence spans, expected at least %d", tc.lastResponse.EvidenceCount, count)
	}
	return nil
}

func (tc *TestContext) checkEventType(eventType string) error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	got, _ := tc.lastResponse.Metadata["event_type"].(string)
	if got != eventType {
		return fmt.Errorf("event type is %q, expected %q", got, eventType)
	}
	return nil
}

func (tc *TestContext) checkNotFollowup() error {
	return tc.checkFollowupFlag(false)
}

func (tc *TestContext) checkFollowup() error {
	return tc.checkFollowupFlag(true)
}

func (tc *TestContext) checkFollowupFlag(want bool) error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	got, _ := tc.lastResponse.Metadata["is_followup"].(bool)
	if got != want {
		return fmt.Errorf("is_followup is %v, expected %v", got, want)
	}
	return nil
}

func (tc *TestContext) checkEnhancedQueryContains(fragment string) error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	enhanced, _ := tc.lastResponse.Metadata["enhanced_query"].(string)
	if !strings.Contains(enhanced, fragment) {
		return fmt.Errorf("enhanced query %q does not contain %q", enhanced, fragment)
	}
	return nil
}

func (tc *TestContext) checkCitationsInRange() error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	for _, c := range tc.lastResponse.Citations {
		if c.EvidenceNumber < 1 || c.EvidenceNumber > tc.lastResponse.EvidenceCount {
			return fmt.Errorf("citation %d is outside evidence range 1..%d", c.EvidenceNumber, tc.lastResponse.EvidenceCount)
		}
	}
	return nil
}

func (tc *TestContext) checkConversationTurns(conversationID string, count int) error {
	if conversationID == "last" {
		conversationID = tc.lastConvID
	}
	got := tc.sys.Conversations.NumTurns(conversationID)
	if got != count {
		return fmt.Errorf("conversation %s has %d turns, expected %d", conversationID, got, count)
	}
	return nil
}

func (tc *TestContext) checkEvidenceTranscript(transcriptID string) error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if len(tc.lastResponse.Evidence) == 0 {
		return fmt.Errorf("response has no evidence")
	}
	for _, ev := range tc.lastResponse.Evidence {
		if ev.TranscriptID == transcriptID {
			return nil
		}
	}
	return fmt.Errorf("no evidence from transcript %q", transcriptID)
}
