package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/CanopyHQ/rationale/internal/causal"
)

const (
	defaultLLMModel    = "gpt-4o-mini"
	defaultLLMEndpoint = "https://api.openai.com/v1/chat/completions"
	llmMaxTokens       = 1000
	llmTemperature     = 0.7
)

// LLMGenerator generates explanations through an OpenAI-compatible chat
// completions API
type LLMGenerator struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewLLMGenerator creates a generator from environment configuration:
// OPENAI_API_KEY (required), RATIONALE_LLM_MODEL and RATIONALE_LLM_ENDPOINT
// (optional overrides).
func NewLLMGenerator() (*LLMGenerator, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	model := os.Getenv("RATIONALE_LLM_MODEL")
	if model == "" {
		model = defaultLLMModel
	}
	endpoint := os.Getenv("RATIONALE_LLM_ENDPOINT")
	if endpoint == "" {
		endpoint = defaultLLMEndpoint
	}
	return &LLMGenerator{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (g *LLMGenerator) Generate(ctx context.Context, query string, evidence []causal.Evidence, contextSummary string) (string, error) {
	prompt := buildPrompt(query, evidence, contextSummary)

	reqBody, err := json.Marshal(map[string]interface{}{
		"model": g.model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are a helpful assistant that provides evidence-based causal explanations."},
			{"role": "user", "content": prompt},
		},
		"temperature": llmTemperature,
		"max_tokens":  llmMaxTokens,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("explanation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("explanation API returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to parse explanation response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("explanation API returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
