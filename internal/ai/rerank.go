package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RerankConfig holds API settings for a cross-encoder rerank endpoint
// (DashScope-style /rerank: query + documents in, per-document scores out).
type RerankConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// RerankScores jointly scores each document against the query and returns
// one relevance score per input document, in input order.
func (c *OpenAICompatibleClient) RerankScores(ctx context.Context, cfg RerankConfig, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	reqBody := map[string]interface{}{
		"model":     cfg.Model,
		"query":     query,
		"documents": documents,
		// Scores for every document; truncation happens pipeline-side so
		// that stage-2 ordering stays observable end to end.
		"top_n":            len(documents),
		"return_documents": false,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request failed: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/rerank"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build rerank request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &BackendError{Backend: "reranker", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{Backend: "reranker", Transient: true, Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, statusError("reranker", resp.StatusCode, raw)
	}

	var parsed struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse rerank json failed: %w", err)
	}
	if len(parsed.Results) == 0 {
		return nil, fmt.Errorf("empty rerank results")
	}

	scores := make([]float64, len(documents))
	seen := 0
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(scores) {
			return nil, fmt.Errorf("rerank result index %d out of range", r.Index)
		}
		scores[r.Index] = r.RelevanceScore
		seen++
	}
	if seen != len(documents) {
		return nil, fmt.Errorf("rerank returned %d scores for %d documents", seen, len(documents))
	}
	return scores, nil
}
