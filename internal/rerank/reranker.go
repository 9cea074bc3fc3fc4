// Package rerank is the second retrieval stage: a cross-encoder scores each
// stage-1 candidate jointly with the query text. It only ever runs over the
// small candidate set, never the full index; that is the cost paid for the
// precision gain over pure vector search.
package rerank

import (
	"context"
	"fmt"
	"sort"
)

// Candidate is a stage-1 result handed to the reranker.
type Candidate struct {
	ChunkKey    string
	Text        string
	VectorScore float64
}

// Result pairs a candidate with its cross-encoder relevance score.
type Result struct {
	Candidate
	Score float64
}

// Reranker rescores candidates against the raw query text. Results come
// back strictly descending by score; ties preserve the candidates' input
// order. On error the caller should fall back to stage-1 ordering.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Result, error)
}

// Scorer is the narrow interface to the remote cross-encoder endpoint:
// one relevance score per document, in input order.
type Scorer interface {
	RerankScores(ctx context.Context, query string, documents []string) ([]float64, error)
}

// CrossEncoder batches candidates through a Scorer and orders the results.
type CrossEncoder struct {
	scorer    Scorer
	batchSize int
}

func NewCrossEncoder(scorer Scorer, batchSize int) *CrossEncoder {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &CrossEncoder{scorer: scorer, batchSize: batchSize}
}

func (ce *CrossEncoder) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Result, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	scores := make([]float64, 0, len(candidates))
	for start := 0; start < len(candidates); start += ce.batchSize {
		end := start + ce.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		texts := make([]string, 0, end-start)
		for _, c := range candidates[start:end] {
			texts = append(texts, c.Text)
		}
		batch, err := ce.scorer.RerankScores(ctx, query, texts)
		if err != nil {
			return nil, fmt.Errorf("score rerank batch failed: %w", err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("rerank score count mismatch: %d for %d texts", len(batch), len(texts))
		}
		scores = append(scores, batch...)
	}

	return Order(candidates, scores), nil
}

// Order builds results sorted descending by score. The stable sort keeps
// stage-1 order on equal scores, which makes rankings reproducible.
func Order(candidates []Candidate, scores []float64) []Result {
	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{Candidate: c, Score: scores[i]}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}
