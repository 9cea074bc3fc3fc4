// Package index is the vector index over the chunk store: it embeds chunk
// text on the write path and answers nearest-neighbor queries with optional
// section filtering on the read path.
package index

import (
	"context"
	"fmt"

	"paperquote/internal/chunker"
	"paperquote/internal/model"
)

// Embedder is the narrow interface to the embedding backend.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkStore persists chunks. ReplaceDocumentChunks must be atomic: either
// every chunk of the ingestion becomes visible together with the job
// reaching done, or nothing does.
type ChunkStore interface {
	ReplaceDocumentChunks(ctx context.Context, documentID uint, chunks []model.Chunk, jobID uint) error
	ListBySection(ctx context.Context, sectionLabel string) ([]model.Chunk, error)
}

// ScoredChunk is a stage-1 candidate with its similarity score.
type ScoredChunk struct {
	Chunk model.Chunk
	Score float64
}

type VectorIndex struct {
	store     ChunkStore
	embedder  Embedder
	batchSize int
}

func New(store ChunkStore, embedder Embedder, batchSize int) *VectorIndex {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &VectorIndex{store: store, embedder: embedder, batchSize: batchSize}
}

// Upsert embeds the drafts in provider-sized batches and commits the whole
// document in one logical write. Chunk keys are content-addressed, so
// re-running an ingestion is a no-op rather than a duplication.
func (x *VectorIndex) Upsert(ctx context.Context, jobID, documentID uint, drafts []chunker.Draft) (int, error) {
	embeddings := make([][]float32, 0, len(drafts))
	for start := 0; start < len(drafts); start += x.batchSize {
		end := start + x.batchSize
		if end > len(drafts) {
			end = len(drafts)
		}
		texts := make([]string, 0, end-start)
		for _, d := range drafts[start:end] {
			texts = append(texts, d.Text)
		}
		batch, err := x.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed chunk batch failed: %w", err)
		}
		embeddings = append(embeddings, batch...)
	}
	if len(embeddings) != len(drafts) {
		return 0, fmt.Errorf("embedding count mismatch: %d vectors for %d drafts", len(embeddings), len(drafts))
	}

	chunks := make([]model.Chunk, len(drafts))
	for i, d := range drafts {
		chunks[i] = model.Chunk{
			ChunkKey:     d.ChunkKey,
			DocumentID:   d.DocumentID,
			SectionLabel: d.SectionLabel,
			PageNumber:   d.PageNumber,
			CharOffset:   d.CharOffset,
			Content:      d.Text,
		}
		chunks[i].SetEmbedding(Normalize(embeddings[i]))
	}

	if err := x.store.ReplaceDocumentChunks(ctx, documentID, chunks, jobID); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Query returns the k nearest chunks to the query vector, restricted to a
// section label when one is given. A store failure surfaces as an error;
// partial rankings are never returned.
func (x *VectorIndex) Query(ctx context.Context, queryVec []float32, k int, sectionFilter string) ([]ScoredChunk, error) {
	chunks, err := x.store.ListBySection(ctx, sectionFilter)
	if err != nil {
		return nil, fmt.Errorf("load query candidates failed: %w", err)
	}
	return Rank(queryVec, chunks, k), nil
}
