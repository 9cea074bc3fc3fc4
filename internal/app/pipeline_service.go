package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"paperquote/internal/ai"
	"paperquote/internal/cache"
	"paperquote/internal/index"
	"paperquote/internal/model"
	"paperquote/internal/rerank"
)

var ErrInvalidQuery = errors.New("invalid query")

// Generator is the narrow interface to the generation backend.
type Generator interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
}

// QueryEmbedder embeds query text for stage-1 retrieval.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the stage-1 nearest-neighbor search.
type VectorSearcher interface {
	Query(ctx context.Context, queryVec []float32, k int, sectionFilter string) ([]index.ScoredChunk, error)
}

// Query is one retrieval request.
type Query struct {
	Text          string `json:"text"`
	SectionFilter string `json:"section_filter"`
	TopKStage1    int    `json:"top_k_stage1"`
	TopKStage2    int    `json:"top_k_stage2"`
}

// RetrievalResult is one ranked chunk with both stage scores; it carries
// enough structure for an external harness to compute precision@k without
// re-running retrieval.
type RetrievalResult struct {
	Rank         int     `json:"rank"`
	ChunkKey     string  `json:"chunk_key"`
	DocumentID   uint    `json:"document_id"`
	PageNumber   int     `json:"page_number"`
	SectionLabel string  `json:"section_label"`
	Text         string  `json:"text"`
	VectorScore  float64 `json:"vector_score"`
	RerankScore  float64 `json:"rerank_score"`
}

// RetrieveOutput is the two-stage retrieval result. Degraded is set when
// the reranker was unavailable and the ordering fell back to stage 1.
type RetrieveOutput struct {
	Results  []RetrievalResult `json:"results"`
	Degraded bool              `json:"degraded"`
}

// Answer is a verified verbatim quotation, or the not-found fallback.
type Answer struct {
	QuotedText     string `json:"quoted_text"`
	SourceChunkKey string `json:"source_chunk_key,omitempty"`
	DocumentID     uint   `json:"document_id,omitempty"`
	PageNumber     int    `json:"page_number,omitempty"`
	NotFound       bool   `json:"not_found"`
}

// AskResult bundles the answer with the retrieval trace that produced it.
type AskResult struct {
	Answer   Answer            `json:"answer"`
	Results  []RetrievalResult `json:"results"`
	Degraded bool              `json:"degraded"`
}

// PipelineOptions are the tunables of the query path.
type PipelineOptions struct {
	TopKStage1       int
	TopKStage2       int
	NotFoundSentinel string
	ExtraRules       string
}

// PipelineService composes the vector index and the reranker into the
// two-stage retrieval call and enforces the extraction-only answer
// contract against the generation backend.
type PipelineService struct {
	embedder    QueryEmbedder
	searcher    VectorSearcher
	reranker    rerank.Reranker
	generator   Generator
	answerCache *cache.AnswerCache
	opts        PipelineOptions
}

func NewPipelineService(
	embedder QueryEmbedder,
	searcher VectorSearcher,
	reranker rerank.Reranker,
	generator Generator,
	answerCache *cache.AnswerCache,
	opts PipelineOptions,
) *PipelineService {
	if opts.TopKStage1 <= 0 {
		opts.TopKStage1 = 25
	}
	if opts.TopKStage2 <= 0 {
		opts.TopKStage2 = 5
	}
	if opts.NotFoundSentinel == "" {
		opts.NotFoundSentinel = "No matching sentence was found in the provided passages."
	}
	return &PipelineService{
		embedder:    embedder,
		searcher:    searcher,
		reranker:    reranker,
		generator:   generator,
		answerCache: answerCache,
		opts:        opts,
	}
}

var validSections = map[string]bool{
	model.SectionIntroduction: true,
	model.SectionMethods:      true,
	model.SectionResults:      true,
	model.SectionDiscussion:   true,
	model.SectionOther:        true,
}

func (s *PipelineService) normalize(q *Query) error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return fmt.Errorf("%w: empty query text", ErrInvalidQuery)
	}
	q.SectionFilter = strings.ToLower(strings.TrimSpace(q.SectionFilter))
	if q.SectionFilter != "" && !validSections[q.SectionFilter] {
		return fmt.Errorf("%w: unknown section filter %q", ErrInvalidQuery, q.SectionFilter)
	}
	if q.TopKStage1 <= 0 {
		q.TopKStage1 = s.opts.TopKStage1
	}
	if q.TopKStage2 <= 0 {
		q.TopKStage2 = s.opts.TopKStage2
	}
	if q.TopKStage2 > q.TopKStage1 {
		q.TopKStage2 = q.TopKStage1
	}
	return nil
}

// Retrieve runs stage 1 (vector search) and stage 2 (cross-encoder
// reranking). A reranker outage degrades to stage-1 ordering instead of
// failing the query; a store outage is surfaced, never truncated.
func (s *PipelineService) Retrieve(ctx context.Context, q Query) (*RetrieveOutput, error) {
	if err := s.normalize(&q); err != nil {
		return nil, err
	}

	queryVec, err := s.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	stage1, err := s.searcher.Query(ctx, queryVec, q.TopKStage1, q.SectionFilter)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(stage1) == 0 {
		return &RetrieveOutput{}, nil
	}

	candidates := make([]rerank.Candidate, len(stage1))
	for i, sc := range stage1 {
		candidates[i] = rerank.Candidate{
			ChunkKey:    sc.Chunk.ChunkKey,
			Text:        sc.Chunk.Content,
			VectorScore: sc.Score,
		}
	}

	byKey := make(map[string]model.Chunk, len(stage1))
	for _, sc := range stage1 {
		byKey[sc.Chunk.ChunkKey] = sc.Chunk
	}

	out := &RetrieveOutput{}
	reranked, err := s.reranker.Rerank(ctx, q.Text, candidates)
	if err != nil {
		// Defined fallback: keep stage-1 ordering rather than failing.
		log.Printf("pipeline: reranker unavailable, falling back to stage-1 order: %v", err)
		out.Degraded = true
		reranked = make([]rerank.Result, len(candidates))
		for i, c := range candidates {
			reranked[i] = rerank.Result{Candidate: c}
		}
	}

	if len(reranked) > q.TopKStage2 {
		reranked = reranked[:q.TopKStage2]
	}
	out.Results = make([]RetrievalResult, len(reranked))
	for i, r := range reranked {
		chunk := byKey[r.ChunkKey]
		out.Results[i] = RetrievalResult{
			Rank:         i + 1,
			ChunkKey:     r.ChunkKey,
			DocumentID:   chunk.DocumentID,
			PageNumber:   chunk.PageNumber,
			SectionLabel: chunk.SectionLabel,
			Text:         r.Text,
			VectorScore:  r.VectorScore,
			RerankScore:  r.Score,
		}
	}
	return out, nil
}

// Extract asks the generation backend for a verbatim quotation out of the
// retrieved passages and verifies the claim before passing it on. Anything
// unverifiable is downgraded to the not-found answer; extraction problems
// never abort a query.
func (s *PipelineService) Extract(ctx context.Context, q Query, results []RetrievalResult) (*Answer, error) {
	if len(results) == 0 {
		return s.notFound(), nil
	}

	messages := []ai.ChatMessage{
		{Role: "system", Content: s.systemPrompt()},
		{Role: "user", Content: buildUserPrompt(q.Text, results)},
	}
	raw, err := s.generator.Complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	return s.verify(raw, results), nil
}

// Ask is Retrieve followed by Extract, with the answer cache in front.
func (s *PipelineService) Ask(ctx context.Context, q Query) (*AskResult, error) {
	if err := s.normalize(&q); err != nil {
		return nil, err
	}

	key := cache.Key(q.Text, q.SectionFilter, q.TopKStage1, q.TopKStage2)
	if s.answerCache != nil {
		if raw, ok, err := s.answerCache.Get(ctx, key); err == nil && ok {
			var cached AskResult
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	retrieved, err := s.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	answer, err := s.Extract(ctx, q, retrieved.Results)
	if err != nil {
		return nil, err
	}

	result := &AskResult{
		Answer:   *answer,
		Results:  retrieved.Results,
		Degraded: retrieved.Degraded,
	}
	if s.answerCache != nil {
		if payload, err := json.Marshal(result); err == nil {
			if err := s.answerCache.Set(ctx, key, payload); err != nil {
				log.Printf("pipeline: cache answer failed: %v", err)
			}
		}
	}
	return result, nil
}

func (s *PipelineService) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a research assistant answering questions about scientific papers.\n")
	b.WriteString("Answer the QUESTION using ONLY the PASSAGES provided by the user.\n\n")
	b.WriteString("RULES:\n")
	b.WriteString("1. Your answer must be an exact, character-for-character copy of a sentence from the passages.\n")
	b.WriteString("2. Never summarize, never paraphrase, never combine or rewrite sentences.\n")
	b.WriteString("3. If no sentence in the passages directly answers the question, reply exactly: ")
	b.WriteString(s.opts.NotFoundSentinel)
	b.WriteString("\n")
	b.WriteString("4. Never use knowledge from outside the passages.\n")
	b.WriteString("5. Output only the extracted sentence, with no preamble and no commentary.\n")
	if s.opts.ExtraRules != "" {
		b.WriteString(s.opts.ExtraRules)
		b.WriteString("\n")
	}
	return b.String()
}

func buildUserPrompt(question string, results []RetrievalResult) string {
	var b strings.Builder
	b.WriteString("PASSAGES:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "--- Passage %d (document %d, page %d, section %s) ---\n%s\n\n",
			r.Rank, r.DocumentID, r.PageNumber, r.SectionLabel, r.Text)
	}
	b.WriteString("QUESTION:\n")
	b.WriteString(question)
	return b.String()
}

// verify enforces the verbatim contract: the quotation must be an exact
// substring of one of the supplied chunks. The source is resolved to the
// best-ranked chunk containing it.
func (s *PipelineService) verify(raw string, results []RetrievalResult) *Answer {
	quoted := strings.TrimSpace(raw)
	quoted = strings.Trim(quoted, `"`)
	if quoted == "" || strings.Contains(quoted, s.opts.NotFoundSentinel) {
		return s.notFound()
	}

	for _, r := range results {
		if strings.Contains(r.Text, quoted) {
			return &Answer{
				QuotedText:     quoted,
				SourceChunkKey: r.ChunkKey,
				DocumentID:     r.DocumentID,
				PageNumber:     r.PageNumber,
			}
		}
	}
	// The backend returned something we cannot verify; downgrade instead
	// of passing through an unverifiable claim.
	log.Printf("pipeline: generation output failed verbatim verification, downgrading to not-found")
	return s.notFound()
}

func (s *PipelineService) notFound() *Answer {
	return &Answer{
		QuotedText: s.opts.NotFoundSentinel,
		NotFound:   true,
	}
}
