package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"paperquote/internal/ai"
	"paperquote/internal/index"
	"paperquote/internal/model"
	"paperquote/internal/rerank"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type stubSearcher struct {
	results []index.ScoredChunk
	err     error
	gotK    int
	gotSect string
}

func (s *stubSearcher) Query(ctx context.Context, queryVec []float32, k int, sectionFilter string) ([]index.ScoredChunk, error) {
	s.gotK = k
	s.gotSect = sectionFilter
	return s.results, s.err
}

type stubReranker struct {
	scores map[string]float64
	err    error
}

func (s *stubReranker) Rerank(ctx context.Context, query string, candidates []rerank.Candidate) ([]rerank.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = s.scores[c.ChunkKey]
	}
	return rerank.Order(candidates, scores), nil
}

type stubGenerator struct {
	reply string
	err   error
}

func (s *stubGenerator) Complete(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	return s.reply, s.err
}

func scoredChunk(key, content, section string, doc uint, page int) index.ScoredChunk {
	return index.ScoredChunk{
		Chunk: model.Chunk{
			ChunkKey:     key,
			DocumentID:   doc,
			SectionLabel: section,
			PageNumber:   page,
			Content:      content,
		},
		Score: 0.5,
	}
}

func newTestPipeline(searcher *stubSearcher, reranker rerank.Reranker, gen Generator) *PipelineService {
	return NewPipelineService(stubEmbedder{}, searcher, reranker, gen, nil, PipelineOptions{
		TopKStage1: 25,
		TopKStage2: 5,
	})
}

func TestRetrieveRejectsInvalidQueries(t *testing.T) {
	p := newTestPipeline(&stubSearcher{}, &stubReranker{}, &stubGenerator{})

	_, err := p.Retrieve(context.Background(), Query{Text: "   "})
	require.ErrorIs(t, err, ErrInvalidQuery)

	_, err = p.Retrieve(context.Background(), Query{Text: "q", SectionFilter: "appendix"})
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestRetrieveAppliesRerankOrderAndTruncates(t *testing.T) {
	searcher := &stubSearcher{results: []index.ScoredChunk{
		scoredChunk("k1", "first passage", model.SectionMethods, 1, 2),
		scoredChunk("k2", "second passage", model.SectionMethods, 1, 3),
		scoredChunk("k3", "third passage", model.SectionMethods, 1, 4),
	}}
	reranker := &stubReranker{scores: map[string]float64{"k1": 0.1, "k2": 0.9, "k3": 0.5}}
	p := newTestPipeline(searcher, reranker, &stubGenerator{})

	out, err := p.Retrieve(context.Background(), Query{Text: "question", TopKStage2: 2})
	require.NoError(t, err)
	require.False(t, out.Degraded)
	require.Equal(t, 25, searcher.gotK)
	require.Len(t, out.Results, 2)
	require.Equal(t, "k2", out.Results[0].ChunkKey)
	require.Equal(t, "k3", out.Results[1].ChunkKey)
	require.Equal(t, 1, out.Results[0].Rank)
	require.Equal(t, 2, out.Results[1].Rank)
	require.Equal(t, 3, out.Results[0].PageNumber)
	require.Equal(t, 0.9, out.Results[0].RerankScore)
}

func TestRetrieveDegradesOnRerankerFailure(t *testing.T) {
	searcher := &stubSearcher{results: []index.ScoredChunk{
		scoredChunk("k1", "first", model.SectionResults, 1, 1),
		scoredChunk("k2", "second", model.SectionResults, 1, 1),
	}}
	p := newTestPipeline(searcher, &stubReranker{err: errors.New("scorer down")}, &stubGenerator{})

	out, err := p.Retrieve(context.Background(), Query{Text: "question"})
	require.NoError(t, err, "reranker outage must not fail the query")
	require.True(t, out.Degraded)
	require.Equal(t, "k1", out.Results[0].ChunkKey, "degraded mode keeps stage-1 order")
	require.Equal(t, "k2", out.Results[1].ChunkKey)
}

func TestRetrieveSurfacesSearchFailure(t *testing.T) {
	searcher := &stubSearcher{err: errors.New("store down")}
	p := newTestPipeline(searcher, &stubReranker{}, &stubGenerator{})

	_, err := p.Retrieve(context.Background(), Query{Text: "question"})
	require.Error(t, err)
}

func TestRetrieveSectionFilterPassthrough(t *testing.T) {
	searcher := &stubSearcher{}
	p := newTestPipeline(searcher, &stubReranker{}, &stubGenerator{})

	out, err := p.Retrieve(context.Background(), Query{Text: "q", SectionFilter: "Methods"})
	require.NoError(t, err)
	require.Empty(t, out.Results)
	require.Equal(t, model.SectionMethods, searcher.gotSect, "filter is lowercased before the store sees it")
}

func extractResults() []RetrievalResult {
	return []RetrievalResult{
		{Rank: 1, ChunkKey: "k1", DocumentID: 3, PageNumber: 7, SectionLabel: model.SectionResults,
			Text: "The model achieved 94.2% accuracy on the held-out set. Other sentences follow."},
		{Rank: 2, ChunkKey: "k2", DocumentID: 3, PageNumber: 8, SectionLabel: model.SectionResults,
			Text: "Training took four days on eight GPUs."},
	}
}

func TestExtractVerifiesVerbatimQuote(t *testing.T) {
	gen := &stubGenerator{reply: "The model achieved 94.2% accuracy on the held-out set."}
	p := newTestPipeline(&stubSearcher{}, &stubReranker{}, gen)

	answer, err := p.Extract(context.Background(), Query{Text: "q"}, extractResults())
	require.NoError(t, err)
	require.False(t, answer.NotFound)
	require.Equal(t, "The model achieved 94.2% accuracy on the held-out set.", answer.QuotedText)
	require.Equal(t, "k1", answer.SourceChunkKey)
	require.Equal(t, uint(3), answer.DocumentID)
	require.Equal(t, 7, answer.PageNumber)
}

func TestExtractDowngradesParaphrase(t *testing.T) {
	gen := &stubGenerator{reply: "The model reached roughly 94% accuracy."}
	p := newTestPipeline(&stubSearcher{}, &stubReranker{}, gen)

	answer, err := p.Extract(context.Background(), Query{Text: "q"}, extractResults())
	require.NoError(t, err)
	require.True(t, answer.NotFound, "paraphrase is not a verbatim substring")
	require.Empty(t, answer.SourceChunkKey)
}

func TestExtractHonorsSentinel(t *testing.T) {
	p := newTestPipeline(&stubSearcher{}, &stubReranker{},
		&stubGenerator{reply: "No matching sentence was found in the provided passages."})

	answer, err := p.Extract(context.Background(), Query{Text: "q"}, extractResults())
	require.NoError(t, err)
	require.True(t, answer.NotFound)
	require.Equal(t, "No matching sentence was found in the provided passages.", answer.QuotedText)
}

func TestExtractStripsSurroundingQuotes(t *testing.T) {
	gen := &stubGenerator{reply: "\"Training took four days on eight GPUs.\""}
	p := newTestPipeline(&stubSearcher{}, &stubReranker{}, gen)

	answer, err := p.Extract(context.Background(), Query{Text: "q"}, extractResults())
	require.NoError(t, err)
	require.False(t, answer.NotFound)
	require.Equal(t, "k2", answer.SourceChunkKey)
}

func TestExtractEmptyResultsIsNotFound(t *testing.T) {
	p := newTestPipeline(&stubSearcher{}, &stubReranker{}, &stubGenerator{})

	answer, err := p.Extract(context.Background(), Query{Text: "q"}, nil)
	require.NoError(t, err)
	require.True(t, answer.NotFound)
}

func TestAskEndToEnd(t *testing.T) {
	searcher := &stubSearcher{results: []index.ScoredChunk{
		scoredChunk("k1", "Training took four days on eight GPUs.", model.SectionMethods, 3, 8),
	}}
	gen := &stubGenerator{reply: "Training took four days on eight GPUs."}
	p := newTestPipeline(searcher, &stubReranker{scores: map[string]float64{"k1": 0.8}}, gen)

	result, err := p.Ask(context.Background(), Query{Text: "how long was training?"})
	require.NoError(t, err)
	require.False(t, result.Answer.NotFound)
	require.Equal(t, "k1", result.Answer.SourceChunkKey)
	require.Len(t, result.Results, 1)
}
