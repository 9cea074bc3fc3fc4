package ai

import "context"

// Bound clients pin a provider config to the shared HTTP client so that
// pipeline code can depend on narrow per-backend interfaces instead of
// provider settings.

type BoundEmbedder struct {
	Client *OpenAICompatibleClient
	Config EmbeddingConfig
}

func (b *BoundEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return b.Client.Embed(ctx, b.Config, text)
}

func (b *BoundEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return b.Client.EmbedBatch(ctx, b.Config, texts)
}

type BoundGenerator struct {
	Client *OpenAICompatibleClient
	Config ChatConfig
}

func (b *BoundGenerator) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	return b.Client.Complete(ctx, b.Config, messages)
}

type BoundReranker struct {
	Client *OpenAICompatibleClient
	Config RerankConfig
}

func (b *BoundReranker) RerankScores(ctx context.Context, query string, documents []string) ([]float64, error) {
	return b.Client.RerankScores(ctx, b.Config, query, documents)
}
