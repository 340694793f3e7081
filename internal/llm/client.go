package llm

import (
	"context"
)

// LLMClient is the minimal text-generation capability the engine depends on.
// Oracles and the reranker are built on top of it; they never see a concrete
// provider.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EmbedderClient produces embedding vectors for mention text and concept
// definitions.
type EmbedderClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RerankerClient orders documents by relevance to a query. Used as one of the
// oracle backends over candidate definitions.
type RerankerClient interface {
	Rank(ctx context.Context, query string, documents []string) ([]int, error)
}
