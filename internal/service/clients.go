package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/sowelni/medbot/internal/llm"
)

// GenerationClient is the interface for the text-generation service,
// implemented by llm.Generator. Calls block and are never retried here.
type GenerationClient interface {
	Invoke(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string) (llm.TokenStream, error)
	Chat(ctx context.Context, messages []llm.ChatMessage) (string, error)
	CountTokens(ctx context.Context, text string) (count, maxContext int, err error)
	CountConversationTokens(ctx context.Context, messages []llm.ChatMessage) (count, maxContext int, err error)
}

// EmbeddingClient is the interface for the embedding service, implemented
// by llm.Embedder. Output order matches input order.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// RerankClient is the interface for the cross-encoder rerank service,
// implemented by llm.Reranker.
type RerankClient interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]llm.RerankResult, error)
}

// IDGenerator generates identifiers for new records.
type IDGenerator interface {
	NewID() string
}

// DefaultIDGenerator issues random UUIDv4 identifiers.
type DefaultIDGenerator struct{}

func (g *DefaultIDGenerator) NewID() string {
	return uuid.NewString()
}
