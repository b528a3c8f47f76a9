package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultEmbeddingDimensions is the expected vector width when none is
// configured; must match the similarity store's column dimension.
const DefaultEmbeddingDimensions = 1024

var (
	// ErrEmptyInput is returned when there is nothing to embed
	ErrEmptyInput = errors.New("embedding input cannot be empty")
	// ErrWrongDimensions is returned when an embedding has the wrong width
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
)

// EmbedderConfig configures an Embedder.
type EmbedderConfig struct {
	BaseURL    string
	Model      string
	Key        string
	Dimensions int
}

// Embedder is a client for the embedding server. Input order is preserved:
// the i-th vector always corresponds to the i-th input text.
type Embedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewEmbedder creates an Embedder against an OpenAI-compatible server.
func NewEmbedder(cfg EmbedderConfig) *Embedder {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultEmbeddingDimensions
	}
	clientCfg := openai.DefaultConfig(cfg.Key)
	clientCfg.BaseURL = joinURL(cfg.BaseURL, "v1")
	return &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// Embed returns one fixed-dimension vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if len(d.Embedding) != e.dimensions {
			return nil, ErrWrongDimensions
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// EmbedOne embeds a single text.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
