// Package llm wraps the OpenAI-compatible inference servers the core talks
// to: a text generator, an embedder and a cross-encoder reranker. Calls are
// blocking and never retried here; retry/backoff belongs to the caller.
package llm

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultTemperature is used for all generation calls.
	DefaultTemperature = 0.7
	// DefaultMaxTokens caps a single generation response.
	DefaultMaxTokens = 1000
)

// ChatMessage is one role/content pair in OpenAI wire format.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	BaseURL     string
	Model       string
	Key         string
	Temperature float32
	MaxTokens   int
}

// Generator is a client for the text-generation server. It exposes raw
// prompt completion (blocking and streaming) plus the server's tokenize
// endpoint for budget accounting.
type Generator struct {
	client    *openai.Client
	tokenizer *tokenizerClient
	model     string
	temp      float32
	maxTokens int
}

// NewGenerator creates a Generator against an OpenAI-compatible server.
func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	clientCfg := openai.DefaultConfig(cfg.Key)
	clientCfg.BaseURL = joinURL(cfg.BaseURL, "v1")
	return &Generator{
		client:    openai.NewClientWithConfig(clientCfg),
		tokenizer: newTokenizerClient(cfg.BaseURL, cfg.Key, cfg.Model),
		model:     cfg.Model,
		temp:      cfg.Temperature,
		maxTokens: cfg.MaxTokens,
	}
}

// Invoke runs one blocking completion for prompt and returns the full text.
func (g *Generator) Invoke(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:       g.model,
		Prompt:      prompt,
		Temperature: g.temp,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return resp.Choices[0].Text, nil
}

// Chat runs one blocking chat completion over messages and returns the
// assistant reply.
func (g *Generator) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	converted := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		converted[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    converted,
		Temperature: g.temp,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream starts a streaming completion for prompt. The returned stream is a
// single-producer lazy sequence of text fragments; the caller must Close it.
func (g *Generator) Stream(ctx context.Context, prompt string) (TokenStream, error) {
	stream, err := g.client.CreateCompletionStream(ctx, openai.CompletionRequest{
		Model:       g.model,
		Prompt:      prompt,
		Temperature: g.temp,
		MaxTokens:   g.maxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}
	return &completionStream{inner: stream}, nil
}

// CountTokens returns (token count, max model context) for raw text.
func (g *Generator) CountTokens(ctx context.Context, text string) (int, int, error) {
	return g.tokenizer.countPrompt(ctx, text)
}

// CountConversationTokens returns (token count, max model context) for a
// message list, using the server's chat template.
func (g *Generator) CountConversationTokens(ctx context.Context, messages []ChatMessage) (int, int, error) {
	return g.tokenizer.countMessages(ctx, messages)
}

// TokenStream yields text fragments from a streaming generation. Recv
// returns io.EOF after the final fragment.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

type completionStream struct {
	inner *openai.CompletionStream
}

func (s *completionStream) Recv() (string, error) {
	for {
		resp, err := s.inner.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason == "stop" {
			return "", io.EOF
		}
		if choice.Text == "" {
			continue
		}
		return choice.Text, nil
	}
}

func (s *completionStream) Close() error {
	return s.inner.Close()
}
