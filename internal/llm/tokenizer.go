package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// tokenizerClient talks to the inference server's tokenize endpoint, which
// is not covered by the OpenAI SDK.
type tokenizerClient struct {
	url    string
	key    string
	model  string
	client *http.Client
}

func newTokenizerClient(baseURL, key, model string) *tokenizerClient {
	return &tokenizerClient{
		url:    joinURL(baseURL, "tokenize"),
		key:    key,
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type tokenizeResponse struct {
	Count       *int `json:"count"`
	MaxModelLen *int `json:"max_model_len"`
}

func (t *tokenizerClient) countPrompt(ctx context.Context, text string) (int, int, error) {
	return t.post(ctx, map[string]any{"model": t.model, "prompt": text})
}

func (t *tokenizerClient) countMessages(ctx context.Context, messages []ChatMessage) (int, int, error) {
	return t.post(ctx, map[string]any{"model": t.model, "messages": messages})
}

func (t *tokenizerClient) post(ctx context.Context, payload map[string]any) (int, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+t.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("token count request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("token count request failed: status %d", resp.StatusCode)
	}

	var parsed tokenizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, 0, fmt.Errorf("token count request failed: %w", err)
	}
	if parsed.Count == nil || parsed.MaxModelLen == nil {
		return 0, 0, fmt.Errorf("unexpected token count response format")
	}
	return *parsed.Count, *parsed.MaxModelLen, nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + path
}
