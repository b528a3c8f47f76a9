package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// DefaultRerankBatchSize is the maximum number of candidates sent per
// rerank request.
const DefaultRerankBatchSize = 128

// RerankResult is one scored candidate, indexed into the caller's slice.
type RerankResult struct {
	Index int
	Score float64
}

// RerankerConfig configures a Reranker.
type RerankerConfig struct {
	BaseURL   string
	Model     string
	Key       string
	BatchSize int
}

// Reranker is a client for the cross-encoder rerank server. The wire API is
// the vLLM/TEI-style `v1/rerank` endpoint.
type Reranker struct {
	url       string
	model     string
	key       string
	batchSize int
	client    *http.Client
}

// NewReranker creates a Reranker.
func NewReranker(cfg RerankerConfig) *Reranker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRerankBatchSize
	}
	return &Reranker{
		url:       joinURL(cfg.BaseURL, "v1/rerank"),
		model:     cfg.Model,
		key:       cfg.Key,
		batchSize: cfg.BatchSize,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores every candidate against query, batching requests and
// re-offsetting per-batch indices into the original candidate order. The
// returned slice is sorted by candidate index, one entry per candidate.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []string) ([]RerankResult, error) {
	results := make([]RerankResult, 0, len(candidates))
	for start := 0; start < len(candidates); start += r.batchSize {
		end := start + r.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch, err := r.rerankBatch(ctx, query, candidates[start:end], start)
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results, nil
}

func (r *Reranker) rerankBatch(ctx context.Context, query string, batch []string, offset int) ([]RerankResult, error) {
	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: batch})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+r.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank request failed: status %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	if parsed.Results == nil {
		return nil, fmt.Errorf("unexpected rerank response format")
	}

	out := make([]RerankResult, 0, len(parsed.Results))
	for _, item := range parsed.Results {
		out = append(out, RerankResult{Index: offset + item.Index, Score: item.RelevanceScore})
	}
	return out, nil
}
