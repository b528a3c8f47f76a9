package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/sowelni/medbot/internal/domain"
	"github.com/sowelni/medbot/internal/telemetry"
)

// SimilarityHit is one row of a vector similarity search, keyed by the
// parent large chunk.
type SimilarityHit struct {
	LargeChunkID string
	Similarity   float64
}

// LargeChunkRow pairs a large chunk with its document title for display.
type LargeChunkRow struct {
	Chunk         *domain.LargeChunk
	DocumentTitle string
}

// SearchRepository is the read surface the retriever queries. Both search
// methods only consider chunks of documents in status ok whose tags overlap
// the given tags; an empty tags slice matches everything.
type SearchRepository interface {
	SearchSummaries(ctx context.Context, embedding []float32, tags []string, limit int) ([]SimilarityHit, error)
	SearchSmallChunks(ctx context.Context, embedding []float32, tags []string, limit int) ([]SimilarityHit, error)
	GetLargeChunks(ctx context.Context, ids []string) ([]LargeChunkRow, error)
}

// RetrieverConfig configures a Retriever.
type RetrieverConfig struct {
	// Limit is how many contexts Retrieve returns at most.
	Limit int
	// PrefetchLimit is how many fused candidates are fetched and reranked.
	PrefetchLimit int
	// Alpha weights small-chunk similarity against summary similarity in
	// the fused score: alpha*small + (1-alpha)*summary.
	Alpha float64
	// SummaryLimit and SmallChunkLimit bound the two index searches.
	SummaryLimit    int
	SmallChunkLimit int
	// AccessTags restricts retrieval to documents sharing at least one
	// tag. Empty means no restriction.
	AccessTags []string

	Logger *zap.Logger
}

// Retriever answers queries with the most relevant large chunks, fusing a
// summary index and a small-chunk index and reranking the fused candidates
// with a cross-encoder.
type Retriever struct {
	embedder EmbeddingClient
	reranker RerankClient
	repo     SearchRepository
	cfg      RetrieverConfig
	logger   *zap.Logger
}

// NewRetriever creates a retriever.
func NewRetriever(embedder EmbeddingClient, reranker RerankClient, repo SearchRepository, cfg RetrieverConfig) *Retriever {
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.PrefetchLimit <= 0 {
		cfg.PrefetchLimit = 10
	}
	if cfg.SummaryLimit <= 0 {
		cfg.SummaryLimit = 10
	}
	if cfg.SmallChunkLimit <= 0 {
		cfg.SmallChunkLimit = 50
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder: embedder,
		reranker: reranker,
		repo:     repo,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve embeds the query once, searches both indexes, fuses the scores
// per large chunk, reranks the top candidates against the query and returns
// them best first. Each returned context carries all four scores.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]*domain.RetrievedContext, error) {
	ctx, span := telemetry.StartSpan(ctx, "Retriever.Retrieve", telemetry.SpanAttributes{
		Operation: "retrieve",
	})
	defer span.End()

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "query embedding failed", err)
	}
	embedding := vectors[0]

	summaryHits, err := r.repo.SearchSummaries(ctx, embedding, r.cfg.AccessTags, r.cfg.SummaryLimit)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodePersistence, "summary search failed", err)
	}
	smallHits, err := r.repo.SearchSmallChunks(ctx, embedding, r.cfg.AccessTags, r.cfg.SmallChunkLimit)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodePersistence, "small chunk search failed", err)
	}

	// Best similarity per large chunk from each index.
	summaryScores := bestScores(summaryHits)
	smallScores := bestScores(smallHits)

	candidates := make([]*domain.RetrievedContext, 0, len(summaryScores)+len(smallScores))
	seen := make(map[string]bool)
	for _, hits := range [][]SimilarityHit{summaryHits, smallHits} {
		for _, h := range hits {
			if seen[h.LargeChunkID] {
				continue
			}
			seen[h.LargeChunkID] = true
			ss := summaryScores[h.LargeChunkID]
			cs := smallScores[h.LargeChunkID]
			candidates = append(candidates, &domain.RetrievedContext{
				Chunk:           &domain.LargeChunk{ID: h.LargeChunkID},
				SummaryScore:    ss,
				SmallChunkScore: cs,
				CombinedScore:   r.cfg.Alpha*cs + (1-r.cfg.Alpha)*ss,
			})
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CombinedScore > candidates[j].CombinedScore
	})
	if len(candidates) > r.cfg.PrefetchLimit {
		candidates = candidates[:r.cfg.PrefetchLimit]
	}

	if err := r.hydrate(ctx, candidates); err != nil {
		return nil, err
	}
	// Chunks whose text could not be fetched are dropped.
	hydrated := candidates[:0]
	for _, c := range candidates {
		if c.Chunk.Text != "" {
			hydrated = append(hydrated, c)
		}
	}
	candidates = hydrated
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Chunk.Text
	}
	ranked, err := r.reranker.Rerank(ctx, query, texts)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "reranking failed", err)
	}
	for _, res := range ranked {
		if res.Index >= 0 && res.Index < len(candidates) {
			candidates[res.Index].RerankScore = res.Score
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].RerankScore > candidates[j].RerankScore
	})
	if len(candidates) > r.cfg.Limit {
		candidates = candidates[:r.cfg.Limit]
	}

	r.logger.Debug("retrieval complete",
		zap.Int("summary_hits", len(summaryHits)),
		zap.Int("small_chunk_hits", len(smallHits)),
		zap.Int("returned", len(candidates)))
	return candidates, nil
}

func (r *Retriever) hydrate(ctx context.Context, candidates []*domain.RetrievedContext) error {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Chunk.ID
	}
	rows, err := r.repo.GetLargeChunks(ctx, ids)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodePersistence, "failed to fetch chunk texts", err)
	}
	byID := make(map[string]LargeChunkRow, len(rows))
	for _, row := range rows {
		byID[row.Chunk.ID] = row
	}
	for _, c := range candidates {
		if row, ok := byID[c.Chunk.ID]; ok {
			c.Chunk = row.Chunk
			c.DocumentTitle = row.DocumentTitle
		}
	}
	return nil
}

func bestScores(hits []SimilarityHit) map[string]float64 {
	best := make(map[string]float64, len(hits))
	for _, h := range hits {
		if cur, ok := best[h.LargeChunkID]; !ok || h.Similarity > cur {
			best[h.LargeChunkID] = h.Similarity
		}
	}
	return best
}
