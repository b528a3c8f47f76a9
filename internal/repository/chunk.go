package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/sowelni/medbot/internal/domain"
	"github.com/sowelni/medbot/internal/service"
)

// ChunkRepository persists the chunk hierarchy and serves the two vector
// similarity indexes.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

func (r *ChunkRepository) InsertLargeChunk(ctx context.Context, c *domain.LargeChunk) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO large_chunks (id, document_id, position, content)
		 VALUES ($1, $2, $3, $4)`,
		c.ID, c.DocumentID, c.Position, c.Text,
	)
	return err
}

func (r *ChunkRepository) InsertSummary(ctx context.Context, s *domain.LargeChunkSummary) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO large_chunk_summaries (id, large_chunk_id, document_id, content, embedding)
		 VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.LargeChunkID, s.DocumentID, s.Text, pgvector.NewVector(s.Embedding),
	)
	return err
}

func (r *ChunkRepository) InsertSmallChunk(ctx context.Context, c *domain.SmallChunk) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO small_chunks (id, large_chunk_id, document_id, position, content, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.LargeChunkID, c.DocumentID, c.Position, c.Text, pgvector.NewVector(c.Embedding),
	)
	return err
}

// SearchSummaries returns the nearest summaries by cosine similarity over
// documents in status ok, optionally filtered to overlapping tags.
func (r *ChunkRepository) SearchSummaries(ctx context.Context, embedding []float32, tags []string, limit int) ([]service.SimilarityHit, error) {
	return r.search(ctx, `
		SELECT s.large_chunk_id, 1 - (s.embedding <=> $1) AS similarity
		FROM large_chunk_summaries s
		JOIN documents d ON d.id = s.document_id
		WHERE d.status = 'ok' AND (cardinality($2::text[]) = 0 OR d.tags && $2)
		ORDER BY s.embedding <=> $1
		LIMIT $3`,
		embedding, tags, limit)
}

// SearchSmallChunks returns the nearest small chunks by cosine similarity
// over documents in status ok, optionally filtered to overlapping tags.
func (r *ChunkRepository) SearchSmallChunks(ctx context.Context, embedding []float32, tags []string, limit int) ([]service.SimilarityHit, error) {
	return r.search(ctx, `
		SELECT c.large_chunk_id, 1 - (c.embedding <=> $1) AS similarity
		FROM small_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.status = 'ok' AND (cardinality($2::text[]) = 0 OR d.tags && $2)
		ORDER BY c.embedding <=> $1
		LIMIT $3`,
		embedding, tags, limit)
}

func (r *ChunkRepository) search(ctx context.Context, query string, embedding []float32, tags []string, limit int) ([]service.SimilarityHit, error) {
	if limit <= 0 {
		limit = 10
	}
	if tags == nil {
		tags = []string{}
	}
	rows, err := r.db.Query(ctx, query, pgvector.NewVector(embedding), tags, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []service.SimilarityHit
	for rows.Next() {
		var h service.SimilarityHit
		if err := rows.Scan(&h.LargeChunkID, &h.Similarity); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// GetLargeChunks fetches large chunks with their document titles.
func (r *ChunkRepository) GetLargeChunks(ctx context.Context, ids []string) ([]service.LargeChunkRow, error) {
	if len(ids) == 0 {
		return []service.LargeChunkRow{}, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT lc.id, lc.document_id, lc.position, lc.content, d.title
		 FROM large_chunks lc
		 JOIN documents d ON d.id = lc.document_id
		 WHERE lc.id = ANY($1::uuid[])`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []service.LargeChunkRow
	for rows.Next() {
		var c domain.LargeChunk
		var title string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Position, &c.Text, &title); err != nil {
			return nil, err
		}
		results = append(results, service.LargeChunkRow{Chunk: &c, DocumentTitle: title})
	}
	return results, rows.Err()
}

// ListLargeChunks returns a document's large chunks in position order.
func (r *ChunkRepository) ListLargeChunks(ctx context.Context, documentID string) ([]*domain.LargeChunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, document_id, position, content
		 FROM large_chunks WHERE document_id = $1 ORDER BY position`,
		documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*domain.LargeChunk
	for rows.Next() {
		var c domain.LargeChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Position, &c.Text); err != nil {
			return nil, err
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}
