package service

import (
	"context"

	"github.com/sowelni/medbot/internal/domain"
)

// DocumentTxRepository is the document persistence surface used inside
// ingestion transactions.
type DocumentTxRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	MarkOK(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errorMessage string) error
}

// ChunkTxRepository is the chunk persistence surface used inside ingestion
// transactions.
type ChunkTxRepository interface {
	InsertLargeChunk(ctx context.Context, chunk *domain.LargeChunk) error
	InsertSummary(ctx context.Context, summary *domain.LargeChunkSummary) error
	InsertSmallChunk(ctx context.Context, chunk *domain.SmallChunk) error
}

// TxRepositories provides transaction-bound repositories.
type TxRepositories interface {
	Documents() DocumentTxRepository
	Chunks() ChunkTxRepository
}

// TxRunner executes a function within a transaction. The transaction
// commits when fn returns nil and rolls back wholly otherwise.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}
