//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sowelni/medbot/internal/domain"
	"github.com/sowelni/medbot/internal/testutil"
)

func newStoredDocument(ctx context.Context, t *testing.T, repo *DocumentRepository, tags []string) *domain.Document {
	t.Helper()
	doc := domain.NewDocument(uuid.NewString(), "Coverage Guide", tags, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, repo.Create(ctx, doc))
	return doc
}

func TestDocumentRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)
	doc := newStoredDocument(ctx, t, repo, []string{"hr", "medical"})

	got, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, "Coverage Guide", got.Title)
	assert.Equal(t, domain.DocumentStatusProcessing, got.Status)
	assert.Equal(t, []string{"hr", "medical"}, got.Tags)
	assert.Empty(t, got.ErrorMessage)
}

func TestDocumentRepository_GetByIDNotFound(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	_, err := repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentRepository_StatusTransitions(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)
	doc := newStoredDocument(ctx, t, repo, nil)

	require.NoError(t, repo.MarkOK(ctx, doc.ID))
	got, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusOK, got.Status)

	require.NoError(t, repo.MarkFailed(ctx, doc.ID, "embedding service unavailable"))
	got, err = repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusFailed, got.Status)
	assert.Equal(t, "embedding service unavailable", got.ErrorMessage)

	assert.ErrorIs(t, repo.MarkOK(ctx, uuid.NewString()), domain.ErrDocumentNotFound)
	assert.ErrorIs(t, repo.MarkFailed(ctx, uuid.NewString(), "x"), domain.ErrDocumentNotFound)
}

func TestDocumentRepository_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	chunkRepo := NewChunkRepository(pool)

	doc := newStoredDocument(ctx, t, docRepo, nil)
	lc := &domain.LargeChunk{ID: uuid.NewString(), DocumentID: doc.ID, Position: 0, Text: "chunk body"}
	require.NoError(t, chunkRepo.InsertLargeChunk(ctx, lc))

	require.NoError(t, docRepo.Delete(ctx, doc.ID))

	_, err := docRepo.GetByID(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	chunks, err := chunkRepo.ListLargeChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	assert.ErrorIs(t, docRepo.Delete(ctx, doc.ID), domain.ErrDocumentNotFound)
}

func TestDocumentRepository_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)
	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 3; i++ {
		doc := domain.NewDocument(uuid.NewString(), "Doc", nil, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, repo.Create(ctx, doc))
	}

	docs, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.True(t, docs[0].CreatedAt.After(docs[1].CreatedAt))
}
