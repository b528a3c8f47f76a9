package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sowelni/medbot/internal/domain"
	"github.com/sowelni/medbot/internal/llm"
	"github.com/sowelni/medbot/internal/telemetry"
)

const summarizerSystemPrompt = "You are a helpful assistant. Summarize the following text in the same language, in at most 3 concise sentences. Respond with the summary only—no intro, no headings, no other commentary."

// summaryFallbackChars is the length of the leading excerpt used as a
// summary when the generation service fails.
const summaryFallbackChars = 200

// DefaultEmbedBatchSize bounds how many texts are sent to the embedding
// service per call.
const DefaultEmbedBatchSize = 128

type workKind int

const (
	workSummary workKind = iota
	workSmallChunk
)

// workItem is one pending embedding, tagged with its destination record so
// vectors returned in order can be routed back.
type workItem struct {
	kind    workKind
	summary *domain.LargeChunkSummary
	small   *domain.SmallChunk
}

func (w workItem) text() string {
	if w.kind == workSummary {
		return w.summary.Text
	}
	return w.small.Text
}

// InserterConfig configures an Inserter.
type InserterConfig struct {
	EmbedBatchSize  int
	EnableSummaries bool
	IDs             IDGenerator
	Logger          *zap.Logger
}

// Inserter builds and persists the two-level chunk hierarchy of a document.
// All persistence happens in a single transaction after every chunk,
// summary and embedding has been produced, so a document is never visible
// half-ingested.
type Inserter struct {
	largeChunker    *Chunker
	smallChunker    *Chunker
	generator       GenerationClient
	embedder        EmbeddingClient
	tx              TxRunner
	batchSize       int
	enableSummaries bool
	ids             IDGenerator
	logger          *zap.Logger
}

// NewInserter creates a document inserter.
func NewInserter(largeChunker, smallChunker *Chunker, generator GenerationClient, embedder EmbeddingClient, tx TxRunner, cfg InserterConfig) *Inserter {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if cfg.IDs == nil {
		cfg.IDs = &DefaultIDGenerator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Inserter{
		largeChunker:    largeChunker,
		smallChunker:    smallChunker,
		generator:       generator,
		embedder:        embedder,
		tx:              tx,
		batchSize:       cfg.EmbedBatchSize,
		enableSummaries: cfg.EnableSummaries,
		ids:             cfg.IDs,
		logger:          cfg.Logger,
	}
}

// Insert ingests a document end to end: a processing record is created
// first, then chunking, summarization and embedding run outside any
// transaction, and a single final transaction flips the document to ok and
// inserts the hierarchy. On any failure after bootstrap the document is
// marked failed with the error message and the error is returned. The
// document identifier is returned in both cases.
func (ins *Inserter) Insert(ctx context.Context, title, text string, tags []string) (string, error) {
	doc := domain.NewDocument(ins.ids.NewID(), title, tags, time.Now().UTC())
	if err := domain.ValidateDocument(doc); err != nil {
		return "", err
	}

	ctx, span := telemetry.StartSpan(ctx, "Inserter.Insert", telemetry.SpanAttributes{
		DocumentID: doc.ID,
		Operation:  "insert",
	})
	defer span.End()

	err := ins.tx.WithTx(ctx, func(repos TxRepositories) error {
		return repos.Documents().Create(ctx, doc)
	})
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodePersistence, "failed to create document", err)
	}

	if err := ins.ingest(ctx, doc, text); err != nil {
		span.SetError(err)
		ins.markFailed(ctx, doc.ID, err)
		return doc.ID, err
	}
	return doc.ID, nil
}

func (ins *Inserter) ingest(ctx context.Context, doc *domain.Document, text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.ErrEmptyDocumentText
	}
	largeTexts := ins.largeChunker.Chunk(text)
	if len(largeTexts) == 0 {
		return domain.ErrEmptyDocumentText
	}

	largeChunks := make([]*domain.LargeChunk, len(largeTexts))
	for i, t := range largeTexts {
		largeChunks[i] = &domain.LargeChunk{
			ID:         ins.ids.NewID(),
			DocumentID: doc.ID,
			Position:   i,
			Text:       t,
		}
	}
	ins.logger.Info("document chunked",
		zap.String("document_id", doc.ID),
		zap.Int("large_chunks", len(largeChunks)))

	var work []workItem

	if ins.enableSummaries {
		for _, lc := range largeChunks {
			work = append(work, workItem{
				kind: workSummary,
				summary: &domain.LargeChunkSummary{
					ID:           ins.ids.NewID(),
					LargeChunkID: lc.ID,
					DocumentID:   doc.ID,
					Text:         ins.summarize(ctx, lc.Text),
				},
			})
		}
	}

	for _, lc := range largeChunks {
		for j, t := range ins.smallChunker.Chunk(lc.Text) {
			work = append(work, workItem{
				kind: workSmallChunk,
				small: &domain.SmallChunk{
					ID:           ins.ids.NewID(),
					LargeChunkID: lc.ID,
					DocumentID:   doc.ID,
					Position:     j,
					Text:         t,
				},
			})
		}
	}

	if err := ins.embedAll(ctx, work); err != nil {
		return err
	}

	return ins.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Documents().MarkOK(ctx, doc.ID); err != nil {
			return err
		}
		for _, lc := range largeChunks {
			if err := repos.Chunks().InsertLargeChunk(ctx, lc); err != nil {
				return err
			}
		}
		for _, w := range work {
			switch w.kind {
			case workSummary:
				if err := repos.Chunks().InsertSummary(ctx, w.summary); err != nil {
					return err
				}
			case workSmallChunk:
				if err := repos.Chunks().InsertSmallChunk(ctx, w.small); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// summarize asks the generation service for a short summary of text and
// falls back to a leading excerpt when the call fails.
func (ins *Inserter) summarize(ctx context.Context, text string) string {
	out, err := ins.generator.Chat(ctx, []llm.ChatMessage{
		{Role: "system", Content: summarizerSystemPrompt},
		{Role: "user", Content: text},
	})
	if err != nil {
		ins.logger.Warn("chunk summarization failed, using excerpt", zap.Error(err))
		runes := []rune(text)
		if len(runes) > summaryFallbackChars {
			runes = runes[:summaryFallbackChars]
		}
		return strings.TrimSpace(string(runes))
	}
	return strings.TrimSpace(out)
}

// embedAll embeds every work item's text in order, in batches, and assigns
// each vector to its record.
func (ins *Inserter) embedAll(ctx context.Context, work []workItem) error {
	for start := 0; start < len(work); start += ins.batchSize {
		end := start + ins.batchSize
		if end > len(work) {
			end = len(work)
		}
		texts := make([]string, 0, end-start)
		for _, w := range work[start:end] {
			texts = append(texts, w.text())
		}
		vectors, err := ins.embedder.Embed(ctx, texts)
		if err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "embedding failed", err)
		}
		if len(vectors) != len(texts) {
			return domain.NewDomainError(domain.ErrCodeExternalService,
				fmt.Sprintf("embedding service returned %d vectors for %d texts", len(vectors), len(texts)))
		}
		for i, w := range work[start:end] {
			if w.kind == workSummary {
				w.summary.Embedding = vectors[i]
			} else {
				w.small.Embedding = vectors[i]
			}
		}
	}
	return nil
}

// markFailed records the ingestion failure on the document in its own
// transaction so the original error is preserved even if this write fails.
func (ins *Inserter) markFailed(ctx context.Context, docID string, cause error) {
	err := ins.tx.WithTx(ctx, func(repos TxRepositories) error {
		return repos.Documents().MarkFailed(ctx, docID, cause.Error())
	})
	if err != nil {
		ins.logger.Error("failed to mark document as failed",
			zap.String("document_id", docID),
			zap.Error(err))
	}
}
