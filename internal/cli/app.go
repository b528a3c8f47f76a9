package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sowelni/medbot/internal/config"
	"github.com/sowelni/medbot/internal/database"
	"github.com/sowelni/medbot/internal/domain"
	"github.com/sowelni/medbot/internal/llm"
	"github.com/sowelni/medbot/internal/repository"
	"github.com/sowelni/medbot/internal/service"
	"github.com/sowelni/medbot/internal/telemetry"
)

// app bundles the configuration, clients and repositories every command
// builds its services from.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool

	generator *llm.Generator
	embedder  *llm.Embedder
	reranker  *llm.Reranker

	documents     *repository.DocumentRepository
	chunks        *repository.ChunkRepository
	conversations *repository.ConversationRepository
	messages      *repository.MessageRepository
	store         *repository.ChatStore
	tx            *repository.TxRunner
}

// newApp loads the configuration and connects every shared dependency.
// The returned cleanup closes the pool, flushes telemetry and syncs the
// logger; it is safe to call once on any path after a successful return.
func newApp(ctx context.Context) (*app, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	shutdownTelemetry := initTelemetry(cfg, logger)

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		shutdownTelemetry()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		generator: llm.NewGenerator(llm.GeneratorConfig{
			BaseURL: cfg.GeneratorBaseURL,
			Model:   cfg.GeneratorModel,
			Key:     cfg.GeneratorKey,
		}),
		embedder: llm.NewEmbedder(llm.EmbedderConfig{
			BaseURL:    cfg.EmbeddingBaseURL,
			Model:      cfg.EmbeddingModel,
			Key:        cfg.EmbeddingKey,
			Dimensions: cfg.EmbeddingNDims,
		}),
		reranker: llm.NewReranker(llm.RerankerConfig{
			BaseURL: cfg.RerankerBaseURL,
			Model:   cfg.RerankerModel,
			Key:     cfg.RerankerKey,
		}),
		documents:     repository.NewDocumentRepository(pool),
		chunks:        repository.NewChunkRepository(pool),
		conversations: repository.NewConversationRepository(pool),
		messages:      repository.NewMessageRepository(pool),
		store:         repository.NewChatStore(pool),
		tx:            repository.NewTxRunner(pool),
	}

	cleanup := func() {
		pool.Close()
		shutdownTelemetry()
		_ = logger.Sync()
	}
	return a, cleanup, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// initTelemetry initializes Sentry when SENTRY_DSN is set. Tracing failures
// never block the command.
func initTelemetry(cfg *config.Config, logger *zap.Logger) func() {
	dsn := os.Getenv("SENTRY_DSN")
	if dsn == "" {
		return func() {}
	}

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	// Default to 10% sampling in production, 100% in development
	sampleRate := 0.1
	if environment == "development" {
		sampleRate = 1.0
	}

	shutdown, err := telemetry.Init(telemetry.Config{
		DSN:              dsn,
		Environment:      environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	})
	if err != nil {
		logger.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
		return func() {}
	}
	return shutdown
}

func (a *app) newInserter() (*service.Inserter, error) {
	largeChunker, err := service.NewChunker(a.cfg.LargeChunkMaxSize, a.cfg.LargeChunkSize, a.cfg.LargeChunkMinSize, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create large chunker: %w", err)
	}
	smallChunker, err := service.NewChunker(a.cfg.SmallChunkMaxSize, a.cfg.SmallChunkSize, a.cfg.SmallChunkMinSize, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create small chunker: %w", err)
	}

	return service.NewInserter(largeChunker, smallChunker, a.generator, a.embedder, a.tx, service.InserterConfig{
		EmbedBatchSize:  a.cfg.EmbedBatchSize,
		EnableSummaries: a.cfg.EnableSummaries,
		Logger:          a.logger,
	}), nil
}

func (a *app) newRetriever(accessTags []string) *service.Retriever {
	return service.NewRetriever(a.embedder, a.reranker, a.chunks, service.RetrieverConfig{
		Limit:           a.cfg.RetrievalLimit,
		PrefetchLimit:   a.cfg.PrefetchLimit,
		Alpha:           a.cfg.RetrievalAlpha,
		SummaryLimit:    a.cfg.SummaryFetchLimit,
		SmallChunkLimit: a.cfg.SmallChunkFetch,
		AccessTags:      accessTags,
		Logger:          a.logger,
	})
}

// openChat resumes conversationID when given, otherwise starts a fresh
// conversation for ownerID.
func (a *app) openChat(ctx context.Context, conversationID, ownerID string, accessTags []string, voice, persist bool) (*service.ChatSystem, error) {
	var conv *domain.Conversation
	if conversationID != "" {
		loaded, err := a.conversations.GetByID(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
		conv = loaded
	} else {
		ids := &service.DefaultIDGenerator{}
		conv = &domain.Conversation{ID: ids.NewID(), OwnerID: ownerID}
	}

	history, err := service.NewHistory(ctx, conv, a.generator, a.store, service.HistoryConfig{
		TokenBudget: a.cfg.TokenBudget,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	utils := service.NewConversationUtils(a.generator, a.logger)
	return service.NewChatSystem(a.generator, a.newRetriever(accessTags), history, utils, service.ChatSystemConfig{
		Voice:   voice,
		Persist: persist,
		Logger:  a.logger,
	}), nil
}
