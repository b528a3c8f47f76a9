package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Debug bool `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	// OpenAI-compatible inference endpoints. Each service may run on its
	// own server, so base URLs and keys are configured independently.
	GeneratorBaseURL string `envconfig:"GENERATOR_BASE_URL"`
	GeneratorModel   string `envconfig:"GENERATOR_MODEL"`
	GeneratorKey     string `envconfig:"GENERATOR_KEY" default:"default_key"`

	EmbeddingBaseURL string `envconfig:"EMBEDDING_BASE_URL"`
	EmbeddingModel   string `envconfig:"EMBEDDING_MODEL"`
	EmbeddingKey     string `envconfig:"EMBEDDING_KEY" default:"default_key"`
	EmbeddingNDims   int    `envconfig:"EMBEDDING_NDIMS" default:"1024"`

	RerankerBaseURL string `envconfig:"RERANKER_BASE_URL"`
	RerankerModel   string `envconfig:"RERANKER_MODEL"`
	RerankerKey     string `envconfig:"RERANKER_KEY" default:"default_key"`

	// Large-chunk chunker bounds (characters).
	LargeChunkSize    int `envconfig:"LARGE_CHUNK_SIZE" default:"5000"`
	LargeChunkMaxSize int `envconfig:"LARGE_CHUNK_MAX_SIZE" default:"7000"`
	LargeChunkMinSize int `envconfig:"LARGE_CHUNK_MIN_SIZE" default:"3000"`

	// Small-chunk chunker bounds (characters).
	SmallChunkSize    int `envconfig:"SMALL_CHUNK_SIZE" default:"512"`
	SmallChunkMaxSize int `envconfig:"SMALL_CHUNK_MAX_SIZE" default:"1024"`
	SmallChunkMinSize int `envconfig:"SMALL_CHUNK_MIN_SIZE" default:"256"`

	EmbedBatchSize  int  `envconfig:"EMBED_BATCH_SIZE" default:"128"`
	EnableSummaries bool `envconfig:"ENABLE_SUMMARIES" default:"true"`

	// Retrieval parameters.
	RetrievalLimit    int     `envconfig:"RETRIEVAL_LIMIT" default:"5"`
	PrefetchLimit     int     `envconfig:"RETRIEVAL_PREFETCH_LIMIT" default:"10"`
	RetrievalAlpha    float64 `envconfig:"RETRIEVAL_ALPHA" default:"0.5"`
	SummaryFetchLimit int     `envconfig:"RETRIEVAL_SUMMARY_LIMIT" default:"10"`
	SmallChunkFetch   int     `envconfig:"RETRIEVAL_SMALL_CHUNK_LIMIT" default:"50"`

	// Conversation token budget enforced by compaction.
	TokenBudget int `envconfig:"TOKEN_BUDGET" default:"3000"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("MEDBOT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
