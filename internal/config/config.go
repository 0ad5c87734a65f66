package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"LAWMON_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"LAWMON_DB_MAX_CONNS" default:"8"`

	// Embedding provider.
	EmbeddingEndpoint   string        `envconfig:"EMBEDDING_ENDPOINT" default:"http://127.0.0.1:8844/embed"`
	EmbeddingModelName  string        `envconfig:"EMBEDDING_MODEL_NAME" default:"text-embedding-3-small"`
	EmbeddingDimensions int           `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	EmbeddingBatchSize  int           `envconfig:"EMBEDDING_BATCH_SIZE" default:"32"`
	EmbeddingTimeout    time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"45s"`
	EmbeddingRatePerSec float64       `envconfig:"EMBEDDING_RATE_PER_SEC" default:"2"`
	EmbeddingMaxRetries int           `envconfig:"EMBEDDING_MAX_RETRIES" default:"4"`

	// Chunking and redaction.
	ChunkMaxTokens int    `envconfig:"CHUNK_MAX_TOKENS" default:"7000"`
	RedactionKey   string `envconfig:"REDACTION_KEY" default:"lawmon-redaction-v1"`

	// Law feed ingestion.
	FeedURLs      string        `envconfig:"FEED_URLS" default:""`
	FeedMaxAge    time.Duration `envconfig:"FEED_MAX_AGE" default:"720h"`
	FeedTimeout   time.Duration `envconfig:"FEED_TIMEOUT" default:"20s"`
	FetchBodyText bool          `envconfig:"FETCH_BODY_TEXT" default:"false"`

	// Contract indexing.
	IndexBatchSize  int           `envconfig:"INDEX_BATCH_SIZE" default:"10"`
	IndexBatchPause time.Duration `envconfig:"INDEX_BATCH_PAUSE" default:"2s"`

	// Relevance matching and alerting.
	MatchMinScore     float64       `envconfig:"MATCH_MIN_SCORE" default:"0.65"`
	MatchTopK         int           `envconfig:"MATCH_TOP_K" default:"20"`
	SuppressionWindow time.Duration `envconfig:"SUPPRESSION_WINDOW" default:"24h"`
	DigestRetention   time.Duration `envconfig:"DIGEST_RETENTION" default:"720h"`

	JobLockTTL time.Duration `envconfig:"JOB_LOCK_TTL" default:"30m"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("LAWMON_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("LAWMON_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("LAWMON_DB_MIN_CONNS (%d) cannot exceed LAWMON_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.EmbeddingDimensions < 1 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be >= 1")
	}
	if c.EmbeddingBatchSize < 1 {
		return fmt.Errorf("EMBEDDING_BATCH_SIZE must be >= 1")
	}
	if c.ChunkMaxTokens < 1 {
		return fmt.Errorf("CHUNK_MAX_TOKENS must be >= 1")
	}
	if c.MatchMinScore < 0 || c.MatchMinScore > 1 {
		return fmt.Errorf("MATCH_MIN_SCORE must be within [0, 1]")
	}
	if c.MatchTopK < 1 {
		return fmt.Errorf("MATCH_TOP_K must be >= 1")
	}
	if c.SuppressionWindow <= 0 {
		return fmt.Errorf("SUPPRESSION_WINDOW must be positive")
	}
	if c.JobLockTTL <= 0 {
		return fmt.Errorf("JOB_LOCK_TTL must be positive")
	}
	return nil
}

// FeedURLList splits FEED_URLS on commas, trimming blanks and duplicates.
func (c *Config) FeedURLList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.FeedURLs, ",")
	urls := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		u := strings.TrimSpace(part)
		if u == "" {
			continue
		}
		if _, exists := seen[u]; exists {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}
