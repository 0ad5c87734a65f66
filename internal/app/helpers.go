package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah04091/contract-ai-sub015/internal/cli"
	"github.com/noah04091/contract-ai-sub015/internal/config"
	"github.com/noah04091/contract-ai-sub015/internal/db"
	"github.com/noah04091/contract-ai-sub015/internal/embedding"
	"github.com/noah04091/contract-ai-sub015/internal/feedback"
	"github.com/noah04091/contract-ai-sub015/internal/indexer"
	"github.com/noah04091/contract-ai-sub015/internal/ingest"
	"github.com/noah04091/contract-ai-sub015/internal/joblock"
	"github.com/noah04091/contract-ai-sub015/internal/logging"
	"github.com/noah04091/contract-ai-sub015/internal/matcher"
	"github.com/noah04091/contract-ai-sub015/internal/notify"
	"github.com/noah04091/contract-ai-sub015/internal/textproc"
	"github.com/noah04091/contract-ai-sub015/internal/vectorindex"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = strings.TrimSpace(strings.ToLower(defaultFormat))
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func writeTable(headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(writer, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return writer.Flush()
}

// runtime bundles the pieces every command builds the same way.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *db.Pool
}

func (rt *runtime) Close() {
	if rt != nil && rt.pool != nil {
		_ = rt.pool.Close()
	}
}

// connectRuntime loads env + config, wires the logger, and connects the
// database pool. The returned context carries the command timeout.
func connectRuntime(timeout time.Duration, envLoader *cli.EnvLoader) (context.Context, context.CancelFunc, *runtime, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return ctx, cancel, &runtime{cfg: cfg, logger: logger, pool: pool}, nil
}

func (rt *runtime) newEmbedder() *embedding.Client {
	return embedding.NewClient(embedding.Options{
		Endpoint:   rt.cfg.EmbeddingEndpoint,
		Model:      rt.cfg.EmbeddingModelName,
		Dimensions: rt.cfg.EmbeddingDimensions,
		BatchLimit: rt.cfg.EmbeddingBatchSize,
		Timeout:    rt.cfg.EmbeddingTimeout,
		RatePerSec: rt.cfg.EmbeddingRatePerSec,
		MaxRetries: rt.cfg.EmbeddingMaxRetries,
		Logger:     rt.logger,
	})
}

func (rt *runtime) newRedactor() *textproc.Redactor {
	return textproc.NewRedactor(rt.cfg.RedactionKey)
}

func (rt *runtime) newChunker() *textproc.Chunker {
	return textproc.NewChunker(rt.cfg.ChunkMaxTokens)
}

// loadIndex rebuilds the in-memory vector index from vector_records.
func (rt *runtime) loadIndex(ctx context.Context) (*vectorindex.Index, error) {
	index := vectorindex.New(rt.pool)
	if err := index.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("rebuild vector index: %w", err)
	}
	return index, nil
}

func (rt *runtime) newLockManager() *joblock.Manager {
	return joblock.NewManager(rt.pool, rt.cfg.JobLockTTL, rt.logger)
}

func (rt *runtime) ingestOptions() ingest.Options {
	return ingest.Options{
		FeedURLs:      rt.cfg.FeedURLList(),
		MaxAge:        rt.cfg.FeedMaxAge,
		FetchBodyText: rt.cfg.FetchBodyText,
		FetchTimeout:  rt.cfg.FeedTimeout,
		EmbedBatch:    rt.cfg.EmbeddingBatchSize,
	}
}

func (rt *runtime) newIngestService(index *vectorindex.Index) *ingest.Service {
	return ingest.NewService(
		rt.pool,
		ingest.NewHTTPFetcher(rt.cfg.FeedTimeout),
		rt.newEmbedder(),
		index,
		rt.newRedactor(),
		rt.newChunker(),
		rt.ingestOptions(),
		rt.logger,
	)
}

func (rt *runtime) newIndexerService(index *vectorindex.Index) *indexer.Service {
	return indexer.NewService(
		rt.pool,
		rt.newEmbedder(),
		index,
		rt.newRedactor(),
		rt.newChunker(),
		indexer.Options{
			BatchSize:  rt.cfg.IndexBatchSize,
			BatchPause: rt.cfg.IndexBatchPause,
		},
		rt.logger,
	)
}

// newMatcherService derives per-area floor overrides from the stored
// feedback before building the matcher. An unavailable rollup only costs
// the overrides, never the run.
func (rt *runtime) newMatcherService(ctx context.Context, index *vectorindex.Index) *matcher.Service {
	var floors map[string]float64
	agg, err := feedback.NewService(rt.pool, rt.logger).Aggregate(ctx)
	if err != nil {
		rt.logger.Warn().Err(err).Msg("feedback rollup unavailable, using global floor only")
	} else {
		floors = matcher.DeriveAreaFloors(agg.ByArea, rt.cfg.MatchMinScore)
	}

	return matcher.NewService(index, matcher.Options{
		MinScore:   rt.cfg.MatchMinScore,
		TopK:       rt.cfg.MatchTopK,
		AreaFloors: floors,
	}, rt.logger)
}

func (rt *runtime) newEmitter() *notify.Emitter {
	return notify.NewEmitter(
		rt.pool,
		notify.LogDeliverer{Logger: rt.logger},
		notify.EmitterOptions{SuppressionWindow: rt.cfg.SuppressionWindow},
		rt.logger,
	)
}

func (rt *runtime) newScheduler() *notify.Scheduler {
	return notify.NewScheduler(rt.pool, notify.LogDeliverer{Logger: rt.logger}, rt.logger)
}
