// Package indexer keeps contract vectors current. A contract is stale when
// it was never indexed or modified after its last successful pass; only a
// fully successful pass advances the watermark.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah04091/contract-ai-sub015/internal/db"
	"github.com/noah04091/contract-ai-sub015/internal/globaltime"
	"github.com/noah04091/contract-ai-sub015/internal/pipeline"
	"github.com/noah04091/contract-ai-sub015/internal/textproc"
	"github.com/noah04091/contract-ai-sub015/internal/vectorindex"
)

// Store is the persistence surface the indexer needs.
type Store interface {
	ListStaleContracts(ctx context.Context, limit int) ([]db.Contract, error)
	SetContractIndexedAt(ctx context.Context, contractID string, indexedAt time.Time) error
	DeleteVectorRecordsByOwner(ctx context.Context, partition vectorindex.Partition, ownerID string) (int64, error)
}

// Embedder is the batched embedding call.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	BatchLimit() int
}

// VectorWriter is the index side contract vectors are written through.
type VectorWriter interface {
	Upsert(ctx context.Context, rec vectorindex.Record) error
	Delete(partition vectorindex.Partition, ownerID string) int
}

// Options configures a Service.
type Options struct {
	BatchSize  int
	BatchPause time.Duration
}

type Service struct {
	store    Store
	embedder Embedder
	index    VectorWriter
	redactor *textproc.Redactor
	chunker  *textproc.Chunker
	opts     Options
	logger   zerolog.Logger
}

func NewService(store Store, embedder Embedder, index VectorWriter, redactor *textproc.Redactor, chunker *textproc.Chunker, opts Options, logger zerolog.Logger) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	return &Service{
		store:    store,
		embedder: embedder,
		index:    index,
		redactor: redactor,
		chunker:  chunker,
		opts:     opts,
		logger:   logger,
	}
}

// Result summarizes one indexing run.
type Result struct {
	Processed int `json:"processed"`
	Indexed   int `json:"indexed"`
	Chunks    int `json:"chunks"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Run indexes stale contracts in bounded batches with a pause in between,
// respecting the embedding provider's rate budget. A per-contract failure
// is logged and counted; the contract stays stale and retries next run.
func (s *Service) Run(ctx context.Context) (Result, error) {
	var result Result
	attempted := map[string]bool{}
	for {
		contracts, err := s.store.ListStaleContracts(ctx, s.opts.BatchSize)
		if err != nil {
			return result, fmt.Errorf("list stale contracts: %w", err)
		}
		if len(contracts) == 0 {
			return result, nil
		}

		progressed := false
		for _, contract := range contracts {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			// Failed or skipped contracts stay stale; retry next run, not
			// within this one.
			if attempted[contract.ContractID] {
				continue
			}
			attempted[contract.ContractID] = true
			result.Processed++

			chunks, err := s.indexContract(ctx, contract)
			switch {
			case err == nil:
				result.Indexed++
				result.Chunks += chunks
				progressed = true
			case pipeline.IsValidation(err):
				s.logger.Warn().Err(err).Str("contract_id", contract.ContractID).Msg("contract skipped")
				result.Skipped++
			default:
				s.logger.Error().Err(err).Str("contract_id", contract.ContractID).Msg("index contract failed")
				result.Failed++
			}
		}
		if !progressed {
			// Nothing in this batch advanced its watermark; fetching again
			// would spin on the same contracts.
			return result, nil
		}

		if s.opts.BatchPause > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(s.opts.BatchPause):
			}
		}
	}
}

// indexContract embeds every chunk first and only then touches durable
// state, so a half-failed embedding never leaves partial vectors behind.
// The watermark is written last.
func (s *Service) indexContract(ctx context.Context, contract db.Contract) (int, error) {
	text := contract.Text()
	if text == "" {
		text = contract.Name
	}
	if text == "" {
		return 0, pipeline.Invalid("text", fmt.Errorf("contract has no extractable text"))
	}

	chunks := s.chunker.Chunk(s.redactor.Redact(text))
	if len(chunks) == 0 {
		return 0, pipeline.Invalid("text", fmt.Errorf("contract produced no chunks"))
	}

	vectors := make([][]float64, 0, len(chunks))
	for start := 0; start < len(chunks); start += s.embedder.BatchLimit() {
		end := min(start+s.embedder.BatchLimit(), len(chunks))
		batch, err := s.embedder.Embed(ctx, chunks[start:end])
		if err != nil {
			return 0, fmt.Errorf("embed chunks %d..%d: %w", start, end, err)
		}
		vectors = append(vectors, batch...)
	}

	indexedAt := globaltime.Now().UTC()

	// Old chunks go first; a re-chunked contract may have fewer than before.
	if _, err := s.store.DeleteVectorRecordsByOwner(ctx, vectorindex.PartitionContract, contract.ContractID); err != nil {
		return 0, fmt.Errorf("clear previous vectors: %w", err)
	}
	s.index.Delete(vectorindex.PartitionContract, contract.ContractID)

	for i, vec := range vectors {
		rec := vectorindex.Record{
			ID:        fmt.Sprintf("%s_chunk_%d", contract.ContractID, i),
			Partition: vectorindex.PartitionContract,
			Embedding: vec,
			Text:      chunks[i],
			OwnerID:   contract.ContractID,
			Area:      contract.Area,
			UpdatedAt: indexedAt,
		}
		if err := s.index.Upsert(ctx, rec); err != nil {
			return 0, fmt.Errorf("upsert chunk %d: %w", i, err)
		}
	}

	if err := s.store.SetContractIndexedAt(ctx, contract.ContractID, indexedAt); err != nil {
		return 0, fmt.Errorf("advance watermark: %w", err)
	}
	return len(chunks), nil
}
