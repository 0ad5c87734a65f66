// Package ingest pulls legal-update feeds, deduplicates them across
// sources, and embeds new laws into the vector index.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah04091/contract-ai-sub015/internal/db"
	"github.com/noah04091/contract-ai-sub015/internal/fingerprint"
	"github.com/noah04091/contract-ai-sub015/internal/globaltime"
	"github.com/noah04091/contract-ai-sub015/internal/langdetect"
	"github.com/noah04091/contract-ai-sub015/internal/pipeline"
	"github.com/noah04091/contract-ai-sub015/internal/reader"
	"github.com/noah04091/contract-ai-sub015/internal/textproc"
	"github.com/noah04091/contract-ai-sub015/internal/vectorindex"
	feedschema "github.com/noah04091/contract-ai-sub015/schema"
)

// Store is the persistence surface the ingestor needs.
type Store interface {
	GetLawUpdate(ctx context.Context, lawID string) (db.LawUpdate, error)
	GetLawUpdateByHash(ctx context.Context, contentHash []byte) (db.LawUpdate, error)
	InsertLawUpdateWithRef(ctx context.Context, law db.LawUpdate, ref db.LawSourceRef) error
	UpdateLawUpdate(ctx context.Context, law db.LawUpdate) error
	UpsertLawSourceRef(ctx context.Context, ref db.LawSourceRef) error
	ListLawSourceRefs(ctx context.Context, lawID string) ([]db.LawSourceRef, error)
	ListLawUpdatesMissingVectors(ctx context.Context, limit int) ([]db.LawUpdate, error)
	DeleteVectorRecordsByOwner(ctx context.Context, partition vectorindex.Partition, ownerID string) (int64, error)
}

// Embedder is the batched embedding call.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	BatchLimit() int
}

// VectorWriter is the index side the ingestor writes law vectors through.
type VectorWriter interface {
	Upsert(ctx context.Context, rec vectorindex.Record) error
	Delete(partition vectorindex.Partition, ownerID string) int
}

// Options configures a Service.
type Options struct {
	FeedURLs      []string
	MaxAge        time.Duration
	FetchBodyText bool
	FetchTimeout  time.Duration
	EmbedBatch    int
}

type Service struct {
	store    Store
	fetcher  Fetcher
	embedder Embedder
	index    VectorWriter
	redactor *textproc.Redactor
	chunker  *textproc.Chunker
	opts     Options
	logger   zerolog.Logger
}

func NewService(store Store, fetcher Fetcher, embedder Embedder, index VectorWriter, redactor *textproc.Redactor, chunker *textproc.Chunker, opts Options, logger zerolog.Logger) *Service {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 30 * 24 * time.Hour
	}
	if opts.EmbedBatch <= 0 {
		opts.EmbedBatch = 10
	}
	return &Service{
		store:    store,
		fetcher:  fetcher,
		embedder: embedder,
		index:    index,
		redactor: redactor,
		chunker:  chunker,
		opts:     opts,
		logger:   logger,
	}
}

// SyncResult summarizes one feed sync run.
type SyncResult struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Merged   int `json:"merged"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Sync pulls every configured feed and folds the items into law_updates.
// Per-item failures are counted, never fatal; only a store-level failure
// aborts the run.
func (s *Service) Sync(ctx context.Context) (SyncResult, error) {
	var result SyncResult
	for _, feedURL := range s.opts.FeedURLs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		items, err := s.fetcher.Fetch(ctx, feedURL)
		if err != nil {
			s.logger.Warn().Err(err).Str("feed", feedURL).Msg("feed fetch failed")
			result.Failed++
			continue
		}
		result.Fetched += len(items)

		for _, raw := range items {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			s.processItem(ctx, raw, &result)
		}
	}
	return result, nil
}

func (s *Service) processItem(ctx context.Context, raw json.RawMessage, result *SyncResult) {
	item, err := feedschema.ValidateFeedItemPayload(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("invalid feed item skipped")
		result.Skipped++
		return
	}

	now := globaltime.Now().UTC()
	updatedAt := now
	var publishedAt *time.Time
	if at, ok := item.Published(); ok {
		at = at.UTC()
		publishedAt = &at
		updatedAt = at
		if now.Sub(at) > s.opts.MaxAge {
			result.Skipped++
			return
		}
	}

	text := item.Text()
	if text == "" && s.opts.FetchBodyText && item.URL != nil {
		fetched, err := reader.FetchTextWithOptions(ctx, *item.URL, item.Title, reader.FetchOptions{Timeout: s.opts.FetchTimeout})
		if err != nil {
			s.logger.Warn().Err(err).Str("url", *item.URL).Msg("body fetch failed")
			result.Failed++
			return
		}
		text = fetched
	}

	lawID := fmt.Sprintf("%s:%s", item.Source, item.SourceItemID)
	record := fingerprint.Record{
		LawID:     lawID,
		Title:     item.Title,
		Summary:   text,
		Keywords:  item.Keywords,
		CreatedAt: now,
		UpdatedAt: updatedAt,
		SourceRefs: []fingerprint.SourceRef{
			{Source: item.Source, LawID: item.SourceItemID},
		},
	}
	if item.Area != nil {
		record.Area = strings.TrimSpace(*item.Area)
	}
	contentHash, err := fingerprint.Hash(record)
	if err != nil {
		s.logger.Warn().Err(err).Str("law_id", lawID).Msg("empty content skipped")
		result.Skipped++
		return
	}

	language := ""
	if item.Language != nil {
		language = strings.ToLower(strings.TrimSpace(*item.Language))
	}
	if language == "" {
		language = langdetect.DetectISO6391(item.Title + " " + text)
	}
	if language == "" {
		language = "und"
	}

	law := db.LawUpdate{
		LawID:       lawID,
		ContentHash: contentHash,
		Title:       item.Title,
		Summary:     text,
		Area:        record.Area,
		Language:    language,
		SourceURL:   item.URL,
		Keywords:    marshalKeywords(record.Keywords),
		PublishedAt: publishedAt,
		CreatedAt:   now,
		UpdatedAt:   updatedAt,
	}
	ref := db.LawSourceRef{LawID: lawID, Source: item.Source, SourceItemID: item.SourceItemID, AddedAt: now}

	if err := s.upsertLaw(ctx, law, record, ref, result); err != nil {
		s.logger.Error().Err(err).Str("law_id", lawID).Msg("persist law update failed")
		result.Failed++
	}
}

// upsertLaw resolves the dedup decision: exact id match first, then
// content hash, then insert. Two indexed lookups, by priority.
func (s *Service) upsertLaw(ctx context.Context, law db.LawUpdate, record fingerprint.Record, ref db.LawSourceRef, result *SyncResult) error {
	existing, err := s.store.GetLawUpdate(ctx, law.LawID)
	switch {
	case err == nil:
		return s.refreshLaw(ctx, existing, law, ref, result)
	case !db.IsNoRows(err):
		return fmt.Errorf("lookup by law id: %w", err)
	}

	byHash, err := s.store.GetLawUpdateByHash(ctx, law.ContentHash)
	switch {
	case err == nil:
		return s.mergeLaw(ctx, byHash, record, ref, result)
	case !db.IsNoRows(err):
		return fmt.Errorf("lookup by content hash: %w", err)
	}

	if err := s.store.InsertLawUpdateWithRef(ctx, law, ref); err != nil {
		return err
	}
	result.Inserted++
	return nil
}

// refreshLaw updates a known law in place when the feed carries a newer
// revision. Content change invalidates its vectors so it gets re-embedded.
func (s *Service) refreshLaw(ctx context.Context, existing, incoming db.LawUpdate, ref db.LawSourceRef, result *SyncResult) error {
	contentChanged := !bytes.Equal(existing.ContentHash, incoming.ContentHash)
	// An item without a published timestamp carries fetch time in
	// UpdatedAt. That is observation time, not a revision; advancing on
	// it would keep an unchanged law inside the alert window on every
	// sync.
	advanced := incoming.PublishedAt != nil && incoming.UpdatedAt.After(existing.UpdatedAt)
	if !contentChanged && !advanced {
		if err := s.store.UpsertLawSourceRef(ctx, ref); err != nil {
			return err
		}
		result.Skipped++
		return nil
	}

	incoming.CreatedAt = existing.CreatedAt
	if err := s.store.UpdateLawUpdate(ctx, incoming); err != nil {
		return err
	}
	if err := s.store.UpsertLawSourceRef(ctx, ref); err != nil {
		return err
	}
	if contentChanged {
		if err := s.invalidateLawVectors(ctx, incoming.LawID); err != nil {
			return err
		}
	}
	result.Updated++
	return nil
}

// mergeLaw folds a cross-source duplicate into the authoritative record
// that already owns the content hash.
func (s *Service) mergeLaw(ctx context.Context, existing db.LawUpdate, incoming fingerprint.Record, ref db.LawSourceRef, result *SyncResult) error {
	refs, err := s.store.ListLawSourceRefs(ctx, existing.LawID)
	if err != nil {
		return fmt.Errorf("list source refs: %w", err)
	}

	existingRecord := toFingerprintRecord(existing, refs)
	merged := fingerprint.Merge(existingRecord, incoming)

	updated := existing
	updated.Title = merged.Title
	updated.Summary = merged.Summary
	updated.Area = merged.Area
	updated.Keywords = marshalKeywords(merged.Keywords)
	updated.CreatedAt = merged.CreatedAt
	updated.UpdatedAt = merged.UpdatedAt
	if hash, err := fingerprint.Hash(merged); err == nil {
		updated.ContentHash = hash
	}

	if err := s.store.UpdateLawUpdate(ctx, updated); err != nil {
		return err
	}
	ref.LawID = existing.LawID
	if err := s.store.UpsertLawSourceRef(ctx, ref); err != nil {
		return err
	}
	result.Merged++
	return nil
}

func (s *Service) invalidateLawVectors(ctx context.Context, lawID string) error {
	if _, err := s.store.DeleteVectorRecordsByOwner(ctx, vectorindex.PartitionLaw, lawID); err != nil {
		return fmt.Errorf("invalidate law vectors: %w", err)
	}
	s.index.Delete(vectorindex.PartitionLaw, lawID)
	return nil
}

// EmbedResult summarizes one embedding pass over laws lacking vectors.
type EmbedResult struct {
	Processed int `json:"processed"`
	Embedded  int `json:"embedded"`
	Failed    int `json:"failed"`
}

// EmbedMissing redacts, chunks, and embeds every law with no vector record
// yet. Per-law failure is counted and the law stays eligible for the next
// run.
func (s *Service) EmbedMissing(ctx context.Context) (EmbedResult, error) {
	var result EmbedResult
	attempted := map[string]bool{}
	for {
		laws, err := s.store.ListLawUpdatesMissingVectors(ctx, s.opts.EmbedBatch)
		if err != nil {
			return result, fmt.Errorf("list laws missing vectors: %w", err)
		}

		progressed := false
		for _, law := range laws {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			// A failed law stays vectorless; retry next run, not this one.
			if attempted[law.LawID] {
				continue
			}
			attempted[law.LawID] = true
			result.Processed++
			if err := s.embedLaw(ctx, law); err != nil {
				s.logger.Warn().Err(err).Str("law_id", law.LawID).Msg("embed law failed")
				result.Failed++
				continue
			}
			result.Embedded++
			progressed = true
		}
		if !progressed {
			return result, nil
		}
	}
}

func (s *Service) embedLaw(ctx context.Context, law db.LawUpdate) error {
	text := strings.TrimSpace(law.Title + "\n" + law.Summary)
	if text == "" {
		return pipeline.Invalid("summary", fmt.Errorf("law has no content"))
	}

	chunks := s.chunker.Chunk(s.redactor.Redact(text))
	if len(chunks) == 0 {
		return pipeline.Invalid("summary", fmt.Errorf("law produced no chunks"))
	}
	vectors := make([][]float64, 0, len(chunks))
	for start := 0; start < len(chunks); start += s.embedder.BatchLimit() {
		end := min(start+s.embedder.BatchLimit(), len(chunks))
		batch, err := s.embedder.Embed(ctx, chunks[start:end])
		if err != nil {
			return fmt.Errorf("embed chunks %d..%d: %w", start, end, err)
		}
		vectors = append(vectors, batch...)
	}

	source := ""
	if refs, err := s.store.ListLawSourceRefs(ctx, law.LawID); err == nil && len(refs) > 0 {
		source = refs[0].Source
	}

	for i, vec := range vectors {
		rec := vectorindex.Record{
			ID:        fmt.Sprintf("%s_chunk_%d", law.LawID, i),
			Partition: vectorindex.PartitionLaw,
			Embedding: vec,
			Text:      chunks[i],
			OwnerID:   law.LawID,
			Area:      law.Area,
			Source:    source,
			UpdatedAt: law.UpdatedAt,
		}
		if err := s.index.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("upsert law vector: %w", err)
		}
	}
	return nil
}

func toFingerprintRecord(law db.LawUpdate, refs []db.LawSourceRef) fingerprint.Record {
	record := fingerprint.Record{
		LawID:     law.LawID,
		Title:     law.Title,
		Summary:   law.Summary,
		Area:      law.Area,
		CreatedAt: law.CreatedAt,
		UpdatedAt: law.UpdatedAt,
	}
	if len(law.Keywords) > 0 {
		_ = json.Unmarshal(law.Keywords, &record.Keywords)
	}
	// Same encoding as processItem: the ref's per-source item id, not the
	// owning law id, so the merge union never holds two spellings of one
	// ref.
	for _, ref := range refs {
		record.SourceRefs = append(record.SourceRefs, fingerprint.SourceRef{Source: ref.Source, LawID: ref.SourceItemID})
	}
	return record
}

func marshalKeywords(keywords []string) json.RawMessage {
	if len(keywords) == 0 {
		return nil
	}
	raw, err := json.Marshal(keywords)
	if err != nil {
		return nil
	}
	return raw
}
