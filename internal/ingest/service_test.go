package ingest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah04091/contract-ai-sub015/internal/db"
	"github.com/noah04091/contract-ai-sub015/internal/fingerprint"
	"github.com/noah04091/contract-ai-sub015/internal/globaltime"
	"github.com/noah04091/contract-ai-sub015/internal/textproc"
	"github.com/noah04091/contract-ai-sub015/internal/vectorindex"
)

type fakeStore struct {
	laws    map[string]db.LawUpdate
	refs    map[string][]db.LawSourceRef
	deleted []string
	served  map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		laws:   map[string]db.LawUpdate{},
		refs:   map[string][]db.LawSourceRef{},
		served: map[string]bool{},
	}
}

func (s *fakeStore) GetLawUpdate(_ context.Context, lawID string) (db.LawUpdate, error) {
	law, ok := s.laws[lawID]
	if !ok {
		return db.LawUpdate{}, db.ErrNoRows
	}
	return law, nil
}

func (s *fakeStore) GetLawUpdateByHash(_ context.Context, hash []byte) (db.LawUpdate, error) {
	key := hex.EncodeToString(hash)
	for _, law := range s.laws {
		if hex.EncodeToString(law.ContentHash) == key {
			return law, nil
		}
	}
	return db.LawUpdate{}, db.ErrNoRows
}

func (s *fakeStore) InsertLawUpdateWithRef(_ context.Context, law db.LawUpdate, ref db.LawSourceRef) error {
	if _, exists := s.laws[law.LawID]; exists {
		return fmt.Errorf("law %s already exists", law.LawID)
	}
	s.laws[law.LawID] = law
	s.refs[ref.LawID] = append(s.refs[ref.LawID], ref)
	return nil
}

func (s *fakeStore) UpdateLawUpdate(_ context.Context, law db.LawUpdate) error {
	if _, exists := s.laws[law.LawID]; !exists {
		return db.ErrNoRows
	}
	s.laws[law.LawID] = law
	return nil
}

func (s *fakeStore) UpsertLawSourceRef(_ context.Context, ref db.LawSourceRef) error {
	for _, existing := range s.refs[ref.LawID] {
		if existing.Source == ref.Source {
			return nil
		}
	}
	s.refs[ref.LawID] = append(s.refs[ref.LawID], ref)
	return nil
}

func (s *fakeStore) ListLawSourceRefs(_ context.Context, lawID string) ([]db.LawSourceRef, error) {
	return s.refs[lawID], nil
}

// Each law is served once; the real query filters on existing vector rows.
func (s *fakeStore) ListLawUpdatesMissingVectors(_ context.Context, limit int) ([]db.LawUpdate, error) {
	var missing []db.LawUpdate
	for id, law := range s.laws {
		if len(missing) >= limit {
			break
		}
		if s.served[id] {
			continue
		}
		s.served[id] = true
		missing = append(missing, law)
	}
	return missing, nil
}

func (s *fakeStore) DeleteVectorRecordsByOwner(_ context.Context, _ vectorindex.Partition, ownerID string) (int64, error) {
	s.deleted = append(s.deleted, ownerID)
	return 1, nil
}

type fakeFetcher struct {
	itemsByURL map[string][]json.RawMessage
}

func (f *fakeFetcher) Fetch(_ context.Context, feedURL string) ([]json.RawMessage, error) {
	return f.itemsByURL[feedURL], nil
}

type fakeEmbedder struct {
	calls    int
	limit    int
	maxBatch int
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	e.calls++
	if len(texts) > e.maxBatch {
		e.maxBatch = len(texts)
	}
	vectors := make([][]float64, len(texts))
	for i := range vectors {
		vectors[i] = []float64{float64(len(texts[i])), 1}
	}
	return vectors, nil
}

func (e *fakeEmbedder) BatchLimit() int {
	if e.limit > 0 {
		return e.limit
	}
	return 16
}

type fakeIndex struct {
	upserts []vectorindex.Record
	deletes []string
}

func (ix *fakeIndex) Upsert(_ context.Context, rec vectorindex.Record) error {
	ix.upserts = append(ix.upserts, rec)
	return nil
}

func (ix *fakeIndex) Delete(_ vectorindex.Partition, ownerID string) int {
	ix.deletes = append(ix.deletes, ownerID)
	return 1
}

func rawItem(t *testing.T, fields map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal item: %v", err)
	}
	return raw
}

func newTestService(store *fakeStore, fetcher Fetcher, embedder Embedder, index VectorWriter, feeds []string) *Service {
	return NewService(
		store, fetcher, embedder, index,
		textproc.NewRedactor("test-key"), textproc.NewChunker(500),
		Options{FeedURLs: feeds, MaxAge: 30 * 24 * time.Hour},
		zerolog.Nop(),
	)
}

func TestSyncInsertsNewLaw(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	store := newFakeStore()
	fetcher := &fakeFetcher{itemsByURL: map[string][]json.RawMessage{
		"https://feeds.test/a": {
			rawItem(t, map[string]any{
				"source":         "eurlex",
				"source_item_id": "32026R0117",
				"title":          "Data Act implementing regulation",
				"summary":        "Switching obligations extended.",
				"published_at":   "2026-03-30T08:00:00Z",
				"area":           "data-protection",
			}),
		},
	}}
	svc := newTestService(store, fetcher, &fakeEmbedder{}, &fakeIndex{}, []string{"https://feeds.test/a"})

	result, err := svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Inserted != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}

	law, ok := store.laws["eurlex:32026R0117"]
	if !ok {
		t.Fatal("law not stored")
	}
	if law.Area != "data-protection" {
		t.Fatalf("area = %q", law.Area)
	}
	if len(store.refs[law.LawID]) != 1 {
		t.Fatalf("refs = %+v", store.refs)
	}
}

func TestSyncMergesCrossSourceDuplicate(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	itemA := rawItem(t, map[string]any{
		"source":         "eurlex",
		"source_item_id": "573c",
		"title":          "Kündigungsfrist §573c BGB geändert",
		"summary":        "Die Frist wurde angepasst.",
	})
	itemB := rawItem(t, map[string]any{
		"source":         "bgbl",
		"source_item_id": "1-2026-44",
		"title":          "KÜNDIGUNGSFRIST  §573c BGB GEÄNDERT",
		"summary":        "die frist wurde angepasst.",
	})

	store := newFakeStore()
	fetcher := &fakeFetcher{itemsByURL: map[string][]json.RawMessage{
		"https://feeds.test/a": {itemA},
		"https://feeds.test/b": {itemB},
	}}
	svc := newTestService(store, fetcher, &fakeEmbedder{}, &fakeIndex{}, []string{"https://feeds.test/a", "https://feeds.test/b"})

	result, err := svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Inserted != 1 || result.Merged != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(store.laws) != 1 {
		t.Fatalf("laws = %d, want one merged record", len(store.laws))
	}
	if got := store.refs["eurlex:573c"]; len(got) != 2 {
		t.Fatalf("merged law should reference both sources, got %+v", got)
	}
}

func TestSyncIngestsSameContentOnce(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	item := rawItem(t, map[string]any{
		"source":         "eurlex",
		"source_item_id": "573c",
		"title":          "Kündigungsfrist geändert",
		"summary":        "Frist angepasst.",
	})
	store := newFakeStore()
	fetcher := &fakeFetcher{itemsByURL: map[string][]json.RawMessage{"https://feeds.test/a": {item, item}}}
	svc := newTestService(store, fetcher, &fakeEmbedder{}, &fakeIndex{}, []string{"https://feeds.test/a"})

	result, err := svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(store.laws) != 1 {
		t.Fatalf("laws = %d, want 1", len(store.laws))
	}
	if result.Inserted != 1 || result.Skipped != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestSyncResyncOfUndatedItemSkips(t *testing.T) {
	firstRun := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(firstRun)
	defer globaltime.ResetTime()

	item := rawItem(t, map[string]any{
		"source":         "eurlex",
		"source_item_id": "573c",
		"title":          "Kündigungsfrist geändert",
		"summary":        "Frist angepasst.",
	})
	store := newFakeStore()
	fetcher := &fakeFetcher{itemsByURL: map[string][]json.RawMessage{"https://feeds.test/a": {item}}}
	svc := newTestService(store, fetcher, &fakeEmbedder{}, &fakeIndex{}, []string{"https://feeds.test/a"})

	if _, err := svc.Sync(context.Background()); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	// A day later the feed still serves the same undated item. Fetch time
	// moved on; the law did not.
	globaltime.SetMockTime(firstRun.Add(24 * time.Hour))
	result, err := svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if result.Updated != 0 || result.Skipped != 1 {
		t.Fatalf("result = %+v", result)
	}
	if got := store.laws["eurlex:573c"].UpdatedAt; !got.Equal(firstRun) {
		t.Fatalf("updated_at advanced to %v on unchanged content", got)
	}
}

func TestSyncSkipsMalformedAndOldItems(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	store := newFakeStore()
	fetcher := &fakeFetcher{itemsByURL: map[string][]json.RawMessage{
		"https://feeds.test/a": {
			json.RawMessage(`{"source":"eurlex","title":"missing id"}`),
			rawItem(t, map[string]any{
				"source":         "eurlex",
				"source_item_id": "ancient",
				"title":          "Old change",
				"summary":        "Too old to matter.",
				"published_at":   "2020-01-01T00:00:00Z",
			}),
			rawItem(t, map[string]any{
				"source":         "eurlex",
				"source_item_id": "fresh",
				"title":          "Fresh change",
				"summary":        "Recent.",
			}),
		},
	}}
	svc := newTestService(store, fetcher, &fakeEmbedder{}, &fakeIndex{}, []string{"https://feeds.test/a"})

	result, err := svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Skipped != 2 || result.Inserted != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestSyncUpdatesInPlaceAndInvalidatesVectors(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	store := newFakeStore()
	index := &fakeIndex{}
	first := rawItem(t, map[string]any{
		"source":         "eurlex",
		"source_item_id": "573c",
		"title":          "Kündigungsfrist geändert",
		"summary":        "Erste Fassung.",
		"published_at":   "2026-03-20T08:00:00Z",
	})
	second := rawItem(t, map[string]any{
		"source":         "eurlex",
		"source_item_id": "573c",
		"title":          "Kündigungsfrist geändert",
		"summary":        "Zweite, erweiterte Fassung mit Details.",
		"published_at":   "2026-03-25T08:00:00Z",
	})

	fetcher := &fakeFetcher{itemsByURL: map[string][]json.RawMessage{"https://feeds.test/a": {first}}}
	svc := newTestService(store, fetcher, &fakeEmbedder{}, index, []string{"https://feeds.test/a"})

	if _, err := svc.Sync(context.Background()); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	fetcher.itemsByURL["https://feeds.test/a"] = []json.RawMessage{second}
	result, err := svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("result = %+v", result)
	}
	if store.laws["eurlex:573c"].Summary != "Zweite, erweiterte Fassung mit Details." {
		t.Fatalf("summary not updated: %q", store.laws["eurlex:573c"].Summary)
	}
	if len(store.deleted) != 1 || len(index.deletes) != 1 {
		t.Fatalf("vectors not invalidated: store=%v index=%v", store.deleted, index.deletes)
	}
}

func TestEmbedMissingUpsertsLawVectors(t *testing.T) {
	store := newFakeStore()
	store.laws["eurlex:573c"] = db.LawUpdate{
		LawID:     "eurlex:573c",
		Title:     "Kündigungsfrist geändert",
		Summary:   "Die Frist wurde angepasst.",
		Area:      "tenancy",
		UpdatedAt: time.Date(2026, 3, 25, 8, 0, 0, 0, time.UTC),
	}
	store.refs["eurlex:573c"] = []db.LawSourceRef{{LawID: "eurlex:573c", Source: "eurlex"}}

	embedder := &fakeEmbedder{}
	index := &fakeIndex{}
	svc := newTestService(store, &fakeFetcher{}, embedder, index, nil)

	result, err := svc.EmbedMissing(context.Background())
	if err != nil {
		t.Fatalf("EmbedMissing: %v", err)
	}
	if result.Embedded != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
	if len(index.upserts) != 1 {
		t.Fatalf("upserts = %d", len(index.upserts))
	}
	rec := index.upserts[0]
	if rec.ID != "eurlex:573c_chunk_0" || rec.Partition != vectorindex.PartitionLaw {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Area != "tenancy" || rec.Source != "eurlex" {
		t.Fatalf("metadata = %+v", rec)
	}
}

func TestEmbedMissingPagesOversizedLaw(t *testing.T) {
	store := newFakeStore()
	store.laws["eurlex:long"] = db.LawUpdate{
		LawID:     "eurlex:long",
		Title:     "Langer Titel",
		Summary:   "Eins zwei. Drei vier. Fünf sechs. Sieben acht. Neun zehn. Elf zwölf.",
		UpdatedAt: time.Date(2026, 3, 25, 8, 0, 0, 0, time.UTC),
	}

	embedder := &fakeEmbedder{limit: 2}
	index := &fakeIndex{}
	svc := NewService(
		store, &fakeFetcher{}, embedder, index,
		textproc.NewRedactor("test-key"), textproc.NewChunker(2),
		Options{}, zerolog.Nop(),
	)

	result, err := svc.EmbedMissing(context.Background())
	if err != nil {
		t.Fatalf("EmbedMissing: %v", err)
	}
	if result.Embedded != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
	if len(index.upserts) <= embedder.BatchLimit() {
		t.Fatalf("upserts = %d, want every chunk past one batch", len(index.upserts))
	}
	if embedder.calls < 2 {
		t.Fatalf("calls = %d, want the chunks paged over several batches", embedder.calls)
	}
	if embedder.maxBatch > embedder.BatchLimit() {
		t.Fatalf("batch of %d exceeds limit %d", embedder.maxBatch, embedder.BatchLimit())
	}
	for i, rec := range index.upserts {
		if want := fmt.Sprintf("eurlex:long_chunk_%d", i); rec.ID != want {
			t.Fatalf("record %d = %q, want %q", i, rec.ID, want)
		}
	}
}

func TestFingerprintRecordKeepsRefEncoding(t *testing.T) {
	law := db.LawUpdate{LawID: "eurlex:573c", Title: "Kündigungsfrist geändert"}
	refs := []db.LawSourceRef{
		{LawID: "eurlex:573c", Source: "eurlex", SourceItemID: "573c"},
		{LawID: "eurlex:573c", Source: "bgbl", SourceItemID: "1-2026-44"},
	}

	record := toFingerprintRecord(law, refs)

	want := []fingerprint.SourceRef{
		{Source: "eurlex", LawID: "573c"},
		{Source: "bgbl", LawID: "1-2026-44"},
	}
	if len(record.SourceRefs) != len(want) {
		t.Fatalf("refs = %+v", record.SourceRefs)
	}
	for i, ref := range record.SourceRefs {
		if ref != want[i] {
			t.Fatalf("ref %d = %+v, want %+v", i, ref, want[i])
		}
	}
}
