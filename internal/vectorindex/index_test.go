package vectorindex

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[string]Record
	failOn  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]Record{}}
}

func (s *fakeStore) UpsertVectorRecord(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == rec.ID {
		return errors.New("store unavailable")
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *fakeStore) ListVectorRecords(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

func rec(id string, part Partition, vec []float64, owner string, at time.Time) Record {
	return Record{ID: id, Partition: part, Embedding: vec, OwnerID: owner, UpdatedAt: at}
}

func TestUpsertWritesThroughAndQueries(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	ix := New(store)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	if err := ix.Upsert(ctx, rec("law-1", PartitionLaw, []float64{1, 0}, "law-1", now)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := ix.Upsert(ctx, rec("law-2", PartitionLaw, []float64{0, 1}, "law-2", now)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if _, ok := store.records["law-1"]; !ok {
		t.Fatal("record not persisted")
	}

	matches := ix.Query(PartitionLaw, []float64{1, 0.1}, 5, 0.5)
	if len(matches) != 1 || matches[0].Record.ID != "law-1" {
		t.Fatalf("matches = %+v", matches)
	}
	if matches[0].Score < 0.9 {
		t.Fatalf("score = %f", matches[0].Score)
	}
}

func TestUpsertStoreFailureLeavesMemoryUntouched(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failOn = "law-1"
	ix := New(store)

	err := ix.Upsert(context.Background(), rec("law-1", PartitionLaw, []float64{1}, "law-1", time.Now()))
	if err == nil {
		t.Fatal("expected store error")
	}
	if _, ok := ix.Get(PartitionLaw, "law-1"); ok {
		t.Fatal("memory updated despite store failure")
	}
}

func TestUpsertOlderUpdateDoesNotWin(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	ix := New(store)
	ctx := context.Background()
	newer := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	if err := ix.Upsert(ctx, Record{ID: "c1_chunk_0", Partition: PartitionContract, Embedding: []float64{1, 0}, Text: "new", UpdatedAt: newer}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := ix.Upsert(ctx, Record{ID: "c1_chunk_0", Partition: PartitionContract, Embedding: []float64{0, 1}, Text: "old", UpdatedAt: older}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, _ := ix.Get(PartitionContract, "c1_chunk_0")
	if got.Text != "new" {
		t.Fatalf("stale write won: %+v", got)
	}
}

func TestRebuildRestoresFromStore(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	now := time.Now().UTC()
	store.records["law-1"] = rec("law-1", PartitionLaw, []float64{1, 0}, "law-1", now)
	store.records["c1_chunk_0"] = rec("c1_chunk_0", PartitionContract, []float64{0, 1}, "c1", now)

	ix := New(store)
	if err := ix.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	s := ix.Stats()
	if s.Laws != 1 || s.Contracts != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestQueryOrderingAndLimit(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	ix := New(store)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	ix.Upsert(ctx, rec("a", PartitionLaw, []float64{1, 0}, "a", base))
	ix.Upsert(ctx, rec("b", PartitionLaw, []float64{1, 0}, "b", base.Add(time.Hour)))
	ix.Upsert(ctx, rec("c", PartitionLaw, []float64{0.5, 0.5}, "c", base))

	matches := ix.Query(PartitionLaw, []float64{1, 0}, 2, 0)
	if len(matches) != 2 {
		t.Fatalf("got %d matches", len(matches))
	}
	// Equal scores: the newer record comes first.
	if matches[0].Record.ID != "b" || matches[1].Record.ID != "a" {
		t.Fatalf("order = %s, %s", matches[0].Record.ID, matches[1].Record.ID)
	}
}

func TestQueryPartitionsAreIsolated(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	ix := New(store)
	ctx := context.Background()
	ix.Upsert(ctx, rec("c1_chunk_0", PartitionContract, []float64{1, 0}, "c1", time.Now()))

	if got := ix.Query(PartitionLaw, []float64{1, 0}, 5, 0); len(got) != 0 {
		t.Fatalf("law query returned contract records: %+v", got)
	}
}

func TestDeleteRemovesOwnerChunks(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	ix := New(store)
	ctx := context.Background()
	now := time.Now()
	ix.Upsert(ctx, rec("c1_chunk_0", PartitionContract, []float64{1}, "c1", now))
	ix.Upsert(ctx, rec("c1_chunk_1", PartitionContract, []float64{1}, "c1", now))
	ix.Upsert(ctx, rec("c2_chunk_0", PartitionContract, []float64{1}, "c2", now))

	if removed := ix.Delete(PartitionContract, "c1"); removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if _, ok := ix.Get(PartitionContract, "c2_chunk_0"); !ok {
		t.Fatal("unrelated record removed")
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	if got := cosine([]float64{1, 0}, []float64{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("identical vectors: %f", got)
	}
	if got := cosine([]float64{1, 0}, []float64{0, 1}); math.Abs(got) > 1e-9 {
		t.Fatalf("orthogonal vectors: %f", got)
	}
	if got := cosine([]float64{0, 0}, []float64{1, 0}); got != 0 {
		t.Fatalf("zero norm: %f", got)
	}
	if got := cosine([]float64{1, 0}, []float64{1}); got != 0 {
		t.Fatalf("length mismatch: %f", got)
	}
}
