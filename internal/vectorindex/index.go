// Package vectorindex keeps the queryable projection of embedded chunks:
// a write-through in-memory index backed by the durable vector_records
// table. The process rebuilds the memory side from storage on startup, so
// a crash never loses indexed state.
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Partition separates contract vectors from law vectors. Queries never
// cross partitions.
type Partition string

const (
	PartitionContract Partition = "contract"
	PartitionLaw      Partition = "law"
)

// Record is one embedded chunk with the metadata matching needs.
type Record struct {
	ID        string
	Partition Partition
	Embedding []float64
	Text      string
	OwnerID   string
	Area      string
	Source    string
	UpdatedAt time.Time
}

// Match is a query hit.
type Match struct {
	Record Record
	Score  float64
}

// Stats summarizes index contents.
type Stats struct {
	Contracts int       `json:"contracts"`
	Laws      int       `json:"laws"`
	OldestAt  time.Time `json:"oldest_at"`
	NewestAt  time.Time `json:"newest_at"`
}

// Store is the durable side of the index.
type Store interface {
	UpsertVectorRecord(ctx context.Context, rec Record) error
	ListVectorRecords(ctx context.Context) ([]Record, error)
}

// Index is safe for concurrent use. Writes go to the store first and only
// then to memory, so memory never claims state the database lost.
type Index struct {
	store Store

	mu      sync.RWMutex
	records map[Partition]map[string]Record
}

// New returns an empty Index over the given store. Call Rebuild before
// serving queries.
func New(store Store) *Index {
	return &Index{
		store: store,
		records: map[Partition]map[string]Record{
			PartitionContract: {},
			PartitionLaw:      {},
		},
	}
}

// Rebuild replaces the in-memory state with the store's contents.
func (ix *Index) Rebuild(ctx context.Context) error {
	stored, err := ix.store.ListVectorRecords(ctx)
	if err != nil {
		return fmt.Errorf("list vector records: %w", err)
	}

	fresh := map[Partition]map[string]Record{
		PartitionContract: {},
		PartitionLaw:      {},
	}
	for _, rec := range stored {
		part, ok := fresh[rec.Partition]
		if !ok {
			return fmt.Errorf("record %s has unknown partition %q", rec.ID, rec.Partition)
		}
		if current, exists := part[rec.ID]; exists && current.UpdatedAt.After(rec.UpdatedAt) {
			continue
		}
		part[rec.ID] = rec
	}

	ix.mu.Lock()
	ix.records = fresh
	ix.mu.Unlock()
	return nil
}

// Upsert persists the record and mirrors it into memory. An existing entry
// with a strictly newer UpdatedAt wins over the incoming one, so replayed
// or out-of-order writes cannot roll the index backwards.
func (ix *Index) Upsert(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("vector record id is empty")
	}
	if rec.Partition != PartitionContract && rec.Partition != PartitionLaw {
		return fmt.Errorf("unknown partition %q", rec.Partition)
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("vector record %s has no embedding", rec.ID)
	}

	if err := ix.store.UpsertVectorRecord(ctx, rec); err != nil {
		return fmt.Errorf("persist vector record %s: %w", rec.ID, err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if current, exists := ix.records[rec.Partition][rec.ID]; exists && current.UpdatedAt.After(rec.UpdatedAt) {
		return nil
	}
	ix.records[rec.Partition][rec.ID] = rec
	return nil
}

// Delete removes all records in a partition owned by ownerID from memory.
// The durable side is the caller's responsibility (cascade on re-index).
func (ix *Index) Delete(partition Partition, ownerID string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	removed := 0
	for id, rec := range ix.records[partition] {
		if rec.OwnerID == ownerID {
			delete(ix.records[partition], id)
			removed++
		}
	}
	return removed
}

// Query returns up to k records from the partition with cosine similarity
// to the query vector at or above minScore, ordered by score descending.
// Ties break on newer UpdatedAt, then lexically smaller ID, so results are
// deterministic.
func (ix *Index) Query(partition Partition, embedding []float64, k int, minScore float64) []Match {
	if k <= 0 || len(embedding) == 0 {
		return nil
	}

	ix.mu.RLock()
	matches := make([]Match, 0, len(ix.records[partition]))
	for _, rec := range ix.records[partition] {
		score := cosine(embedding, rec.Embedding)
		if score < minScore {
			continue
		}
		matches = append(matches, Match{Record: rec, Score: score})
	}
	ix.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if !matches[i].Record.UpdatedAt.Equal(matches[j].Record.UpdatedAt) {
			return matches[i].Record.UpdatedAt.After(matches[j].Record.UpdatedAt)
		}
		return matches[i].Record.ID < matches[j].Record.ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Get returns the record with the given id, if present.
func (ix *Index) Get(partition Partition, id string) (Record, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	rec, ok := ix.records[partition][id]
	return rec, ok
}

// ListByOwner returns every record in a partition owned by ownerID,
// ordered by ID for determinism.
func (ix *Index) ListByOwner(partition Partition, ownerID string) []Record {
	ix.mu.RLock()
	var owned []Record
	for _, rec := range ix.records[partition] {
		if rec.OwnerID == ownerID {
			owned = append(owned, rec)
		}
	}
	ix.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool { return owned[i].ID < owned[j].ID })
	return owned
}

// Stats reports per-partition counts and the update-time spread.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var s Stats
	s.Contracts = len(ix.records[PartitionContract])
	s.Laws = len(ix.records[PartitionLaw])
	for _, part := range ix.records {
		for _, rec := range part {
			if s.OldestAt.IsZero() || rec.UpdatedAt.Before(s.OldestAt) {
				s.OldestAt = rec.UpdatedAt
			}
			if rec.UpdatedAt.After(s.NewestAt) {
				s.NewestAt = rec.UpdatedAt
			}
		}
	}
	return s
}

// cosine returns similarity in [-1, 1], or 0 when either vector has zero
// norm or the lengths disagree.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
