package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah04091/contract-ai-sub015/internal/db"
	"github.com/noah04091/contract-ai-sub015/internal/globaltime"
)

// SchedulerStore is the persistence surface of digest runs.
type SchedulerStore interface {
	ListPendingDigestEntries(ctx context.Context, mode string) ([]db.PendingDigestItem, error)
	MarkDigestEntriesSent(ctx context.Context, entryIDs []int64, sentAt time.Time) (int64, error)
	DeleteSentDigestEntries(ctx context.Context, olderThan time.Time) (int64, error)
}

// Scheduler drains the digest queue per cadence. Delivery happens before
// marking, so a crash in between causes at most a duplicate send on the
// next run, never a lost entry.
type Scheduler struct {
	store     SchedulerStore
	deliverer Deliverer
	logger    zerolog.Logger
}

func NewScheduler(store SchedulerStore, deliverer Deliverer, logger zerolog.Logger) *Scheduler {
	return &Scheduler{store: store, deliverer: deliverer, logger: logger}
}

// DigestResult summarizes one digest run.
type DigestResult struct {
	Mode      string `json:"mode"`
	Pending   int    `json:"pending"`
	Delivered int    `json:"delivered"`
	Marked    int64  `json:"marked"`
	Failed    int    `json:"failed"`
}

// Run delivers all queued entries for one mode, one digest per user. A
// user whose delivery fails keeps their entries queued for the next run.
func (s *Scheduler) Run(ctx context.Context, mode string) (DigestResult, error) {
	result := DigestResult{Mode: mode}
	if mode != "daily" && mode != "weekly" {
		return result, fmt.Errorf("unknown digest mode %q", mode)
	}

	pending, err := s.store.ListPendingDigestEntries(ctx, mode)
	if err != nil {
		return result, fmt.Errorf("list pending digest entries: %w", err)
	}
	result.Pending = len(pending)
	if len(pending) == 0 {
		return result, nil
	}

	// Entries arrive ordered by user; group preserving that order.
	byUser := map[string][]db.PendingDigestItem{}
	var userOrder []string
	for _, item := range pending {
		if _, seen := byUser[item.UserID]; !seen {
			userOrder = append(userOrder, item.UserID)
		}
		byUser[item.UserID] = append(byUser[item.UserID], item)
	}

	var deliveredIDs []int64
	for _, userID := range userOrder {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		items := byUser[userID]
		email := items[0].UserEmail
		if err := s.deliverer.DeliverDigest(ctx, userID, email, items); err != nil {
			s.logger.Error().Err(err).Str("user_id", userID).Str("mode", mode).Msg("digest delivery failed")
			result.Failed++
			continue
		}
		result.Delivered++
		for _, item := range items {
			deliveredIDs = append(deliveredIDs, item.EntryID)
		}
	}

	if len(deliveredIDs) > 0 {
		marked, err := s.store.MarkDigestEntriesSent(ctx, deliveredIDs, globaltime.Now().UTC())
		if err != nil {
			return result, fmt.Errorf("mark digest entries sent: %w", err)
		}
		result.Marked = marked
	}
	return result, nil
}

// Cleanup removes sent entries older than the retention window.
func (s *Scheduler) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := globaltime.Now().UTC().Add(-retention)
	removed, err := s.store.DeleteSentDigestEntries(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup digest entries: %w", err)
	}
	return removed, nil
}
