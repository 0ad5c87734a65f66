package httpapi

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/noah04091/contract-ai-sub015/internal/globaltime"
)

// StatusStore is the slice of the database layer the status surface needs.
type StatusStore interface {
	Ping(ctx context.Context) error
	CountLawUpdates(ctx context.Context) (int64, error)
	CountLawUpdatesSince(ctx context.Context, since time.Time) (int64, error)
	CountStaleContracts(ctx context.Context) (int64, error)
	CountNotificationsSince(ctx context.Context, since time.Time) (int64, error)
	CountPendingDigestEntries(ctx context.Context) (map[string]int64, error)
	FeedbackHelpfulRate(ctx context.Context) (float64, int64, error)
}

// statusReport uses pointers so a metric whose query failed renders as null
// instead of a misleading zero.
type statusReport struct {
	LawUpdatesTotal     *int64           `json:"law_updates_total"`
	LawUpdates24h       *int64           `json:"law_updates_24h"`
	StaleContracts      *int64           `json:"stale_contracts"`
	Notifications24h    *int64           `json:"notifications_24h"`
	PendingDigests      map[string]int64 `json:"pending_digests"`
	FeedbackTotal       *int64           `json:"feedback_total"`
	FeedbackHelpfulRate *float64         `json:"feedback_helpful_rate"`
}

// handleStatus computes every metric independently. A failed metric is
// logged and reported as null; the rest of the report still comes back.
func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	dayAgo := globaltime.Now().UTC().Add(-24 * time.Hour)

	var report statusReport

	if n, err := s.store.CountLawUpdates(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("status: law update count unavailable")
	} else {
		report.LawUpdatesTotal = &n
	}

	if n, err := s.store.CountLawUpdatesSince(ctx, dayAgo); err != nil {
		s.logger.Warn().Err(err).Msg("status: recent law update count unavailable")
	} else {
		report.LawUpdates24h = &n
	}

	if n, err := s.store.CountStaleContracts(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("status: stale contract count unavailable")
	} else {
		report.StaleContracts = &n
	}

	if n, err := s.store.CountNotificationsSince(ctx, dayAgo); err != nil {
		s.logger.Warn().Err(err).Msg("status: recent notification count unavailable")
	} else {
		report.Notifications24h = &n
	}

	if counts, err := s.store.CountPendingDigestEntries(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("status: pending digest counts unavailable")
	} else {
		report.PendingDigests = counts
	}

	if rate, total, err := s.store.FeedbackHelpfulRate(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("status: feedback rate unavailable")
	} else {
		report.FeedbackTotal = &total
		report.FeedbackHelpfulRate = &rate
	}

	return success(c, report)
}
