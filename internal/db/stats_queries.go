package db

import (
	"context"
	"fmt"
	"time"
)

// Each status metric is its own query so one failing table or index does
// not take down the whole status surface.

func (p *Pool) CountLawUpdates(ctx context.Context) (int64, error) {
	const q = `SELECT count(*) FROM lawmon.law_updates`

	var n int64
	if err := p.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count law updates: %w", err)
	}
	return n, nil
}

func (p *Pool) CountLawUpdatesSince(ctx context.Context, since time.Time) (int64, error) {
	const q = `SELECT count(*) FROM lawmon.law_updates WHERE updated_at >= ?`

	var n int64
	if err := p.QueryRow(ctx, q, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count recent law updates: %w", err)
	}
	return n, nil
}

func (p *Pool) CountStaleContracts(ctx context.Context) (int64, error) {
	const q = `
		SELECT count(*) FROM lawmon.contracts
		WHERE last_indexed_at IS NULL OR last_indexed_at < updated_at`

	var n int64
	if err := p.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stale contracts: %w", err)
	}
	return n, nil
}

func (p *Pool) CountNotificationsSince(ctx context.Context, since time.Time) (int64, error) {
	const q = `SELECT count(*) FROM lawmon.notifications WHERE created_at >= ?`

	var n int64
	if err := p.QueryRow(ctx, q, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count recent notifications: %w", err)
	}
	return n, nil
}

// CountPendingDigestEntries reports queued, unsent entries per digest mode.
func (p *Pool) CountPendingDigestEntries(ctx context.Context) (map[string]int64, error) {
	const q = `
		SELECT digest_mode, count(*)
		FROM lawmon.digest_queue
		WHERE queued AND NOT sent
		GROUP BY digest_mode`

	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count pending digest entries: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var mode string
		var n int64
		if err := rows.Scan(&mode, &n); err != nil {
			return nil, err
		}
		counts[mode] = n
	}
	return counts, rows.Err()
}

// FeedbackHelpfulRate returns the share of helpful ratings and the total
// feedback count. With no feedback the rate is 0 over 0.
func (p *Pool) FeedbackHelpfulRate(ctx context.Context) (float64, int64, error) {
	const q = `
		SELECT COALESCE(avg(CASE WHEN rating = 'helpful' THEN 1.0 ELSE 0.0 END), 0), count(*)
		FROM lawmon.feedback`

	var rate float64
	var total int64
	if err := p.QueryRow(ctx, q).Scan(&rate, &total); err != nil {
		return 0, 0, fmt.Errorf("feedback helpful rate: %w", err)
	}
	return rate, total, nil
}
