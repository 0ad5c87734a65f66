package db

import (
	"context"
	"fmt"
	"time"
)

// UpsertFeedback stores one rating per (alert, user). A resubmission
// overwrites the previous rating, keeping the original created_at.
func (p *Pool) UpsertFeedback(ctx context.Context, f Feedback) error {
	const q = `
		INSERT INTO lawmon.feedback (alert_id, user_id, rating, score, area, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (alert_id, user_id) DO UPDATE SET
			rating = EXCLUDED.rating,
			score = EXCLUDED.score,
			area = EXCLUDED.area,
			updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := f.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	if _, err := p.Exec(ctx, q, f.AlertID, f.UserID, f.Rating, f.Score, f.Area, createdAt, updatedAt); err != nil {
		return fmt.Errorf("upsert feedback %s/%s: %w", f.AlertID, f.UserID, err)
	}
	return nil
}

func (p *Pool) ListFeedback(ctx context.Context) ([]Feedback, error) {
	const q = `
		SELECT alert_id, user_id, rating, score, area, created_at, updated_at
		FROM lawmon.feedback`

	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var all []Feedback
	for rows.Next() {
		var f Feedback
		if err := rows.Scan(&f.AlertID, &f.UserID, &f.Rating, &f.Score, &f.Area, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		all = append(all, f)
	}
	return all, rows.Err()
}
