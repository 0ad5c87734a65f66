package db

import (
	"context"
	"fmt"
	"time"
)

// LatestNotificationAt returns the created_at of the most recent
// notification for the (contract, law) pair. The ok flag is false when the
// pair was never alerted.
func (p *Pool) LatestNotificationAt(ctx context.Context, contractID, lawID string) (time.Time, bool, error) {
	const q = `
		SELECT created_at
		FROM lawmon.notifications
		WHERE contract_id = ? AND law_id = ?
		ORDER BY created_at DESC
		LIMIT 1`

	var createdAt time.Time
	err := p.QueryRow(ctx, q, contractID, lawID).Scan(&createdAt)
	if IsNoRows(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest notification for %s/%s: %w", contractID, lawID, err)
	}
	return createdAt, true, nil
}

// InsertNotification stores an alert and returns it with the generated id
// and uuid filled in.
func (p *Pool) InsertNotification(ctx context.Context, n Notification) (Notification, error) {
	const q = `
		INSERT INTO lawmon.notifications (contract_id, law_id, user_id, score, area, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING notification_id, notification_uuid`

	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err := p.QueryRow(ctx, q, n.ContractID, n.LawID, n.UserID, n.Score, n.Area, createdAt).
		Scan(&n.NotificationID, &n.NotificationUUID)
	if err != nil {
		return Notification{}, fmt.Errorf("insert notification %s/%s: %w", n.ContractID, n.LawID, err)
	}
	n.CreatedAt = createdAt
	return n, nil
}

func (p *Pool) GetNotificationByUUID(ctx context.Context, notificationUUID string) (Notification, error) {
	const q = `
		SELECT notification_id, notification_uuid, contract_id, law_id, user_id, score, area, created_at
		FROM lawmon.notifications
		WHERE notification_uuid = ?`

	var n Notification
	err := p.QueryRow(ctx, q, notificationUUID).Scan(
		&n.NotificationID, &n.NotificationUUID, &n.ContractID, &n.LawID,
		&n.UserID, &n.Score, &n.Area, &n.CreatedAt,
	)
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

func (p *Pool) InsertDigestEntry(ctx context.Context, e DigestQueueEntry) error {
	const q = `
		INSERT INTO lawmon.digest_queue (user_id, digest_mode, notification_id, queued, sent, queued_at)
		VALUES (?, ?, ?, true, false, ?)
		ON CONFLICT (notification_id) DO NOTHING`

	queuedAt := e.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = time.Now().UTC()
	}
	if _, err := p.Exec(ctx, q, e.UserID, e.DigestMode, e.NotificationID, queuedAt); err != nil {
		return fmt.Errorf("insert digest entry for notification %d: %w", e.NotificationID, err)
	}
	return nil
}

// PendingDigestItem is one queued alert joined with the detail a digest
// message needs.
type PendingDigestItem struct {
	EntryID          int64
	UserID           string
	UserEmail        string
	NotificationUUID string
	ContractID       string
	ContractName     string
	LawID            string
	LawTitle         string
	Score            float64
	Area             string
	QueuedAt         time.Time
}

// ListPendingDigestEntries returns queued, unsent entries for one digest
// mode, ordered per user by queue time.
func (p *Pool) ListPendingDigestEntries(ctx context.Context, mode string) ([]PendingDigestItem, error) {
	const q = `
		SELECT d.entry_id, d.user_id, COALESCE(u.email, ''), n.notification_uuid,
			n.contract_id, COALESCE(c.name, ''), n.law_id, COALESCE(l.title, ''),
			n.score, n.area, d.queued_at
		FROM lawmon.digest_queue d
		JOIN lawmon.notifications n ON n.notification_id = d.notification_id
		LEFT JOIN lawmon.users u ON u.user_id = d.user_id
		LEFT JOIN lawmon.contracts c ON c.contract_id = n.contract_id
		LEFT JOIN lawmon.law_updates l ON l.law_id = n.law_id
		WHERE d.digest_mode = ? AND d.queued AND NOT d.sent
		ORDER BY d.user_id, d.queued_at ASC`

	rows, err := p.Query(ctx, q, mode)
	if err != nil {
		return nil, fmt.Errorf("list pending digest entries for %s: %w", mode, err)
	}
	defer rows.Close()

	var items []PendingDigestItem
	for rows.Next() {
		var item PendingDigestItem
		if err := rows.Scan(
			&item.EntryID, &item.UserID, &item.UserEmail, &item.NotificationUUID,
			&item.ContractID, &item.ContractName, &item.LawID, &item.LawTitle,
			&item.Score, &item.Area, &item.QueuedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkDigestEntriesSent flips entries to sent. Marking happens after
// delivery, so a crash in between re-delivers rather than loses.
func (p *Pool) MarkDigestEntriesSent(ctx context.Context, entryIDs []int64, sentAt time.Time) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	const q = `
		UPDATE lawmon.digest_queue
		SET sent = true, sent_at = ?
		WHERE entry_id IN ? AND NOT sent`

	tag, err := p.Exec(ctx, q, sentAt, entryIDs)
	if err != nil {
		return 0, fmt.Errorf("mark digest entries sent: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteSentDigestEntries removes sent entries past the retention window.
func (p *Pool) DeleteSentDigestEntries(ctx context.Context, olderThan time.Time) (int64, error) {
	const q = `
		DELETE FROM lawmon.digest_queue
		WHERE sent AND sent_at IS NOT NULL AND sent_at < ?`

	tag, err := p.Exec(ctx, q, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete sent digest entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
