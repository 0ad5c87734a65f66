// Package notify turns relevance matches into alerts: suppression,
// instant delivery, digest queueing, and the digest runs themselves.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah04091/contract-ai-sub015/internal/db"
)

// Alert is the delivery-facing view of a notification.
type Alert struct {
	NotificationUUID string  `json:"notification_uuid"`
	UserID           string  `json:"user_id"`
	UserEmail        string  `json:"user_email"`
	ContractID       string  `json:"contract_id"`
	ContractName     string  `json:"contract_name"`
	LawID            string  `json:"law_id"`
	LawTitle         string  `json:"law_title"`
	Score            float64 `json:"score"`
	Area             string  `json:"area"`
}

// Deliverer is the external delivery collaborator (mail, webhook, push).
type Deliverer interface {
	DeliverInstant(ctx context.Context, alert Alert) error
	DeliverDigest(ctx context.Context, userID, email string, items []db.PendingDigestItem) error
}

// LogDeliverer writes deliveries to the log. It stands in when no real
// delivery channel is configured, and in local runs.
type LogDeliverer struct {
	Logger zerolog.Logger
}

func (d LogDeliverer) DeliverInstant(_ context.Context, alert Alert) error {
	d.Logger.Info().
		Str("user_id", alert.UserID).
		Str("contract_id", alert.ContractID).
		Str("law_id", alert.LawID).
		Float64("score", alert.Score).
		Msg("instant alert delivered")
	return nil
}

func (d LogDeliverer) DeliverDigest(_ context.Context, userID, _ string, items []db.PendingDigestItem) error {
	d.Logger.Info().
		Str("user_id", userID).
		Int("items", len(items)).
		Msg("digest delivered")
	return nil
}
