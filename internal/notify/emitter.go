package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah04091/contract-ai-sub015/internal/db"
	"github.com/noah04091/contract-ai-sub015/internal/globaltime"
	"github.com/noah04091/contract-ai-sub015/internal/matcher"
)

// EmitterStore is the persistence surface the emitter needs.
type EmitterStore interface {
	GetContract(ctx context.Context, contractID string) (db.Contract, error)
	GetUser(ctx context.Context, userID string) (db.User, error)
	GetLawUpdate(ctx context.Context, lawID string) (db.LawUpdate, error)
	LatestNotificationAt(ctx context.Context, contractID, lawID string) (time.Time, bool, error)
	InsertNotification(ctx context.Context, n db.Notification) (db.Notification, error)
	InsertDigestEntry(ctx context.Context, e db.DigestQueueEntry) error
}

// EmitterOptions configures suppression.
type EmitterOptions struct {
	SuppressionWindow time.Duration
}

type Emitter struct {
	store     EmitterStore
	deliverer Deliverer
	opts      EmitterOptions
	logger    zerolog.Logger
}

func NewEmitter(store EmitterStore, deliverer Deliverer, opts EmitterOptions, logger zerolog.Logger) *Emitter {
	if opts.SuppressionWindow <= 0 {
		opts.SuppressionWindow = 24 * time.Hour
	}
	return &Emitter{store: store, deliverer: deliverer, opts: opts, logger: logger}
}

// EmitResult summarizes one emission pass.
type EmitResult struct {
	Matches    int `json:"matches"`
	Created    int `json:"created"`
	Suppressed int `json:"suppressed"`
	Delivered  int `json:"delivered"`
	Queued     int `json:"queued"`
	Failed     int `json:"failed"`
}

// Emit converts matches into alerts. A repeat (contract, law) pair inside
// the suppression window produces nothing. Per-match failures are counted;
// the rest of the batch proceeds.
func (e *Emitter) Emit(ctx context.Context, matches []matcher.Match) (EmitResult, error) {
	var result EmitResult
	for _, match := range matches {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Matches++
		if err := e.emitOne(ctx, match, &result); err != nil {
			e.logger.Error().Err(err).
				Str("contract_id", match.ContractID).
				Str("law_id", match.LawID).
				Msg("emit alert failed")
			result.Failed++
		}
	}
	return result, nil
}

func (e *Emitter) emitOne(ctx context.Context, match matcher.Match, result *EmitResult) error {
	now := globaltime.Now().UTC()

	lastAt, exists, err := e.store.LatestNotificationAt(ctx, match.ContractID, match.LawID)
	if err != nil {
		return err
	}
	if exists && now.Sub(lastAt) < e.opts.SuppressionWindow {
		result.Suppressed++
		return nil
	}

	contract, err := e.store.GetContract(ctx, match.ContractID)
	if err != nil {
		return fmt.Errorf("load contract: %w", err)
	}

	notification, err := e.store.InsertNotification(ctx, db.Notification{
		ContractID: match.ContractID,
		LawID:      match.LawID,
		UserID:     contract.UserID,
		Score:      match.Score,
		Area:       match.Area,
		CreatedAt:  now,
	})
	if err != nil {
		return err
	}
	result.Created++

	// An unknown user falls back to instant so an alert is never silently
	// parked in a digest nobody drains.
	mode := "instant"
	email := ""
	if user, err := e.store.GetUser(ctx, contract.UserID); err == nil {
		mode = user.DigestMode
		email = user.Email
	} else if !db.IsNoRows(err) {
		return fmt.Errorf("load user: %w", err)
	}

	switch mode {
	case "daily", "weekly":
		err := e.store.InsertDigestEntry(ctx, db.DigestQueueEntry{
			UserID:         contract.UserID,
			DigestMode:     mode,
			NotificationID: notification.NotificationID,
			QueuedAt:       now,
		})
		if err != nil {
			return err
		}
		result.Queued++
		return nil
	default:
		lawTitle := ""
		if law, err := e.store.GetLawUpdate(ctx, match.LawID); err == nil {
			lawTitle = law.Title
		}
		err := e.deliverer.DeliverInstant(ctx, Alert{
			NotificationUUID: notification.NotificationUUID,
			UserID:           contract.UserID,
			UserEmail:        email,
			ContractID:       contract.ContractID,
			ContractName:     contract.Name,
			LawID:            match.LawID,
			LawTitle:         lawTitle,
			Score:            match.Score,
			Area:             match.Area,
		})
		if err != nil {
			// The notification row stays; the suppression window counts
			// the alert decision, not the delivery outcome.
			return fmt.Errorf("instant delivery: %w", err)
		}
		result.Delivered++
		return nil
	}
}
