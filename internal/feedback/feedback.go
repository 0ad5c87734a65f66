// Package feedback records per-alert helpfulness ratings and rolls them up
// into the tuning signal for the matcher's similarity floor. The rollup is
// a read-only signal; it never adjusts thresholds itself.
package feedback

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah04091/contract-ai-sub015/internal/db"
	"github.com/noah04091/contract-ai-sub015/internal/globaltime"
	"github.com/noah04091/contract-ai-sub015/internal/pipeline"
)

const (
	RatingHelpful    = "helpful"
	RatingNotHelpful = "not_helpful"
)

// Store is the persistence surface the aggregator needs.
type Store interface {
	GetNotificationByUUID(ctx context.Context, notificationUUID string) (db.Notification, error)
	UpsertFeedback(ctx context.Context, f db.Feedback) error
	ListFeedback(ctx context.Context) ([]db.Feedback, error)
}

type Service struct {
	store  Store
	logger zerolog.Logger
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Record upserts one rating for an alert. Score and area are copied from
// the notification at write time so the rollup stays stable even if the
// notification is later cleaned up.
func (s *Service) Record(ctx context.Context, alertID, userID, rating string) error {
	rating = strings.ToLower(strings.TrimSpace(rating))
	if rating != RatingHelpful && rating != RatingNotHelpful {
		return pipeline.Invalid("rating", fmt.Errorf("must be %s or %s", RatingHelpful, RatingNotHelpful))
	}
	if strings.TrimSpace(alertID) == "" {
		return pipeline.Invalid("alertId", fmt.Errorf("must not be empty"))
	}
	if strings.TrimSpace(userID) == "" {
		return pipeline.Invalid("userId", fmt.Errorf("must not be empty"))
	}

	notification, err := s.store.GetNotificationByUUID(ctx, alertID)
	if err != nil {
		if db.IsNoRows(err) {
			return pipeline.Invalid("alertId", fmt.Errorf("unknown alert %s", alertID))
		}
		return fmt.Errorf("load notification: %w", err)
	}

	now := globaltime.Now().UTC()
	err = s.store.UpsertFeedback(ctx, db.Feedback{
		AlertID:   alertID,
		UserID:    userID,
		Rating:    rating,
		Score:     notification.Score,
		Area:      notification.Area,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return err
	}
	s.logger.Debug().Str("alert_id", alertID).Str("rating", rating).Msg("feedback recorded")
	return nil
}

// AreaStat is the helpfulness rollup for one legal area.
type AreaStat struct {
	HelpfulRate float64 `json:"helpful_rate"`
	Count       int     `json:"count"`
}

// BucketStat is the helpfulness rollup for one 0.1-wide score bucket.
type BucketStat struct {
	Bucket      string  `json:"bucket"`
	HelpfulRate float64 `json:"helpful_rate"`
	Count       int     `json:"count"`
}

// Aggregate is the full tuning signal.
type Aggregate struct {
	Total              int                 `json:"total"`
	HelpfulRate        float64             `json:"helpful_rate"`
	ByArea             map[string]AreaStat `json:"by_area"`
	ByScoreBucket      []BucketStat        `json:"by_score_bucket"`
	AvgScoreHelpful    float64             `json:"avg_score_helpful"`
	AvgScoreNotHelpful float64             `json:"avg_score_not_helpful"`
}

// Aggregate computes the rollup over all stored feedback.
func (s *Service) Aggregate(ctx context.Context) (Aggregate, error) {
	all, err := s.store.ListFeedback(ctx)
	if err != nil {
		return Aggregate{}, fmt.Errorf("list feedback: %w", err)
	}

	agg := Aggregate{ByArea: map[string]AreaStat{}}
	agg.Total = len(all)
	if len(all) == 0 {
		return agg, nil
	}

	type counter struct {
		helpful int
		total   int
	}
	areas := map[string]*counter{}
	buckets := map[string]*counter{}
	helpfulCount := 0
	var helpfulScoreSum, notHelpfulScoreSum float64
	notHelpfulCount := 0

	for _, f := range all {
		helpful := f.Rating == RatingHelpful
		if helpful {
			helpfulCount++
			helpfulScoreSum += f.Score
		} else {
			notHelpfulCount++
			notHelpfulScoreSum += f.Score
		}

		area := f.Area
		if area == "" {
			area = "unknown"
		}
		if areas[area] == nil {
			areas[area] = &counter{}
		}
		areas[area].total++
		if helpful {
			areas[area].helpful++
		}

		bucket := scoreBucket(f.Score)
		if buckets[bucket] == nil {
			buckets[bucket] = &counter{}
		}
		buckets[bucket].total++
		if helpful {
			buckets[bucket].helpful++
		}
	}

	agg.HelpfulRate = float64(helpfulCount) / float64(len(all))
	if helpfulCount > 0 {
		agg.AvgScoreHelpful = helpfulScoreSum / float64(helpfulCount)
	}
	if notHelpfulCount > 0 {
		agg.AvgScoreNotHelpful = notHelpfulScoreSum / float64(notHelpfulCount)
	}
	for area, c := range areas {
		agg.ByArea[area] = AreaStat{HelpfulRate: float64(c.helpful) / float64(c.total), Count: c.total}
	}
	for bucket, c := range buckets {
		agg.ByScoreBucket = append(agg.ByScoreBucket, BucketStat{
			Bucket:      bucket,
			HelpfulRate: float64(c.helpful) / float64(c.total),
			Count:       c.total,
		})
	}
	sort.Slice(agg.ByScoreBucket, func(i, j int) bool {
		return agg.ByScoreBucket[i].Bucket < agg.ByScoreBucket[j].Bucket
	})
	return agg, nil
}

// scoreBucket maps a similarity score onto a 0.1-wide label like "0.6-0.7".
func scoreBucket(score float64) string {
	if score < 0 {
		score = 0
	}
	if score >= 1 {
		return "0.9-1.0"
	}
	low := float64(int(score*10)) / 10
	return fmt.Sprintf("%.1f-%.1f", low, low+0.1)
}
