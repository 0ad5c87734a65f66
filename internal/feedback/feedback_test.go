package feedback

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/noah04091/contract-ai-sub015/internal/db"
	"github.com/noah04091/contract-ai-sub015/internal/pipeline"
)

type fakeStore struct {
	notifications map[string]db.Notification
	feedback      map[string]db.Feedback
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		notifications: map[string]db.Notification{},
		feedback:      map[string]db.Feedback{},
	}
}

func (s *fakeStore) GetNotificationByUUID(_ context.Context, uuid string) (db.Notification, error) {
	n, ok := s.notifications[uuid]
	if !ok {
		return db.Notification{}, db.ErrNoRows
	}
	return n, nil
}

func (s *fakeStore) UpsertFeedback(_ context.Context, f db.Feedback) error {
	key := f.AlertID + "/" + f.UserID
	if existing, ok := s.feedback[key]; ok {
		f.CreatedAt = existing.CreatedAt
	}
	s.feedback[key] = f
	return nil
}

func (s *fakeStore) ListFeedback(_ context.Context) ([]db.Feedback, error) {
	var all []db.Feedback
	for _, f := range s.feedback {
		all = append(all, f)
	}
	return all, nil
}

func TestRecordCopiesScoreAndArea(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.notifications["alert-1"] = db.Notification{NotificationUUID: "alert-1", Score: 0.82, Area: "tenancy"}
	svc := NewService(store, zerolog.Nop())

	if err := svc.Record(context.Background(), "alert-1", "u1", "helpful"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	f := store.feedback["alert-1/u1"]
	if f.Score != 0.82 || f.Area != "tenancy" {
		t.Fatalf("feedback = %+v", f)
	}
}

func TestRecordResubmissionOverwrites(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.notifications["alert-1"] = db.Notification{NotificationUUID: "alert-1", Score: 0.55}
	svc := NewService(store, zerolog.Nop())

	if err := svc.Record(context.Background(), "alert-1", "u1", "not_helpful"); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	if err := svc.Record(context.Background(), "alert-1", "u1", "helpful"); err != nil {
		t.Fatalf("second Record: %v", err)
	}

	if len(store.feedback) != 1 {
		t.Fatalf("feedback rows = %d, want 1", len(store.feedback))
	}
	if store.feedback["alert-1/u1"].Rating != "helpful" {
		t.Fatalf("rating = %q, want the latest", store.feedback["alert-1/u1"].Rating)
	}
}

func TestRecordRejectsBadInput(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.notifications["alert-1"] = db.Notification{NotificationUUID: "alert-1"}
	svc := NewService(store, zerolog.Nop())

	if err := svc.Record(context.Background(), "alert-1", "u1", "meh"); !pipeline.IsValidation(err) {
		t.Fatalf("bad rating: %v", err)
	}
	if err := svc.Record(context.Background(), "", "u1", "helpful"); !pipeline.IsValidation(err) {
		t.Fatalf("empty alert id: %v", err)
	}
	if err := svc.Record(context.Background(), "ghost", "u1", "helpful"); !pipeline.IsValidation(err) {
		t.Fatalf("unknown alert: %v", err)
	}
}

func TestAggregateRollsUp(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.feedback["a/u1"] = db.Feedback{AlertID: "a", UserID: "u1", Rating: "helpful", Score: 0.85, Area: "tenancy"}
	store.feedback["b/u1"] = db.Feedback{AlertID: "b", UserID: "u1", Rating: "helpful", Score: 0.75, Area: "tenancy"}
	store.feedback["c/u1"] = db.Feedback{AlertID: "c", UserID: "u1", Rating: "not_helpful", Score: 0.55, Area: "labor"}
	store.feedback["d/u2"] = db.Feedback{AlertID: "d", UserID: "u2", Rating: "not_helpful", Score: 0.58, Area: "labor"}
	svc := NewService(store, zerolog.Nop())

	agg, err := svc.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if agg.Total != 4 {
		t.Fatalf("total = %d", agg.Total)
	}
	if math.Abs(agg.HelpfulRate-0.5) > 1e-9 {
		t.Fatalf("helpful rate = %f", agg.HelpfulRate)
	}
	if got := agg.ByArea["tenancy"]; got.HelpfulRate != 1 || got.Count != 2 {
		t.Fatalf("tenancy = %+v", got)
	}
	if got := agg.ByArea["labor"]; got.HelpfulRate != 0 || got.Count != 2 {
		t.Fatalf("labor = %+v", got)
	}
	if math.Abs(agg.AvgScoreHelpful-0.8) > 1e-9 {
		t.Fatalf("avg helpful score = %f", agg.AvgScoreHelpful)
	}
	if math.Abs(agg.AvgScoreNotHelpful-0.565) > 1e-9 {
		t.Fatalf("avg not-helpful score = %f", agg.AvgScoreNotHelpful)
	}

	foundMid := false
	for _, bucket := range agg.ByScoreBucket {
		if bucket.Bucket == "0.5-0.6" {
			foundMid = true
			if bucket.Count != 2 || bucket.HelpfulRate != 0 {
				t.Fatalf("bucket 0.5-0.6 = %+v", bucket)
			}
		}
	}
	if !foundMid {
		t.Fatal("missing 0.5-0.6 bucket")
	}
}

func TestAggregateEmpty(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeStore(), zerolog.Nop())
	agg, err := svc.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if agg.Total != 0 || agg.HelpfulRate != 0 {
		t.Fatalf("agg = %+v", agg)
	}
}

func TestScoreBucket(t *testing.T) {
	t.Parallel()

	cases := map[float64]string{
		0.0:  "0.0-0.1",
		0.55: "0.5-0.6",
		0.69: "0.6-0.7",
		1.0:  "0.9-1.0",
		1.3:  "0.9-1.0",
		-0.1: "0.0-0.1",
	}
	for score, want := range cases {
		if got := scoreBucket(score); got != want {
			t.Errorf("scoreBucket(%f) = %q, want %q", score, got, want)
		}
	}
}
