package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/noah04091/contract-ai-sub015/internal/feedback"
	"github.com/noah04091/contract-ai-sub015/internal/pipeline"
	"github.com/noah04091/contract-ai-sub015/internal/vectorindex"
)

type fakeStatusStore struct {
	pingErr        error
	lawTotal       int64
	lawRecent      int64
	staleContracts int64
	notifications  int64
	pending        map[string]int64
	helpfulRate    float64
	feedbackTotal  int64

	staleErr   error
	pendingErr error
}

func (s *fakeStatusStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStatusStore) CountLawUpdates(context.Context) (int64, error) {
	return s.lawTotal, nil
}

func (s *fakeStatusStore) CountLawUpdatesSince(context.Context, time.Time) (int64, error) {
	return s.lawRecent, nil
}

func (s *fakeStatusStore) CountStaleContracts(context.Context) (int64, error) {
	if s.staleErr != nil {
		return 0, s.staleErr
	}
	return s.staleContracts, nil
}

func (s *fakeStatusStore) CountNotificationsSince(context.Context, time.Time) (int64, error) {
	return s.notifications, nil
}

func (s *fakeStatusStore) CountPendingDigestEntries(context.Context) (map[string]int64, error) {
	if s.pendingErr != nil {
		return nil, s.pendingErr
	}
	return s.pending, nil
}

func (s *fakeStatusStore) FeedbackHelpfulRate(context.Context) (float64, int64, error) {
	return s.helpfulRate, s.feedbackTotal, nil
}

type recordCall struct {
	alertID string
	userID  string
	rating  string
}

type fakeFeedbackService struct {
	recordErr    error
	recordCalls  []recordCall
	aggregate    feedback.Aggregate
	aggregateErr error
}

func (f *fakeFeedbackService) Record(_ context.Context, alertID, userID, rating string) error {
	f.recordCalls = append(f.recordCalls, recordCall{alertID: alertID, userID: userID, rating: rating})
	return f.recordErr
}

func (f *fakeFeedbackService) Aggregate(context.Context) (feedback.Aggregate, error) {
	return f.aggregate, f.aggregateErr
}

type fakeIndexReader struct {
	stats vectorindex.Stats
}

func (f *fakeIndexReader) Stats() vectorindex.Stats { return f.stats }

func newTestServer(store StatusStore, fb FeedbackRecorder, index IndexReader) *Server {
	return &Server{
		store:    store,
		feedback: fb,
		index:    index,
		logger:   zerolog.Nop(),
	}
}

func newJSONContext(
	method string,
	path string,
	body string,
) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandleHealth_ReportsOK(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeStatusStore{}, nil, nil)
	c, rec := newJSONContext(http.MethodGet, "/api/v1/health", "")

	if err := server.handleHealth(c); err != nil {
		t.Fatalf("handleHealth returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleHealth_DatabaseDownReturnsUnavailable(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeStatusStore{pingErr: errors.New("connection refused")}, nil, nil)
	c, rec := newJSONContext(http.MethodGet, "/api/v1/health", "")

	if err := server.handleHealth(c); err != nil {
		t.Fatalf("handleHealth returned error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleStatus_FailedMetricIsNullOthersSurvive(t *testing.T) {
	t.Parallel()

	store := &fakeStatusStore{
		lawTotal:      42,
		lawRecent:     3,
		notifications: 5,
		pending:       map[string]int64{"daily": 2},
		helpfulRate:   0.75,
		feedbackTotal: 8,
		staleErr:      errors.New("relation missing"),
	}
	server := newTestServer(store, nil, nil)
	c, rec := newJSONContext(http.MethodGet, "/api/v1/status", "")

	if err := server.handleStatus(c); err != nil {
		t.Fatalf("handleStatus returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}

	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Status != "success" {
		t.Fatalf("unexpected envelope status: %q", envelope.Status)
	}

	var report map[string]any
	if err := json.Unmarshal(envelope.Data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report["stale_contracts"] != nil {
		t.Fatalf("expected stale_contracts to be null, got %#v", report["stale_contracts"])
	}
	if got := report["law_updates_total"]; got != float64(42) {
		t.Fatalf("unexpected law_updates_total: %#v", got)
	}
	if got := report["feedback_helpful_rate"]; got != 0.75 {
		t.Fatalf("unexpected feedback_helpful_rate: %#v", got)
	}
}

func TestHandleIndexStats_ReturnsStats(t *testing.T) {
	t.Parallel()

	index := &fakeIndexReader{stats: vectorindex.Stats{Contracts: 4, Laws: 9}}
	server := newTestServer(&fakeStatusStore{}, nil, index)
	c, rec := newJSONContext(http.MethodGet, "/api/v1/index/stats", "")

	if err := server.handleIndexStats(c); err != nil {
		t.Fatalf("handleIndexStats returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}

	var envelope struct {
		Data vectorindex.Stats `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Contracts != 4 || envelope.Data.Laws != 9 {
		t.Fatalf("unexpected stats: %+v", envelope.Data)
	}
}

func TestHandleRecordFeedback_ForwardsToService(t *testing.T) {
	t.Parallel()

	fb := &fakeFeedbackService{}
	server := newTestServer(&fakeStatusStore{}, fb, nil)
	c, rec := newJSONContext(
		http.MethodPost,
		"/api/v1/feedback",
		`{"alert_id":"33333333-3333-3333-3333-333333333333","user_id":"u1","rating":"helpful"}`,
	)

	if err := server.handleRecordFeedback(c); err != nil {
		t.Fatalf("handleRecordFeedback returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if len(fb.recordCalls) != 1 {
		t.Fatalf("expected one record call, got %d", len(fb.recordCalls))
	}
	call := fb.recordCalls[0]
	if call.alertID != "33333333-3333-3333-3333-333333333333" || call.userID != "u1" || call.rating != "helpful" {
		t.Fatalf("unexpected record call: %+v", call)
	}
}

func TestHandleRecordFeedback_ValidationErrorReturnsBadRequest(t *testing.T) {
	t.Parallel()

	fb := &fakeFeedbackService{recordErr: pipeline.Invalid("rating", errors.New("must be helpful or not_helpful"))}
	server := newTestServer(&fakeStatusStore{}, fb, nil)
	c, rec := newJSONContext(
		http.MethodPost,
		"/api/v1/feedback",
		`{"alert_id":"33333333-3333-3333-3333-333333333333","user_id":"u1","rating":"meh"}`,
	)

	if err := server.handleRecordFeedback(c); err != nil {
		t.Fatalf("handleRecordFeedback returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleFeedbackAggregate_ReturnsRollup(t *testing.T) {
	t.Parallel()

	fb := &fakeFeedbackService{aggregate: feedback.Aggregate{Total: 6, HelpfulRate: 0.5}}
	server := newTestServer(&fakeStatusStore{}, fb, nil)
	c, rec := newJSONContext(http.MethodGet, "/api/v1/feedback/aggregate", "")

	if err := server.handleFeedbackAggregate(c); err != nil {
		t.Fatalf("handleFeedbackAggregate returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}

	var envelope struct {
		Data feedback.Aggregate `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Total != 6 || envelope.Data.HelpfulRate != 0.5 {
		t.Fatalf("unexpected aggregate: %+v", envelope.Data)
	}
}
