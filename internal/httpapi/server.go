// Package httpapi exposes the read-only operational surface: health,
// status metrics, index stats, and the feedback endpoints.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/noah04091/contract-ai-sub015/internal/feedback"
	"github.com/noah04091/contract-ai-sub015/internal/pipeline"
	"github.com/noah04091/contract-ai-sub015/internal/vectorindex"
)

// FeedbackRecorder is the feedback side of the API.
type FeedbackRecorder interface {
	Record(ctx context.Context, alertID, userID, rating string) error
	Aggregate(ctx context.Context) (feedback.Aggregate, error)
}

// IndexReader reports in-memory index stats.
type IndexReader interface {
	Stats() vectorindex.Stats
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	store    StatusStore
	feedback FeedbackRecorder
	index    IndexReader
	logger   zerolog.Logger
	opts     Options
}

func NewServer(store StatusStore, fb FeedbackRecorder, index IndexReader, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8092
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		store:    store,
		feedback: fb,
		index:    index,
		logger:   logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("lawmon status server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("lawmon status server stopped")
	return nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/status", s.handleStatus)
	api.GET("/index/stats", s.handleIndexStats)
	api.POST("/feedback", s.handleRecordFeedback)
	api.GET("/feedback/aggregate", s.handleFeedbackAggregate)

	return e
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.store.Ping(c.Request().Context()); err != nil {
		return fail(c, http.StatusServiceUnavailable, "database unreachable", nil)
	}
	return success(c, map[string]string{"status": "ok"})
}

func (s *Server) handleIndexStats(c echo.Context) error {
	if s.index == nil {
		return fail(c, http.StatusServiceUnavailable, "index not loaded", nil)
	}
	return success(c, s.index.Stats())
}

type recordFeedbackRequest struct {
	AlertID string `json:"alert_id"`
	UserID  string `json:"user_id"`
	Rating  string `json:"rating"`
}

func (s *Server) handleRecordFeedback(c echo.Context) error {
	var req recordFeedbackRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body", nil)
	}

	err := s.feedback.Record(c.Request().Context(), req.AlertID, req.UserID, req.Rating)
	if err != nil {
		var vErr *pipeline.ValidationError
		if errors.As(err, &vErr) {
			return failValidation(c, map[string]string{vErr.Field: vErr.Err.Error()})
		}
		s.logger.Error().Err(err).Msg("record feedback failed")
		return internalError(c, "could not record feedback")
	}
	return success(c, map[string]string{"alert_id": req.AlertID, "rating": strings.ToLower(strings.TrimSpace(req.Rating))})
}

func (s *Server) handleFeedbackAggregate(c echo.Context) error {
	agg, err := s.feedback.Aggregate(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("aggregate feedback failed")
		return internalError(c, "could not aggregate feedback")
	}
	return success(c, agg)
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		case error:
			message = v.Error()
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("unhandled http error")
	}

	if writeErr := fail(c, status, message, nil); writeErr != nil {
		s.logger.Error().Err(writeErr).Msg("write error response failed")
	}
}
