// Package api implements the biomap JSON endpoints under /api/v1.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/datastore"
	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/logger"
	"github.com/lightvibes/biomap/internal/observability/metrics"
	"github.com/lightvibes/biomap/internal/occurrence"
	"github.com/lightvibes/biomap/internal/prediction"
	"github.com/lightvibes/biomap/internal/search"
)

// SpeciesSearcher resolves a free-text query to species suggestions.
type SpeciesSearcher interface {
	Search(ctx context.Context, query string) ([]search.Suggestion, error)
}

// OccurrenceFetcher loads occurrence records.
type OccurrenceFetcher interface {
	Fetch(ctx context.Context, q occurrence.Query) (*occurrence.Result, error)
}

// Predictor runs a forecast with its optional narrative.
type Predictor interface {
	Run(ctx context.Context, req prediction.Request) (*prediction.Result, error)
}

// History reads saved predictions.
type History interface {
	List(ctx context.Context, limit int) ([]datastore.PredictionRecord, error)
	Get(ctx context.Context, id string) (*datastore.PredictionRecord, error)
}

// Controller holds the dependencies of the v1 handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Settings *conf.Settings

	searcher  SpeciesSearcher
	fetcher   OccurrenceFetcher
	predictor Predictor
	history   History
	metrics   *metrics.HTTPMetrics
	sessions  *SessionManager
	log       logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures optional Controller dependencies.
type Option func(*Controller)

// WithPredictor enables the prediction endpoint.
func WithPredictor(p Predictor) Option {
	return func(c *Controller) { c.predictor = p }
}

// WithHistory enables the prediction history endpoints.
func WithHistory(h History) Option {
	return func(c *Controller) { c.history = h }
}

// WithMetrics records domain metrics.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New registers the v1 routes on e.
func New(e *echo.Echo, settings *conf.Settings, searcher SpeciesSearcher, fetcher OccurrenceFetcher, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		Echo:     e,
		Group:    e.Group("/api/v1"),
		Settings: settings,
		searcher: searcher,
		fetcher:  fetcher,
		log:      GetLogger(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sessions = NewSessionManager(fetcher, settings, c.metrics)

	c.initSpeciesRoutes()
	c.initOccurrenceRoutes()
	c.initPlaybackRoutes()
	c.initPredictionRoutes()
	return c
}

// GetLogger returns the v1 api logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api.v1")
}

// Shutdown ends open streams and closes every playback session.
func (c *Controller) Shutdown() {
	c.cancel()
	c.sessions.CloseAll()
}

// Sessions exposes the playback session manager.
func (c *Controller) Sessions() *SessionManager {
	return c.sessions
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates an error body.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
}

// StatusForError maps an error to the HTTP status returned to clients.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.IsCategory(err, errors.CategoryCancellation):
		return http.StatusServiceUnavailable
	case errors.IsCategory(err, errors.CategoryTimeout):
		return http.StatusGatewayTimeout
	case errors.IsCategory(err, errors.CategoryIntegration):
		return http.StatusBadGateway
	}

	switch errors.KindOf(err) {
	case errors.KindInvalidInput:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindMalformed, errors.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HandleError logs err and writes the error body with code.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	log := c.log.WithContext(ctx.Request().Context())
	if code >= http.StatusInternalServerError {
		log.Error("API error", fields...)
	} else {
		log.Debug("API error", fields...)
	}

	return ctx.JSON(code, resp)
}

// handleServiceError picks the status from err.
func (c *Controller) handleServiceError(ctx echo.Context, err error, message string) error {
	return c.HandleError(ctx, err, message, StatusForError(err))
}

// streamContext ends when either the request or the controller is done.
func (c *Controller) streamContext(ctx echo.Context) (context.Context, context.CancelFunc) {
	sctx, cancel := context.WithCancel(ctx.Request().Context())
	stop := context.AfterFunc(c.ctx, cancel)
	return sctx, func() {
		stop()
		cancel()
	}
}

const (
	sseHeartbeatInterval = 30 * time.Second
	sseWriteTimeout      = 10 * time.Second
)
