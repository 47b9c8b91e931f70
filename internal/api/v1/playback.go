package api

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/logger"
	"github.com/lightvibes/biomap/internal/observability/metrics"
	"github.com/lightvibes/biomap/internal/occurrence"
	"github.com/lightvibes/biomap/internal/playback"
)

const (
	defaultMaxSessions = 64
	streamPlayback     = "playback"

	// sweeps per idle timeout
	sessionSweepDivisor = 4
	minSessionSweep     = 10 * time.Millisecond
)

// Session is one client's year playback controller.
type Session struct {
	ID         string
	Created    time.Time
	Controller *playback.Controller

	subscribed atomic.Bool
}

// SessionManager owns the live playback sessions. A session that no request
// or event stream has touched for the idle timeout is closed and its slot
// freed.
type SessionManager struct {
	fetcher playback.Fetcher
	config  playback.Config
	max     int
	idle    time.Duration
	metrics *metrics.HTTPMetrics
	log     logger.Logger

	// serializes the limit check in Create
	mu       sync.Mutex
	sessions *cache.Cache

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewSessionManager creates a manager whose controllers fetch through fetcher.
func NewSessionManager(fetcher playback.Fetcher, settings *conf.Settings, m *metrics.HTTPMetrics) *SessionManager {
	limit := settings.WebServer.MaxSessions
	if limit <= 0 {
		limit = defaultMaxSessions
	}
	idle := max(settings.WebServer.SessionIdle, 0)

	sm := &SessionManager{
		fetcher: fetcher,
		config:  playback.ConfigFromSettings(&settings.Playback),
		max:     limit,
		idle:    idle,
		metrics: m,
		log:     GetLogger().Module("playback"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	// zero idle means no expiry; the sweep below replaces go-cache's janitor
	sm.sessions = cache.New(idle, 0)
	sm.sessions.OnEvicted(sm.onEvicted)

	if idle > 0 {
		go sm.sweep(max(idle/sessionSweepDivisor, minSessionSweep))
	} else {
		close(sm.done)
	}
	return sm
}

func (m *SessionManager) sweep(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sessions.DeleteExpired()
		case <-m.stop:
			return
		}
	}
}

func (m *SessionManager) onEvicted(id string, v any) {
	s, ok := v.(*Session)
	if !ok {
		return
	}
	s.Controller.Close()
	m.updateGauge()
	m.log.Debug("playback session closed",
		logger.String("session_id", id),
		logger.Duration("age", time.Since(s.Created)))
}

// Create starts a new session.
func (m *SessionManager) Create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions.ItemCount() >= m.max {
		// expired sessions still hold a slot until swept
		m.sessions.DeleteExpired()
	}
	if n := m.sessions.ItemCount(); n >= m.max {
		return nil, errors.Newf("playback session limit of %d reached", m.max).
			Category(errors.CategoryLimit).
			Component("api").
			Context("max_sessions", m.max).
			Build()
	}

	s := &Session{
		ID:         uuid.NewString(),
		Created:    time.Now(),
		Controller: playback.NewController(m.fetcher, m.config),
	}
	m.sessions.SetDefault(s.ID, s)
	m.updateGauge()
	m.log.Debug("playback session created", logger.String("session_id", s.ID), logger.Int("sessions", m.sessions.ItemCount()))
	return s, nil
}

// Get returns the session with id and resets its idle timer.
func (m *SessionManager) Get(id string) (*Session, error) {
	v, ok := m.sessions.Get(id)
	if !ok {
		return nil, errors.Newf("playback session %s not found", id).
			Category(errors.CategoryNotFound).
			Component("api").
			Build()
	}
	s := v.(*Session)
	m.Touch(s)
	return s, nil
}

// Touch resets the idle timer of s. A session that was already removed stays
// removed.
func (m *SessionManager) Touch(s *Session) {
	_ = m.sessions.Replace(s.ID, s, cache.DefaultExpiration)
}

// Delete closes and removes the session with id.
func (m *SessionManager) Delete(id string) error {
	if _, ok := m.sessions.Get(id); !ok {
		return errors.Newf("playback session %s not found", id).
			Category(errors.CategoryNotFound).
			Component("api").
			Build()
	}
	m.sessions.Delete(id)
	return nil
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	return len(m.sessions.Items())
}

// KeepAliveInterval is how often an open event stream must touch its session.
// It is zero when sessions never expire.
func (m *SessionManager) KeepAliveInterval() time.Duration {
	return m.idle / 2
}

// CloseAll stops expiry and closes every session.
func (m *SessionManager) CloseAll() {
	m.closeOnce.Do(func() { close(m.stop) })
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions.DeleteExpired()
	for id := range m.sessions.Items() {
		m.sessions.Delete(id)
	}
}

func (m *SessionManager) updateGauge() {
	if m.metrics != nil {
		m.metrics.SetPlaybackSessions(len(m.sessions.Items()))
	}
}

// SessionResponse is the body returned by the playback endpoints.
type SessionResponse struct {
	ID    string         `json:"id"`
	State playback.State `json:"state"`
	Years []string       `json:"years,omitempty"`
}

// CreateSessionRequest optionally selects a species for the new session.
type CreateSessionRequest struct {
	TaxonKey string `json:"taxonKey"`
}

// YearRequest changes the selected year. Exactly one field is used, checked
// in the order year, input, blur, seek, commit.
type YearRequest struct {
	Year   *string  `json:"year,omitempty"`
	Input  *string  `json:"input,omitempty"`
	Blur   bool     `json:"blur,omitempty"`
	Seek   *float64 `json:"seek,omitempty"`
	Commit bool     `json:"commit,omitempty"`
}

// SpeciesRequest sets the playback taxon; empty clears it.
type SpeciesRequest struct {
	TaxonKey string `json:"taxonKey"`
}

func (c *Controller) initPlaybackRoutes() {
	g := c.Group.Group("/playback")
	g.POST("", c.CreatePlayback)
	g.GET("/:id", c.GetPlayback)
	g.POST("/:id/toggle", c.TogglePlayback)
	g.PUT("/:id/year", c.SetPlaybackYear)
	g.PUT("/:id/species", c.SetPlaybackSpecies)
	g.GET("/:id/events", c.StreamPlayback)
	g.DELETE("/:id", c.DeletePlayback)
}

func (c *Controller) session(ctx echo.Context) (*Session, error) {
	return c.sessions.Get(ctx.Param("id"))
}

// CreatePlayback starts a playback session.
func (c *Controller) CreatePlayback(ctx echo.Context) error {
	var req CreateSessionRequest
	if ctx.Request().ContentLength != 0 {
		if err := ctx.Bind(&req); err != nil {
			return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
		}
	}

	s, err := c.sessions.Create()
	if err != nil {
		return c.HandleError(ctx, err, "Too many playback sessions", http.StatusServiceUnavailable)
	}

	state := s.Controller.State()
	if key := strings.TrimSpace(req.TaxonKey); key != "" {
		state = s.Controller.SetSpecies(key)
	}
	return ctx.JSON(http.StatusCreated, SessionResponse{ID: s.ID, State: state, Years: s.Controller.Years()})
}

// GetPlayback returns the session state.
func (c *Controller) GetPlayback(ctx echo.Context) error {
	s, err := c.session(ctx)
	if err != nil {
		return c.handleServiceError(ctx, err, "Playback session not found")
	}
	return ctx.JSON(http.StatusOK, SessionResponse{ID: s.ID, State: s.Controller.State(), Years: s.Controller.Years()})
}

// TogglePlayback plays or pauses.
func (c *Controller) TogglePlayback(ctx echo.Context) error {
	s, err := c.session(ctx)
	if err != nil {
		return c.handleServiceError(ctx, err, "Playback session not found")
	}
	return ctx.JSON(http.StatusOK, SessionResponse{ID: s.ID, State: s.Controller.Toggle()})
}

// SetPlaybackYear applies a year selection, keyboard input, blur, seek or commit.
func (c *Controller) SetPlaybackYear(ctx echo.Context) error {
	s, err := c.session(ctx)
	if err != nil {
		return c.handleServiceError(ctx, err, "Playback session not found")
	}

	var req YearRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	var state playback.State
	switch {
	case req.Year != nil:
		state, err = s.Controller.SelectYear(*req.Year)
		if err != nil {
			return c.handleServiceError(ctx, err, "Invalid year")
		}
	case req.Input != nil:
		state, _ = s.Controller.Input(*req.Input)
	case req.Blur:
		state = s.Controller.Blur()
	case req.Seek != nil:
		state = s.Controller.Seek(*req.Seek)
	case req.Commit:
		state = s.Controller.Commit()
	default:
		return c.HandleError(ctx, nil, "one of year, input, blur, seek or commit is required", http.StatusBadRequest)
	}
	return ctx.JSON(http.StatusOK, SessionResponse{ID: s.ID, State: state})
}

// SetPlaybackSpecies changes the taxon being played.
func (c *Controller) SetPlaybackSpecies(ctx echo.Context) error {
	s, err := c.session(ctx)
	if err != nil {
		return c.handleServiceError(ctx, err, "Playback session not found")
	}
	var req SpeciesRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	return ctx.JSON(http.StatusOK, SessionResponse{ID: s.ID, State: s.Controller.SetSpecies(strings.TrimSpace(req.TaxonKey))})
}

// DeletePlayback closes a session.
func (c *Controller) DeletePlayback(ctx echo.Context) error {
	if err := c.sessions.Delete(ctx.Param("id")); err != nil {
		return c.handleServiceError(ctx, err, "Playback session not found")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// FrameEvent is the payload of a playback "frame" event.
type FrameEvent struct {
	State   playback.State      `json:"state"`
	Year    string              `json:"year"`
	Status  string              `json:"status"`
	Records []occurrence.Record `json:"records"`
	Error   string              `json:"error,omitempty"`
}

// StreamPlayback sends each fetched year as a "frame" event until the
// session is closed or the client leaves. One subscriber per session. An open
// stream keeps the session alive; the idle timer restarts when it ends.
func (c *Controller) StreamPlayback(ctx echo.Context) error {
	s, err := c.session(ctx)
	if err != nil {
		return c.handleServiceError(ctx, err, "Playback session not found")
	}
	if !s.subscribed.CompareAndSwap(false, true) {
		return c.HandleError(ctx, nil, "Session already has an event subscriber", http.StatusConflict)
	}
	defer s.subscribed.Store(false)
	defer c.sessions.Touch(s)

	sctx, cancel := c.streamContext(ctx)
	defer cancel()

	startSSE(ctx)
	c.sseOpened()
	defer c.sseClosed()

	if err := c.sendSSEMessage(ctx, streamPlayback, "state", s.Controller.State()); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	var keepAlive <-chan time.Time
	if interval := c.sessions.KeepAliveInterval(); interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		keepAlive = t.C
	}

	frames := s.Controller.Frames()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				_ = c.sendSSEMessage(ctx, streamPlayback, "closed", map[string]string{"id": s.ID})
				return nil
			}
			ev := FrameEvent{State: f.State, Year: f.Year, Status: f.Status, Records: f.Records}
			if f.Err != nil {
				ev.Error = f.Err.Error()
			}
			if err := c.sendSSEMessage(ctx, streamPlayback, "frame", ev); err != nil {
				return nil
			}

		case <-keepAlive:
			c.sessions.Touch(s)

		case <-heartbeat.C:
			if err := c.sendSSEMessage(ctx, streamPlayback, "heartbeat", map[string]int64{"timestamp": time.Now().Unix()}); err != nil {
				return nil
			}

		case <-sctx.Done():
			return nil
		}
	}
}
