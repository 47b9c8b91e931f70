// Package playback steps the selected year through a range on a timer and
// re-fetches occurrences for each year.
package playback

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/logger"
	"github.com/lightvibes/biomap/internal/occurrence"
)

const (
	componentName = "playback"

	// YearAll selects every year.
	YearAll = conf.YearAll

	defaultInterval  = time.Second
	defaultFirstYear = 1900
	frameBuffer      = 16
)

var yearInputRe = regexp.MustCompile(`^\d{4}$`)

// Fetcher loads occurrences for one year; occurrence.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, q occurrence.Query) (*occurrence.Result, error)
}

// Config tunes the controller.
type Config struct {
	Interval  time.Duration
	FirstYear int
	Mode      string           // fetch mode used for every year
	Now       func() time.Time // clock for the newest year; defaults to time.Now
}

// ConfigFromSettings builds a Config from the playback settings section.
func ConfigFromSettings(s *conf.PlaybackSettings) Config {
	return Config{Interval: s.Interval, FirstYear: s.FirstYear, Mode: s.Mode}
}

// State is a snapshot of the controller.
type State struct {
	SelectedYear string        `json:"selectedYear"`
	Playing      bool          `json:"playing"`
	Progress     float64       `json:"progress"`
	Interval     time.Duration `json:"interval"`
	Editing      string        `json:"editing,omitempty"`
	Species      string        `json:"species,omitempty"`
	YearCount    int           `json:"yearCount"`
}

// Frame is published after each completed fetch.
type Frame struct {
	State   State               `json:"state"`
	Year    string              `json:"year"`
	Records []occurrence.Record `json:"records"`
	Status  string              `json:"status"`
	Err     error               `json:"-"`
}

// Controller is the year playback state machine. Methods are safe for
// concurrent use.
type Controller struct {
	fetcher Fetcher
	mode    string
	years   []string // newest first
	log     logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	reset  chan struct{}
	frames chan Frame
	once   sync.Once

	mu          sync.Mutex
	state       State
	dragging    bool
	closed      bool
	fetchSeq    uint64
	fetchCancel context.CancelFunc
}

// NewController starts a paused controller with "all" selected.
func NewController(fetcher Fetcher, cfg Config) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.FirstYear <= 0 {
		cfg.FirstYear = defaultFirstYear
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Mode == "" {
		cfg.Mode = conf.FetchModeBounded
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		fetcher: fetcher,
		mode:    cfg.Mode,
		years:   YearRange(cfg.Now().Year(), cfg.FirstYear),
		log:     GetLogger(),
		ctx:     ctx,
		cancel:  cancel,
		reset:   make(chan struct{}, 1),
		frames:  make(chan Frame, frameBuffer),
	}
	c.state = State{
		SelectedYear: YearAll,
		Progress:     float64(len(c.years)),
		Interval:     cfg.Interval,
		YearCount:    len(c.years),
	}

	c.wg.Add(1)
	go c.run(cfg.Interval)
	return c
}

// YearRange lists years from newest down to oldest inclusive.
func YearRange(newest, oldest int) []string {
	if newest < oldest {
		return nil
	}
	years := make([]string, 0, newest-oldest+1)
	for y := newest; y >= oldest; y-- {
		years = append(years, strconv.Itoa(y))
	}
	return years
}

// Years returns the selectable years, newest first.
func (c *Controller) Years() []string {
	return append([]string(nil), c.years...)
}

// run owns the ticker until Close.
func (c *Controller) run(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.reset:
			ticker.Reset(interval)
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick advances a playing controller by one year, wrapping after the oldest
// year to the newest. It is a no-op while paused.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Playing || c.closed {
		return
	}
	idx := c.indexLocked() + 1
	if idx >= len(c.years) {
		idx = 0
	}
	c.selectIndexLocked(idx)
	c.fetchLocked()
}

// Toggle switches between playing and paused. Starting from "all" begins at
// the newest year.
func (c *Controller) Toggle() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Playing {
		c.state.Playing = false
		return c.state
	}

	c.dragging = false
	c.state.Editing = ""
	c.state.Playing = true
	if c.state.SelectedYear == YearAll {
		c.selectIndexLocked(0)
		c.fetchLocked()
	}

	select {
	case c.reset <- struct{}{}:
	default:
	}
	return c.state
}

// Seek moves the slider to index and pauses. index == len(years) selects
// "all". The selected year follows the rounded index; the fractional progress
// is kept until Commit.
func (c *Controller) Seek(index float64) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	index = math.Max(0, math.Min(index, float64(len(c.years))))
	c.state.Playing = false
	c.state.Editing = ""
	c.dragging = true
	c.state.Progress = index
	c.state.SelectedYear = c.yearAtLocked(int(math.Round(index)))
	return c.state
}

// Commit ends a drag, snapping progress to the selected year and fetching it.
func (c *Controller) Commit() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dragging {
		c.dragging = false
		c.selectIndexLocked(int(math.Round(c.state.Progress)))
		c.fetchLocked()
	}
	return c.state
}

// SelectYear selects year directly and pauses. year must be "all" or a
// four digit year within range.
func (c *Controller) SelectYear(year string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.lookupLocked(year)
	if !ok {
		return c.state, errors.ValidationError(componentName, fmt.Sprintf("year %q is not selectable", year))
	}
	c.state.Playing = false
	c.state.Editing = ""
	c.dragging = false
	c.selectIndexLocked(idx)
	c.fetchLocked()
	return c.state, nil
}

// Input handles typed year text. Valid text selects the year and returns
// true; anything else is only buffered.
func (c *Controller) Input(text string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.lookupLocked(text)
	if !ok {
		c.state.Editing = text
		return c.state, false
	}
	c.state.Playing = false
	c.state.Editing = ""
	c.dragging = false
	c.selectIndexLocked(idx)
	c.fetchLocked()
	return c.state, true
}

// Blur discards buffered text, reverting to the last valid year.
func (c *Controller) Blur() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Editing = ""
	return c.state
}

// SetSpecies selects the taxon to fetch and loads the selected year for it.
// An empty key clears the selection.
func (c *Controller) SetSpecies(key string) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Species = key
	if key == "" {
		c.cancelFetchLocked()
		return c.state
	}
	c.fetchLocked()
	return c.state
}

// State returns a snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Frames delivers fetched frames. It is closed by Close. Frames are dropped
// when the consumer falls behind.
func (c *Controller) Frames() <-chan Frame {
	return c.frames
}

// Close stops the ticker, cancels in-flight fetches and waits for every
// goroutine before closing Frames.
func (c *Controller) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.state.Playing = false
		c.cancelFetchLocked()
		c.mu.Unlock()

		c.cancel()
		c.wg.Wait()
		close(c.frames)
	})
}

func (c *Controller) lookupLocked(text string) (int, bool) {
	if text == YearAll {
		return len(c.years), true
	}
	if !yearInputRe.MatchString(text) {
		return 0, false
	}
	for i, y := range c.years {
		if y == text {
			return i, true
		}
	}
	return 0, false
}

func (c *Controller) indexLocked() int {
	return int(math.Round(c.state.Progress))
}

func (c *Controller) yearAtLocked(idx int) string {
	if idx >= len(c.years) {
		return YearAll
	}
	return c.years[idx]
}

func (c *Controller) selectIndexLocked(idx int) {
	c.state.Progress = float64(idx)
	c.state.SelectedYear = c.yearAtLocked(idx)
}

func (c *Controller) cancelFetchLocked() {
	if c.fetchCancel != nil {
		c.fetchCancel()
		c.fetchCancel = nil
	}
}

// fetchLocked starts a fetch for the selected year, superseding any running
// one. Only the latest fetch publishes a frame.
func (c *Controller) fetchLocked() {
	if c.closed || c.state.Species == "" || c.fetcher == nil {
		return
	}
	c.cancelFetchLocked()

	c.fetchSeq++
	seq := c.fetchSeq
	ctx, cancel := context.WithCancel(c.ctx)
	c.fetchCancel = cancel

	q := occurrence.Query{TaxonKey: c.state.Species, Year: c.state.SelectedYear, Mode: c.mode}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		res, err := c.fetcher.Fetch(ctx, q)

		c.mu.Lock()
		defer c.mu.Unlock()
		if seq != c.fetchSeq || ctx.Err() != nil {
			return
		}

		frame := Frame{State: c.state, Year: q.Year}
		if err != nil {
			c.log.Warn("playback fetch failed",
				logger.String("taxon_key", q.TaxonKey),
				logger.String("year", q.Year),
				logger.Error(err))
			frame.Err = err
			frame.Status = occurrence.StatusForError(err)
		} else {
			frame.Records = res.Records
			frame.Status = res.Status
		}

		select {
		case c.frames <- frame:
		default:
			c.log.Debug("frame dropped, consumer is behind", logger.String("year", q.Year))
		}
	}()
}
