// Package app builds the biomap services from settings and shares them
// between the server and the CLI commands.
package app

import (
	"net/http"
	"time"

	"github.com/lightvibes/biomap/internal/api"
	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/datastore"
	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/gbif"
	"github.com/lightvibes/biomap/internal/httpclient"
	"github.com/lightvibes/biomap/internal/logger"
	"github.com/lightvibes/biomap/internal/narrative"
	"github.com/lightvibes/biomap/internal/observability"
	"github.com/lightvibes/biomap/internal/observability/metrics"
	"github.com/lightvibes/biomap/internal/occurrence"
	"github.com/lightvibes/biomap/internal/prediction"
	"github.com/lightvibes/biomap/internal/search"
	"github.com/lightvibes/biomap/internal/telemetry"
)

// App holds the wired services. Narrative, Store, Metrics and Telemetry are
// nil when disabled in settings.
type App struct {
	Settings *conf.Settings

	HTTP        *httpclient.Client
	GBIF        *gbif.Client
	Searcher    *search.Searcher
	Fetcher     *occurrence.Fetcher
	Prediction  *prediction.Client
	Narrative   *narrative.Client
	Predictions *prediction.Service
	Store       datastore.Interface
	Metrics     *observability.Metrics
	Telemetry   *telemetry.Reporter

	version string
	log     logger.Logger
}

const flushTimeout = 2 * time.Second

type options struct {
	transport http.RoundTripper
	version   string
	noStore   bool
}

// Option customizes New.
type Option func(*options)

// WithTransport routes every outbound request through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithVersion sets the release reported to Sentry and /health.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithoutStore skips opening the datastore, for one-shot commands.
func WithoutStore() Option {
	return func(o *options) { o.noStore = true }
}

// GetLogger returns the app logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// GBIFConfig converts the gbif settings section.
func GBIFConfig(s *conf.GBIFSettings) gbif.Config {
	return gbif.Config{
		BaseURL:    s.BaseURL,
		Timeout:    s.Timeout,
		CacheTTL:   s.CacheTTL,
		RateLimit:  s.RateLimit,
		RateBurst:  s.RateBurst,
		MaxRetries: s.MaxRetries,
		UserAgent:  s.UserAgent,
	}
}

// NarrativeConfig converts the narrative settings section.
func NarrativeConfig(s *conf.NarrativeSettings) narrative.Config {
	return narrative.Config{
		Endpoint: s.Endpoint,
		Model:    s.Model,
		APIKey:   s.APIKey,
		Timeout:  s.Timeout,
	}
}

// New wires every service enabled in settings. Call Close when done.
func New(settings *conf.Settings, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Settings: settings, version: o.version, log: GetLogger()}

	reporter, err := telemetry.InitSentry(settings, o.version)
	if err != nil {
		return nil, err
	}
	a.Telemetry = reporter

	if settings.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return nil, errors.New(err).
				Category(errors.CategoryConfiguration).
				Component("app").
				Build()
		}
		a.Metrics = m
	}

	a.HTTP = httpclient.New(&httpclient.Config{
		DefaultTimeout: settings.GBIF.Timeout,
		UserAgent:      settings.GBIF.UserAgent,
		Transport:      o.transport,
	})
	if a.Metrics != nil {
		a.HTTP.SetAfterResponseHook(recordOutbound(a.Metrics.HTTP))
	}

	gbifOpts := []gbif.Option{gbif.WithHTTPClient(a.HTTP)}
	if a.Metrics != nil {
		gbifOpts = append(gbifOpts, gbif.WithMetrics(a.Metrics.GBIF))
	}
	a.GBIF, err = gbif.NewClient(GBIFConfig(&settings.GBIF), gbifOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Searcher = search.NewSearcher(a.GBIF, search.ConfigFromSettings(&settings.Search))
	a.Fetcher = occurrence.NewFetcher(a.GBIF, occurrence.ConfigFromSettings(&settings.Fetch))
	a.Prediction = prediction.NewClient(settings.Prediction.URL, settings.Prediction.Timeout, a.HTTP)

	// narrator and store stay nil interfaces when disabled
	var narrator prediction.Narrator
	if settings.Narrative.Enabled {
		a.Narrative, err = narrative.NewClient(NarrativeConfig(&settings.Narrative), a.HTTP)
		if err != nil {
			a.Close()
			return nil, err
		}
		narrator = a.Narrative
	}

	var store prediction.Store
	if !o.noStore {
		if ds := datastore.New(settings); ds != nil {
			if err := ds.Open(); err != nil {
				a.Close()
				return nil, err
			}
			a.Store = ds
			store = ds
		}
	}

	a.Predictions = prediction.NewService(a.Prediction, narrator, store)

	a.log.Info("services initialized",
		logger.Bool("narrative", a.Narrative != nil),
		logger.Bool("datastore", a.Store != nil),
		logger.Bool("metrics", a.Metrics != nil),
		logger.Bool("sentry", a.Telemetry.IsEnabled()))

	return a, nil
}

// Server builds the HTTP server on top of the wired services.
func (a *App) Server() (*api.Server, error) {
	opts := []api.ServerOption{
		api.WithPredictor(a.Predictions),
		api.WithHealthChecker("prediction", a.Prediction),
		api.WithVersion(a.version),
	}
	if a.Store != nil {
		opts = append(opts, api.WithHistory(a.Store))
	}
	if a.Metrics != nil {
		opts = append(opts, api.WithMetrics(a.Metrics))
	}
	return api.New(a.Settings, a.Searcher, a.Fetcher, opts...)
}

// Close releases the datastore and HTTP connections and flushes Sentry.
func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.log.Warn("failed to close datastore", logger.Error(err))
		}
	}
	if a.HTTP != nil {
		a.HTTP.Close()
	}
	if a.Telemetry != nil {
		a.Telemetry.Flush(flushTimeout)
	}
}

// recordOutbound counts every upstream round trip, so prediction and narrative
// calls are measured alongside GBIF.
func recordOutbound(m *metrics.HTTPMetrics) httpclient.ResponseHook {
	return func(req *http.Request, resp *http.Response, err error, elapsed time.Duration) {
		code := 0
		if err == nil {
			code = resp.StatusCode
		}
		m.RecordOutboundRequest(req.URL.Host, req.Method, code, elapsed)
	}
}
