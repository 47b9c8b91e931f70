package gbif

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/httpclient"
	"github.com/lightvibes/biomap/internal/logger"
)

const (
	componentName = "gbif"

	// EndpointSuggest and friends label requests in logs, cache keys and metrics
	EndpointSuggest    = "suggest"
	EndpointSearch     = "species_search"
	EndpointSpecies    = "species"
	EndpointVernacular = "vernacular_names"
	EndpointOccurrence = "occurrence_search"
	EndpointCount      = "occurrence_count"

	maxErrorPreview = 500
)

// MetricsRecorder receives request and cache outcomes.
type MetricsRecorder interface {
	RecordRequest(endpoint, outcome string, duration time.Duration)
	RecordCacheHit(endpoint string)
	RecordCacheMiss(endpoint string)
}

// Client provides methods for interacting with the GBIF API
type Client struct {
	config   Config
	http     *httpclient.Client
	cache    *cache.Cache
	limiter  *rate.Limiter
	recorder MetricsRecorder
	log      logger.Logger

	metrics struct {
		apiCalls      int64
		cacheHits     int64
		cacheMisses   int64
		apiErrors     int64
		totalDuration time.Duration
		mu            sync.RWMutex
	}
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the shared HTTP client, e.g. with one on a mock transport.
func WithHTTPClient(hc *httpclient.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Client) { c.recorder = m }
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a new GBIF API client
func NewClient(config Config, opts ...Option) (*Client, error) {
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaults.RateLimit
	}
	if config.RateBurst <= 0 {
		config.RateBurst = defaults.RateBurst
	}
	if config.MaxRetries < 0 {
		return nil, errors.Newf("max retries must not be negative: %d", config.MaxRetries).
			Category(errors.CategoryConfiguration).
			Component(componentName).
			Build()
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, errors.Newf("invalid GBIF base URL %q: %w", config.BaseURL, err).
			Category(errors.CategoryConfiguration).
			Component(componentName).
			Build()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	c := &Client{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
	}
	if config.CacheTTL > 0 {
		c.cache = cache.New(config.CacheTTL, config.CacheTTL*2)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.New(&httpclient.Config{
			DefaultTimeout: config.Timeout,
			UserAgent:      config.UserAgent,
		})
	}
	if c.log == nil {
		c.log = GetLogger()
	}

	c.log.Info("GBIF client initialized",
		logger.String("base_url", config.BaseURL),
		logger.Duration("cache_ttl", config.CacheTTL),
		logger.Float64("rate_limit", config.RateLimit),
		logger.Int("max_retries", config.MaxRetries))

	return c, nil
}

// Suggest returns name usages matching the beginning of q.
func (c *Client) Suggest(ctx context.Context, q string, limit int) ([]NameUsage, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("limit", strconv.Itoa(limit))

	var usages []NameUsage
	if err := c.cachedGet(ctx, EndpointSuggest, "/species/suggest", params, &usages); err != nil {
		return nil, err
	}
	return usages, nil
}

// SearchSpecies runs a full-text species search.
func (c *Client) SearchSpecies(ctx context.Context, q string, limit int) ([]NameUsage, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("limit", strconv.Itoa(limit))

	var resp SpeciesSearchResponse
	if err := c.cachedGet(ctx, EndpointSearch, "/species/search", params, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Species returns the name usage for key.
func (c *Client) Species(ctx context.Context, key string) (*NameUsage, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var usage NameUsage
	if err := c.cachedGet(ctx, EndpointSpecies, "/species/"+url.PathEscape(key), nil, &usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

// VernacularNames returns the common names recorded for key.
func (c *Client) VernacularNames(ctx context.Context, key string) ([]VernacularName, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var resp VernacularNamesResponse
	if err := c.cachedGet(ctx, EndpointVernacular, "/species/"+url.PathEscape(key)+"/vernacularNames", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// CountOccurrences returns the number of georeferenced occurrences matching q.
// Limit and Offset are ignored.
func (c *Client) CountOccurrences(ctx context.Context, q OccurrenceQuery) (int64, error) {
	q.Limit, q.Offset = 0, 0
	params, err := occurrenceParams(q)
	if err != nil {
		return 0, err
	}

	var resp OccurrenceSearchResponse
	if err := c.cachedGet(ctx, EndpointCount, "/occurrence/search", params, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// SearchOccurrences fetches one page of georeferenced occurrences.
func (c *Client) SearchOccurrences(ctx context.Context, q OccurrenceQuery) (*OccurrenceSearchResponse, error) {
	params, err := occurrenceParams(q)
	if err != nil {
		return nil, err
	}

	var resp OccurrenceSearchResponse
	if err := c.doRequestWithRetry(ctx, EndpointOccurrence, "/occurrence/search", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func occurrenceParams(q OccurrenceQuery) (url.Values, error) {
	params := url.Values{}
	switch {
	case q.TaxonKey != "":
		params.Set("taxonKey", q.TaxonKey)
	case q.GenusKey != "":
		params.Set("genusKey", q.GenusKey)
	default:
		return nil, errors.ValidationError(componentName, "occurrence query needs a taxon or genus key")
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, errors.ValidationError(componentName, "occurrence limit and offset must not be negative")
	}
	params.Set("hasCoordinate", "true")
	params.Set("hasGeospatialIssue", "false")
	if q.Year > 0 {
		params.Set("year", strconv.Itoa(q.Year))
	}
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	return params, nil
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.ValidationError(componentName, "taxon key is required")
	}
	return nil
}

// cachedGet serves result from the cache or fetches and stores it.
// result must be a pointer; the cache stores the pointed-to value.
func (c *Client) cachedGet(ctx context.Context, endpoint, path string, params url.Values, result any) error {
	cacheKey := endpoint + ":" + path + "?" + params.Encode()

	if c.cache != nil {
		if cached, found := c.cache.Get(cacheKey); found {
			if data, ok := cached.([]byte); ok && json.Unmarshal(data, result) == nil {
				c.recordCache(endpoint, true)
				return nil
			}
		}
		c.recordCache(endpoint, false)
	}

	var raw json.RawMessage
	if err := c.doRequestWithRetry(ctx, endpoint, path, params, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return c.malformed(endpoint, path, raw, err)
	}

	if c.cache != nil {
		c.cache.Set(cacheKey, []byte(raw), cache.DefaultExpiration)
	}
	return nil
}

func (c *Client) recordCache(endpoint string, hit bool) {
	c.metrics.mu.Lock()
	if hit {
		c.metrics.cacheHits++
	} else {
		c.metrics.cacheMisses++
	}
	c.metrics.mu.Unlock()

	if c.recorder == nil {
		return
	}
	if hit {
		c.recorder.RecordCacheHit(endpoint)
	} else {
		c.recorder.RecordCacheMiss(endpoint)
	}
}

// doRequest performs one rate-limited GET and decodes the JSON body into result.
func (c *Client) doRequest(ctx context.Context, endpoint, path string, params url.Values, result any) error {
	reqURL := c.config.BaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Newf("rate limiter wait aborted: %w", err).
			Category(errors.CategoryCancellation).
			Component(componentName).
			Context("endpoint", endpoint).
			Build()
	}

	start := time.Now()
	c.metrics.mu.Lock()
	c.metrics.apiCalls++
	c.metrics.mu.Unlock()

	c.log.Debug("GBIF API request",
		logger.String("endpoint", endpoint),
		logger.String("url", reqURL))

	resp, err := c.http.Get(ctx, reqURL)
	if err != nil {
		c.finish(endpoint, "network_error", start, false)
		category := errors.CategoryNetwork
		if ctx.Err() != nil {
			category = errors.CategoryCancellation
		}
		c.log.Warn("GBIF API request failed",
			logger.String("endpoint", endpoint),
			logger.String("url", reqURL),
			logger.Error(err))
		return errors.Newf("GBIF request failed: %w", err).
			Category(category).
			Component(componentName).
			Context("endpoint", endpoint).
			Context("url", reqURL).
			Build()
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Debug("failed to close response body", logger.Error(err))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.finish(endpoint, "read_error", start, false)
		return errors.Newf("failed to read GBIF response body: %w", err).
			Category(errors.CategoryNetwork).
			Component(componentName).
			Context("url", reqURL).
			Context("status_code", resp.StatusCode).
			Build()
	}

	if resp.StatusCode >= http.StatusBadRequest {
		c.finish(endpoint, strconv.Itoa(resp.StatusCode), start, false)
		return c.statusError(endpoint, reqURL, resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, result); err != nil {
		c.finish(endpoint, "malformed", start, false)
		return c.malformed(endpoint, reqURL, body, err)
	}

	c.finish(endpoint, "ok", start, true)
	return nil
}

func (c *Client) finish(endpoint, outcome string, start time.Time, ok bool) {
	duration := time.Since(start)

	c.metrics.mu.Lock()
	if ok {
		c.metrics.totalDuration += duration
	} else {
		c.metrics.apiErrors++
	}
	c.metrics.mu.Unlock()

	if c.recorder != nil {
		c.recorder.RecordRequest(endpoint, outcome, duration)
	}
}

func (c *Client) statusError(endpoint, reqURL string, status int, body []byte) error {
	detail := preview(body)
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil {
		if apiErr.Message != "" {
			detail = apiErr.Message
		} else if apiErr.Error != "" {
			detail = apiErr.Error
		}
	}

	if status == http.StatusNotFound {
		c.log.Debug("GBIF resource not found", logger.String("url", reqURL))
	} else {
		c.log.Warn("GBIF API error response",
			logger.String("endpoint", endpoint),
			logger.Int("status_code", status),
			logger.String("detail", detail),
			logger.String("url", reqURL))
	}

	return errors.Newf("GBIF API error (status %d): %s", status, detail).
		Category(getErrorCategory(status)).
		Component(componentName).
		Context("endpoint", endpoint).
		Context("status_code", status).
		Context("url", reqURL).
		Build()
}

func (c *Client) malformed(endpoint, reqURL string, body []byte, err error) error {
	c.log.Error("failed to parse GBIF response",
		logger.String("endpoint", endpoint),
		logger.String("url", reqURL),
		logger.Int("response_size", len(body)),
		logger.String("response_preview", preview(body)),
		logger.Error(err))
	return errors.Newf("failed to parse GBIF response: %w", err).
		Category(errors.CategoryMalformed).
		Component(componentName).
		Context("endpoint", endpoint).
		Context("url", reqURL).
		Context("response_size", len(body)).
		Build()
}

// doRequestWithRetry retries transport failures, 429 and 5xx responses up to
// config.MaxRetries extra times with linear backoff.
func (c *Client) doRequestWithRetry(ctx context.Context, endpoint, path string, params url.Values, result any) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		err := c.doRequest(ctx, endpoint, path, params, result)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) || ctx.Err() != nil || attempt == c.config.MaxRetries {
			break
		}

		delay := time.Duration(attempt+1) * 500 * time.Millisecond
		c.log.Warn("GBIF request failed, retrying",
			logger.String("endpoint", endpoint),
			logger.Int("attempt", attempt+1),
			logger.Int("max_retries", c.config.MaxRetries),
			logger.Duration("delay", delay),
			logger.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return lastErr
		}
	}

	return lastErr
}

func isRetryable(err error) bool {
	var ee *errors.EnhancedError
	if !errors.As(err, &ee) {
		return false
	}
	switch ee.Category {
	case errors.CategoryNetwork, errors.CategoryLimit:
		return true
	case errors.CategoryHTTP:
		status, _ := ee.GetContext()["status_code"].(int)
		return status >= http.StatusInternalServerError
	default:
		return false
	}
}

// getErrorCategory maps an HTTP status code to an error category
func getErrorCategory(statusCode int) errors.ErrorCategory {
	switch {
	case statusCode == http.StatusNotFound:
		return errors.CategoryNotFound
	case statusCode == http.StatusTooManyRequests:
		return errors.CategoryLimit
	case statusCode == http.StatusBadRequest:
		return errors.CategoryValidation
	default:
		return errors.CategoryHTTP
	}
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > maxErrorPreview {
		return s[:maxErrorPreview] + "..."
	}
	return s
}

// ClearCache drops every cached response
func (c *Client) ClearCache() {
	if c.cache != nil {
		c.cache.Flush()
	}
}

// CacheItemCount returns the number of cached responses
func (c *Client) CacheItemCount() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.ItemCount()
}

// Metrics represents GBIF client counters
type Metrics struct {
	APICalls      int64         `json:"api_calls"`
	CacheHits     int64         `json:"cache_hits"`
	CacheMisses   int64         `json:"cache_misses"`
	APIErrors     int64         `json:"api_errors"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// GetMetrics returns current client metrics
func (c *Client) GetMetrics() Metrics {
	c.metrics.mu.RLock()
	defer c.metrics.mu.RUnlock()

	m := Metrics{
		APICalls:      c.metrics.apiCalls,
		CacheHits:     c.metrics.cacheHits,
		CacheMisses:   c.metrics.cacheMisses,
		APIErrors:     c.metrics.apiErrors,
		TotalDuration: c.metrics.totalDuration,
	}
	if ok := m.APICalls - m.APIErrors; ok > 0 {
		m.AvgDuration = time.Duration(int64(m.TotalDuration) / ok)
	}
	return m
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.Close()
}

// String implements fmt.Stringer for log output.
func (c *Client) String() string {
	return fmt.Sprintf("gbif.Client(%s)", c.config.BaseURL)
}
