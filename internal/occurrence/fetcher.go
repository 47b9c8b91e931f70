package occurrence

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/gbif"
	"github.com/lightvibes/biomap/internal/logger"
)

const (
	componentName = "occurrence"

	// StatusError is shown when a fetch fails.
	StatusError = "Error loading data"

	rankGenus = "GENUS"
)

var yearRe = regexp.MustCompile(`^\d{4}$`)

// Source is the subset of the GBIF client the fetcher needs.
type Source interface {
	CountOccurrences(ctx context.Context, q gbif.OccurrenceQuery) (int64, error)
	SearchOccurrences(ctx context.Context, q gbif.OccurrenceQuery) (*gbif.OccurrenceSearchResponse, error)
	Species(ctx context.Context, key string) (*gbif.NameUsage, error)
}

// Config controls page sizes and caps.
type Config struct {
	Mode          string // default mode when a query leaves it empty
	PageSize      int    // bounded mode limit
	BatchSize     int    // paged mode page size
	MaxAllYears   int    // paged target without a year filter
	MaxSingleYear int    // paged target for a single year
	RankFallback  bool
}

// DefaultConfig mirrors the fetch section defaults.
func DefaultConfig() Config {
	return Config{
		Mode:          conf.FetchModeBounded,
		PageSize:      300,
		BatchSize:     300,
		MaxAllYears:   10000,
		MaxSingleYear: 1000,
		RankFallback:  true,
	}
}

// ConfigFromSettings builds a Config from the fetch settings section.
func ConfigFromSettings(s *conf.FetchSettings) Config {
	return Config{
		Mode:          s.Mode,
		PageSize:      s.PageSize,
		BatchSize:     s.BatchSize,
		MaxAllYears:   s.MaxAllYears,
		MaxSingleYear: s.MaxSingleYear,
		RankFallback:  s.RankFallback,
	}
}

// Query selects the occurrences to fetch.
type Query struct {
	TaxonKey string
	Year     string // four digit year, "all" or empty for every year
	Mode     string // bounded or paged; empty uses the configured mode

	// OnProgress receives the completion percentage after each page in paged mode.
	OnProgress func(percent int)
}

// Result is the outcome of a successful fetch.
type Result struct {
	Records      []Record `json:"records"`
	TotalRecords int64    `json:"totalRecords"`
	Fetched      int      `json:"fetched"`
	Status       string   `json:"status"`
	// TaxonKey is the key actually queried; it differs from the requested one
	// after a rank fallback.
	TaxonKey string `json:"taxonKey"`
	Rank     string `json:"rank,omitempty"`
}

// StatusForError returns the status line for a failed fetch.
func StatusForError(error) string {
	return StatusError
}

func statusFor(n int) string {
	return fmt.Sprintf("Found %d locations", n)
}

// Fetcher retrieves occurrence records for a taxon and year.
type Fetcher struct {
	source Source
	config Config
	log    logger.Logger
}

// NewFetcher creates a fetcher. Zero config fields take defaults.
func NewFetcher(source Source, config Config) *Fetcher {
	def := DefaultConfig()
	if config.Mode == "" {
		config.Mode = def.Mode
	}
	if config.PageSize <= 0 {
		config.PageSize = def.PageSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxAllYears <= 0 {
		config.MaxAllYears = def.MaxAllYears
	}
	if config.MaxSingleYear <= 0 {
		config.MaxSingleYear = def.MaxSingleYear
	}
	return &Fetcher{source: source, config: config, log: GetLogger()}
}

// ParseYear converts a year selection to the GBIF filter; 0 means every year.
func ParseYear(year string) (int, error) {
	year = strings.TrimSpace(year)
	if year == "" || year == conf.YearAll {
		return 0, nil
	}
	if !yearRe.MatchString(year) {
		return 0, errors.ValidationError(componentName, fmt.Sprintf("invalid year %q", year))
	}
	y, _ := strconv.Atoi(year)
	return y, nil
}

// Fetch retrieves, cleans and deduplicates the occurrences matching q.
// On failure the result is nil and the error is categorized.
func (f *Fetcher) Fetch(ctx context.Context, q Query) (*Result, error) {
	if strings.TrimSpace(q.TaxonKey) == "" {
		return nil, errors.ValidationError(componentName, "taxon key is required")
	}
	year, err := ParseYear(q.Year)
	if err != nil {
		return nil, err
	}

	mode := q.Mode
	if mode == "" {
		mode = f.config.Mode
	}

	start := time.Now()
	gq := gbif.OccurrenceQuery{TaxonKey: q.TaxonKey, Year: year}

	var res *Result
	switch mode {
	case conf.FetchModeBounded:
		res, err = f.fetchBounded(ctx, gq)
	case conf.FetchModePaged:
		res, err = f.fetchPaged(ctx, gq, q.OnProgress)
		if err == nil && len(res.Records) == 0 && f.config.RankFallback {
			res, err = f.fallback(ctx, gq, res, q.OnProgress)
		}
	default:
		return nil, errors.ValidationError(componentName, fmt.Sprintf("unknown fetch mode %q", mode))
	}
	if err != nil {
		f.log.Warn("occurrence fetch failed",
			logger.String("taxon_key", q.TaxonKey),
			logger.String("year", q.Year),
			logger.String("mode", mode),
			logger.Error(err))
		return nil, err
	}

	f.log.Debug("occurrence fetch complete",
		logger.String("taxon_key", res.TaxonKey),
		logger.String("year", q.Year),
		logger.String("mode", mode),
		logger.Int("fetched", res.Fetched),
		logger.Int("unique", len(res.Records)),
		logger.Int64("total", res.TotalRecords),
		logger.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (f *Fetcher) fetchBounded(ctx context.Context, gq gbif.OccurrenceQuery) (*Result, error) {
	gq.Limit = f.config.PageSize
	resp, err := f.source.SearchOccurrences(ctx, gq)
	if err != nil {
		return nil, err
	}
	return buildResult(gq, resp.Count, resp.Results), nil
}

func (f *Fetcher) fetchPaged(ctx context.Context, gq gbif.OccurrenceQuery, onProgress func(int)) (*Result, error) {
	total, err := f.source.CountOccurrences(ctx, gq)
	if err != nil {
		return nil, err
	}

	limit := int64(f.config.MaxAllYears)
	if gq.Year != 0 {
		limit = int64(f.config.MaxSingleYear)
	}
	target := int(min(total, limit))
	if target <= 0 {
		return buildResult(gq, total, nil), nil
	}

	batch := f.config.BatchSize
	maxPages := (target+batch-1)/batch + 1

	var rows []gbif.Occurrence
	offset := 0
	for page := 0; page < maxPages && len(rows) < target; page++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.New(err).
				Category(errors.CategoryCancellation).
				Component(componentName).
				Context("offset", offset).
				Build()
		}

		pq := gq
		pq.Limit = batch
		pq.Offset = offset
		resp, err := f.source.SearchOccurrences(ctx, pq)
		if err != nil {
			return nil, err
		}

		rows = append(rows, resp.Results...)
		offset += batch

		if onProgress != nil {
			onProgress(min(100, len(rows)*100/target))
		}

		if len(resp.Results) == 0 || resp.EndOfRecords {
			break
		}
	}

	if len(rows) > target {
		rows = rows[:target]
	}
	return buildResult(gq, total, rows), nil
}

// fallback retries an empty paged fetch with the genus or parent taxon.
func (f *Fetcher) fallback(ctx context.Context, gq gbif.OccurrenceQuery, empty *Result, onProgress func(int)) (*Result, error) {
	usage, err := f.source.Species(ctx, gq.TaxonKey)
	if err != nil {
		f.log.Warn("rank fallback lookup failed",
			logger.String("taxon_key", gq.TaxonKey),
			logger.Error(err))
		return empty, nil
	}

	next := gbif.OccurrenceQuery{Year: gq.Year}
	switch {
	case strings.EqualFold(usage.Rank, rankGenus):
		genusKey := usage.GenusKey
		if genusKey == 0 {
			genusKey = usage.Key
		}
		next.GenusKey = strconv.FormatInt(genusKey, 10)
	case usage.ParentKey != 0:
		next.TaxonKey = strconv.FormatInt(usage.ParentKey, 10)
	default:
		return empty, nil
	}

	f.log.Info("no occurrences for taxon, falling back",
		logger.String("taxon_key", gq.TaxonKey),
		logger.String("rank", usage.Rank),
		logger.String("genus_key", next.GenusKey),
		logger.String("parent_key", next.TaxonKey))

	res, err := f.fetchPaged(ctx, next, onProgress)
	if err != nil {
		return nil, err
	}
	res.Rank = usage.Rank
	return res, nil
}

func buildResult(gq gbif.OccurrenceQuery, total int64, rows []gbif.Occurrence) *Result {
	records := make([]Record, 0, len(rows))
	for i := range rows {
		if rec, ok := FromGBIF(&rows[i]); ok {
			records = append(records, rec)
		}
	}
	records = Dedupe(records)

	key := gq.TaxonKey
	if key == "" {
		key = gq.GenusKey
	}
	return &Result{
		Records:      records,
		TotalRecords: total,
		Fetched:      len(rows),
		Status:       statusFor(len(records)),
		TaxonKey:     key,
	}
}
