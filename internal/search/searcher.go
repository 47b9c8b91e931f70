// Package search turns free text into species suggestions that have
// georeferenced occurrences.
package search

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/gbif"
	"github.com/lightvibes/biomap/internal/logger"
	"github.com/lightvibes/biomap/internal/taxon"
)

const componentName = "search"

// Source is the subset of the GBIF client the searcher needs.
type Source interface {
	Suggest(ctx context.Context, q string, limit int) ([]gbif.NameUsage, error)
	SearchSpecies(ctx context.Context, q string, limit int) ([]gbif.NameUsage, error)
	CountOccurrences(ctx context.Context, q gbif.OccurrenceQuery) (int64, error)
	VernacularNames(ctx context.Context, key string) ([]gbif.VernacularName, error)
}

// Suggestion is a species candidate with at least one georeferenced occurrence.
type Suggestion struct {
	Key            string   `json:"key"`
	ScientificName string   `json:"scientificName"`
	VernacularName string   `json:"vernacularName,omitempty"`
	DisplayName    string   `json:"displayName"`
	Count          int64    `json:"count"`
	Rank           string   `json:"rank,omitempty"`
	Kingdom        string   `json:"kingdom,omitempty"`
	Family         string   `json:"family,omitempty"`
	Genus          string   `json:"genus,omitempty"`
	GenusKey       string   `json:"genusKey,omitempty"`
	AllKeys        []string `json:"allKeys"`
}

// Config tunes the searcher.
type Config struct {
	Limit              int
	Concurrency        int
	IncludeFulltext    bool
	EnrichVernacular   bool
	VernacularLanguage string
}

// DefaultConfig mirrors the search section defaults.
func DefaultConfig() Config {
	return Config{
		Limit:              50,
		Concurrency:        8,
		IncludeFulltext:    true,
		EnrichVernacular:   true,
		VernacularLanguage: "eng",
	}
}

// ConfigFromSettings builds a Config from the search settings section.
func ConfigFromSettings(s *conf.SearchSettings) Config {
	return Config{
		Limit:              s.Limit,
		Concurrency:        s.Concurrency,
		IncludeFulltext:    s.IncludeFulltext,
		EnrichVernacular:   s.EnrichVernacular,
		VernacularLanguage: s.VernacularLanguage,
	}
}

// Searcher resolves queries against GBIF.
type Searcher struct {
	source Source
	config Config
	log    logger.Logger
}

// NewSearcher creates a Searcher. Zero numeric fields take defaults.
func NewSearcher(source Source, config Config) *Searcher {
	def := DefaultConfig()
	if config.Limit <= 0 {
		config.Limit = def.Limit
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.VernacularLanguage == "" {
		config.VernacularLanguage = def.VernacularLanguage
	}
	return &Searcher{source: source, config: config, log: GetLogger()}
}

// candidate is a name usage with its occurrence count.
type candidate struct {
	usage gbif.NameUsage
	count int64
}

// Search returns suggestions for query. A blank query returns an empty list
// without any request. If the suggest request fails the list is empty and the
// error is returned; failed count checks only drop their candidate.
func (s *Searcher) Search(ctx context.Context, query string) ([]Suggestion, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Suggestion{}, nil
	}

	start := time.Now()
	usages, err := s.candidates(ctx, query)
	if err != nil {
		s.log.Warn("species suggestion failed",
			logger.String("query", query),
			logger.Error(err))
		return []Suggestion{}, err
	}

	counted, err := s.countAll(ctx, usages)
	if err != nil {
		return []Suggestion{}, err
	}

	suggestions := group(counted)
	// enrich first so a common-name match survives the filter
	if s.config.EnrichVernacular {
		s.enrichVernacular(ctx, suggestions)
	}
	if s.config.IncludeFulltext {
		suggestions = filterMatching(suggestions, query)
	}
	slices.SortStableFunc(suggestions, func(a, b Suggestion) int {
		return len(a.ScientificName) - len(b.ScientificName)
	})
	for i := range suggestions {
		suggestions[i].DisplayName = displayName(&suggestions[i])
	}

	s.log.Debug("species search complete",
		logger.String("query", query),
		logger.Int("candidates", len(usages)),
		logger.Int("suggestions", len(suggestions)),
		logger.Duration("elapsed", time.Since(start)))

	return suggestions, nil
}

// candidates runs suggest and, when enabled, full-text search concurrently
// and merges them by key. Suggest results come first.
func (s *Searcher) candidates(ctx context.Context, query string) ([]gbif.NameUsage, error) {
	var suggested, searched []gbif.NameUsage

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		suggested, err = s.source.Suggest(gctx, query, s.config.Limit)
		return err
	})
	if s.config.IncludeFulltext {
		g.Go(func() error {
			var err error
			searched, err = s.source.SearchSpecies(gctx, query, s.config.Limit)
			if err != nil {
				s.log.Warn("full-text species search failed, using suggestions only",
					logger.String("query", query),
					logger.Error(err))
				searched = nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(suggested)+len(searched))
	merged := make([]gbif.NameUsage, 0, len(suggested)+len(searched))
	for _, list := range [][]gbif.NameUsage{suggested, searched} {
		for i := range list {
			key := list[i].Key
			if key == 0 {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, list[i])
		}
	}
	return merged, nil
}

// countAll checks occurrence counts with bounded concurrency. Each goroutine
// writes its own slot; failures count as zero.
func (s *Searcher) countAll(ctx context.Context, usages []gbif.NameUsage) ([]candidate, error) {
	counts := make([]int64, len(usages))

	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	for i := range usages {
		g.Go(func() error {
			key := usages[i].KeyString()
			n, err := s.source.CountOccurrences(ctx, gbif.OccurrenceQuery{TaxonKey: key})
			if err != nil {
				s.log.Debug("occurrence count failed",
					logger.String("taxon_key", key),
					logger.Error(err))
				return nil
			}
			counts[i] = n
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryCancellation).
			Component(componentName).
			Build()
	}

	out := make([]candidate, 0, len(usages))
	for i := range usages {
		if counts[i] > 0 {
			out = append(out, candidate{usage: usages[i], count: counts[i]})
		}
	}
	return out, nil
}

// group collapses candidates with the same cleaned name. The first candidate
// supplies the suggestion and every key is kept in AllKeys.
func group(cands []candidate) []Suggestion {
	index := make(map[string]int, len(cands))
	out := make([]Suggestion, 0, len(cands))

	for i := range cands {
		u := &cands[i].usage
		name := taxon.CleanScientificName(u.ScientificName)
		if name == "" {
			name = taxon.CleanScientificName(u.CanonicalName)
		}
		if name == "" {
			continue
		}

		id := strings.ToLower(name)
		if j, ok := index[id]; ok {
			out[j].AllKeys = append(out[j].AllKeys, u.KeyString())
			if out[j].VernacularName == "" {
				out[j].VernacularName = u.VernacularName
			}
			continue
		}

		index[id] = len(out)
		sug := Suggestion{
			Key:            u.KeyString(),
			ScientificName: name,
			VernacularName: u.VernacularName,
			Count:          cands[i].count,
			Rank:           u.Rank,
			Kingdom:        u.Kingdom,
			Family:         u.Family,
			Genus:          u.Genus,
			AllKeys:        []string{u.KeyString()},
		}
		if u.GenusKey != 0 {
			sug.GenusKey = strconv.FormatInt(u.GenusKey, 10)
		}
		out = append(out, sug)
	}
	return out
}

// filterMatching keeps suggestions whose scientific or vernacular name
// contains query, ignoring case.
func filterMatching(suggestions []Suggestion, query string) []Suggestion {
	q := strings.ToLower(query)
	return slices.DeleteFunc(suggestions, func(s Suggestion) bool {
		return !strings.Contains(strings.ToLower(s.ScientificName), q) &&
			!strings.Contains(strings.ToLower(s.VernacularName), q)
	})
}

// enrichVernacular fills missing common names from the vernacular names
// endpoint. Lookup failures leave the name empty.
func (s *Searcher) enrichVernacular(ctx context.Context, suggestions []Suggestion) {
	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	for i := range suggestions {
		if suggestions[i].VernacularName != "" {
			continue
		}
		g.Go(func() error {
			names, err := s.source.VernacularNames(ctx, suggestions[i].Key)
			if err != nil {
				s.log.Debug("vernacular name lookup failed",
					logger.String("taxon_key", suggestions[i].Key),
					logger.Error(err))
				return nil
			}
			for _, n := range names {
				if strings.EqualFold(n.Language, s.config.VernacularLanguage) && n.VernacularName != "" {
					suggestions[i].VernacularName = n.VernacularName
					break
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

func displayName(s *Suggestion) string {
	if s.VernacularName == "" {
		return s.ScientificName
	}
	return s.ScientificName + " [" + s.VernacularName + "]"
}
