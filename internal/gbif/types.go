// Package gbif provides a client for the GBIF REST API v1.
package gbif

import (
	"strconv"
	"time"
)

// NameUsage is a species record as returned by /species/suggest,
// /species/search and /species/{key}.
type NameUsage struct {
	Key            int64  `json:"key"`
	NubKey         int64  `json:"nubKey,omitempty"`
	ScientificName string `json:"scientificName"`
	CanonicalName  string `json:"canonicalName,omitempty"`
	VernacularName string `json:"vernacularName,omitempty"`
	Rank           string `json:"rank,omitempty"`
	Status         string `json:"taxonomicStatus,omitempty"`
	Kingdom        string `json:"kingdom,omitempty"`
	Family         string `json:"family,omitempty"`
	Genus          string `json:"genus,omitempty"`
	GenusKey       int64  `json:"genusKey,omitempty"`
	ParentKey      int64  `json:"parentKey,omitempty"`
}

// KeyString returns the usage key in the opaque string form used by callers.
func (n *NameUsage) KeyString() string {
	if n.Key == 0 {
		return ""
	}
	return strconv.FormatInt(n.Key, 10)
}

// SpeciesSearchResponse is the paged body of /species/search.
type SpeciesSearchResponse struct {
	Offset       int         `json:"offset"`
	Limit        int         `json:"limit"`
	EndOfRecords bool        `json:"endOfRecords"`
	Count        int64       `json:"count"`
	Results      []NameUsage `json:"results"`
}

// VernacularName is one common name entry for a taxon.
type VernacularName struct {
	VernacularName string `json:"vernacularName"`
	Language       string `json:"language"`
	Source         string `json:"source,omitempty"`
}

// VernacularNamesResponse is the body of /species/{key}/vernacularNames.
type VernacularNamesResponse struct {
	Offset       int              `json:"offset"`
	Limit        int              `json:"limit"`
	EndOfRecords bool             `json:"endOfRecords"`
	Results      []VernacularName `json:"results"`
}

// Occurrence is a single occurrence record. Coordinates and measurements are
// pointers because GBIF omits them when unknown.
type Occurrence struct {
	Key              int64    `json:"key"`
	DecimalLatitude  *float64 `json:"decimalLatitude"`
	DecimalLongitude *float64 `json:"decimalLongitude"`
	ScientificName   string   `json:"scientificName"`
	VernacularName   string   `json:"vernacularName,omitempty"`
	Locality         string   `json:"locality,omitempty"`
	Country          string   `json:"country,omitempty"`
	StateProvince    string   `json:"stateProvince,omitempty"`
	WaterBody        string   `json:"waterBody,omitempty"`
	EventDate        string   `json:"eventDate,omitempty"`
	Year             int      `json:"year,omitempty"`
	Depth            *float64 `json:"depth,omitempty"`
	Elevation        *float64 `json:"elevation,omitempty"`
	Habitat          string   `json:"habitat,omitempty"`
	RecordedBy       string   `json:"recordedBy,omitempty"`
	InstitutionCode  string   `json:"institutionCode,omitempty"`
}

// OccurrenceSearchResponse is the paged body of /occurrence/search.
type OccurrenceSearchResponse struct {
	Offset       int          `json:"offset"`
	Limit        int          `json:"limit"`
	EndOfRecords bool         `json:"endOfRecords"`
	Count        int64        `json:"count"`
	Results      []Occurrence `json:"results"`
}

// OccurrenceQuery filters /occurrence/search. Exactly one of TaxonKey and
// GenusKey is expected. Year 0 means every year.
type OccurrenceQuery struct {
	TaxonKey string
	GenusKey string
	Year     int
	Limit    int
	Offset   int
}

// apiError is the body GBIF returns for some 4xx responses.
type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Config holds configuration for the GBIF client
type Config struct {
	BaseURL    string        `json:"base_url"`
	Timeout    time.Duration `json:"timeout"`
	CacheTTL   time.Duration `json:"cache_ttl"`   // 0 disables caching
	RateLimit  float64       `json:"rate_limit"`  // requests per second
	RateBurst  int           `json:"rate_burst"`  // limiter burst
	MaxRetries int           `json:"max_retries"` // extra attempts for transient failures
	UserAgent  string        `json:"user_agent"`
}

// DefaultConfig returns a Config with production defaults
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://api.gbif.org/v1",
		Timeout:    15 * time.Second,
		CacheTTL:   10 * time.Minute,
		RateLimit:  10,
		RateBurst:  5,
		MaxRetries: 0,
		UserAgent:  "biomap/1.0",
	}
}
