// Package conf provides configuration management for biomap.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lightvibes/biomap/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings contains process-wide settings.
type MainSettings struct {
	Name  string `yaml:"name" mapstructure:"name"`   // instance name reported by /health
	Debug bool   `yaml:"debug" mapstructure:"debug"` // true to force debug logging
}

// GBIFSettings configures the GBIF API client.
type GBIFSettings struct {
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`       // API root, e.g. https://api.gbif.org/v1
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`         // per-request timeout
	RateLimit  float64       `yaml:"rate_limit" mapstructure:"rate_limit"`   // requests per second
	RateBurst  int           `yaml:"rate_burst" mapstructure:"rate_burst"`   // limiter burst
	CacheTTL   time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`     // response cache lifetime, 0 disables
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"` // retries for transport and 5xx failures
	UserAgent  string        `yaml:"user_agent" mapstructure:"user_agent"`
}

// SearchSettings configures species suggestion.
type SearchSettings struct {
	Limit              int           `yaml:"limit" mapstructure:"limit"`                             // suggestion candidates requested
	Concurrency        int           `yaml:"concurrency" mapstructure:"concurrency"`                 // parallel count checks
	Debounce           time.Duration `yaml:"debounce" mapstructure:"debounce"`                       // quiet period before searching
	IncludeFulltext    bool          `yaml:"include_fulltext" mapstructure:"include_fulltext"`       // merge /species/search results
	EnrichVernacular   bool          `yaml:"enrich_vernacular" mapstructure:"enrich_vernacular"`     // look up English common names
	VernacularLanguage string        `yaml:"vernacular_language" mapstructure:"vernacular_language"` // ISO 639-2 code
}

// FetchSettings configures occurrence retrieval.
type FetchSettings struct {
	Mode          string `yaml:"mode" mapstructure:"mode"`                       // bounded or paged
	PageSize      int    `yaml:"page_size" mapstructure:"page_size"`             // bounded mode limit
	BatchSize     int    `yaml:"batch_size" mapstructure:"batch_size"`           // paged mode page size
	MaxAllYears   int    `yaml:"max_all_years" mapstructure:"max_all_years"`     // paged target without year filter
	MaxSingleYear int    `yaml:"max_single_year" mapstructure:"max_single_year"` // paged target for one year
	RankFallback  bool   `yaml:"rank_fallback" mapstructure:"rank_fallback"`     // retry with genus or parent taxon
}

// PlaybackSettings configures the year playback controller.
type PlaybackSettings struct {
	Interval  time.Duration `yaml:"interval" mapstructure:"interval"`     // tick interval
	FirstYear int           `yaml:"first_year" mapstructure:"first_year"` // oldest selectable year
	Mode      string        `yaml:"mode" mapstructure:"mode"`             // fetch mode used on ticks
}

// PredictionSettings configures the population forecast service client.
type PredictionSettings struct {
	URL     string        `yaml:"url" mapstructure:"url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// NarrativeSettings configures the generative risk narrative client.
type NarrativeSettings struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint string        `yaml:"endpoint" mapstructure:"endpoint"`
	Model    string        `yaml:"model" mapstructure:"model"`
	APIKey   string        `yaml:"api_key" mapstructure:"api_key"` // prefer BIOMAP_NARRATIVE_API_KEY
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SQLiteSettings holds the sqlite database path.
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// MySQLSettings holds mysql connection parameters.
type MySQLSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     string `yaml:"port" mapstructure:"port"`
	Database string `yaml:"database" mapstructure:"database"`
}

// DatastoreSettings configures prediction history persistence.
type DatastoreSettings struct {
	Enabled bool           `yaml:"enabled" mapstructure:"enabled"`
	SQLite  SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL   MySQLSettings  `yaml:"mysql" mapstructure:"mysql"`
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Port            string        `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`           // CORS origins for the map front end
	MaxSessions     int           `yaml:"max_sessions" mapstructure:"max_sessions"`                 // concurrent playback sessions
	SessionIdle     time.Duration `yaml:"session_idle_timeout" mapstructure:"session_idle_timeout"` // close playback sessions unused this long, 0 keeps them
}

// MetricsSettings toggles the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SentrySettings configures opt-in error reporting.
type SentrySettings struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	DSN         string  `yaml:"dsn" mapstructure:"dsn"`
	Environment string  `yaml:"environment" mapstructure:"environment"`
	SampleRate  float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// Settings is the root configuration.
type Settings struct {
	Main       MainSettings         `yaml:"main" mapstructure:"main"`
	Logging    logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	GBIF       GBIFSettings         `yaml:"gbif" mapstructure:"gbif"`
	Search     SearchSettings       `yaml:"search" mapstructure:"search"`
	Fetch      FetchSettings        `yaml:"fetch" mapstructure:"fetch"`
	Playback   PlaybackSettings     `yaml:"playback" mapstructure:"playback"`
	Prediction PredictionSettings   `yaml:"prediction" mapstructure:"prediction"`
	Narrative  NarrativeSettings    `yaml:"narrative" mapstructure:"narrative"`
	Datastore  DatastoreSettings    `yaml:"datastore" mapstructure:"datastore"`
	WebServer  WebServerSettings    `yaml:"webserver" mapstructure:"webserver"`
	Metrics    MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	Sentry     SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads .env, the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	// .env is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		GetLogger().Warn("failed to read .env file", logger.Error(err))
	}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper registers defaults, config paths and env bindings, then reads the config file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// no file on disk: run on the embedded defaults
			return viper.MergeConfigMap(defaultConfigMap())
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// defaultConfigMap parses the embedded config.yaml.
func defaultConfigMap() map[string]any {
	out := map[string]any{}
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		GetLogger().Error("embedded config missing", logger.Error(err))
		return out
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		GetLogger().Error("embedded config is invalid", logger.Error(err))
	}
	return out
}

// DefaultConfigYAML returns the embedded default configuration.
func DefaultConfigYAML() string {
	data, _ := fs.ReadFile(configFiles, "config.yaml")
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SetSettings replaces the current settings instance. Used by tests and the CLI.
func SetSettings(s *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	settingsInstance = s
}

// MarshalRedactedYAML renders settings as YAML with secrets masked.
func (s *Settings) MarshalRedactedYAML() ([]byte, error) {
	copied := *s
	if copied.Narrative.APIKey != "" {
		copied.Narrative.APIKey = redacted
	}
	if copied.Datastore.MySQL.Password != "" {
		copied.Datastore.MySQL.Password = redacted
	}
	if copied.Sentry.DSN != "" {
		copied.Sentry.DSN = redacted
	}
	return yaml.Marshal(&copied)
}

const redacted = "[REDACTED]"

// SaveYAMLConfig writes settings to configPath atomically via a temp file.
// Comments and layout of an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
