package conf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// defaultSettings builds Settings from the registered defaults only.
func defaultSettings(t *testing.T) *Settings {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	setDefaultConfig()

	s := &Settings{}
	require.NoError(t, viper.Unmarshal(s))
	return s
}

func TestDefaultsAreValid(t *testing.T) {
	s := defaultSettings(t)

	require.NoError(t, ValidateSettings(s))

	assert.Equal(t, "https://api.gbif.org/v1", s.GBIF.BaseURL)
	assert.Equal(t, 15*time.Second, s.GBIF.Timeout)
	assert.Equal(t, 0, s.GBIF.MaxRetries)
	assert.Equal(t, 300*time.Millisecond, s.Search.Debounce)
	assert.Equal(t, 300, s.Fetch.PageSize)
	assert.Equal(t, 10000, s.Fetch.MaxAllYears)
	assert.Equal(t, 1000, s.Fetch.MaxSingleYear)
	assert.Equal(t, time.Second, s.Playback.Interval)
	assert.Equal(t, 1900, s.Playback.FirstYear)
	assert.Equal(t, "http://localhost:5000", s.Prediction.URL)
	assert.Equal(t, []string{"http://localhost:3000"}, s.WebServer.AllowedOrigins)
	assert.Equal(t, 10*time.Minute, s.WebServer.SessionIdle)
	assert.Equal(t, "info", s.Logging.DefaultLevel)
	require.NotNil(t, s.Logging.Console)
	assert.True(t, s.Logging.Console.Enabled)
}

func TestEmbeddedConfigMatchesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	require.NoError(t, viper.MergeConfigMap(defaultConfigMap()))
	s := &Settings{}
	require.NoError(t, viper.Unmarshal(s))

	assert.NoError(t, ValidateSettings(s))
	assert.Equal(t, 300*time.Millisecond, s.Search.Debounce)
	assert.Equal(t, "bounded", s.Fetch.Mode)
	assert.Empty(t, s.Narrative.APIKey)
}

func TestNarrativeKeyFromEnvironment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("BIOMAP_NARRATIVE_API_KEY", "from-env")
	t.Setenv("BIOMAP_FETCH_MODE", "paged")

	setDefaultConfig()
	require.NoError(t, configureEnvironmentVariables())

	s := &Settings{}
	require.NoError(t, viper.Unmarshal(s))
	assert.Equal(t, "from-env", s.Narrative.APIKey)
	assert.Equal(t, FetchModePaged, s.Fetch.Mode)
}

func TestInvalidEnvironmentValuesAreReported(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("BIOMAP_PORT", "99999")
	t.Setenv("BIOMAP_FETCH_MODE", "everything")

	err := configureEnvironmentVariables()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BIOMAP_PORT")
	assert.Contains(t, err.Error(), "BIOMAP_FETCH_MODE")
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"bad gbif url", func(s *Settings) { s.GBIF.BaseURL = "api.gbif.org" }, "gbif.base_url"},
		{"page size above gbif cap", func(s *Settings) { s.Fetch.PageSize = 301 }, "fetch.page_size"},
		{"unknown mode", func(s *Settings) { s.Fetch.Mode = "all" }, "fetch.mode"},
		{"zero concurrency", func(s *Settings) { s.Search.Concurrency = 0 }, "search.concurrency"},
		{"zero interval", func(s *Settings) { s.Playback.Interval = 0 }, "playback.interval"},
		{"narrative without key", func(s *Settings) { s.Narrative.Enabled = true }, "narrative.api_key"},
		{"two databases", func(s *Settings) { s.Datastore.MySQL.Enabled = true }, "only one of sqlite and mysql"},
		{"bad port", func(s *Settings) { s.WebServer.Port = "http" }, "webserver.port"},
		{"negative session idle", func(s *Settings) { s.WebServer.SessionIdle = -time.Second }, "webserver.session_idle_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := defaultSettings(t)
			tt.mutate(s)

			err := ValidateSettings(s)
			require.Error(t, err)
			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, strings.Join(ve.Errors, "\n"), tt.wantErr)
		})
	}
}

func TestSaveYAMLConfig(t *testing.T) {
	s := defaultSettings(t)
	s.Fetch.Mode = FetchModePaged
	s.Search.Concurrency = 3

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveYAMLConfig(path, s))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var round Settings
	require.NoError(t, yaml.Unmarshal(data, &round))
	assert.Equal(t, FetchModePaged, round.Fetch.Mode)
	assert.Equal(t, 3, round.Search.Concurrency)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "config-*.yaml"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary file should be cleaned up")
}

func TestMarshalRedactedYAML(t *testing.T) {
	s := defaultSettings(t)
	s.Narrative.APIKey = "secret-key"
	s.Datastore.MySQL.Password = "hunter2"

	out, err := s.MarshalRedactedYAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "secret-key")
	assert.NotContains(t, string(out), "hunter2")
	assert.Contains(t, string(out), redacted)
	assert.Equal(t, "secret-key", s.Narrative.APIKey, "original must not be modified")
}
