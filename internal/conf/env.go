// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"main.debug", "BIOMAP_DEBUG", validateEnvBool},
		{"logging.default_level", "BIOMAP_LOG_LEVEL", validateEnvLogLevel},

		// GBIF
		{"gbif.base_url", "BIOMAP_GBIF_BASE_URL", validateEnvURL},
		{"gbif.timeout", "BIOMAP_GBIF_TIMEOUT", validateEnvDuration},
		{"gbif.max_retries", "BIOMAP_GBIF_MAX_RETRIES", validateEnvNonNegativeInt},

		{"fetch.mode", "BIOMAP_FETCH_MODE", validateEnvFetchMode},
		{"search.concurrency", "BIOMAP_SEARCH_CONCURRENCY", validateEnvPositiveInt},

		// External services
		{"prediction.url", "BIOMAP_PREDICTION_URL", validateEnvURL},
		{"narrative.enabled", "BIOMAP_NARRATIVE_ENABLED", validateEnvBool},
		{"narrative.api_key", "BIOMAP_NARRATIVE_API_KEY", nil},
		{"narrative.model", "BIOMAP_NARRATIVE_MODEL", nil},

		// Storage and server
		{"datastore.sqlite.path", "BIOMAP_SQLITE_PATH", nil},
		{"datastore.mysql.password", "BIOMAP_MYSQL_PASSWORD", nil},
		{"webserver.port", "BIOMAP_PORT", validateEnvPort},
		{"sentry.dsn", "BIOMAP_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value: %v", binding.EnvVar, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0", value)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("log level must be one of trace, debug, info, warn, error, got '%s'", value)
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL, got '%s'", value)
	}
	return nil
}

func validateEnvDuration(value string) error {
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("invalid duration '%s': %w", value, err)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer, got '%s'", value)
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("must be zero or a positive integer, got '%s'", value)
	}
	return nil
}

func validateEnvFetchMode(value string) error {
	if value != FetchModeBounded && value != FetchModePaged {
		return fmt.Errorf("fetch mode must be %q or %q, got '%s'", FetchModeBounded, FetchModePaged, value)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be 1-65535, got '%s'", value)
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}
