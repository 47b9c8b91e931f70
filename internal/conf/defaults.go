// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("main.name", "biomap")
	viper.SetDefault("main.debug", false)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/biomap.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("gbif.base_url", "https://api.gbif.org/v1")
	viper.SetDefault("gbif.timeout", 15*time.Second)
	viper.SetDefault("gbif.rate_limit", 10.0)
	viper.SetDefault("gbif.rate_burst", 5)
	viper.SetDefault("gbif.cache_ttl", 10*time.Minute)
	viper.SetDefault("gbif.max_retries", 0)
	viper.SetDefault("gbif.user_agent", "biomap/1.0")

	viper.SetDefault("search.limit", 50)
	viper.SetDefault("search.concurrency", 8)
	viper.SetDefault("search.debounce", 300*time.Millisecond)
	viper.SetDefault("search.include_fulltext", true)
	viper.SetDefault("search.enrich_vernacular", true)
	viper.SetDefault("search.vernacular_language", "eng")

	viper.SetDefault("fetch.mode", "bounded")
	viper.SetDefault("fetch.page_size", 300)
	viper.SetDefault("fetch.batch_size", 300)
	viper.SetDefault("fetch.max_all_years", 10000)
	viper.SetDefault("fetch.max_single_year", 1000)
	viper.SetDefault("fetch.rank_fallback", true)

	viper.SetDefault("playback.interval", time.Second)
	viper.SetDefault("playback.first_year", 1900)
	viper.SetDefault("playback.mode", "bounded")

	viper.SetDefault("prediction.url", "http://localhost:5000")
	viper.SetDefault("prediction.timeout", 60*time.Second)

	viper.SetDefault("narrative.enabled", false)
	viper.SetDefault("narrative.endpoint", "https://generativelanguage.googleapis.com/v1beta")
	viper.SetDefault("narrative.model", "gemini-1.5-flash")
	viper.SetDefault("narrative.api_key", "")
	viper.SetDefault("narrative.timeout", 30*time.Second)

	viper.SetDefault("datastore.enabled", true)
	viper.SetDefault("datastore.sqlite.enabled", true)
	viper.SetDefault("datastore.sqlite.path", "biomap.db")
	viper.SetDefault("datastore.mysql.enabled", false)
	viper.SetDefault("datastore.mysql.host", "localhost")
	viper.SetDefault("datastore.mysql.port", "3306")
	viper.SetDefault("datastore.mysql.database", "biomap")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.read_timeout", 30*time.Second)
	viper.SetDefault("webserver.shutdown_timeout", 10*time.Second)
	viper.SetDefault("webserver.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("webserver.max_sessions", 64)
	viper.SetDefault("webserver.session_idle_timeout", 10*time.Minute)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "production")
	viper.SetDefault("sentry.sample_rate", 1.0)
}
