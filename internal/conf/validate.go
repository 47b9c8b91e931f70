// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateGBIFSettings,
		validateSearchSettings,
		validateFetchSettings,
		validatePlaybackSettings,
		validateServiceSettings,
		validateDatastoreSettings,
		validateWebServerSettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateGBIFSettings(s *Settings) error {
	var errs []string
	if err := validateAbsoluteURL(s.GBIF.BaseURL); err != nil {
		errs = append(errs, "gbif.base_url "+err.Error())
	}
	if s.GBIF.RateLimit <= 0 {
		errs = append(errs, "gbif.rate_limit must be greater than 0")
	}
	if s.GBIF.RateBurst < 1 {
		errs = append(errs, "gbif.rate_burst must be at least 1")
	}
	if s.GBIF.MaxRetries < 0 {
		errs = append(errs, "gbif.max_retries must not be negative")
	}
	return joinErrors(errs)
}

func validateSearchSettings(s *Settings) error {
	var errs []string
	if s.Search.Limit < 1 || s.Search.Limit > 1000 {
		errs = append(errs, "search.limit must be between 1 and 1000")
	}
	if s.Search.Concurrency < 1 {
		errs = append(errs, "search.concurrency must be at least 1")
	}
	if s.Search.Debounce < 0 {
		errs = append(errs, "search.debounce must not be negative")
	}
	return joinErrors(errs)
}

func validateFetchSettings(s *Settings) error {
	var errs []string
	if s.Fetch.Mode != FetchModeBounded && s.Fetch.Mode != FetchModePaged {
		errs = append(errs, fmt.Sprintf("fetch.mode must be %q or %q", FetchModeBounded, FetchModePaged))
	}
	// GBIF rejects page sizes above 300
	if s.Fetch.PageSize < 1 || s.Fetch.PageSize > 300 {
		errs = append(errs, "fetch.page_size must be between 1 and 300")
	}
	if s.Fetch.BatchSize < 1 || s.Fetch.BatchSize > 300 {
		errs = append(errs, "fetch.batch_size must be between 1 and 300")
	}
	if s.Fetch.MaxAllYears < 1 || s.Fetch.MaxSingleYear < 1 {
		errs = append(errs, "fetch.max_all_years and fetch.max_single_year must be positive")
	}
	return joinErrors(errs)
}

func validatePlaybackSettings(s *Settings) error {
	var errs []string
	if s.Playback.Interval <= 0 {
		errs = append(errs, "playback.interval must be positive")
	}
	if s.Playback.FirstYear < 1000 || s.Playback.FirstYear > 9999 {
		errs = append(errs, "playback.first_year must be a four digit year")
	}
	if s.Playback.Mode != FetchModeBounded && s.Playback.Mode != FetchModePaged {
		errs = append(errs, fmt.Sprintf("playback.mode must be %q or %q", FetchModeBounded, FetchModePaged))
	}
	return joinErrors(errs)
}

func validateServiceSettings(s *Settings) error {
	var errs []string
	if err := validateAbsoluteURL(s.Prediction.URL); err != nil {
		errs = append(errs, "prediction.url "+err.Error())
	}
	if s.Narrative.Enabled {
		if err := validateAbsoluteURL(s.Narrative.Endpoint); err != nil {
			errs = append(errs, "narrative.endpoint "+err.Error())
		}
		if s.Narrative.Model == "" {
			errs = append(errs, "narrative.model is required when narrative is enabled")
		}
		if s.Narrative.APIKey == "" {
			errs = append(errs, "narrative.api_key (or BIOMAP_NARRATIVE_API_KEY) is required when narrative is enabled")
		}
	}
	return joinErrors(errs)
}

func validateDatastoreSettings(s *Settings) error {
	if !s.Datastore.Enabled {
		return nil
	}
	if s.Datastore.SQLite.Enabled && s.Datastore.MySQL.Enabled {
		return fmt.Errorf("datastore: only one of sqlite and mysql can be enabled")
	}
	if s.Datastore.SQLite.Enabled && s.Datastore.SQLite.Path == "" {
		return fmt.Errorf("datastore.sqlite.path is required")
	}
	if s.Datastore.MySQL.Enabled && (s.Datastore.MySQL.Host == "" || s.Datastore.MySQL.Database == "") {
		return fmt.Errorf("datastore.mysql host and database are required")
	}
	return nil
}

func validateWebServerSettings(s *Settings) error {
	if !s.WebServer.Enabled {
		return nil
	}
	port, err := strconv.Atoi(s.WebServer.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("webserver.port must be 1-65535, got %q", s.WebServer.Port)
	}
	if s.WebServer.MaxSessions < 1 {
		return fmt.Errorf("webserver.max_sessions must be at least 1")
	}
	if s.WebServer.SessionIdle < 0 {
		return fmt.Errorf("webserver.session_idle_timeout must not be negative")
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL, got %q", raw)
	}
	return nil
}

func joinErrors(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(errs, "; "))
}
