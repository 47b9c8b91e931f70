// Package telemetry provides opt-in error reporting to Sentry.
package telemetry

import (
	"fmt"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/logger"
	"github.com/lightvibes/biomap/internal/privacy"
)

// context keys that may leave the process; everything else is dropped
var allowedContextKeys = map[string]bool{
	"operation":   true,
	"endpoint":    true,
	"status_code": true,
	"mode":        true,
	"db_type":     true,
	"line_count":  true,
}

// Reporter sends enhanced errors to Sentry. It satisfies errors.TelemetryReporter.
type Reporter struct {
	hub *sentry.Hub
}

// GetLogger returns the telemetry package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// InitSentry creates a reporter when Sentry is enabled and installs it as the
// errors package reporter. It returns nil when reporting is disabled.
func InitSentry(settings *conf.Settings, release string) (*Reporter, error) {
	if !settings.Sentry.Enabled {
		GetLogger().Debug("sentry reporting is disabled")
		return nil, nil
	}
	if settings.Sentry.DSN == "" {
		return nil, errors.Newf("sentry is enabled but sentry.dsn is empty").
			Category(errors.CategoryConfiguration).
			Component("telemetry").
			Build()
	}

	r, err := NewReporter(clientOptions(settings, release))
	if err != nil {
		return nil, err
	}
	errors.SetTelemetryReporter(r)

	GetLogger().Info("sentry reporting enabled",
		logger.String("environment", settings.Sentry.Environment),
		logger.Float64("sample_rate", settings.Sentry.SampleRate))
	return r, nil
}

func clientOptions(settings *conf.Settings, release string) sentry.ClientOptions {
	return sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       settings.Sentry.SampleRate,
		Environment:      settings.Sentry.Environment,
		Release:          fmt.Sprintf("biomap@%s", release),
		AttachStacktrace: false,
		ServerName:       "",
		BeforeSend:       applyPrivacyFilters,
	}
}

// NewReporter builds a reporter on its own hub.
func NewReporter(opts sentry.ClientOptions) (*Reporter, error) {
	if opts.BeforeSend == nil {
		opts.BeforeSend = applyPrivacyFilters
	}
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("sentry initialization failed: %w", err)
	}

	hub := sentry.NewHub(client, sentry.NewScope())
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetContext("platform", map[string]any{
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
			"go_version": runtime.Version(),
		})
	})
	return &Reporter{hub: hub}, nil
}

// IsEnabled reports whether events are sent.
func (r *Reporter) IsEnabled() bool {
	return r != nil && r.hub.Client() != nil
}

// ReportError captures ee with its component and category as tags.
func (r *Reporter) ReportError(ee *errors.EnhancedError) {
	if !r.IsEnabled() {
		return
	}

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		scope.SetFingerprint([]string{ee.Component, string(ee.Category), ee.Error()})

		extras := map[string]any{}
		for k, v := range ee.GetContext() {
			if allowedContextKeys[k] {
				extras[k] = v
			}
		}
		scope.SetContext("error", extras)
		scope.SetLevel(levelFor(ee.Category))

		r.hub.CaptureException(ee)
	})
}

// Flush waits for queued events.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.IsEnabled() {
		return true
	}
	return r.hub.Flush(timeout)
}

func levelFor(category errors.ErrorCategory) sentry.Level {
	switch category {
	case errors.CategoryNetwork, errors.CategoryHTTP, errors.CategoryLimit, errors.CategoryTimeout:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

// applyPrivacyFilters strips host and user identifying data and scrubs
// credentials from messages.
func applyPrivacyFilters(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
