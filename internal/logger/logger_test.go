package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightvibes/biomap/internal/logger"
)

func TestSlogLoggerWritesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelDebug, time.UTC).Module("gbif")

	log.Info("count lookup finished",
		logger.Int("taxon_key", 5219173),
		logger.Int64("count", 42),
		logger.Bool("cached", true),
		logger.Duration("elapsed", 1500*time.Millisecond),
		logger.Float64("ratio", 0.123456))

	out := buf.String()
	assert.Contains(t, out, "count lookup finished")
	assert.Contains(t, out, "module=gbif")
	assert.Contains(t, out, "taxon_key=5219173")
	assert.Contains(t, out, "count=42")
	assert.Contains(t, out, "cached=true")
	assert.Contains(t, out, "elapsed=1.5s")
	assert.Contains(t, out, "ratio=0.123")
	assert.NotContains(t, out, "time=")
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelWarn, nil)

	log.Debug("hidden debug")
	log.Info("hidden info")
	log.Warn("visible warn")
	log.Error("visible error", logger.Error(fmt.Errorf("boom")))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible warn")
	assert.Contains(t, out, "error=boom")
}

func TestModuleNestingAndWith(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := logger.NewSlogLogger(&buf, logger.LogLevelInfo, nil)
	child := base.Module("search").Module("debounce").With(logger.String("query", "tiger"))

	child.Info("fired")
	base.Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "module=search.debounce")
	assert.Contains(t, lines[0], "query=tiger")
	assert.NotContains(t, lines[1], "query=tiger")
}

func TestWithContextTraceID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelInfo, nil)

	ctx := logger.WithTraceID(context.Background(), "abc-123")
	log.WithContext(ctx).Info("request")
	log.WithContext(context.Background()).Info("no trace")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "trace_id=abc-123")
	assert.NotContains(t, lines[1], "trace_id")
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "biomap.log")
	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &logger.ConsoleOutput{Enabled: false},
		FileOutput:   &logger.FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"playback": "error"},
	})
	require.NoError(t, err)

	cl.Module("api").Info("served", logger.Int("status", 200))
	cl.Module("playback").Info("suppressed by module level")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "served", entry["msg"])
	assert.Equal(t, "api", entry["module"])
	assert.InDelta(t, 200, entry["status"], 0)
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := logger.NewCentralLogger(&logger.LoggingConfig{Timezone: "Mars/Olympus_Mons"})
	require.Error(t, err)

	_, err = logger.NewCentralLogger(nil)
	require.Error(t, err)
}

func TestGlobalFallback(t *testing.T) {
	t.Parallel()

	log := logger.Global().Module("test")
	require.NotNil(t, log)
	log.Debug("below default level")
}
