package errors

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDefaults(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.Component)
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.Timestamp.IsZero())
}

func TestBuildInheritsWrappedCategory(t *testing.T) {
	t.Parallel()

	inner := Newf("species %d missing", 42).Category(CategoryNotFound).Component("gbif").Build()
	outer := Wrap(fmt.Errorf("lookup: %w", inner)).Component("search").Build()

	assert.Equal(t, CategoryNotFound, outer.Category)
	assert.True(t, IsNotFound(outer))
	assert.Equal(t, KindNotFound, KindOf(outer))
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", fmt.Errorf("boom"), KindUnknown},
		{"not found", Newf("x").Category(CategoryNotFound).Build(), KindNotFound},
		{"network", NetworkError(fmt.Errorf("refused"), "gbif", "https://api.gbif.org"), KindTransport},
		{"http status", Newf("status 503").Category(CategoryHTTP).Build(), KindTransport},
		{"timeout", Newf("x").Category(CategoryTimeout).Build(), KindTransport},
		{"malformed", Newf("bad json").Category(CategoryMalformed).Build(), KindMalformed},
		{"validation", ValidationError("playback", "year out of range"), KindInvalidInput},
		{"wrapped", fmt.Errorf("outer: %w", Newf("x").Category(CategoryMalformed).Build()), KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "NotFound", KindNotFound.String())
	assert.Equal(t, "Transport", KindTransport.String())
	assert.Equal(t, "Malformed", KindMalformed.String())
	assert.Equal(t, "InvalidInput", KindInvalidInput.String())
	assert.Equal(t, "Unknown", Kind(99).String())
}

func TestDetectCategoryFromMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CategoryCancellation, New(context.Canceled).Build().Category)
	assert.Equal(t, CategoryTimeout, New(context.DeadlineExceeded).Build().Category)
}

func TestIsMatchesCategory(t *testing.T) {
	t.Parallel()

	a := Newf("a").Category(CategoryMalformed).Build()
	b := Newf("b").Category(CategoryMalformed).Build()
	c := Newf("c").Category(CategoryNetwork).Build()

	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
}

func TestGetContextReturnsCopy(t *testing.T) {
	t.Parallel()

	ee := Newf("x").Context("taxon_key", 5219173).Build()
	ctx := ee.GetContext()
	ctx["taxon_key"] = 0

	assert.Equal(t, 5219173, ee.GetContext()["taxon_key"])
}

type recordingReporter struct {
	mu       sync.Mutex
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(err *EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, err)
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestTelemetryReporting(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	transport := Newf("connection reset").Category(CategoryNetwork).Component("gbif").Build()
	_ = Newf("no such species").Category(CategoryNotFound).Build()
	_ = ValidationError("playback", "bad year")

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	require.Len(t, reporter.reported, 1)
	assert.Same(t, transport, reporter.reported[0])
	assert.True(t, transport.IsReported())
}
