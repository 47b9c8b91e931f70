package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, cfg *Config) *Client {
	t.Helper()
	client := New(cfg)
	t.Cleanup(client.Close)
	return client
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		cfg         *Config
		wantTimeout time.Duration
		wantAgent   string
	}{
		{"nil config", nil, DefaultTimeout, defaultUserAgent},
		{"zero config", &Config{}, DefaultTimeout, defaultUserAgent},
		{"custom", &Config{DefaultTimeout: 5 * time.Second, UserAgent: "test/2.0"}, 5 * time.Second, "test/2.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := New(tt.cfg)
			assert.Equal(t, tt.wantTimeout, client.defaultTimeout)
			assert.Equal(t, tt.wantAgent, client.userAgent)
		})
	}
}

func TestGetReadsBodyAfterReturn(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "biomap-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"count":42}`))
	})
	client := newTestClient(t, &Config{UserAgent: "biomap-test", DefaultTimeout: time.Second})

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "default timeout context must stay alive until Close")
	assert.JSONEq(t, `{"count":42}`, string(body))
}

func TestDefaultTimeoutApplies(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	client := newTestClient(t, &Config{DefaultTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestContextCancellation(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	client := newTestClient(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := client.Get(ctx, server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPostMarshalsJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Panthera tigris", payload["species_name"])
		w.WriteHeader(http.StatusCreated)
	})
	client := newTestClient(t, nil)

	resp, err := client.Post(context.Background(), server.URL, "", map[string]any{"species_name": "Panthera tigris"})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestPostExplicitContentType(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "hello", string(body))
	})
	client := newTestClient(t, nil)

	resp, err := client.Post(context.Background(), server.URL, "text/plain", "hello")
	require.NoError(t, err)
	resp.Body.Close()
}

func TestAfterResponseHook(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusTeapot)
	})
	client := newTestClient(t, nil)

	var calls, status atomic.Int32
	var elapsed atomic.Int64
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error, d time.Duration) {
		calls.Add(1)
		if err == nil {
			status.Store(int32(resp.StatusCode))
		}
		elapsed.Store(int64(d))
	})

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(http.StatusTeapot), status.Load())
	assert.GreaterOrEqual(t, time.Duration(elapsed.Load()), 5*time.Millisecond)
}

func TestAfterResponseHookSeesTransportErrors(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &Config{Transport: failingTransport{}})

	var gotErr atomic.Bool
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error, _ time.Duration) {
		gotErr.Store(err != nil && resp == nil)
	})

	_, err := client.Get(context.Background(), "http://forecast.test/health")
	require.Error(t, err)
	assert.True(t, gotErr.Load())
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestDoRejectsNilRequest(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Do(context.Background(), nil)
	require.Error(t, err)
}
