package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/datastore"
	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/narrative"
	"github.com/lightvibes/biomap/internal/observability/metrics"
	"github.com/lightvibes/biomap/internal/occurrence"
	"github.com/lightvibes/biomap/internal/playback"
	"github.com/lightvibes/biomap/internal/prediction"
	"github.com/lightvibes/biomap/internal/search"
)

type fakeSearcher struct {
	suggestions []search.Suggestion
	err         error
}

func (f *fakeSearcher) Search(_ context.Context, _ string) ([]search.Suggestion, error) {
	return f.suggestions, f.err
}

type fakeFetcher struct {
	mu      sync.Mutex
	queries []occurrence.Query
	calls   atomic.Int32
	result  func(q occurrence.Query) (*occurrence.Result, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, q occurrence.Query) (*occurrence.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if q.OnProgress != nil {
		q.OnProgress(50)
		q.OnProgress(100)
	}
	if f.result != nil {
		return f.result(q)
	}
	records := []occurrence.Record{
		{Key: "1", Latitude: 48.85, Longitude: 2.35, ScientificName: "Pica pica"},
		{Key: "2", Latitude: 48.86, Longitude: 2.36, ScientificName: "Pica pica"},
		{Key: "3", Latitude: -33.86, Longitude: 151.2, ScientificName: "Pica pica"},
	}
	return &occurrence.Result{
		Records:      records,
		TotalRecords: 3,
		Fetched:      3,
		Status:       "Found 3 locations",
		TaxonKey:     q.TaxonKey,
	}, nil
}

func (f *fakeFetcher) lastQuery() occurrence.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

type fakePredictor struct {
	res *prediction.Result
	err error
	req prediction.Request
}

func (f *fakePredictor) Run(_ context.Context, req prediction.Request) (*prediction.Result, error) {
	f.req = req
	return f.res, f.err
}

type fakeHistory struct {
	records []datastore.PredictionRecord
	limit   int
}

func (f *fakeHistory) List(_ context.Context, limit int) ([]datastore.PredictionRecord, error) {
	f.limit = limit
	return f.records, nil
}

func (f *fakeHistory) Get(_ context.Context, id string) (*datastore.PredictionRecord, error) {
	for i := range f.records {
		if f.records[i].ID == id {
			return &f.records[i], nil
		}
	}
	return nil, errors.Newf("prediction %s not found", id).
		Category(errors.CategoryNotFound).
		Component("datastore").
		Build()
}

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Fetch.Mode = conf.FetchModeBounded
	s.Playback.Interval = time.Hour
	s.Playback.FirstYear = 2020
	s.WebServer.MaxSessions = 4
	return s
}

func newTestController(t *testing.T, searcher SpeciesSearcher, fetcher OccurrenceFetcher, opts ...Option) (*echo.Echo, *Controller) {
	t.Helper()
	return newTestControllerWithSettings(t, testSettings(), searcher, fetcher, opts...)
}

func newTestControllerWithSettings(t *testing.T, s *conf.Settings, searcher SpeciesSearcher, fetcher OccurrenceFetcher, opts ...Option) (*echo.Echo, *Controller) {
	t.Helper()
	e := echo.New()
	c := New(e, s, searcher, fetcher, opts...)
	t.Cleanup(c.Shutdown)
	return e, c
}

func newTestMetrics(t *testing.T) *metrics.HTTPMetrics {
	t.Helper()
	m, err := metrics.NewHTTPMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func doRequest(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, http.NoBody)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSuggestSpecies(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{suggestions: []search.Suggestion{
		{Key: "2480498", ScientificName: "Pica pica", DisplayName: "Eurasian Magpie (Pica pica)", Count: 120},
	}}
	e, _ := newTestController(t, searcher, &fakeFetcher{})

	rec := doRequest(e, http.MethodGet, "/api/v1/species/suggest?q=+magpie+", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SuggestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "magpie", resp.Query)
	require.Len(t, resp.Suggestions, 1)
	assert.Equal(t, "2480498", resp.Suggestions[0].Key)
}

func TestSuggestSpecies_EmptyIsArray(t *testing.T) {
	t.Parallel()

	e, _ := newTestController(t, &fakeSearcher{}, &fakeFetcher{})

	rec := doRequest(e, http.MethodGet, "/api/v1/species/suggest?q=zz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"suggestions":[]`)
}

func TestSuggestSpecies_TransportError(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{err: errors.NetworkError(errors.NewStd("connection refused"), "gbif", "https://api.gbif.org/v1/species/suggest")}
	e, _ := newTestController(t, searcher, &fakeFetcher{})

	rec := doRequest(e, http.MethodGet, "/api/v1/species/suggest?q=pica", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Species search failed", resp.Message)
	assert.Len(t, resp.CorrelationID, 8)
}

func TestGetOccurrences(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	e, _ := newTestController(t, &fakeSearcher{}, fetcher)

	rec := doRequest(e, http.MethodGet, "/api/v1/occurrences?taxon_key=2480498&year=2021&mode=paged", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res occurrence.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.Records, 3)
	assert.Equal(t, "Found 3 locations", res.Status)

	q := fetcher.lastQuery()
	assert.Equal(t, "2480498", q.TaxonKey)
	assert.Equal(t, "2021", q.Year)
	assert.Equal(t, "paged", q.Mode)
}

func TestGetOccurrences_InvalidInput(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{result: func(occurrence.Query) (*occurrence.Result, error) {
		return nil, errors.ValidationError("occurrence", "taxon key is required")
	}}
	e, _ := newTestController(t, &fakeSearcher{}, fetcher)

	rec := doRequest(e, http.MethodGet, "/api/v1/occurrences", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), occurrence.StatusError)
}

func TestGetOccurrencesGeoJSON(t *testing.T) {
	t.Parallel()

	e, _ := newTestController(t, &fakeSearcher{}, &fakeFetcher{})

	t.Run("clustered at low zoom", func(t *testing.T) {
		t.Parallel()
		rec := doRequest(e, http.MethodGet, "/api/v1/occurrences/geojson?taxon_key=1&zoom=2", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/geo+json", rec.Header().Get(echo.HeaderContentType))
		assert.Equal(t, "Found 3 locations", rec.Header().Get("X-Occurrence-Status"))

		var fc map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
		assert.Equal(t, "FeatureCollection", fc["type"])
		// the two Paris points merge at zoom 2
		assert.Len(t, fc["features"], 2)
	})

	t.Run("unclustered", func(t *testing.T) {
		t.Parallel()
		rec := doRequest(e, http.MethodGet, "/api/v1/occurrences/geojson?taxon_key=1&cluster=false", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var fc map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
		assert.Len(t, fc["features"], 3)
	})

	t.Run("bad zoom", func(t *testing.T) {
		t.Parallel()
		for _, z := range []string{"-1", "23", "near"} {
			rec := doRequest(e, http.MethodGet, "/api/v1/occurrences/geojson?taxon_key=1&zoom="+z, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, "zoom %s", z)
		}
	})
}

func parseSSE(body string) (events []string, data []string) {
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	return events, data
}

func TestStreamOccurrences(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	e, _ := newTestController(t, &fakeSearcher{}, fetcher, WithMetrics(newTestMetrics(t)))

	rec := doRequest(e, http.MethodGet, "/api/v1/occurrences/stream?taxon_key=2480498&mode=paged", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	events, data := parseSSE(rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "result", events[len(events)-1])
	assert.Contains(t, events, "progress")

	var res occurrence.Result
	require.NoError(t, json.Unmarshal([]byte(data[len(data)-1]), &res))
	assert.Len(t, res.Records, 3)
	assert.Equal(t, "paged", fetcher.lastQuery().Mode)
}

func TestStreamOccurrences_Error(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{result: func(occurrence.Query) (*occurrence.Result, error) {
		return nil, errors.Newf("bad json").Category(errors.CategoryMalformed).Component("gbif").Build()
	}}
	e, _ := newTestController(t, &fakeSearcher{}, fetcher)

	rec := doRequest(e, http.MethodGet, "/api/v1/occurrences/stream?taxon_key=1", "")
	events, data := parseSSE(rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "error", events[len(events)-1])

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(data[len(data)-1]), &resp))
	assert.Equal(t, http.StatusBadGateway, resp.Code)
	assert.Equal(t, occurrence.StatusError, resp.Message)
}

func TestStreamOccurrences_RequiresTaxon(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	e, _ := newTestController(t, &fakeSearcher{}, fetcher)

	rec := doRequest(e, http.MethodGet, "/api/v1/occurrences/stream", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, fetcher.calls.Load())
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) SessionResponse {
	t.Helper()
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestPlaybackLifecycle(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	e, c := newTestController(t, &fakeSearcher{}, fetcher)

	rec := doRequest(e, http.MethodPost, "/api/v1/playback", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeSession(t, rec)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "all", created.State.SelectedYear)
	assert.False(t, created.State.Playing)
	assert.NotEmpty(t, created.Years)
	assert.Equal(t, 1, c.Sessions().Count())

	base := "/api/v1/playback/" + created.ID

	rec = doRequest(e, http.MethodPut, base+"/year", `{"year":"2021"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2021", decodeSession(t, rec).State.SelectedYear)

	rec = doRequest(e, http.MethodPut, base+"/year", `{"year":"1850"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(e, http.MethodPut, base+"/year", `{"input":"20"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeSession(t, rec).State
	assert.Equal(t, "20", st.Editing)
	assert.Equal(t, "2021", st.SelectedYear)

	rec = doRequest(e, http.MethodPut, base+"/year", `{"blur":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeSession(t, rec).State.Editing)

	rec = doRequest(e, http.MethodPut, base+"/year", `{"seek":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(e, http.MethodPut, base+"/year", `{"commit":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.Years[0], decodeSession(t, rec).State.SelectedYear)

	rec = doRequest(e, http.MethodPut, base+"/year", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(e, http.MethodPost, base+"/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeSession(t, rec).State.Playing)

	rec = doRequest(e, http.MethodPost, base+"/toggle", "")
	assert.False(t, decodeSession(t, rec).State.Playing)

	rec = doRequest(e, http.MethodPut, base+"/species", `{"taxonKey":" 2480498 "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2480498", decodeSession(t, rec).State.Species)

	rec = doRequest(e, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, c.Sessions().Count())

	rec = doRequest(e, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlaybackSessionLimit(t *testing.T) {
	t.Parallel()

	e, _ := newTestController(t, &fakeSearcher{}, &fakeFetcher{})

	for range 4 {
		rec := doRequest(e, http.MethodPost, "/api/v1/playback", "")
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := doRequest(e, http.MethodPost, "/api/v1/playback", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPlaybackIdleSessionExpires(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.WebServer.MaxSessions = 2
	s.WebServer.SessionIdle = 100 * time.Millisecond
	e, c := newTestControllerWithSettings(t, s, &fakeSearcher{}, &fakeFetcher{})

	var frames []<-chan playback.Frame
	for range 2 {
		rec := doRequest(e, http.MethodPost, "/api/v1/playback", "")
		require.Equal(t, http.StatusCreated, rec.Code)
		sess, err := c.Sessions().Get(decodeSession(t, rec).ID)
		require.NoError(t, err)
		frames = append(frames, sess.Controller.Frames())
	}
	full := doRequest(e, http.MethodPost, "/api/v1/playback", "")
	require.Equal(t, http.StatusServiceUnavailable, full.Code)

	// the clients go away without deleting their sessions
	require.Eventually(t, func() bool { return c.Sessions().Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	for _, ch := range frames {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "expired session controller should be closed")
		case <-time.After(time.Second):
			t.Fatal("expired session controller was not closed")
		}
	}

	rec := doRequest(e, http.MethodPost, "/api/v1/playback", "")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestPlaybackEventStreamKeepsSessionAlive(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.WebServer.MaxSessions = 1
	s.WebServer.SessionIdle = 100 * time.Millisecond
	e, c := newTestControllerWithSettings(t, s, &fakeSearcher{}, &fakeFetcher{})

	srv := httptest.NewServer(e)
	defer srv.Close()

	rec := doRequest(e, http.MethodPost, "/api/v1/playback", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeSession(t, rec).ID

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/playback/"+id+"/events", http.NoBody)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// several idle periods pass while the stream is open
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, c.Sessions().Count())

	// leaving the view releases the slot once the idle timeout passes
	cancel()
	require.Eventually(t, func() bool { return c.Sessions().Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	again := doRequest(e, http.MethodPost, "/api/v1/playback", "")
	assert.Equal(t, http.StatusCreated, again.Code)
}

func TestPlaybackEvents(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	e, c := newTestController(t, &fakeSearcher{}, fetcher)

	srv := httptest.NewServer(e)
	defer srv.Close()

	rec := doRequest(e, http.MethodPost, "/api/v1/playback", `{"taxonKey":"2480498"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeSession(t, rec)
	assert.Equal(t, "2480498", created.State.Species)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/playback/"+created.ID+"/events", http.NoBody)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// a second subscriber is refused while the first is connected
	dup := doRequest(e, http.MethodGet, "/api/v1/playback/"+created.ID+"/events", "")
	assert.Equal(t, http.StatusConflict, dup.Code)

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	var frame FrameEvent
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
			continue
		}
		if event == "frame" && strings.HasPrefix(line, "data: ") {
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
			break
		}
	}
	require.NoError(t, sc.Err())

	assert.Equal(t, "all", frame.Year)
	assert.Len(t, frame.Records, 3)
	assert.Equal(t, "Found 3 locations", frame.Status)

	// deleting the session closes the stream
	del := doRequest(e, http.MethodDelete, "/api/v1/playback/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, del.Code)

	var sawClosed bool
	for sc.Scan() {
		if sc.Text() == "event: closed" {
			sawClosed = true
		}
	}
	assert.True(t, sawClosed)
	assert.Zero(t, c.Sessions().Count())
}

func TestCreatePrediction(t *testing.T) {
	t.Parallel()

	pred := &fakePredictor{res: &prediction.Result{
		Plot:       "aGVsbG8=",
		Assessment: &narrative.Assessment{Score: "3", Explanation: "Stable range.", Prevention: "Monitor."},
	}}
	e, _ := newTestController(t, &fakeSearcher{}, &fakeFetcher{}, WithPredictor(pred), WithMetrics(newTestMetrics(t)))

	rec := doRequest(e, http.MethodPost, "/api/v1/predictions",
		`{"species_name":"Pica pica","n_steps":12,"prediction_amount":6}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res prediction.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "aGVsbG8=", res.Plot)
	require.NotNil(t, res.Assessment)
	assert.Equal(t, "3", res.Assessment.Score)

	assert.Equal(t, "Pica pica", pred.req.SpeciesName)
	assert.Equal(t, 12, pred.req.NSteps)
	assert.Equal(t, 6, pred.req.PredictionAmount)
}

func TestCreatePrediction_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", errors.ValidationError("prediction", "species name is required"), http.StatusBadRequest},
		{"service failure", errors.Newf("model crashed").Category(errors.CategoryIntegration).Component("prediction").Build(), http.StatusBadGateway},
		{"unreachable", errors.NetworkError(errors.NewStd("dial tcp"), "prediction", "http://localhost:5000/predict"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, _ := newTestController(t, &fakeSearcher{}, &fakeFetcher{}, WithPredictor(&fakePredictor{err: tt.err}))
			rec := doRequest(e, http.MethodPost, "/api/v1/predictions", `{"species_name":"x","n_steps":1,"prediction_amount":1}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestPredictions_NotConfigured(t *testing.T) {
	t.Parallel()

	e, _ := newTestController(t, &fakeSearcher{}, &fakeFetcher{})

	assert.Equal(t, http.StatusServiceUnavailable,
		doRequest(e, http.MethodPost, "/api/v1/predictions", `{"species_name":"x"}`).Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		doRequest(e, http.MethodGet, "/api/v1/predictions", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		doRequest(e, http.MethodGet, "/api/v1/predictions/abc", "").Code)
}

func TestPredictionHistory(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{records: []datastore.PredictionRecord{
		{ID: "b4c0d5e6-0000-4000-8000-000000000001", SpeciesName: "Pica pica", Score: "2"},
		{ID: "b4c0d5e6-0000-4000-8000-000000000002", SpeciesName: "Corvus corax", Score: "4"},
	}}
	e, _ := newTestController(t, &fakeSearcher{}, &fakeFetcher{}, WithHistory(history))

	rec := doRequest(e, http.MethodGet, "/api/v1/predictions?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []datastore.PredictionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)
	assert.Equal(t, 10, history.limit)

	rec = doRequest(e, http.MethodGet, "/api/v1/predictions?limit=-3", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(e, http.MethodGet, "/api/v1/predictions/b4c0d5e6-0000-4000-8000-000000000002", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got datastore.PredictionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Corvus corax", got.SpeciesName)

	rec = doRequest(e, http.MethodGet, "/api/v1/predictions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusForError(t *testing.T) {
	t.Parallel()

	build := func(cat errors.ErrorCategory) error {
		return errors.Newf("boom").Category(cat).Component("test").Build()
	}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", build(errors.CategoryValidation), http.StatusBadRequest},
		{"not found", build(errors.CategoryNotFound), http.StatusNotFound},
		{"network", build(errors.CategoryNetwork), http.StatusBadGateway},
		{"http", build(errors.CategoryHTTP), http.StatusBadGateway},
		{"malformed", build(errors.CategoryMalformed), http.StatusBadGateway},
		{"integration", build(errors.CategoryIntegration), http.StatusBadGateway},
		{"timeout", build(errors.CategoryTimeout), http.StatusGatewayTimeout},
		{"cancelled", build(errors.CategoryCancellation), http.StatusServiceUnavailable},
		{"database", build(errors.CategoryDatabase), http.StatusInternalServerError},
		{"plain", errors.NewStd("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StatusForError(tt.err))
		})
	}
}
