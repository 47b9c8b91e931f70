package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lightvibes/biomap/internal/logger"
	"github.com/lightvibes/biomap/internal/mapview"
	"github.com/lightvibes/biomap/internal/occurrence"
)

const (
	defaultZoom = 2
	maxZoom     = 22

	streamOccurrences = "occurrences"
)

func (c *Controller) initOccurrenceRoutes() {
	c.Group.GET("/occurrences", c.GetOccurrences)
	c.Group.GET("/occurrences/geojson", c.GetOccurrencesGeoJSON)
	c.Group.GET("/occurrences/stream", c.StreamOccurrences)
}

func occurrenceQuery(ctx echo.Context) occurrence.Query {
	return occurrence.Query{
		TaxonKey: ctx.QueryParam("taxon_key"),
		Year:     ctx.QueryParam("year"),
		Mode:     ctx.QueryParam("mode"),
	}
}

func (c *Controller) fetch(ctx echo.Context, q occurrence.Query) (*occurrence.Result, error) {
	res, err := c.fetcher.Fetch(ctx.Request().Context(), q)
	c.recordFetch(q.Mode, res, err)
	return res, err
}

func (c *Controller) recordFetch(mode string, res *occurrence.Result, err error) {
	if c.metrics == nil {
		return
	}
	if mode == "" {
		mode = c.Settings.Fetch.Mode
	}
	if err != nil {
		c.metrics.RecordOccurrenceFetch(mode, "error", 0)
		return
	}
	c.metrics.RecordOccurrenceFetch(mode, "success", len(res.Records))
}

// GetOccurrences returns deduplicated occurrence records for a taxon.
func (c *Controller) GetOccurrences(ctx echo.Context) error {
	res, err := c.fetch(ctx, occurrenceQuery(ctx))
	if err != nil {
		return c.handleServiceError(ctx, err, occurrence.StatusForError(err))
	}
	return ctx.JSON(http.StatusOK, res)
}

// GetOccurrencesGeoJSON returns occurrences as a GeoJSON FeatureCollection,
// clustered for the requested zoom unless cluster=false.
func (c *Controller) GetOccurrencesGeoJSON(ctx echo.Context) error {
	zoom := defaultZoom
	if raw := ctx.QueryParam("zoom"); raw != "" {
		z, err := strconv.Atoi(raw)
		if err != nil || z < 0 || z > maxZoom {
			return c.HandleError(ctx, err, "zoom must be an integer between 0 and 22", http.StatusBadRequest)
		}
		zoom = z
	}

	res, err := c.fetch(ctx, occurrenceQuery(ctx))
	if err != nil {
		return c.handleServiceError(ctx, err, occurrence.StatusForError(err))
	}

	markers := mapview.Markers(res.Records)
	ctx.Response().Header().Set("X-Occurrence-Status", res.Status)

	var fc mapview.FeatureCollection
	if ctx.QueryParam("cluster") == "false" {
		fc = mapview.MarkerCollection(markers)
	} else {
		clusters := mapview.ClusterMarkers(markers, zoom, mapview.DefaultClusterRadius, mapview.DefaultDisableClusteringAtZoom)
		fc = mapview.ClusterCollection(clusters)
	}

	ctx.Response().Header().Set(echo.HeaderContentType, "application/geo+json")
	return ctx.JSON(http.StatusOK, fc)
}

type fetchOutcome struct {
	res *occurrence.Result
	err error
}

// ProgressEvent is sent while a paged fetch runs.
type ProgressEvent struct {
	Percent int `json:"percent"`
}

// StreamOccurrences runs a fetch and reports progress as server-sent events:
// "progress" events, then one "result" or "error" event.
func (c *Controller) StreamOccurrences(ctx echo.Context) error {
	q := occurrenceQuery(ctx)
	if q.TaxonKey == "" {
		return c.HandleError(ctx, nil, "taxon_key is required", http.StatusBadRequest)
	}
	if q.Mode == "" {
		q.Mode = c.Settings.Fetch.Mode
	}

	sctx, cancel := c.streamContext(ctx)
	defer cancel()

	progress := make(chan int, 16)
	done := make(chan fetchOutcome, 1)
	q.OnProgress = func(p int) {
		select {
		case progress <- p:
		default:
		}
	}

	start := time.Now()
	go func() {
		res, err := c.fetcher.Fetch(sctx, q)
		done <- fetchOutcome{res, err}
	}()

	startSSE(ctx)
	c.sseOpened()
	defer c.sseClosed()

	send := func(event string, data any) error {
		return c.sendSSEMessage(ctx, streamOccurrences, event, data)
	}

	for {
		select {
		case p := <-progress:
			if err := send("progress", ProgressEvent{Percent: p}); err != nil {
				return nil
			}

		case out := <-done:
		drain:
			for {
				select {
				case p := <-progress:
					if err := send("progress", ProgressEvent{Percent: p}); err != nil {
						return nil
					}
				default:
					break drain
				}
			}

			c.recordFetch(q.Mode, out.res, out.err)
			if out.err != nil {
				resp := NewErrorResponse(out.err, occurrence.StatusForError(out.err), StatusForError(out.err))
				_ = send("error", resp)
				return nil
			}
			c.log.Debug("occurrence stream finished",
				logger.String("taxon_key", q.TaxonKey),
				logger.Int("records", len(out.res.Records)),
				logger.Duration("elapsed", time.Since(start)))
			_ = send("result", out.res)
			return nil

		case <-sctx.Done():
			// the fetch sees the same context and returns on its own
			if ctx.Request().Context().Err() != nil {
				return nil
			}
			_ = send("error", NewErrorResponse(sctx.Err(), "Server shutting down", http.StatusServiceUnavailable))
			return nil
		}
	}
}
