package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lightvibes/biomap/internal/logger"
	"github.com/lightvibes/biomap/internal/prediction"
)

func (c *Controller) initPredictionRoutes() {
	c.Group.POST("/predictions", c.CreatePrediction)
	c.Group.GET("/predictions", c.ListPredictions)
	c.Group.GET("/predictions/:id", c.GetPrediction)
}

// CreatePrediction runs a forecast for the requested species.
func (c *Controller) CreatePrediction(ctx echo.Context) error {
	if c.predictor == nil {
		return c.HandleError(ctx, nil, "Prediction service is not configured", http.StatusServiceUnavailable)
	}

	var req prediction.Request
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	res, err := c.predictor.Run(ctx.Request().Context(), req)
	if err != nil {
		c.recordPrediction("error")
		return c.handleServiceError(ctx, err, "Prediction failed")
	}

	status := "success"
	if res.NarrativeError != "" {
		status = "narrative_error"
	}
	c.recordPrediction(status)

	c.log.Info("prediction completed",
		logger.String("species", req.SpeciesName),
		logger.Int("n_steps", req.NSteps),
		logger.Bool("narrative", res.Assessment != nil))

	return ctx.JSON(http.StatusOK, res)
}

func (c *Controller) recordPrediction(status string) {
	if c.metrics != nil {
		c.metrics.RecordPrediction(status)
	}
}

// ListPredictions returns recent predictions, newest first.
func (c *Controller) ListPredictions(ctx echo.Context) error {
	if c.history == nil {
		return c.HandleError(ctx, nil, "Prediction history is not enabled", http.StatusServiceUnavailable)
	}

	limit := 0
	if raw := ctx.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.HandleError(ctx, err, "limit must be a non-negative integer", http.StatusBadRequest)
		}
		limit = n
	}

	records, err := c.history.List(ctx.Request().Context(), limit)
	if err != nil {
		return c.handleServiceError(ctx, err, "Failed to list predictions")
	}
	return ctx.JSON(http.StatusOK, records)
}

// GetPrediction returns one saved prediction.
func (c *Controller) GetPrediction(ctx echo.Context) error {
	if c.history == nil {
		return c.HandleError(ctx, nil, "Prediction history is not enabled", http.StatusServiceUnavailable)
	}

	rec, err := c.history.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.handleServiceError(ctx, err, "Prediction not found")
	}
	return ctx.JSON(http.StatusOK, rec)
}
