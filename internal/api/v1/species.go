package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lightvibes/biomap/internal/search"
)

// SuggestResponse is the body of GET /species/suggest.
type SuggestResponse struct {
	Query       string              `json:"query"`
	Suggestions []search.Suggestion `json:"suggestions"`
}

func (c *Controller) initSpeciesRoutes() {
	c.Group.GET("/species/suggest", c.SuggestSpecies)
}

// SuggestSpecies returns species with occurrence records matching q.
func (c *Controller) SuggestSpecies(ctx echo.Context) error {
	query := strings.TrimSpace(ctx.QueryParam("q"))

	suggestions, err := c.searcher.Search(ctx.Request().Context(), query)
	if err != nil {
		c.recordSearch("error", 0)
		return c.handleServiceError(ctx, err, "Species search failed")
	}
	if suggestions == nil {
		suggestions = []search.Suggestion{}
	}
	c.recordSearch("success", len(suggestions))

	return ctx.JSON(http.StatusOK, SuggestResponse{Query: query, Suggestions: suggestions})
}

func (c *Controller) recordSearch(status string, n int) {
	if c.metrics != nil {
		c.metrics.RecordSearch(status, n)
	}
}
