package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chestguard/chestguard/internal/enrichment"
)

// EnrichmentStatusData is the payload of GET /enrichment/status.
type EnrichmentStatusData struct {
	Enabled bool `json:"enabled"`
	enrichment.Status
}

// GetEnrichmentStatus handles GET /enrichment/status.
func (c *Controller) GetEnrichmentStatus(ctx echo.Context) error {
	if c.enrichment == nil {
		return respond(ctx, http.StatusOK, EnrichmentStatusData{}, "Enrichment is not configured")
	}

	status, err := c.enrichment.Status(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err)
	}
	data := EnrichmentStatusData{Enabled: c.enrichment.Enabled(), Status: status}
	if !data.Enabled {
		return respond(ctx, http.StatusOK, data, "Enrichment is disabled")
	}
	return respond(ctx, http.StatusOK, data, "Enrichment status retrieved successfully")
}
