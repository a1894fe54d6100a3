package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dipeo/dipeo/cmd/server/container"
	"github.com/dipeo/dipeo/common/sdk"
)

// MetricsHandler serves the service summary endpoint.
type MetricsHandler struct {
	container *container.Container
}

// NewMetricsHandler creates the handler.
func NewMetricsHandler(c *container.Container) *MetricsHandler {
	return &MetricsHandler{container: c}
}

// Summary returns execution counts and runtime stats.
// GET /api/v1/metrics
func (h *MetricsHandler) Summary(c echo.Context) error {
	snap, err := h.container.Metrics.Snapshot(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, sdk.ErrorResponse{
			Error:   "metrics_failed",
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, snap)
}
