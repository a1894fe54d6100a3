package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/dipeo/dipeo/cmd/server/container"
	"github.com/dipeo/dipeo/cmd/server/handlers"
	"github.com/dipeo/dipeo/common/middleware"
)

// RegisterExecutionRoutes registers the execution lifecycle endpoints.
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(c)

	startLimit := middleware.ExecutionRateLimit(c.Limiter, int64(c.Components.Config.RateLimit.StartsPerMinute))

	executions := e.Group("/api/v1/executions")
	{
		executions.POST("", h.Execute, startLimit)
		executions.GET("", h.List)
		executions.GET("/:id", h.Get)
		executions.POST("/:id/control", h.Control)
		executions.POST("/:id/respond", h.Respond)
	}
}

// RegisterDiagramRoutes registers diagram upload and lookup.
func RegisterDiagramRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewDiagramHandler(c)

	diagrams := e.Group("/api/v1/diagrams")
	{
		diagrams.POST("", h.Upload)
		diagrams.GET("", h.List)
		diagrams.GET("/:id", h.Get)
		diagrams.DELETE("/:id", h.Delete)
	}
}

// RegisterSubscriptionRoutes registers the websocket event stream.
func RegisterSubscriptionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWSHandler(c)
	e.GET("/ws/executions/:id", h.Subscribe)
}

// RegisterMetricsRoutes registers the service summary endpoint.
func RegisterMetricsRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewMetricsHandler(c)
	e.GET("/api/v1/metrics", h.Summary)
}
