package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dipeo/dipeo/cmd/server/container"
	"github.com/dipeo/dipeo/cmd/server/routes"
	"github.com/dipeo/dipeo/common/bootstrap"
	"github.com/dipeo/dipeo/common/server"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "dipeo-server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap server: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	serviceContainer, err := container.New(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize container: %v\n", err)
		os.Exit(1)
	}
	defer serviceContainer.Close()

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	srv := server.New("dipeo-server", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/healthz", func(c echo.Context) error {
		health := components.Health(c.Request().Context())
		status := http.StatusOK
		for _, v := range health {
			if v != "healthy" {
				status = http.StatusServiceUnavailable
				break
			}
		}
		return c.JSON(status, map[string]interface{}{
			"service":    "dipeo-server",
			"components": health,
		})
	})
}

func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterExecutionRoutes(e, serviceContainer)
	routes.RegisterDiagramRoutes(e, serviceContainer)
	routes.RegisterSubscriptionRoutes(e, serviceContainer)
	routes.RegisterMetricsRoutes(e, serviceContainer)
}
