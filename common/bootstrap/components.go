package bootstrap

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dipeo/dipeo/common/config"
	"github.com/dipeo/dipeo/common/events"
	"github.com/dipeo/dipeo/common/logger"
	"github.com/dipeo/dipeo/common/router"
	"github.com/dipeo/dipeo/common/state"
	"github.com/dipeo/dipeo/common/telemetry"
)

// Components holds the shared infrastructure a service runs on. Build one
// with Setup; tear it down with Shutdown.
type Components struct {
	Config     *config.Config
	Logger     *logger.Logger
	Bus        *events.Bus
	Redis      *goredis.Client // nil unless the redis state backend is active
	Repository state.Repository
	State      *state.Service
	Router     *router.Router
	Telemetry  *telemetry.Telemetry // nil unless a pprof port is configured

	cleanupFuncs []func(context.Context) error
}

// addCleanup registers a teardown step. Shutdown runs them in reverse order.
func (c *Components) addCleanup(fn func(context.Context) error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown releases everything Setup acquired, last-acquired first.
func (c *Components) Shutdown(ctx context.Context) error {
	var firstErr error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("bootstrap: shutdown: %w", firstErr)
	}
	return nil
}

// Health reports per-component liveness. Components that cannot fail (memory
// stores, the in-process bus) always report healthy.
func (c *Components) Health(ctx context.Context) map[string]string {
	health := map[string]string{
		"events": "healthy",
		"state":  "healthy",
	}

	if c.Redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := c.Redis.Ping(pingCtx).Err(); err != nil {
			health["redis"] = "unhealthy: " + err.Error()
		} else {
			health["redis"] = "healthy"
		}
	}

	if pg, ok := c.Repository.(*state.PostgresRepository); ok {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pg.Ping(pingCtx); err != nil {
			health["postgres"] = "unhealthy: " + err.Error()
		} else {
			health["postgres"] = "healthy"
		}
	}

	return health
}
