// Package bootstrap assembles the shared infrastructure components a service
// needs: config, logging, the event bus, the state store, and the event
// router. Services call Setup once at start and Shutdown on exit.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo/common/config"
	"github.com/dipeo/dipeo/common/events"
	"github.com/dipeo/dipeo/common/logger"
	"github.com/dipeo/dipeo/common/redis"
	"github.com/dipeo/dipeo/common/router"
	"github.com/dipeo/dipeo/common/state"
	"github.com/dipeo/dipeo/common/telemetry"
)

// Setup builds the component graph for a service. Components are created in
// dependency order and registered for LIFO teardown; on any failure the
// already-created components are shut down before the error returns.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := applyOptions(opts)
	c := &Components{}

	cfg := options.config
	if cfg == nil {
		loaded, err := config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load config: %w", err)
		}
		cfg = loaded
	}
	c.Config = cfg

	if options.logger != nil {
		c.Logger = options.logger
	} else {
		c.Logger = logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	}

	c.Bus = events.NewBus(events.BusOpts{
		QueueSize:    cfg.Events.QueueSize,
		ReplayWindow: cfg.Events.ReplayWindow,
		Logger:       c.Logger,
	})
	c.addCleanup(func(context.Context) error {
		c.Bus.Close()
		return nil
	})

	if err := setupRepository(ctx, c, options); err != nil {
		_ = c.Shutdown(ctx)
		return nil, err
	}

	c.State = state.NewService(state.ServiceOpts{
		Repository: c.Repository,
		Bus:        c.Bus,
		Logger:     c.Logger,
		MaxLive:    cfg.State.MaxLive,
	})

	c.Router = router.New(router.Opts{Logger: c.Logger})

	if cfg.Telemetry.PprofPort > 0 {
		c.Telemetry = telemetry.New(cfg.Telemetry.PprofPort, c.Logger)
		if err := c.Telemetry.Start(ctx); err != nil {
			_ = c.Shutdown(ctx)
			return nil, fmt.Errorf("bootstrap: start telemetry: %w", err)
		}
	}

	c.Logger.Info("components ready",
		"service", cfg.Service.Name,
		"state_backend", cfg.State.Backend,
	)
	return c, nil
}

func setupRepository(ctx context.Context, c *Components, options *setupOptions) error {
	if options.repository != nil {
		c.Repository = options.repository
		return nil
	}

	cfg := c.Config
	switch cfg.State.Backend {
	case "memory":
		c.Repository = state.NewMemoryRepository()

	case "file":
		repo, err := state.NewFileRepository(cfg.State.BaseDir)
		if err != nil {
			return fmt.Errorf("bootstrap: file repository: %w", err)
		}
		c.Repository = repo

	case "redis":
		client, err := redis.Connect(ctx, cfg.State.RedisAddr, cfg.State.RedisPassword, c.Logger)
		if err != nil {
			return fmt.Errorf("bootstrap: connect redis: %w", err)
		}
		c.Redis = client
		c.addCleanup(func(context.Context) error {
			return client.Close()
		})
		c.Repository = state.NewRedisRepository(client)

	case "postgres":
		repo, err := state.NewPostgresRepository(ctx, cfg.State.PostgresURL)
		if err != nil {
			return fmt.Errorf("bootstrap: postgres repository: %w", err)
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return fmt.Errorf("bootstrap: postgres schema: %w", err)
		}
		c.addCleanup(func(context.Context) error {
			repo.Close()
			return nil
		})
		c.Repository = repo

	default:
		return fmt.Errorf("bootstrap: unknown state backend %q", cfg.State.Backend)
	}
	return nil
}
