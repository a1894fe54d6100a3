package container

import (
	"context"
	"fmt"
	"os"

	"github.com/dipeo/dipeo/cmd/server/service"
	"github.com/dipeo/dipeo/common/bootstrap"
	"github.com/dipeo/dipeo/common/cache"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/engine/handlers"
	"github.com/dipeo/dipeo/common/events"
	"github.com/dipeo/dipeo/common/metrics"
	"github.com/dipeo/dipeo/common/observers"
	"github.com/dipeo/dipeo/common/ports"
	"github.com/dipeo/dipeo/common/ratelimit"
	"github.com/dipeo/dipeo/common/registry"
	"github.com/dipeo/dipeo/common/state"
)

// Container holds the wired service graph. Everything is created once at
// startup; handlers only read from it.
type Container struct {
	Components *bootstrap.Components
	Services   *registry.Registry
	Engine     *engine.Engine
	Diagrams   *cache.Diagrams
	Metrics    *metrics.Collector
	Responder  *service.InteractiveResponder

	// Limiter is nil when rate limiting is disabled or no redis client is
	// available.
	Limiter *ratelimit.Limiter

	stateObserver  *observers.StateStoreObserver
	streamObserver *observers.StreamingObserver
	sessionSub     *events.Subscription
	stopJanitor    context.CancelFunc
}

// New wires the service graph on top of the bootstrapped components.
func New(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	services := registry.New()
	registry.Set(services, registry.StateService, components.State)
	registry.Set(services, registry.StateRepository, components.Repository)
	registry.Set(services, registry.EventBus, components.Bus)
	registry.Set(services, registry.MessageRouter, components.Router)

	registry.Set[ports.LLMService](services, registry.LLMService, ports.NewOpenAILLM(ports.OpenAIOpts{
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		Logger:  log,
	}))
	registry.Set[ports.APIInvoker](services, registry.APIInvoker, ports.NewHTTPInvoker(nil, log))

	fs, err := ports.NewOSFileSystem(cfg.State.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("container: filesystem adapter: %w", err)
	}
	registry.Set[ports.FileSystem](services, registry.FileSystemAdapter, fs)

	responder := service.NewInteractiveResponder(components.Bus, log)
	registry.Set[ports.UserResponder](services, registry.UserResponder, responder)

	handlerRegistry := engine.NewHandlerRegistry()
	handlers.RegisterAll(handlerRegistry, handlers.Opts{})
	registry.Set(services, engine.HandlerRegistryKey, handlerRegistry)

	eng, err := engine.New(engine.Opts{
		Handlers:         handlerRegistry,
		Services:         services,
		State:            components.State,
		Logger:           log,
		MaxConcurrent:    cfg.Engine.MaxConcurrent,
		MaxIterations:    cfg.Engine.MaxIterations,
		ExecutionTimeout: cfg.Engine.ExecutionTimeout,
		NodeTimeout:      cfg.Engine.NodeTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("container: engine: %w", err)
	}
	registry.Set[engine.Runner](services, engine.RunnerKey, eng)

	stateObserver := observers.NewStateStoreObserver(components.State, log)
	stateObserver.Attach(components.Bus)
	streamObserver := observers.NewStreamingObserver(components.Router)
	streamObserver.Attach(components.Bus)

	// CLI session markers outlive the CLI's connection only until the
	// execution ends.
	sessionSub := components.Bus.Subscribe([]events.Type{
		events.ExecutionCompleted,
		events.ExecutionFailed,
		events.ExecutionAborted,
	}, func(e events.Event) {
		components.Router.UnregisterCLISession(e.ExecutionID)
	})

	diagrams := cache.NewDiagrams(log)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled && components.Redis != nil {
		limiter = ratelimit.New(components.Redis, log)
	}

	var stopJanitor context.CancelFunc
	if cfg.State.CleanupOlderThan > 0 {
		janitor := state.NewJanitor(state.JanitorOpts{
			Service: components.State,
			Logger:  log,
			Retain:  cfg.State.CleanupOlderThan,
		})
		var jctx context.Context
		jctx, stopJanitor = context.WithCancel(context.Background())
		go janitor.Start(jctx)
	}

	return &Container{
		Components:     components,
		Services:       services,
		Engine:         eng,
		Diagrams:       diagrams,
		Metrics:        metrics.NewCollector(components.State, diagrams, components.Router),
		Responder:      responder,
		Limiter:        limiter,
		stateObserver:  stateObserver,
		streamObserver: streamObserver,
		sessionSub:     sessionSub,
		stopJanitor:    stopJanitor,
	}, nil
}

// Close stops the engine and detaches the observers.
func (c *Container) Close() {
	if c.stopJanitor != nil {
		c.stopJanitor()
	}
	c.sessionSub.Close()
	c.streamObserver.Detach()
	c.stateObserver.Detach()
	c.Engine.Close()
}
