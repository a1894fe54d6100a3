package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration
type Config struct {
	Service   Service
	Engine    Engine
	State     State
	Events    Events
	RateLimit RateLimit
	Telemetry Telemetry
}

// Service holds service-level settings
type Service struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// Engine holds scheduler defaults
type Engine struct {
	MaxConcurrent    int           // parallel handler dispatches per execution
	MaxIterations    int           // global loop guard per execution
	ExecutionTimeout time.Duration // wall-clock limit per execution
	NodeTimeout      time.Duration // default per-node limit
}

// State holds execution state store settings
type State struct {
	Backend          string // "file", "memory", "redis", "postgres"
	BaseDir          string // file backend: {BaseDir}/executions/{id}.json
	MaxLive          int    // live-execution cache capacity
	RedisAddr        string
	RedisPassword    string
	PostgresURL      string
	CleanupOlderThan time.Duration
}

// Events holds event bus settings
type Events struct {
	QueueSize    int // per-subscriber bounded queue
	ReplayWindow int // events retained per execution for cold replay
}

// RateLimit throttles execution starts. Requires the redis state backend;
// silently disabled otherwise.
type RateLimit struct {
	Enabled         bool
	StartsPerMinute int
}

// Telemetry holds the optional pprof listener settings. Port 0 disables it.
type Telemetry struct {
	PprofPort int
}

// Load loads configuration from environment variables.
// A .env file in the working directory is applied first when present.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Service: Service{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Engine: Engine{
			MaxConcurrent:    getEnvInt("ENGINE_MAX_CONCURRENT", 8),
			MaxIterations:    getEnvInt("ENGINE_MAX_ITERATIONS", 100),
			ExecutionTimeout: getEnvDuration("ENGINE_EXECUTION_TIMEOUT", 10*time.Minute),
			NodeTimeout:      getEnvDuration("ENGINE_NODE_TIMEOUT", 2*time.Minute),
		},
		State: State{
			Backend:          getEnv("STATE_BACKEND", "file"),
			BaseDir:          getEnv("STATE_BASE_DIR", ".dipeo"),
			MaxLive:          getEnvInt("STATE_MAX_LIVE", 256),
			RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword:    getEnv("REDIS_PASSWORD", ""),
			PostgresURL:      getEnv("POSTGRES_URL", ""),
			CleanupOlderThan: getEnvDuration("STATE_CLEANUP_OLDER_THAN", 7*24*time.Hour),
		},
		Events: Events{
			QueueSize:    getEnvInt("EVENTS_QUEUE_SIZE", 1000),
			ReplayWindow: getEnvInt("EVENTS_REPLAY_WINDOW", 1000),
		},
		RateLimit: RateLimit{
			Enabled:         getEnvBool("RATE_LIMIT_ENABLED", false),
			StartsPerMinute: getEnvInt("RATE_LIMIT_STARTS_PER_MINUTE", 120),
		},
		Telemetry: Telemetry{
			PprofPort: getEnvInt("TELEMETRY_PPROF_PORT", 0),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Engine.MaxConcurrent < 1 {
		return fmt.Errorf("engine max_concurrent must be >= 1")
	}

	if c.Engine.MaxIterations < 1 {
		return fmt.Errorf("engine max_iterations must be >= 1")
	}

	switch c.State.Backend {
	case "file", "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown state backend: %s", c.State.Backend)
	}

	if c.State.Backend == "postgres" && c.State.PostgresURL == "" {
		return fmt.Errorf("postgres backend requires POSTGRES_URL")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
