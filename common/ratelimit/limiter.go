package ratelimit

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dipeo/dipeo/common/logger"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed           bool
	CurrentCount      int64
	Limit             int64
	RetryAfterSeconds int64
}

// Limiter throttles execution starts with an atomic redis counter. The Lua
// script keeps INCR and window expiry in one round trip.
type Limiter struct {
	redis  *redis.Client
	script *redis.Script
	log    *logger.Logger
}

// New creates a limiter backed by the given redis client.
func New(client *redis.Client, log *logger.Logger) *Limiter {
	return &Limiter{
		redis:  client,
		script: redis.NewScript(rateLimitScript),
		log:    log,
	}
}

// CheckGlobal checks the service-wide execution start limit over a one
// minute window.
func (l *Limiter) CheckGlobal(ctx context.Context, limit int64) (*Result, error) {
	return l.check(ctx, "dipeo:rate_limit:executions", limit, 60)
}

// CheckClient checks the per-client limit over the given window.
func (l *Limiter) CheckClient(ctx context.Context, clientID string, limit int64, windowSec int) (*Result, error) {
	key := fmt.Sprintf("dipeo:rate_limit:client:%s", clientID)
	return l.check(ctx, key, limit, windowSec)
}

func (l *Limiter) check(ctx context.Context, key string, limit int64, windowSec int) (*Result, error) {
	raw, err := l.script.Run(ctx, l.redis, []string{key}, limit, windowSec).Result()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: check %s: %w", key, err)
	}

	fields, ok := raw.([]interface{})
	if !ok || len(fields) != 4 {
		return nil, fmt.Errorf("ratelimit: unexpected script result %T", raw)
	}

	res := &Result{
		Allowed:           fields[0].(int64) == 1,
		CurrentCount:      fields[1].(int64),
		Limit:             fields[2].(int64),
		RetryAfterSeconds: fields[3].(int64),
	}
	if !res.Allowed {
		l.log.Warn("rate limit exceeded",
			"key", key,
			"current", res.CurrentCount,
			"limit", res.Limit,
			"retry_after", res.RetryAfterSeconds)
	}
	return res, nil
}

// Reset clears a counter. Used by tests and admin tooling.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, key).Err()
}
