package state

import (
	"context"
	"time"

	"github.com/dipeo/dipeo/common/logger"
)

// Janitor sweeps terminal executions out of the durable repository once they
// age past the retention window.
type Janitor struct {
	service  *Service
	log      *logger.Logger
	interval time.Duration
	retain   time.Duration
}

// JanitorOpts configures a Janitor.
type JanitorOpts struct {
	Service *Service
	Logger  *logger.Logger

	// Interval between sweeps. Defaults to one hour.
	Interval time.Duration

	// Retain is how long terminal executions stay queryable after they end.
	Retain time.Duration
}

// NewJanitor creates a janitor. Call Start to begin sweeping.
func NewJanitor(opts JanitorOpts) *Janitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Janitor{
		service:  opts.Service,
		log:      opts.Logger,
		interval: opts.Interval,
		retain:   opts.Retain,
	}
}

// Start sweeps on the interval until ctx is cancelled. Sweep failures are
// logged and retried on the next tick.
func (j *Janitor) Start(ctx context.Context) error {
	j.log.Info("state janitor starting", "interval", j.interval, "retain", j.retain)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("state janitor shutting down")
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.retain)
	removed, err := j.service.Cleanup(ctx, cutoff)
	if err != nil {
		j.log.Error("state cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		j.log.Info("removed expired executions", "count", removed)
	}
}
