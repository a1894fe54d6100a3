package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/dipeo/dipeo/common/cache"
	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/router"
	"github.com/dipeo/dipeo/common/state"
)

// Snapshot is a point-in-time service summary served by the metrics
// endpoint.
type Snapshot struct {
	UptimeSeconds  int64          `json:"uptime_seconds"`
	Goroutines     int            `json:"goroutines"`
	HeapAllocMB    uint64         `json:"heap_alloc_mb"`
	GoVersion      string         `json:"go_version"`
	Executions     map[string]int `json:"executions"`
	DiagramsStored int            `json:"diagrams_stored"`
	CLISessions    int            `json:"cli_sessions"`
}

// Collector produces snapshots from the live service components.
type Collector struct {
	state     *state.Service
	diagrams  *cache.Diagrams
	router    *router.Router
	startedAt time.Time
}

// NewCollector wires a collector.
func NewCollector(st *state.Service, diagrams *cache.Diagrams, r *router.Router) *Collector {
	return &Collector{
		state:     st,
		diagrams:  diagrams,
		router:    r,
		startedAt: time.Now().UTC(),
	}
}

// Snapshot gathers the current summary.
func (c *Collector) Snapshot(ctx context.Context) (*Snapshot, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	snap := &Snapshot{
		UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   mem.HeapAlloc / 1024 / 1024,
		GoVersion:     runtime.Version(),
		Executions:    make(map[string]int),
	}
	if c.diagrams != nil {
		snap.DiagramsStored = c.diagrams.Len()
	}
	if c.router != nil {
		snap.CLISessions = len(c.router.ActiveCLISessions())
	}

	if c.state != nil {
		all, err := c.state.ListExecutions(ctx, execution.Filter{})
		if err != nil {
			return nil, err
		}
		for _, st := range all {
			snap.Executions[string(st.Status)]++
		}
	}
	return snap, nil
}
