package telemetry

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/dipeo/dipeo/common/logger"
)

// Telemetry hosts the optional pprof endpoint. Disabled unless a port is
// configured; profiling a stuck scheduler loop is the main use.
type Telemetry struct {
	log       *logger.Logger
	pprofAddr string
}

// New creates a telemetry component listening on localhost.
func New(pprofPort int, log *logger.Logger) *Telemetry {
	return &Telemetry{
		log:       log,
		pprofAddr: fmt.Sprintf("localhost:%d", pprofPort),
	}
}

// Start launches the pprof listener in the background.
func (t *Telemetry) Start(_ context.Context) error {
	go func() {
		t.log.Info("pprof server starting", "addr", t.pprofAddr)
		if err := http.ListenAndServe(t.pprofAddr, nil); err != nil {
			t.log.Error("pprof server error", "error", err)
		}
	}()
	return nil
}

// RecordDuration logs an operation duration at debug level.
func (t *Telemetry) RecordDuration(operation string, start time.Time) {
	t.log.Debug("operation completed",
		"operation", operation,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
