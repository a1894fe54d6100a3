// Package server runs an http.Handler with sane timeouts and graceful
// shutdown on SIGINT/SIGTERM.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dipeo/dipeo/common/logger"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second

	// drainTimeout bounds how long in-flight requests may run after a
	// shutdown signal. Websocket subscriptions are closed with the listener.
	drainTimeout = 30 * time.Second
)

// Server hosts one HTTP listener for its whole lifetime.
type Server struct {
	name string
	http *http.Server
	log  *logger.Logger
}

// New wraps handler in a server listening on port.
func New(name string, port int, handler http.Handler, log *logger.Logger) *Server {
	return &Server{
		name: name,
		log:  log,
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
	}
}

// Start serves until the listener fails or a termination signal arrives,
// then drains in-flight requests before returning.
func (s *Server) Start() error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", "service", s.name, "addr", s.http.Addr)
		errc <- s.http.ListenAndServe()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		return fmt.Errorf("server: listen: %w", err)

	case sig := <-sigc:
		s.log.Info("shutting down", "service", s.name, "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()

		if err := s.http.Shutdown(ctx); err != nil {
			s.log.Warn("drain incomplete, forcing close", "error", err)
			if err := s.http.Close(); err != nil {
				return fmt.Errorf("server: close: %w", err)
			}
		}
		s.log.Info("shutdown complete", "service", s.name)
	}
	return nil
}
