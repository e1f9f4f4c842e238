// Package api serves stored runs over a read-only HTTP API.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/scopeoor/pkg/config"
	"github.com/ethpandaops/scopeoor/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	// Addr returns the bound listen address once started.
	Addr() string
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	engine     store.Engine
	limiter    *rateLimiterMap
	httpServer *http.Server
	addr       string
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server reading from engine. The engine must
// be connected by the caller and outlive the server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	engine store.Engine,
) Server {
	return &server{
		log:    log.WithField("component", "api"),
		cfg:    cfg,
		engine: engine,
		done:   make(chan struct{}),
	}
}

// Start binds the listen address and serves requests in the background.
func (s *server) Start(_ context.Context) error {
	if !s.engine.Connected() {
		return fmt.Errorf("starting api: %w", store.ErrNotConnected)
	}

	if s.cfg.Server.RateLimit.Enabled {
		s.limiter = newRateLimiterMap(s.cfg.Server.RateLimit.RequestsPerMinute, s.done)
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.addr = ln.Addr().String()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.addr).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server. Later calls are no-ops.
func (s *server) Stop() error {
	s.stopOnce.Do(s.shutdown)

	return nil
}

func (s *server) shutdown() {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")
}

func (s *server) Addr() string {
	return s.addr
}
