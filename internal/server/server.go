// Package server wires every Buxton component together and owns the
// daemon's lifecycle, modeled on the teacher's Server/NewServer/Start/
// Shutdown shape (server.go) but built around the single-threaded event
// loop instead of a goroutine-per-connection WebSocket server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"buxton/internal/acl"
	"buxton/internal/backend"
	"buxton/internal/backend/file"
	"buxton/internal/backend/memory"
	"buxton/internal/config"
	"buxton/internal/eventloop"
	"buxton/internal/metrics"
	"buxton/internal/notify"
	"buxton/internal/rate"
	"buxton/internal/resolver"
	"buxton/internal/resources"
)

// Server owns the daemon's collaborators and the debug HTTP surface (spec
// §6 ADD "/metrics", "/healthz"), separate from the control socket the
// event loop serves.
type Server struct {
	cfg    *config.DaemonConfig
	logger zerolog.Logger

	registry *backend.Registry
	resolver *resolver.Resolver
	loop     *eventloop.Loop
	metrics  *metrics.Metrics

	debugServer *http.Server

	cancel  context.CancelFunc
	loopErr chan error
}

// New loads the layer configuration, wires the backend registry, notifier,
// resolver and event loop, and prepares (but does not start) the debug HTTP
// surface, matching the teacher's NewServer separating construction from
// Start.
func New(cfg *config.DaemonConfig, logger zerolog.Logger) (*Server, error) {
	layers, err := config.LoadLayerConfig(cfg.LayerConfig)
	if err != nil {
		return nil, fmt.Errorf("server: load layer config: %w", err)
	}

	m := metrics.New()

	registry := backend.NewRegistry(map[backend.Kind]backend.Opener{
		backend.KindMemory:     memory.Open,
		backend.KindPersistent: file.Open(cfg.StorageRoot),
	})

	checker := acl.NopChecker{}
	notifier := notify.New(checker)
	res := resolver.New(layers, registry, checker, notifier, cfg.RootCheck, m)

	loop, err := eventloop.New(eventloop.Config{
		SocketPath:   cfg.Socket,
		Guard:        resources.NewGuard(cfg.MaxRSSBytes),
		Limiter:      rate.New(1000, 2000),
		Metrics:      m,
		LabelSource:  acl.DefaultLabelSource,
		Logger:       logger,
		RuleChangeFD: -1,
	}, res)
	if err != nil {
		registry.Close()
		return nil, fmt.Errorf("server: build event loop: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", handleHealthz)

	return &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		resolver: res,
		loop:     loop,
		metrics:  m,
		debugServer: &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Start launches the event loop and the debug HTTP surface. It returns once
// both are running; call Shutdown to stop them.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loopErr = make(chan error, 1)

	go func() {
		s.loopErr <- s.loop.Run(ctx)
	}()

	go func() {
		s.logger.Info().Str("addr", s.cfg.MetricsAddr).Msg("debug HTTP surface listening")
		if err := s.debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("debug HTTP server error")
		}
	}()

	s.logger.Info().Str("socket", s.cfg.Socket).Msg("buxton daemon started")
	return nil
}

// Shutdown stops the event loop, closes every backend handle, and shuts
// down the debug HTTP surface, matching the teacher's Shutdown's
// cancel-then-wait-then-teardown order.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("shutting down buxton daemon")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.debugServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("debug HTTP server shutdown error")
	}

	s.cancel()
	if err := <-s.loopErr; err != nil {
		s.logger.Error().Err(err).Msg("event loop returned an error")
	}

	if err := s.loop.Close(); err != nil {
		s.logger.Error().Err(err).Msg("event loop close error")
	}

	if err := s.registry.Close(); err != nil {
		s.logger.Error().Err(err).Msg("backend registry close error")
		return err
	}

	s.logger.Info().Msg("buxton daemon stopped")
	return nil
}
