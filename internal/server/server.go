/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the jukebox services together and runs the HTTP
// frontend plus the playback scheduler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_jukebox/internal/api"
	"github.com/friendsincode/bragi_jukebox/internal/archiver"
	"github.com/friendsincode/bragi_jukebox/internal/config"
	"github.com/friendsincode/bragi_jukebox/internal/db"
	"github.com/friendsincode/bragi_jukebox/internal/events"
	"github.com/friendsincode/bragi_jukebox/internal/filler"
	"github.com/friendsincode/bragi_jukebox/internal/player"
	"github.com/friendsincode/bragi_jukebox/internal/queue"
	"github.com/friendsincode/bragi_jukebox/internal/resolver"
	"github.com/friendsincode/bragi_jukebox/internal/scheduler"
	"github.com/friendsincode/bragi_jukebox/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db        *gorm.DB
	store     *queue.Store
	fillerSvc *filler.Supplier
	device    *player.MPV
	scheduler *scheduler.Service
	api       *api.API
	bus       *events.Bus

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	if cfg.MetricsEnabled {
		router.Use(telemetry.MetricsMiddleware)
	}
	// Skip timeout for WebSocket connections
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}
	if err := s.initDependencies(); err != nil {
		return nil, err
	}
	s.configureRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) initDependencies() error {
	if err := s.cfg.EnsureDirs(); err != nil {
		return err
	}

	gormDB, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.db = gormDB
	s.DeferClose(func() error { return db.Close(gormDB) })

	if err := db.Migrate(gormDB); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	store, err := queue.NewStore(s.cfg.QueuePath)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	s.store = store

	res := resolver.NewYTDLP(s.cfg.YTDLPBin, s.cfg.ThumbnailDir, s.logger)

	fillerSvc, err := filler.NewSupplier(gormDB, res, s.logger)
	if err != nil {
		return fmt.Errorf("init filler supplier: %w", err)
	}
	s.fillerSvc = fillerSvc

	s.device = player.NewMPV(s.cfg.PlayerBin, s.cfg.PlayerSocket, s.logger)

	archiveSvc := archiver.NewService(gormDB, s.cfg.ArchiveHookURL, s.cfg.ArchiveHookSecret, s.logger)

	s.bus = events.NewBus()
	s.scheduler = scheduler.NewService(s.cfg, store, fillerSvc, res, s.device, archiveSvc, s.bus, s.logger)
	s.api = api.New(s.scheduler, fillerSvc, s.bus, s.logger)
	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if s.cfg.MetricsEnabled {
		s.router.Handle("/metrics", telemetry.Handler())
	}

	s.api.Routes(s.router)
}

// Start launches the playback device, the scheduler loop and the HTTP
// listener. It blocks until the HTTP server stops.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if err := s.device.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("start playback device: %w", err)
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("scheduler loop exited")
		}
	}()

	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP listener, then the background workers and the
// playback device.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	if s.bgCancel != nil {
		s.bgCancel()
		s.bgWG.Wait()
		s.bgCancel = nil
	}
	if cerr := s.device.Close(ctx); cerr != nil {
		s.logger.Error().Err(cerr).Msg("playback device close error")
	}
	if cerr := s.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}
