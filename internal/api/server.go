// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package api is the HTTP surface of the gateway: request submission,
// execution and session inspection, ingester and registry administration,
// cluster endpoints, the WebSocket upgrade, health and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgfacade/dgfacade/internal/channel"
	"github.com/dgfacade/dgfacade/internal/cluster"
	"github.com/dgfacade/dgfacade/internal/config"
	"github.com/dgfacade/dgfacade/internal/dispatch"
	"github.com/dgfacade/dgfacade/internal/engine"
	"github.com/dgfacade/dgfacade/internal/ingest"
	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/streaming"
	"github.com/dgfacade/dgfacade/internal/websocket"
)

// Server wires the HTTP surface over the gateway's services. Cluster may be
// nil when clustering is disabled.
type Server struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	eng        *engine.Engine
	sessions   *streaming.Manager
	hub        *websocket.Hub
	ingesters  *ingest.Manager
	accessor   *channel.Accessor
	reloader   *config.Reloader
	cluster    *cluster.Service
	catalog    *config.HandlerStore

	started time.Time
}

// NewServer creates the HTTP server over its dependencies.
func NewServer(cfg *config.Config, dispatcher *dispatch.Dispatcher, eng *engine.Engine,
	sessions *streaming.Manager, hub *websocket.Hub, ingesters *ingest.Manager,
	accessor *channel.Accessor, reloader *config.Reloader, clusterSvc *cluster.Service,
	catalog *config.HandlerStore) *Server {
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		eng:        eng,
		sessions:   sessions,
		hub:        hub,
		ingesters:  ingesters,
		accessor:   accessor,
		reloader:   reloader,
		cluster:    clusterSvc,
		catalog:    catalog,
		started:    time.Now(),
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Api-Key"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.Server.RateLimitReqs > 0 {
			r.Use(httprate.LimitByIP(s.cfg.Server.RateLimitReqs, s.cfg.Server.RateLimitWindow))
		}

		r.Post("/requests", s.submitRequest)

		r.Route("/executions", func(r chi.Router) {
			r.Get("/recent", s.recentExecutions)
			r.Get("/active", s.activeExecutions)
			r.Get("/{requestID}", s.executionState)
			r.Delete("/{requestID}", s.cancelExecution)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Get("/{sessionID}", s.getSession)
			r.Delete("/{sessionID}", s.stopSession)
		})
		r.Get("/stream/{sessionID}/messages", s.pullMessages)
		r.Get("/ws", s.serveWS)

		r.Get("/channels", s.channelStats)

		r.Route("/ingesters", func(r chi.Router) {
			r.Get("/", s.ingesterStats)
			r.Post("/{ingesterID}/start", s.startIngester)
			r.Post("/{ingesterID}/stop", s.stopIngester)
		})
		r.Post("/ingest", s.manualIngest)

		r.Get("/handlers", s.handlerCatalogue)
		r.Post("/config/reload", s.reloadRegistries)

		r.Route("/cluster", func(r chi.Router) {
			r.Post("/heartbeat", s.clusterHeartbeat)
			r.Get("/nodes", s.clusterNodes)
			r.Post("/forward", s.clusterForward)
		})
	})
	return r
}

// Serve runs the HTTP listener until the context ends. Suture-compatible.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, fmt.Sprintf("%d", s.cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Server.Timeout,
		// Streaming pulls and WebSocket upgrades outlive the plain write
		// timeout; chi handlers bound their own work instead.
		WriteTimeout: 0,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logging.Err(err).Msg("http shutdown incomplete")
		}
		return ctx.Err()
	}
}
