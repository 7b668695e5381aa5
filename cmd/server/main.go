// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package main is the entry point for the DGFacade gateway.
//
// The server initializes components in the following order:
//
//  1. Configuration: gateway.yaml plus environment variables (Koanf v2)
//  2. Registries: handlers, brokers, input/output channels, ingesters and
//     credentials, loaded from one-file-per-id JSON under the config dir
//  3. Execution engine: per-request supervised units with TTL enforcement
//  4. WebSocket hub and streaming session manager
//  5. Cluster membership (optional): heartbeats and request forwarding
//  6. Ingesters: broker subscriptions feeding the dispatcher
//  7. HTTP server: REST API, WebSocket upgrade, health and metrics
//
// Long-running services live under a suture supervision tree; a crashing
// ingester restarts under backoff without touching the HTTP listener.
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the supervision
// tree stops its services, in-flight executions get a grace period, live
// streaming sessions end with a SHUTDOWN notice, broker connections close.
//
// # Exit Codes
//
//	0  clean shutdown
//	1  fatal runtime error
//	2  configuration error
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgfacade/dgfacade/internal/api"
	"github.com/dgfacade/dgfacade/internal/auth"
	"github.com/dgfacade/dgfacade/internal/channel"
	"github.com/dgfacade/dgfacade/internal/cluster"
	"github.com/dgfacade/dgfacade/internal/config"
	"github.com/dgfacade/dgfacade/internal/dispatch"
	"github.com/dgfacade/dgfacade/internal/engine"
	"github.com/dgfacade/dgfacade/internal/handlers"
	"github.com/dgfacade/dgfacade/internal/ingest"
	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/streaming"
	"github.com/dgfacade/dgfacade/internal/supervisor"
	ws "github.com/dgfacade/dgfacade/internal/websocket"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

//nolint:gocyclo // Main initialization function with sequential setup steps
func run() int {
	cfg, err := config.Load()
	if err != nil {
		// Config not yet available, use the default logger.
		logging.Error().Err(err).Msg("Failed to load configuration")
		return 2
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("config_dir", cfg.ConfigDir).
		Int("port", cfg.Server.Port).
		Bool("cluster", cfg.Cluster.Enabled).
		Msg("Starting DGFacade")

	// Registries. Missing directories load as empty catalogues so a fresh
	// install boots with just the application config.
	handlerStore := config.NewHandlerStore(filepath.Join(cfg.ConfigDir, "handlers"))
	brokerStore := config.NewBrokerStore(filepath.Join(cfg.ConfigDir, "brokers"))
	inputStore := config.NewChannelStore(filepath.Join(cfg.ConfigDir, "input-channels"))
	outputStore := config.NewChannelStore(filepath.Join(cfg.ConfigDir, "output-channels"))
	ingesterStore := config.NewIngesterStore(filepath.Join(cfg.ConfigDir, "ingesters"))
	credStore := config.NewCredentialStore(
		filepath.Join(cfg.ConfigDir, "users.json"),
		filepath.Join(cfg.ConfigDir, "apikeys.json"),
	)
	for name, load := range map[string]func() error{
		"handlers":        handlerStore.Load,
		"brokers":         brokerStore.Load,
		"input-channels":  inputStore.Load,
		"output-channels": outputStore.Load,
		"ingesters":       ingesterStore.Load,
		"credentials":     credStore.Load,
	} {
		if err := load(); err != nil {
			logging.Error().Err(err).Str("registry", name).Msg("Failed to load registry")
			return 2
		}
	}

	// Broker adapters are handed out through accessors, one per channel
	// direction: ingesters subscribe on input channels, handlers and
	// streaming sessions publish on output channels.
	inAccessor := channel.NewAccessor(inputStore, brokerStore)
	outAccessor := channel.NewAccessor(outputStore, brokerStore)
	defer inAccessor.Close()
	defer outAccessor.Close()

	registry := handlers.NewRegistry(outAccessor)
	eng := engine.New(registry, engine.Options{
		RecentStates:  cfg.Engine.RecentStates,
		ShutdownGrace: cfg.Engine.GracePeriod,
	})

	hub := ws.NewHub()
	sessions := streaming.NewManager(streaming.Options{
		StreamPrefix:      cfg.Streaming.StreamPrefix,
		RestBuffer:        cfg.Streaming.RestBuffer,
		DefaultTTLMinutes: cfg.Engine.DefaultTTLMinutes,
	}, hub, outAccessor, outputStore)
	sessions.SetCanceller(eng)

	authsvc := auth.NewService(cfg.Auth, credStore)

	// The cluster service reports engine and dispatcher counters in its
	// heartbeats; the dispatcher forwards through the cluster service. The
	// closures break the construction cycle.
	var dispatcher *dispatch.Dispatcher
	var clusterSvc *cluster.Service
	var fwd dispatch.Forwarder
	if cfg.Cluster.Enabled {
		clusterSvc = cluster.NewService(cfg.Cluster, cfg.Server.Port, cluster.Options{
			Version:          version,
			ActiveExecutions: func() int64 { return int64(eng.ActiveCount()) },
			TotalRequests:    func() int64 { return dispatcher.TotalRequests() },
		})
		fwd = clusterSvc
		logging.Info().
			Str("node_id", clusterSvc.NodeID()).
			Str("role", string(clusterSvc.Role())).
			Int("seeds", len(cfg.Cluster.Seeds)).
			Msg("Clustering enabled")
	}
	dispatcher = dispatch.New(authsvc, handlerStore, registry, eng, sessions, fwd)

	// Registry auto-reload. Broker and channel reloads invalidate the
	// accessor caches so adapters rebuild against the fresh catalogue.
	reloader := config.NewReloader(cfg.Reload.Interval)
	reloader.Register("handlers", filepath.Join(cfg.ConfigDir, "handlers"), handlerStore.Load)
	reloader.Register("brokers", filepath.Join(cfg.ConfigDir, "brokers"), func() error {
		if err := brokerStore.Load(); err != nil {
			return err
		}
		inAccessor.InvalidateAll()
		outAccessor.InvalidateAll()
		return nil
	})
	reloader.Register("input-channels", filepath.Join(cfg.ConfigDir, "input-channels"), func() error {
		if err := inputStore.Load(); err != nil {
			return err
		}
		inAccessor.InvalidateAll()
		return nil
	})
	reloader.Register("output-channels", filepath.Join(cfg.ConfigDir, "output-channels"), func() error {
		if err := outputStore.Load(); err != nil {
			return err
		}
		outAccessor.InvalidateAll()
		return nil
	})
	reloader.Register("ingesters", filepath.Join(cfg.ConfigDir, "ingesters"), ingesterStore.Load)
	reloader.Register("credentials", cfg.ConfigDir, credStore.Load)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// sutureslog needs an *slog.Logger; the adapter bridges to zerolog.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddCoreService(reloader)
	if clusterSvc != nil {
		tree.AddCoreService(clusterSvc)
	}
	tree.AddMessagingService(hubService{hub})

	// Ingesters run as supervised services in the messaging layer; the
	// manager adds and removes them there as the admin API starts and stops
	// them.
	ingestMgr := ingest.NewManager(ingesterStore, inAccessor, dispatcher, tree.Messaging())
	if cfg.Ingest.Enabled {
		ingestMgr.StartAll()
	} else {
		logging.Info().Msg("Ingesters disabled at boot (ingest.enabled=false)")
	}

	srv := api.NewServer(cfg, dispatcher, eng, sessions, hub, ingestMgr, outAccessor, reloader, clusterSvc, handlerStore)
	tree.AddAPIService(srv)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
			exitCode = 1
		}
		cancel()
	}

	// Drain until the supervisor finishes stopping.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}
	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}

	// The tree no longer accepts work; end live sessions and give in-flight
	// executions their grace period before the accessors close connections.
	sessions.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("Executions still running at shutdown deadline")
	}

	logging.Info().Msg("DGFacade stopped")
	return exitCode
}

// hubService adapts the WebSocket hub's Run loop to suture.Service.
type hubService struct {
	hub *ws.Hub
}

func (s hubService) Serve(ctx context.Context) error { return s.hub.Run(ctx) }

func (s hubService) String() string { return "websocket-hub" }
