// Package main runs the Starknet block relay: it follows the Apibara block
// stream from the current chain head and notifies one websocket subscriber
// of every new block.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	httpadapter "github.com/archon-research/starknet-relay/internal/adapters/inbound/http"
	"github.com/archon-research/starknet-relay/internal/adapters/inbound/websocket"
	"github.com/archon-research/starknet-relay/internal/adapters/outbound/apibara"
	"github.com/archon-research/starknet-relay/internal/adapters/outbound/starknet"
	"github.com/archon-research/starknet-relay/internal/adapters/outbound/telemetry"
	"github.com/archon-research/starknet-relay/internal/pkg/env"
	"github.com/archon-research/starknet-relay/internal/pkg/retry"
	"github.com/archon-research/starknet-relay/internal/services/relay"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := env.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	logger := env.NewLogger(os.Stdout, slog.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	telemetryConfig := telemetry.Config{
		ServiceName:  "starknet-relay",
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}
	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetryConfig)
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetryConfig)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}

	hubTelemetry, err := websocket.NewTelemetry()
	if err != nil {
		logger.Error("failed to create hub telemetry", "error", err)
		os.Exit(1)
	}
	hubConfig := websocket.ConfigDefaults()
	hubConfig.Addr = cfg.websocketAddr()
	hubConfig.Telemetry = hubTelemetry
	hubConfig.Logger = logger
	hub, err := websocket.NewHub(hubConfig)
	if err != nil {
		logger.Error("failed to create websocket hub", "error", err)
		os.Exit(1)
	}

	resolver, err := starknet.NewResolver(ctx, starknet.Config{
		URL:    cfg.ProviderURL,
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to create height resolver", "error", err)
		os.Exit(1)
	}
	defer resolver.Close()

	streamTelemetry, err := apibara.NewTelemetry()
	if err != nil {
		logger.Error("failed to create stream telemetry", "error", err)
		os.Exit(1)
	}
	subscriber, err := apibara.NewSubscriber(apibara.Config{
		URL:         cfg.ApibaraURL,
		Token:       cfg.ApibaraToken,
		Insecure:    cfg.ApibaraInsecure,
		OnReconnect: retry.FixedDelay(cfg.ReconnectDelay),
		Telemetry:   streamTelemetry,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create stream subscriber", "error", err)
		os.Exit(1)
	}

	service, err := relay.NewService(relay.Config{
		ShutdownTimeout: shutdownTimeout,
		Logger:          logger,
	}, subscriber, resolver, hub)
	if err != nil {
		logger.Error("failed to create relay service", "error", err)
		os.Exit(1)
	}

	var shuttingDown atomic.Bool
	var healthServer *httpadapter.HealthServer
	if cfg.HealthAddr != "" {
		healthServer = httpadapter.NewHealthServer(httpadapter.HealthServerConfig{
			Addr:   cfg.HealthAddr,
			Logger: logger,
		}, service, &shuttingDown)
		if err := healthServer.Start(); err != nil {
			logger.Error("failed to start health server", "error", err)
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("starting relay",
		"apibara", cfg.ApibaraURL,
		"websocket", hubConfig.Addr,
		"reconnectDelay", cfg.ReconnectDelay,
	)
	if err := service.Start(ctx); err != nil {
		logger.Error("failed to start relay", "error", err)
		os.Exit(1)
	}

	sig := <-sigChan
	logger.Info("received signal, shutting down", "signal", sig.String())
	shuttingDown.Store(true)

	if err := service.Stop(); err != nil {
		logger.Error("error during shutdown", "error", err)
	}
	if healthServer != nil {
		if err := healthServer.Shutdown(shutdownTimeout); err != nil {
			logger.Warn("failed to stop health server", "error", err)
		}
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdownMetrics(flushCtx); err != nil {
		logger.Warn("failed to flush metrics", "error", err)
	}
	if err := shutdownTracer(flushCtx); err != nil {
		logger.Warn("failed to flush traces", "error", err)
	}

	logger.Info("shutdown complete")
}
