// Package main provides the gateway daemon: the WebSocket endpoint clients
// connect to for group messaging.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/gateway"
	"github.com/parley-chat/parley/internal/observability"
	"github.com/parley-chat/parley/internal/presence"
	"github.com/parley-chat/parley/internal/server"
	"github.com/parley-chat/parley/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting gateway",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("path", cfg.Server.Path),
	)

	// A reachable message store and presence store are boot requirements:
	// fail fast rather than accept connections we cannot serve.
	dbStart := time.Now()
	durable, err := store.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	redisStart := time.Now()
	presenceStore, err := presence.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("connecting to redis", zap.Error(err))
	}
	logger.Info("redis connected",
		zap.String("addr", cfg.Redis.Addr()),
		zap.Duration("elapsed", time.Since(redisStart)),
	)

	verifier := auth.NewVerifier(cfg.Auth)
	gate := auth.NewGate(verifier, durable)
	hub := gateway.NewHub(logger)
	router := gateway.NewRouter(presenceStore, durable, hub, logger)
	handler := gateway.NewHandler(gate, router, durable, presenceStore, hub, cfg.Server, cfg.Gateway, logger)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, handler)
	mux.HandleFunc("/healthz", handler.Health)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("stores", &server.FuncService{
		StartFn: func() error { return nil },
		StopFn: func() {
			if err := presenceStore.Close(); err != nil {
				logger.Warn("closing redis", zap.Error(err))
			}
			if err := durable.Close(); err != nil {
				logger.Warn("closing database", zap.Error(err))
			}
		},
	})
	lifecycle.Add("http", &server.FuncService{
		StartFn: func() error {
			err := httpServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
		StopFn: func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("shutting down http server", zap.Error(err))
			}
			// Shutdown does not wait for hijacked websocket connections.
			// Close every outbox, then hold the stores open until each
			// session's disconnect purge has finished.
			hub.CloseAll()
			handler.Drain()
		},
	})

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("lifecycle error", zap.Error(err))
	}
}
