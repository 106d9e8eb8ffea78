// Command relay runs the ephemeral WebSocket relay server.
//
// Usage: relay [bind-address] [bind-port] [allowed-origin-host]
//
// All three positional arguments are optional: bind address defaults
// to 0.0.0.0, bind port defaults to an OS-chosen port, and an empty
// allowed origin host disables the Origin check entirely.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ephemeral-relay/relay/internal/config"
	"github.com/ephemeral-relay/relay/internal/health"
	"github.com/ephemeral-relay/relay/internal/logs"
	"github.com/ephemeral-relay/relay/internal/metrics"
	"github.com/ephemeral-relay/relay/internal/middleware"
	"github.com/ephemeral-relay/relay/internal/room"
	"github.com/ephemeral-relay/relay/internal/server"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load(os.Args[1:])
	logger := logs.New(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	metrics.Init()

	registry := room.NewRegistry()
	server.RegisterActiveGauges(registry)

	connLimiter := middleware.New(cfg.ConnRatePerMin)
	wsHandler := server.New(cfg, registry, logger, connLimiter)

	mux := http.NewServeMux()
	mux.Handle("/healthz", health.Healthz())
	mux.Handle("/readyz", health.Readyz(func() bool { return registry != nil }))
	mux.Handle(cfg.MetricsRoute, metrics.Handler())
	mux.Handle("/ws", wsHandler)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr(),
		Handler:           logs.RequestLogger(logger, mux),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	listener, err := server.Listen(cfg.BindAddr())
	if err != nil {
		logger.Fatal("bind failed", zap.Error(err))
	}

	go func() {
		logger.Info("listening", logs.F("addr", listener.Addr().String()))
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("bye")
}
