// Package main runs the Tollgate HTTP API together with the expiration
// sweeper and notification workers.
//
// Import Path: tollgate.io/tollgate/cmd/server
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tollgate.io/tollgate/internal/app"
	"tollgate.io/tollgate/internal/config"
	"tollgate.io/tollgate/internal/pkg/logger"
)

const fallbackShutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tollgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer application.Shutdown()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start background services: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Server.Port, err)
	}

	logger.Info("Tollgate listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("notification_driver", cfg.Notification.Driver),
		zap.Bool("sweeper_enabled", cfg.Sweeper.Enabled),
		zap.Duration("sweeper_interval", cfg.Sweeper.Interval),
	)

	srv := &http.Server{
		Handler:      application.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return serve(ctx, srv, ln, cfg.Server.ShutdownTimeout)
}

// serve blocks until ctx is done or the listener fails, then drains
// in-flight requests for at most grace.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() { //nolint:naked-goroutine // main server goroutine is exempt
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	if grace <= 0 {
		grace = fallbackShutdownTimeout
	}
	logger.Info("Draining HTTP connections", zap.Duration("grace", grace))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("drain connections: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
