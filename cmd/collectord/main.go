package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/meridian-networks/portalcore/internal/collector"
	"github.com/meridian-networks/portalcore/internal/logger"
	"github.com/meridian-networks/portalcore/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cmd := &cobra.Command{
		Use:   "collectord",
		Short: "Portal error-log collector",
		Long:  `Receives and stores the error batches shipped by the operator portals`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	cmd.Version = version.Get().String()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := collector.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return err
	}

	serverLogger := logger.InitLogger(logger.ParseLogLevel(cfg.LogLevel), cfg.Environment)

	serverLogger.Info("starting collector",
		slog.String("version", version.Get().Version),
		slog.String("environment", cfg.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		serverLogger.Error("failed to create database pool", slog.String("error", err.Error()))
		return err
	}
	defer pool.Close()

	storage := collector.NewStorage(pool)
	if err := storage.EnsureSchema(ctx); err != nil {
		serverLogger.Error("failed to ensure schema", slog.String("error", err.Error()))
		return err
	}

	corsMiddleware, err := cfg.CORSMiddleware()
	if err != nil {
		serverLogger.Error("failed to build CORS middleware", slog.String("error", err.Error()))
		return err
	}

	handler := collector.NewHandler(storage, cfg.MaxBatchSize, serverLogger)
	router := collector.NewRouter(handler, corsMiddleware, collector.RouterOptions{
		MaxRequestBytes:   cfg.MaxRequestBytes,
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}, serverLogger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		serverLogger.Info("collector listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		serverLogger.Error("collector server error", slog.String("error", err.Error()))
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		serverLogger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}

	serverLogger.Info("collector shutdown complete")
	return nil
}
