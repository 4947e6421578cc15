package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"projectdesk.io/internal/config"
	"projectdesk.io/internal/httpapi"
	"projectdesk.io/internal/obs"
	"projectdesk.io/internal/rpc"
)

var version = "0.1.0"

func main() {
	cfg, err := config.LoadGateway()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := obs.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat).With(slog.String("service", "gateway"))
	obs.SetLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Gateway, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := rpc.Dial(cfg.AuthServiceAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	metrics := obs.NewMetrics()
	metrics.SetBuildInfo("gateway", version)

	api := httpapi.New(client, httpapi.Options{
		Logger:             logger,
		Metrics:            metrics,
		Version:            version,
		Development:        !cfg.IsProduction(),
		Timeout:            cfg.AuthRPCTimeout,
		RateBurst:          cfg.RateLimitBurst,
		RatePerSec:         cfg.RateLimitPerSec,
		LoginRatePerMinute: cfg.LoginRateLimit,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		AllowedOrigins:     cfg.CORSOrigins,
		Ready:              client.Ready,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			slog.String("addr", cfg.Addr),
			slog.String("auth_service", cfg.AuthServiceAddr),
			slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
