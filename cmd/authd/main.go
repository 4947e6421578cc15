package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"projectdesk.io/internal/auth"
	"projectdesk.io/internal/config"
	"projectdesk.io/internal/migrate"
	"projectdesk.io/internal/obs"
	"projectdesk.io/internal/rpc"
	"projectdesk.io/internal/store/pg"
	"projectdesk.io/internal/store/redisstore"
	"projectdesk.io/ops/migrations"
)

var version = "0.1.0"

func main() {
	cfg, err := config.LoadAuth()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := obs.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat).With(slog.String("service", "authd"))
	obs.SetLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("authd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Auth, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := obs.NewMetrics()
	metrics.SetBuildInfo("authd", version)

	var (
		store auth.Store
		ready []func(context.Context) error
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		if cfg.AutoMigrate {
			mgr := migrate.NewManager(pgStore.DB(), migrations.SQL(), migrations.Seeds(), migrate.WithLogger(logger))
			if err := mgr.Up(ctx); err != nil {
				return err
			}
			if err := mgr.Seed(ctx); err != nil {
				return err
			}
			logger.Info("schema migrated")
		}
		store = pgStore
		ready = append(ready, pgStore.Ping)
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = auth.NewMemoryStore()
	}

	opts := []auth.ServiceOption{
		auth.WithLogger(logger),
		auth.WithMetrics(metrics),
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithPasswordCost(cfg.BcryptCost),
	}
	if cfg.SessionBackend == config.SessionBackendRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		sessions := redisstore.NewSessionStore(client, cfg.RedisPrefix)
		opts = append(opts, auth.WithSessionStore(sessions))
		ready = append(ready, sessions.Ping)
	}

	svc, err := auth.NewService(store, cfg.TokenConfig(), opts...)
	if err != nil {
		return err
	}

	grpcServer, health := rpc.NewGRPCServer(svc, logger, metrics)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(metrics.Instrument)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		pingCtx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		for _, ping := range ready {
			if err := ping(pingCtx); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc listening", slog.String("addr", cfg.GRPCAddr), slog.String("version", version))
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Info("http listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	// Flips every registered service to NOT_SERVING.
	health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	logger.Info("stopped")
	return nil
}
