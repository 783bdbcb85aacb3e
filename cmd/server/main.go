package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/fitmirror/fitmirror/internal/adapter/httpserver"
	"github.com/fitmirror/fitmirror/internal/adapter/postgres"
	"github.com/fitmirror/fitmirror/internal/adapter/storage"
	"github.com/fitmirror/fitmirror/internal/adapter/transform"
	"github.com/fitmirror/fitmirror/internal/app"
	"github.com/fitmirror/fitmirror/internal/domain"
	"github.com/fitmirror/fitmirror/internal/platform/config"
	"github.com/fitmirror/fitmirror/internal/platform/logging"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupTransformer(cfg *config.Config, store domain.ArtifactStore, clock clockwork.Clock) domain.Transformer {
	if cfg.TransformMode == "remote" {
		slog.Info("Using remote transformer", "url", cfg.TransformURL)
		return transform.NewRemote(cfg.TransformURL, store)
	}
	slog.Info("Using stub transformer", "delay", cfg.StubDelay, "failure_rate", cfg.StubFailureRate)
	return transform.NewStub(store, clock, cfg.StubDelay, cfg.StubFailureRate)
}

func runGracefulShutdown(srv *httpserver.Server, dispatcher *app.Dispatcher, reaper *app.Reaper, reaperCancel context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// No new submits once the server is down; drain in-flight work.
		dispatcher.Stop()
		reaperCancel()
		reaper.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	store, err := storage.NewLocalStore(cfg.UploadDir, cfg.MaxUploadBytes)
	if err != nil {
		slog.Error("Failed to initialize artifact storage", "error", err)
		os.Exit(1)
	}

	sessions := postgres.NewSessionRepo(pool, clock)
	transformer := setupTransformer(cfg, store, clock)

	dispatcher := app.NewDispatcher(sessions, transformer, clock, cfg.DispatchWorkers, cfg.DispatchQueueLen)

	reaper := app.NewReaper(sessions, store, clock, cfg.ReaperInterval, cfg.ReaperBatchSize)
	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	go reaper.Run(reaperCtx)

	service := app.NewService(sessions, store, dispatcher, cfg.SessionTTL)

	srv := httpserver.NewServer(cfg, service, pool)

	done := runGracefulShutdown(srv, dispatcher, reaper, reaperCancel)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
