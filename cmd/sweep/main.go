// Command sweep runs a single expired-session cleanup pass and exits. It is
// meant for cron-style operation and for draining a backlog that outgrew the
// in-process reaper's batch size.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fitmirror/fitmirror/internal/adapter/postgres"
	"github.com/fitmirror/fitmirror/internal/adapter/storage"
	"github.com/fitmirror/fitmirror/internal/app"
)

func main() {
	var (
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "PostgreSQL URL (or set DATABASE_URL env)")
		uploadDir   = flag.String("uploads", envOr("UPLOAD_DIR", "./uploads"), "Artifact storage directory")
		batchSize   = flag.Int("batch-size", 100, "Sessions removed per sweep pass")
		maxPasses   = flag.Int("max-passes", 100, "Upper bound on sweep passes")
		dryRun      = flag.Bool("dry-run", false, "List expired sessions without deleting anything")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *databaseURL == "" {
		log.Fatal("PostgreSQL URL required (--database or DATABASE_URL env)")
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := postgres.Connect(ctx, *databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	slog.Info("Connected to database", "url", sanitizeURL(*databaseURL))

	clock := clockwork.NewRealClock()
	sessions := postgres.NewSessionRepo(pool, clock)

	if *dryRun {
		if err := listExpired(ctx, sessions, clock, *batchSize); err != nil {
			log.Fatalf("Dry run failed: %v", err)
		}
		return
	}

	// maxBytes only bounds writes; the sweep path never saves.
	store, err := storage.NewLocalStore(*uploadDir, 10<<20)
	if err != nil {
		log.Fatalf("Failed to open artifact storage: %v", err)
	}

	reaper := app.NewReaper(sessions, store, clock, time.Hour, *batchSize)

	start := time.Now()
	var total int
	for pass := 0; pass < *maxPasses; pass++ {
		reaped := reaper.Sweep(ctx)
		total += reaped
		if reaped < *batchSize {
			break
		}
	}

	slog.Info("Sweep complete", "reaped", total, "duration_ms", time.Since(start).Milliseconds())
}

func listExpired(ctx context.Context, sessions *postgres.SessionRepo, clock clockwork.Clock, batchSize int) error {
	expired, err := sessions.ListExpired(ctx, clock.Now(), batchSize)
	if err != nil {
		return err
	}

	for _, session := range expired {
		slog.Info("Would reap session",
			"session_id", session.ID.String(),
			"status", session.Status,
			"expired_at", session.ExpiresAt.Format(time.RFC3339))
	}
	slog.Info("Dry run complete", "expired", len(expired), "batch_size", batchSize)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func sanitizeURL(url string) string {
	// Hide password in the connection URL for logging
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) == 2 {
			credParts := strings.Split(parts[0], ":")
			if len(credParts) >= 2 {
				return credParts[0] + ":***@" + parts[1]
			}
		}
	}
	return url
}
