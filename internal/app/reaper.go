package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fitmirror/fitmirror/internal/domain"
	"github.com/fitmirror/fitmirror/internal/metrics"
	"github.com/fitmirror/fitmirror/internal/platform/correlation"
)

// Reaper periodically removes expired sessions and their artifacts. It is
// deliberately oblivious to processing status: a session that expires while
// processing is removed anyway, and the dispatcher's later status write
// becomes a silent no-op.
type Reaper struct {
	sessions  domain.SessionRepository
	artifacts domain.ArtifactStore
	clock     clockwork.Clock
	interval  time.Duration
	batchSize int

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewReaper(sessions domain.SessionRepository, artifacts domain.ArtifactStore, clock clockwork.Clock, interval time.Duration, batchSize int) *Reaper {
	return &Reaper{
		sessions:  sessions,
		artifacts: artifacts,
		clock:     clock,
		interval:  interval,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run starts the sweep loop. It blocks until ctx is cancelled or Stop is
// called; cancellation is observed both while sleeping and between sessions
// inside a sweep, so shutdown is bounded.
func (r *Reaper) Run(ctx context.Context) {
	defer close(r.done)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("Reaper started", "interval", r.interval, "batch_size", r.batchSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.Chan():
			sweepCtx := correlation.WithID(ctx, correlation.NewID())
			r.Sweep(sweepCtx)
		}
	}
}

// Stop cancels the loop and waits for an in-progress sweep to wind down.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.done
}

// Sweep removes one batch of expired sessions. Artifacts go first, the row
// last: a crash mid-delete leaves a re-sweepable orphaned row instead of a
// dangling blob reference. Per-session errors are logged and swallowed so one
// bad row never aborts the batch. Returns the number of sessions removed.
func (r *Reaper) Sweep(ctx context.Context) int {
	start := r.clock.Now()
	defer func() {
		metrics.ReaperSweepDurationSeconds.Observe(r.clock.Since(start).Seconds())
	}()

	expired, err := r.sessions.ListExpired(ctx, r.clock.Now(), r.batchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list expired sessions", "error", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	slog.InfoContext(ctx, "Reaping expired sessions", "count", len(expired))

	var reaped int
	for _, session := range expired {
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Sweep cancelled", "reaped", reaped, "remaining", len(expired)-reaped)
			return reaped
		}

		if err := r.reapOne(ctx, session); err != nil {
			metrics.ReaperSweepErrorsTotal.Inc()
			slog.ErrorContext(ctx, "Failed to reap session", "session_id", session.ID.String(), "error", err)
			continue
		}
		reaped++
		metrics.ReapedSessionsTotal.Inc()
	}

	slog.InfoContext(ctx, "Sweep finished", "reaped", reaped, "duration", r.clock.Since(start))
	return reaped
}

func (r *Reaper) reapOne(ctx context.Context, session *domain.Session) error {
	// Each delete tolerates an already-missing blob, so a partially reaped
	// session from an earlier crashed sweep goes through cleanly.
	for _, ref := range []string{session.PersonRef, session.GarmentRef, session.OutputRef} {
		if ref == "" || ref == "pending" {
			continue
		}
		if err := r.artifacts.Delete(ctx, ref); err != nil {
			return err
		}
	}

	deleted, err := r.sessions.Delete(ctx, session.ID)
	if err != nil {
		return err
	}
	if !deleted {
		slog.DebugContext(ctx, "Session row already gone", "session_id", session.ID.String())
	}
	return nil
}
