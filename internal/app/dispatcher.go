package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/fitmirror/fitmirror/internal/domain"
	"github.com/fitmirror/fitmirror/internal/metrics"
	"github.com/fitmirror/fitmirror/internal/platform/correlation"
)

const maxErrorReasonLen = 255

// genericFailureReason is what callers see when the pipeline fails for any
// reason other than the transform itself.
const genericFailureReason = "processing failed, please try again"

// Dispatcher executes the processing pipeline for submitted sessions. A fixed
// pool of workers consumes a buffered queue, so concurrent executions are
// capped no matter how fast sessions arrive. Each submitted id is processed
// exactly once; deduplicating repeated submits for the same id is the
// caller's job (the intake path submits once per created session).
type Dispatcher struct {
	sessions    domain.SessionRepository
	transformer domain.Transformer
	clock       clockwork.Clock

	queue    chan uuid.UUID
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDispatcher(sessions domain.SessionRepository, transformer domain.Transformer, clock clockwork.Clock, workers, queueSize int) *Dispatcher {
	d := &Dispatcher{
		sessions:    sessions,
		transformer: transformer,
		clock:       clock,
		queue:       make(chan uuid.UUID, queueSize),
		stopCh:      make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	slog.Info("Dispatcher started", "workers", workers, "queue_size", queueSize)

	return d
}

// Submit schedules one execution of the processing pipeline for id, off the
// caller's critical path. It blocks while the queue is full and fails only
// when the dispatcher is shutting down or the caller gives up.
func (d *Dispatcher) Submit(ctx context.Context, id uuid.UUID) error {
	select {
	case <-d.stopCh:
		return fmt.Errorf("dispatcher is stopped")
	default:
	}

	select {
	case d.queue <- id:
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		return nil
	case <-d.stopCh:
		return fmt.Errorf("dispatcher is stopped")
	case <-ctx.Done():
		return fmt.Errorf("submit cancelled: %w", ctx.Err())
	}
}

// Stop shuts the pool down and waits for in-flight pipelines to finish.
// Queued but unstarted sessions stay in status created until the reaper
// removes them at expiry.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	slog.Debug("Dispatch worker started", "worker", id)

	for {
		select {
		case <-d.stopCh:
			slog.Debug("Dispatch worker stopping", "worker", id)
			return
		case sessionID := <-d.queue:
			metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
			// Background context on purpose: the pipeline has no
			// timeout, and a shutdown must not abort a transform
			// that is already running.
			ctx := correlation.WithID(context.Background(), correlation.NewID())
			d.process(ctx, sessionID)
		}
	}
}

// process runs the pipeline for one session: load, mark processing, run the
// transform, finalize. Nothing escapes it - a panic or error in any step ends
// as a failed transition, never as a crashed worker.
func (d *Dispatcher) process(ctx context.Context, id uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			metrics.DispatchPanicsTotal.Inc()
			slog.ErrorContext(ctx, "Pipeline panic", "session_id", id.String(), "panic", r, "stack", string(debug.Stack()))
			d.fail(ctx, id, genericFailureReason)
		}
	}()

	if _, err := d.sessions.Get(ctx, id); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			// Already reaped or never existed; nobody to report to.
			slog.DebugContext(ctx, "Submitted session gone before processing", "session_id", id.String())
			return
		}
		slog.ErrorContext(ctx, "Failed to load session", "session_id", id.String(), "error", err)
		return
	}

	session, err := d.sessions.UpdateStatus(ctx, id, domain.StatusProcessing, domain.StatusUpdate{})
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			// Row vanished between load and transition; silent no-op.
			slog.DebugContext(ctx, "Session reaped before transition", "session_id", id.String())
			return
		}
		slog.ErrorContext(ctx, "Failed to mark session processing", "session_id", id.String(), "error", err)
		return
	}

	slog.InfoContext(ctx, "Processing session", "session_id", id.String(), "category", session.Category)

	start := d.clock.Now()
	outputRef, err := d.transformer.Run(ctx, session)
	metrics.TransformDurationSeconds.Observe(d.clock.Since(start).Seconds())

	if err != nil {
		slog.WarnContext(ctx, "Transform failed", "session_id", id.String(), "error", err)
		d.fail(ctx, id, reasonFor(err))
		return
	}

	if _, err := d.sessions.UpdateStatus(ctx, id, domain.StatusCompleted, domain.StatusUpdate{OutputRef: outputRef}); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			slog.DebugContext(ctx, "Session reaped before completion", "session_id", id.String())
			return
		}
		slog.ErrorContext(ctx, "Failed to mark session completed", "session_id", id.String(), "error", err)
		return
	}

	metrics.SessionsFinishedTotal.WithLabelValues(string(domain.StatusCompleted)).Inc()
	slog.InfoContext(ctx, "Session completed", "session_id", id.String(), "duration", d.clock.Since(start))
}

// fail transitions the session to failed with a bounded reason, tolerating a
// row that no longer exists or already moved on.
func (d *Dispatcher) fail(ctx context.Context, id uuid.UUID, reason string) {
	if len(reason) > maxErrorReasonLen {
		reason = reason[:maxErrorReasonLen]
	}

	_, err := d.sessions.UpdateStatus(ctx, id, domain.StatusFailed, domain.StatusUpdate{ErrorReason: reason})
	switch {
	case err == nil:
		metrics.SessionsFinishedTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
	case errors.Is(err, domain.ErrSessionNotFound):
		slog.DebugContext(ctx, "Session reaped before failure could be recorded", "session_id", id.String())
	case errors.Is(err, domain.ErrIllegalTransition):
		slog.WarnContext(ctx, "Session no longer in a failable state", "session_id", id.String(), "error", err)
	default:
		slog.ErrorContext(ctx, "Failed to mark session failed", "session_id", id.String(), "error", err)
	}
}

// reasonFor maps a pipeline error to the user-visible failure reason.
// Transform errors carry a user-safe message by contract; everything else is
// replaced with a generic one.
func reasonFor(err error) string {
	if errors.Is(err, domain.ErrTransformFailed) {
		return err.Error()
	}
	return genericFailureReason
}
