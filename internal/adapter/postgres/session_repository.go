package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/fitmirror/fitmirror/internal/domain"
)

// sessionColumns must match the scan order in scanSession.
const sessionColumns = `id, owner_token, person_ref, garment_ref, COALESCE(output_ref, ''), category, status, COALESCE(error_reason, ''), created_at, updated_at, expires_at`

// SessionRepo implements domain.SessionRepository backed by PostgreSQL.
// Every mutating operation is a single-row statement or a single-row
// transaction; nothing is held across calls.
type SessionRepo struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

// NewSessionRepo creates a SessionRepo from the shared connection pool.
func NewSessionRepo(pool *pgxpool.Pool, clock clockwork.Clock) *SessionRepo {
	return &SessionRepo{pool: pool, clock: clock}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID, &s.OwnerToken, &s.PersonRef, &s.GarmentRef, &s.OutputRef,
		&s.Category, &s.Status, &s.ErrorReason,
		&s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new session in status created with placeholder input refs.
// expires_at is fixed at creation and never extended.
func (r *SessionRepo) Create(ctx context.Context, ownerToken string, category domain.Category, ttl time.Duration) (*domain.Session, error) {
	now := r.clock.Now().UTC()

	session, err := scanSession(r.pool.QueryRow(ctx, `
		INSERT INTO tryon_sessions (id, owner_token, person_ref, garment_ref, category, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, 'pending', 'pending', $3, $4, $5, $5, $6)
		RETURNING `+sessionColumns,
		uuid.New(), ownerToken, category, domain.StatusCreated, now, now.Add(ttl),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// AttachInputs writes the artifact refs saved for this session. Only valid
// while the session is still in created; refs are immutable afterwards.
func (r *SessionRepo) AttachInputs(ctx context.Context, id uuid.UUID, personRef, garmentRef string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tryon_sessions
		SET person_ref = $2, garment_ref = $3, updated_at = $4
		WHERE id = $1 AND status = $5`,
		id, personRef, garmentRef, r.clock.Now().UTC(), domain.StatusCreated,
	)
	if err != nil {
		return fmt.Errorf("failed to attach inputs: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Get loads a session by id.
func (r *SessionRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	session, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM tryon_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// ListByOwner returns the owner's sessions, newest first.
func (r *SessionRepo) ListByOwner(ctx context.Context, ownerToken string, limit int) ([]*domain.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM tryon_sessions WHERE owner_token = $1 ORDER BY created_at DESC LIMIT $2`,
		ownerToken, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions by owner: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// UpdateStatus transitions a session to next inside a single-row transaction.
// The current status is re-read under lock and validated against the state
// machine, so a caller can never set an illegal status. A row that vanished
// (reaped mid-pipeline) yields domain.ErrSessionNotFound.
func (r *SessionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, next domain.Status, update domain.StatusUpdate) (*domain.Session, error) {
	if next == domain.StatusCompleted && update.OutputRef == "" {
		return nil, fmt.Errorf("completed status requires an output ref")
	}
	if next != domain.StatusCompleted && update.OutputRef != "" {
		return nil, fmt.Errorf("output ref is only written on completion")
	}
	if next != domain.StatusFailed && update.ErrorReason != "" {
		return nil, fmt.Errorf("error reason is only written on failure")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var current domain.Status
	err = tx.QueryRow(ctx, `SELECT status FROM tryon_sessions WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read current status: %w", err)
	}

	if _, err := current.Transition(next); err != nil {
		return nil, err
	}

	session, err := scanSession(tx.QueryRow(ctx, `
		UPDATE tryon_sessions
		SET status = $2,
		    output_ref = COALESCE(NULLIF($3, ''), output_ref),
		    error_reason = COALESCE(NULLIF($4, ''), error_reason),
		    updated_at = $5
		WHERE id = $1
		RETURNING `+sessionColumns,
		id, next, update.OutputRef, update.ErrorReason, r.clock.Now().UTC(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}
	return session, nil
}

// ListExpired returns sessions whose expires_at has passed, oldest expiry
// first, bounded to keep sweeps small.
func (r *SessionRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM tryon_sessions WHERE expires_at < $1 ORDER BY expires_at ASC LIMIT $2`,
		now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// Delete removes a session row. Returns false when the row was already gone,
// which is not an error.
func (r *SessionRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tryon_sessions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func collectSessions(rows pgx.Rows) ([]*domain.Session, error) {
	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}
