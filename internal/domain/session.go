package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Category selects the try-on processing variant.
type Category string

const (
	CategoryUpperBody Category = "upper_body"
	CategoryLowerBody Category = "lower_body"
	CategoryDresses   Category = "dresses"
)

// ParseCategory validates a raw category string.
func ParseCategory(raw string) (Category, error) {
	switch c := Category(raw); c {
	case CategoryUpperBody, CategoryLowerBody, CategoryDresses:
		return c, nil
	default:
		return "", ErrInvalidCategory
	}
}

// Session is the unit-of-work record tracking one submitted try-on job.
// Input refs are placeholders at creation and attached right after; the
// dispatcher owns all status writes, the reaper owns deletion.
type Session struct {
	ID          uuid.UUID
	OwnerToken  string
	PersonRef   string
	GarmentRef  string
	OutputRef   string
	Category    Category
	Status      Status
	ErrorReason string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

// StatusUpdate carries the optional fields written together with a status
// transition. OutputRef is set exactly once, on completion; ErrorReason only
// on failure.
type StatusUpdate struct {
	OutputRef   string
	ErrorReason string
}

// SessionRepository is the persistence gateway for session records. All
// mutating operations are atomic over a single record; implementations signal
// a vanished row with ErrSessionNotFound and an illegal edge with
// ErrIllegalTransition.
type SessionRepository interface {
	Create(ctx context.Context, ownerToken string, category Category, ttl time.Duration) (*Session, error)
	AttachInputs(ctx context.Context, id uuid.UUID, personRef, garmentRef string) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	ListByOwner(ctx context.Context, ownerToken string, limit int) ([]*Session, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, next Status, update StatusUpdate) (*Session, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Session, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// ArtifactKind names the storage subdirectory an artifact belongs to.
type ArtifactKind string

const (
	ArtifactPerson  ArtifactKind = "person"
	ArtifactGarment ArtifactKind = "garment"
	ArtifactOutput  ArtifactKind = "output"
)

// ArtifactStore saves, resolves and deletes the image blobs referenced by a
// session. Delete is idempotent: a missing ref is not an error.
type ArtifactStore interface {
	Save(ctx context.Context, sessionID uuid.UUID, kind ArtifactKind, filename string, size int64, blob []byte) (string, error)
	CopyToOutput(ctx context.Context, sessionID uuid.UUID, sourceRef string) (string, error)
	Resolve(ref string) (string, error)
	Delete(ctx context.Context, ref string) error
}

// Transformer runs the try-on transform against the attached input refs and
// returns the output artifact ref. It may block for seconds to minutes.
type Transformer interface {
	Run(ctx context.Context, session *Session) (string, error)
}
