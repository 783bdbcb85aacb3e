package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fitmirror/fitmirror/internal/domain"
)

// --- Mock implementations ---

type mockSessionRepo struct {
	mu sync.Mutex

	createFn       func(ctx context.Context, ownerToken string, category domain.Category, ttl time.Duration) (*domain.Session, error)
	attachInputsFn func(ctx context.Context, id uuid.UUID, personRef, garmentRef string) error
	getFn          func(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	listByOwnerFn  func(ctx context.Context, ownerToken string, limit int) ([]*domain.Session, error)
	updateStatusFn func(ctx context.Context, id uuid.UUID, next domain.Status, update domain.StatusUpdate) (*domain.Session, error)
	listExpiredFn  func(ctx context.Context, now time.Time, limit int) ([]*domain.Session, error)
	deleteFn       func(ctx context.Context, id uuid.UUID) (bool, error)

	statusUpdates []domain.Status
	deletes       []uuid.UUID
}

func (m *mockSessionRepo) Create(ctx context.Context, ownerToken string, category domain.Category, ttl time.Duration) (*domain.Session, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ownerToken, category, ttl)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockSessionRepo) AttachInputs(ctx context.Context, id uuid.UUID, personRef, garmentRef string) error {
	if m.attachInputsFn != nil {
		return m.attachInputsFn(ctx, id, personRef, garmentRef)
	}
	return nil
}

func (m *mockSessionRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockSessionRepo) ListByOwner(ctx context.Context, ownerToken string, limit int) ([]*domain.Session, error) {
	if m.listByOwnerFn != nil {
		return m.listByOwnerFn(ctx, ownerToken, limit)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockSessionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, next domain.Status, update domain.StatusUpdate) (*domain.Session, error) {
	m.mu.Lock()
	m.statusUpdates = append(m.statusUpdates, next)
	m.mu.Unlock()
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, next, update)
	}
	return &domain.Session{ID: id, Status: next}, nil
}

func (m *mockSessionRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Session, error) {
	if m.listExpiredFn != nil {
		return m.listExpiredFn(ctx, now, limit)
	}
	return nil, nil
}

func (m *mockSessionRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	m.deletes = append(m.deletes, id)
	m.mu.Unlock()
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return true, nil
}

func (m *mockSessionRepo) recordedUpdates() []domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Status(nil), m.statusUpdates...)
}

func (m *mockSessionRepo) recordedDeletes() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.deletes...)
}

type mockArtifactStore struct {
	mu sync.Mutex

	saveFn    func(ctx context.Context, sessionID uuid.UUID, kind domain.ArtifactKind, filename string, size int64, blob []byte) (string, error)
	copyFn    func(ctx context.Context, sessionID uuid.UUID, sourceRef string) (string, error)
	resolveFn func(ref string) (string, error)
	deleteFn  func(ctx context.Context, ref string) error

	deletedRefs []string
}

func (m *mockArtifactStore) Save(ctx context.Context, sessionID uuid.UUID, kind domain.ArtifactKind, filename string, size int64, blob []byte) (string, error) {
	if m.saveFn != nil {
		return m.saveFn(ctx, sessionID, kind, filename, size, blob)
	}
	return fmt.Sprintf("/uploads/%s/%s_%s.png", kind, sessionID, kind), nil
}

func (m *mockArtifactStore) CopyToOutput(ctx context.Context, sessionID uuid.UUID, sourceRef string) (string, error) {
	if m.copyFn != nil {
		return m.copyFn(ctx, sessionID, sourceRef)
	}
	return "/uploads/output/" + sessionID.String() + "_output.png", nil
}

func (m *mockArtifactStore) Resolve(ref string) (string, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ref)
	}
	return "/tmp" + ref, nil
}

func (m *mockArtifactStore) Delete(ctx context.Context, ref string) error {
	m.mu.Lock()
	m.deletedRefs = append(m.deletedRefs, ref)
	m.mu.Unlock()
	if m.deleteFn != nil {
		return m.deleteFn(ctx, ref)
	}
	return nil
}

func (m *mockArtifactStore) recordedDeletes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deletedRefs...)
}

type mockTransformer struct {
	runFn func(ctx context.Context, session *domain.Session) (string, error)
}

func (m *mockTransformer) Run(ctx context.Context, session *domain.Session) (string, error) {
	if m.runFn != nil {
		return m.runFn(ctx, session)
	}
	return "/uploads/output/" + session.ID.String() + "_output.png", nil
}

type mockSubmitter struct {
	mu       sync.Mutex
	submitFn func(ctx context.Context, id uuid.UUID) error
	submits  []uuid.UUID
}

func (m *mockSubmitter) Submit(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	m.submits = append(m.submits, id)
	m.mu.Unlock()
	if m.submitFn != nil {
		return m.submitFn(ctx, id)
	}
	return nil
}

func (m *mockSubmitter) recordedSubmits() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.submits...)
}
