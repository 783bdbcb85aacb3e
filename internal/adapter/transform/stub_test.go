package transform

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitmirror/fitmirror/internal/domain"
)

type fakeArtifactStore struct {
	copyFn func(ctx context.Context, sessionID uuid.UUID, sourceRef string) (string, error)
	saveFn func(ctx context.Context, sessionID uuid.UUID, kind domain.ArtifactKind, filename string, size int64, blob []byte) (string, error)
}

func (f *fakeArtifactStore) Save(ctx context.Context, sessionID uuid.UUID, kind domain.ArtifactKind, filename string, size int64, blob []byte) (string, error) {
	if f.saveFn != nil {
		return f.saveFn(ctx, sessionID, kind, filename, size, blob)
	}
	return "/uploads/output/" + sessionID.String() + "_output.png", nil
}

func (f *fakeArtifactStore) CopyToOutput(ctx context.Context, sessionID uuid.UUID, sourceRef string) (string, error) {
	if f.copyFn != nil {
		return f.copyFn(ctx, sessionID, sourceRef)
	}
	return "/uploads/output/" + sessionID.String() + "_output.png", nil
}

func (f *fakeArtifactStore) Resolve(ref string) (string, error) { return "/tmp" + ref, nil }

func (f *fakeArtifactStore) Delete(ctx context.Context, ref string) error { return nil }

func testSession() *domain.Session {
	return &domain.Session{
		ID:         uuid.New(),
		PersonRef:  "/uploads/person/a.png",
		GarmentRef: "/uploads/garment/b.png",
		Category:   domain.CategoryUpperBody,
		Status:     domain.StatusProcessing,
	}
}

func TestStub_Success(t *testing.T) {
	clock := clockwork.NewFakeClock()
	session := testSession()

	var copiedFrom string
	store := &fakeArtifactStore{
		copyFn: func(ctx context.Context, sessionID uuid.UUID, sourceRef string) (string, error) {
			copiedFrom = sourceRef
			return "/uploads/output/x.png", nil
		},
	}

	stub := NewStub(store, clock, 2*time.Second, 0)

	done := make(chan struct{})
	var ref string
	var err error
	go func() {
		defer close(done)
		ref, err = stub.Run(context.Background(), session)
	}()

	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	<-done

	require.NoError(t, err)
	assert.Equal(t, "/uploads/output/x.png", ref)
	assert.Equal(t, session.PersonRef, copiedFrom)
}

func TestStub_AlwaysFails(t *testing.T) {
	clock := clockwork.NewFakeClock()
	stub := NewStub(&fakeArtifactStore{}, clock, time.Second, 1.0)

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = stub.Run(context.Background(), testSession())
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	<-done

	assert.ErrorIs(t, err, domain.ErrTransformFailed)
}

func TestStub_ContextCancelledDuringDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	stub := NewStub(&fakeArtifactStore{}, clock, time.Minute, 0)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = stub.Run(ctx, testSession())
	}()

	clock.BlockUntil(1)
	cancel()
	<-done

	assert.ErrorIs(t, err, context.Canceled)
}

func TestStub_CopyFailureIsTransformError(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := &fakeArtifactStore{
		copyFn: func(ctx context.Context, sessionID uuid.UUID, sourceRef string) (string, error) {
			return "", fmt.Errorf("disk full")
		},
	}
	stub := NewStub(store, clock, time.Second, 0)

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = stub.Run(context.Background(), testSession())
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	<-done

	assert.ErrorIs(t, err, domain.ErrTransformFailed)
}

func TestStub_ConcurrentRuns(t *testing.T) {
	// One Stub serves the whole dispatch worker pool; concurrent runs must
	// not race on the shared rng.
	stub := NewStub(&fakeArtifactStore{}, clockwork.NewRealClock(), 0, 0.5)

	const workers = 4
	const runsPerWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < runsPerWorker; i++ {
				ref, err := stub.Run(context.Background(), testSession())
				if err != nil {
					assert.ErrorIs(t, err, domain.ErrTransformFailed)
				} else {
					assert.NotEmpty(t, ref)
				}
			}
		}()
	}
	wg.Wait()
}

func TestRemote_Success(t *testing.T) {
	resultImage := []byte("fake-image-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write(resultImage)
	}))
	defer srv.Close()

	var savedBlob []byte
	store := &fakeArtifactStore{
		saveFn: func(ctx context.Context, sessionID uuid.UUID, kind domain.ArtifactKind, filename string, size int64, blob []byte) (string, error) {
			savedBlob = blob
			assert.Equal(t, domain.ArtifactOutput, kind)
			return "/uploads/output/y.png", nil
		},
	}

	remote := NewRemote(srv.URL, store)
	ref, err := remote.Run(context.Background(), testSession())
	require.NoError(t, err)
	assert.Equal(t, "/uploads/output/y.png", ref)
	assert.Equal(t, resultImage, savedBlob)
}

func TestRemote_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, &fakeArtifactStore{})
	_, err := remote.Run(context.Background(), testSession())
	assert.ErrorIs(t, err, domain.ErrTransformFailed)
}

func TestRemote_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, &fakeArtifactStore{})

	for i := 0; i < 5; i++ {
		_, err := remote.Run(context.Background(), testSession())
		assert.ErrorIs(t, err, domain.ErrTransformFailed)
	}

	// Breaker trips after three consecutive failures; later calls never
	// reach the service.
	assert.Equal(t, 3, calls)
}
