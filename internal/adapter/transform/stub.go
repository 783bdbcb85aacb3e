// Package transform provides the try-on transform collaborators: a local
// stub for development and testing, and a client for a remote model service.
// The dispatcher treats both identically.
package transform

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fitmirror/fitmirror/internal/domain"
)

// stubErrors mirrors the failure modes a real model service produces.
var stubErrors = []string{
	"unable to detect person in image",
	"image quality too low",
	"processing timeout",
	"invalid pose detected",
}

// Stub simulates the transform with a fixed delay and a configurable random
// failure rate. On success the output is a copy of the person image.
type Stub struct {
	store       domain.ArtifactStore
	clock       clockwork.Clock
	delay       time.Duration
	failureRate float64

	// rngMu guards rng: one Stub serves every dispatch worker, and
	// rand.Rand is not safe for concurrent use.
	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewStub(store domain.ArtifactStore, clock clockwork.Clock, delay time.Duration, failureRate float64) *Stub {
	return &Stub{
		store:       store,
		clock:       clock,
		delay:       delay,
		failureRate: failureRate,
		rng:         rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

func (s *Stub) Run(ctx context.Context, session *domain.Session) (string, error) {
	select {
	case <-s.clock.After(s.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if failed, reason := s.roll(); failed {
		return "", fmt.Errorf("%w: %s", domain.ErrTransformFailed, reason)
	}

	outputRef, err := s.store.CopyToOutput(ctx, session.ID, session.PersonRef)
	if err != nil {
		return "", fmt.Errorf("%w: could not write output: %v", domain.ErrTransformFailed, err)
	}
	return outputRef, nil
}

// roll decides whether this run fails, and with which reason.
func (s *Stub) roll() (bool, string) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	if s.rng.Float64() >= s.failureRate {
		return false, ""
	}
	return true, stubErrors[s.rng.Intn(len(stubErrors))]
}
