package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fitmirror/fitmirror/internal/domain"
)

const (
	remoteRequestTimeout = 5 * time.Minute
	maxResultBytes       = 32 << 20
)

// Remote calls an external model service over HTTP. The call goes through a
// circuit breaker so a dead service fails fast instead of tying up a worker
// per attempt.
type Remote struct {
	url     string
	client  *http.Client
	store   domain.ArtifactStore
	breaker *gobreaker.CircuitBreaker
}

type remoteRequest struct {
	SessionID  string `json:"session_id"`
	PersonRef  string `json:"person_ref"`
	GarmentRef string `json:"garment_ref"`
	Category   string `json:"category"`
}

func NewRemote(url string, store domain.ArtifactStore) *Remote {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "transform",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Remote{
		url:     url,
		client:  &http.Client{Timeout: remoteRequestTimeout},
		store:   store,
		breaker: breaker,
	}
}

func (r *Remote) Run(ctx context.Context, session *domain.Session) (string, error) {
	result, err := r.breaker.Execute(func() (any, error) {
		return r.call(ctx, session)
	})
	if err != nil {
		// The raw error stays in the logs; callers persist the reason
		// verbatim and it ends up user-visible.
		slog.ErrorContext(ctx, "Transform call failed", "session_id", session.ID.String(), "error", err)
		return "", fmt.Errorf("%w: model service unavailable", domain.ErrTransformFailed)
	}

	blob := result.([]byte)
	outputRef, err := r.store.Save(ctx, session.ID, domain.ArtifactOutput, "result.png", int64(len(blob)), blob)
	if err != nil {
		return "", fmt.Errorf("%w: could not store result: %v", domain.ErrTransformFailed, err)
	}
	return outputRef, nil
}

// call posts the session's refs to the model service and returns the raw
// result image.
func (r *Remote) call(ctx context.Context, session *domain.Session) ([]byte, error) {
	payload, err := json.Marshal(remoteRequest{
		SessionID:  session.ID.String(),
		PersonRef:  session.PersonRef,
		GarmentRef: session.GarmentRef,
		Category:   string(session.Category),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transform request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("transform service returned %d: %s", resp.StatusCode, body)
	}

	blob, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	return blob, nil
}
