// Package storage implements the artifact gateway on the local filesystem.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/fitmirror/fitmirror/internal/domain"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const refPrefix = "/uploads/"

var allowedExtensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"webp": true,
}

// LocalStore keeps artifacts under a base directory with one subdirectory per
// artifact kind. Refs are relative URLs of the form /uploads/<kind>/<file>.
type LocalStore struct {
	baseDir  string
	maxBytes int64
}

// NewLocalStore creates the kind subdirectories under baseDir.
func NewLocalStore(baseDir string, maxBytes int64) (*LocalStore, error) {
	for _, kind := range []domain.ArtifactKind{domain.ArtifactPerson, domain.ArtifactGarment, domain.ArtifactOutput} {
		if err := os.MkdirAll(filepath.Join(baseDir, string(kind)), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}
	return &LocalStore{baseDir: baseDir, maxBytes: maxBytes}, nil
}

// Save validates and stores an uploaded blob and returns its ref. Validation
// happens before anything touches disk: extension, declared size, and the
// image header must all check out.
func (s *LocalStore) Save(ctx context.Context, sessionID uuid.UUID, kind domain.ArtifactKind, filename string, size int64, blob []byte) (string, error) {
	ext, err := s.validate(filename, size, blob)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_%s.%s", sessionID, kind, ext)
	target := filepath.Join(s.baseDir, string(kind), name)

	if err := os.WriteFile(target, blob, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	return refPrefix + path.Join(string(kind), name), nil
}

// CopyToOutput duplicates an existing artifact into the output directory.
// Used by the stub transformer, which produces no image of its own.
func (s *LocalStore) CopyToOutput(ctx context.Context, sessionID uuid.UUID, sourceRef string) (string, error) {
	source, err := s.Resolve(sourceRef)
	if err != nil {
		return "", err
	}

	blob, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("failed to read source artifact: %w", err)
	}

	ext := strings.TrimPrefix(filepath.Ext(source), ".")
	if ext == "" {
		ext = "png"
	}

	name := fmt.Sprintf("%s_%s.%s", sessionID, domain.ArtifactOutput, ext)
	target := filepath.Join(s.baseDir, string(domain.ArtifactOutput), name)
	if err := os.WriteFile(target, blob, 0o644); err != nil {
		return "", fmt.Errorf("failed to write output artifact: %w", err)
	}

	return refPrefix + path.Join(string(domain.ArtifactOutput), name), nil
}

// Resolve maps a ref to its absolute filesystem path. Refs that escape the
// base directory are rejected.
func (s *LocalStore) Resolve(ref string) (string, error) {
	rel := strings.TrimPrefix(ref, refPrefix)
	if rel == ref || rel == "" {
		return "", fmt.Errorf("%w: malformed ref %q", domain.ErrInvalidImage, ref)
	}

	abs := filepath.Join(s.baseDir, filepath.FromSlash(rel))
	base, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	absClean, err := filepath.Abs(abs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve artifact path: %w", err)
	}
	if !strings.HasPrefix(absClean, base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: ref escapes storage root %q", domain.ErrInvalidImage, ref)
	}
	return absClean, nil
}

// Delete removes the artifact behind ref. A missing file is not an error, so
// the reaper can re-sweep a half-deleted session safely.
func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}

	abs, err := s.Resolve(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete artifact: %w", err)
	}

	slog.DebugContext(ctx, "Deleted artifact", "ref", ref)
	return nil
}

func (s *LocalStore) validate(filename string, size int64, blob []byte) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("%w: no filename provided", domain.ErrInvalidImage)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("%w: extension %q not allowed", domain.ErrInvalidImage, ext)
	}

	if size > s.maxBytes || int64(len(blob)) > s.maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", domain.ErrImageTooLarge, max(size, int64(len(blob))), s.maxBytes)
	}

	// Decode the header only; a blob that merely carries an image extension
	// is rejected here.
	if _, _, err := image.DecodeConfig(bytes.NewReader(blob)); err != nil {
		return "", fmt.Errorf("%w: undecodable image data", domain.ErrInvalidImage)
	}

	return ext, nil
}
