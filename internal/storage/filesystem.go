package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"svgstudio/internal/domain"
)

var ErrInvalidName = errors.New("storage: invalid artifact name")

// FileStore saves downloaded artwork into a flat output directory, one file
// per generation.
type FileStore struct {
	dir string
}

// NewFileStore creates dir when missing.
func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("storage: output directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", abs, err)
	}
	return &FileStore{dir: abs}, nil
}

func (s *FileStore) Dir() string { return s.dir }

// SaveArtifact stores data as <generationID><ext>, with ext picked from
// contentType, and returns the file's path. Saving identical bytes again
// leaves the existing file alone.
func (s *FileStore) SaveArtifact(ctx context.Context, generationID string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := artifactName(generationID, contentType)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, name)
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return path, nil
	}
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// SaveGeneration stores the inline markup of a succeeded generation.
func (s *FileStore) SaveGeneration(ctx context.Context, gen *domain.Generation) (string, error) {
	if gen == nil || strings.TrimSpace(gen.SVG) == "" {
		return "", errors.New("storage: generation has no markup")
	}
	return s.SaveArtifact(ctx, gen.ID, []byte(gen.SVG), "image/svg+xml")
}

// writeAtomic writes to a temp file beside path and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".svgctl-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// artifactName refuses ids that would escape the output directory.
func artifactName(generationID, contentType string) (string, error) {
	id := strings.TrimSpace(generationID)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`+"\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, generationID)
	}
	return id + extensionFor(contentType), nil
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".svg"
	}
	switch mediaType {
	case "image/png":
		return ".png"
	case "application/zip":
		return ".zip"
	case "application/json":
		return ".json"
	}
	// Backends sometimes label markup as xml, text or raw bytes.
	return ".svg"
}
