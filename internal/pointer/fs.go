package pointer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FSStore keeps one symlink per model type under dir, pointing into the
// versions tree. Swaps build a temporary symlink and rename it over the
// live one, so consumers resolving the link never observe a partial
// state.
type FSStore struct {
	dir         string
	versionsDir string
}

func NewFSStore(dir, versionsDir string) *FSStore {
	return &FSStore{dir: dir, versionsDir: versionsDir}
}

func (s *FSStore) linkPath(modelType string) string {
	return filepath.Join(s.dir, modelType)
}

func (s *FSStore) Active(ctx context.Context, modelType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := os.Readlink(s.linkPath(modelType))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrUnset, modelType)
		}
		return "", fmt.Errorf("read pointer %s: %w", modelType, err)
	}
	return filepath.Base(target), nil
}

func (s *FSStore) Repoint(ctx context.Context, modelType, versionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("ensure pointer dir: %w", err)
	}
	target := filepath.Join(s.versionsDir, versionID)
	if rel, err := filepath.Rel(s.dir, target); err == nil {
		target = rel
	}
	tmp := filepath.Join(s.dir, fmt.Sprintf(".tmp-%s-%s", modelType, uuid.New().String()))
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("stage pointer %s: %w", modelType, err)
	}
	if err := os.Rename(tmp, s.linkPath(modelType)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("swap pointer %s: %w", modelType, err)
	}
	return nil
}

func (s *FSStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("pointer dir unavailable: %w", err)
	}
	return nil
}
