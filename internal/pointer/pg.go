package pointer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PGStore keeps one row per model type in deployment_pointers. The
// upsert makes the swap a single statement, which is as atomic as the
// database makes it.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// EnsureSchema creates the deployment_pointers table when missing.
// Callers run it once at startup, after the connection is known good.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	const query = `
CREATE TABLE IF NOT EXISTS deployment_pointers (
  model_type text PRIMARY KEY,
  version_id text NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure deployment_pointers: %w", err)
	}
	return nil
}

func (s *PGStore) Active(ctx context.Context, modelType string) (string, error) {
	const query = `SELECT version_id FROM deployment_pointers WHERE model_type=$1`
	var versionID string
	if err := s.db.QueryRowContext(ctx, query, modelType).Scan(&versionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrUnset, modelType)
		}
		return "", fmt.Errorf("read pointer %s: %w", modelType, err)
	}
	return versionID, nil
}

func (s *PGStore) Repoint(ctx context.Context, modelType, versionID string) error {
	const query = `
		INSERT INTO deployment_pointers (model_type, version_id, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (model_type)
		DO UPDATE SET version_id=EXCLUDED.version_id, updated_at=NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, modelType, versionID); err != nil {
		return fmt.Errorf("swap pointer %s: %w", modelType, err)
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
