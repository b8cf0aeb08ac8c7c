package pointer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quantfoundry/modelgate/internal/models"
	"github.com/quantfoundry/modelgate/internal/version"
)

// Manager serializes pointer mutations per model type and enforces the
// repoint order: validate the target version, record a backup of the
// pointer being replaced, then swap. Different model types repoint
// independently.
type Manager struct {
	store    Store
	versions *version.Store
	backups  *BackupLog
	types    []string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// TypeResult is the per-type outcome of a fan-out repoint. A failure on
// one model type never blocks the others.
type TypeResult struct {
	ModelType string
	Backup    models.Backup
	Err       error
}

func NewManager(store Store, versions *version.Store, backups *BackupLog, types []string) *Manager {
	return &Manager{
		store:    store,
		versions: versions,
		backups:  backups,
		types:    append([]string(nil), types...),
		locks:    map[string]*sync.Mutex{},
	}
}

func (m *Manager) lockFor(modelType string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[modelType]
	if !ok {
		l = &sync.Mutex{}
		m.locks[modelType] = l
	}
	return l
}

// Types returns the configured model types.
func (m *Manager) Types() []string {
	return append([]string(nil), m.types...)
}

// KnownType reports whether modelType is configured.
func (m *Manager) KnownType(modelType string) bool {
	for _, t := range m.types {
		if t == modelType {
			return true
		}
	}
	return false
}

// Active resolves the currently deployed version for a model type.
func (m *Manager) Active(ctx context.Context, modelType string) (string, error) {
	if !m.KnownType(modelType) {
		return "", fmt.Errorf("%w: %s", version.ErrUnknownModelType, modelType)
	}
	return m.store.Active(ctx, modelType)
}

// Repoint atomically aims one model type's pointer at versionID. The
// returned backup records the version that was live before the swap; it
// is zero-valued when the pointer had never been set. A *SwapError means
// the backend swap itself failed after the backup was written.
func (m *Manager) Repoint(ctx context.Context, modelType, versionID string) (models.Backup, error) {
	if !m.KnownType(modelType) {
		return models.Backup{}, fmt.Errorf("%w: %s", version.ErrUnknownModelType, modelType)
	}

	lock := m.lockFor(modelType)
	lock.Lock()
	defer lock.Unlock()

	if err := m.versions.VerifyArtifacts(ctx, versionID, modelType); err != nil {
		return models.Backup{}, err
	}

	var backup models.Backup
	prev, err := m.store.Active(ctx, modelType)
	switch {
	case err == nil:
		backup = models.Backup{
			ID:         models.NewID(),
			ModelType:  modelType,
			VersionID:  prev,
			ReplacedBy: versionID,
			Ts:         time.Now().UTC(),
		}
		if err := m.backups.Record(ctx, backup); err != nil {
			return models.Backup{}, fmt.Errorf("backup before swap: %w", err)
		}
	case errors.Is(err, ErrUnset):
		// First activation for this type; nothing to back up.
	default:
		return models.Backup{}, fmt.Errorf("read pointer before swap: %w", err)
	}

	if err := m.store.Repoint(ctx, modelType, versionID); err != nil {
		return backup, &SwapError{ModelType: modelType, VersionID: versionID, Err: err}
	}
	return backup, nil
}

// RepointAll fans a repoint out across every configured model type.
// Types whose artifacts are missing from the version, or whose swap
// fails, report an error in their slot without disturbing the rest.
func (m *Manager) RepointAll(ctx context.Context, versionID string) []TypeResult {
	results := make([]TypeResult, 0, len(m.types))
	for _, modelType := range m.types {
		backup, err := m.Repoint(ctx, modelType, versionID)
		results = append(results, TypeResult{ModelType: modelType, Backup: backup, Err: err})
	}
	return results
}

// LatestBackup returns the most recent backup for a model type.
func (m *Manager) LatestBackup(ctx context.Context, modelType string) (models.Backup, error) {
	if !m.KnownType(modelType) {
		return models.Backup{}, fmt.Errorf("%w: %s", version.ErrUnknownModelType, modelType)
	}
	return m.backups.Latest(ctx, modelType)
}

// Backups lists a model type's backups, newest first.
func (m *Manager) Backups(ctx context.Context, modelType string) ([]models.Backup, error) {
	if !m.KnownType(modelType) {
		return nil, fmt.Errorf("%w: %s", version.ErrUnknownModelType, modelType)
	}
	return m.backups.List(ctx, modelType)
}

// Ping reports whether the pointer backend is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}
