package pointer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quantfoundry/modelgate/internal/models"
)

// ErrNoBackup is returned when a model type has no recorded backup to
// roll back to.
var ErrNoBackup = errors.New("no backup recorded")

// BackupLog persists one JSON document per pointer swap. File names are
// backup_<type>_<nanos>.json with the timestamp zero-padded so lexical
// order is chronological order.
type BackupLog struct {
	dir string
}

func NewBackupLog(dir string) *BackupLog {
	return &BackupLog{dir: dir}
}

func backupFileName(b models.Backup) string {
	return fmt.Sprintf("backup_%s_%020d.json", b.ModelType, b.Ts.UnixNano())
}

// Record writes the backup durably before the caller swaps the pointer.
// The write goes through a temp file and rename so a crash never leaves
// a truncated record behind.
func (l *BackupLog) Record(ctx context.Context, b models.Backup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("ensure backup dir: %w", err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	tmp, err := os.CreateTemp(l.dir, ".backup-*")
	if err != nil {
		return fmt.Errorf("stage backup: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close backup: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(l.dir, backupFileName(b))); err != nil {
		return fmt.Errorf("commit backup: %w", err)
	}
	success = true
	return nil
}

// Latest returns the most recent backup for a model type.
func (l *BackupLog) Latest(ctx context.Context, modelType string) (models.Backup, error) {
	backups, err := l.List(ctx, modelType)
	if err != nil {
		return models.Backup{}, err
	}
	if len(backups) == 0 {
		return models.Backup{}, fmt.Errorf("%w: %s", ErrNoBackup, modelType)
	}
	return backups[0], nil
}

// List returns backups for a model type, newest first.
func (l *BackupLog) List(ctx context.Context, modelType string) ([]models.Backup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}
	prefix := "backup_" + modelType + "_"
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	backups := make([]models.Backup, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read backup %s: %w", name, err)
		}
		var b models.Backup
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("parse backup %s: %w", name, err)
		}
		backups = append(backups, b)
	}
	return backups, nil
}
