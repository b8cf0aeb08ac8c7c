// Package version reads the durable store of trained model versions: one
// directory per version, named by a date-bucketed sortable identifier,
// holding per-model-type artifact files and a model card document. The
// training collaborator writes entries; this package never mutates them.
package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/quantfoundry/modelgate/internal/config"
	"github.com/quantfoundry/modelgate/internal/models"
)

var (
	ErrNotFound         = errors.New("version not found")
	ErrUnknownModelType = errors.New("unknown model type")
)

const cardFileName = "model_card.json"

// idPattern accepts date-bucketed identifiers such as 2025-08-21 or
// 2025-08-21_1530. Anything else is rejected before touching the
// filesystem, which also keeps path traversal out.
var idPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(?:[._-][A-Za-z0-9]+)*$`)

// ValidID reports whether id is a well-formed version identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Store is the filesystem-backed version registry.
type Store struct {
	dir    string
	policy config.ReleasePolicy
}

func NewStore(dir string, policy config.ReleasePolicy) *Store {
	return &Store{dir: dir, policy: policy}
}

// Dir returns the root the store reads version directories from.
func (s *Store) Dir() string { return s.dir }

// Path returns the directory a version's artifacts live in.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id)
}

// Get loads a single version. Returns ErrNotFound when the identifier is
// malformed or no such directory exists.
func (s *Store) Get(ctx context.Context, id string) (models.ModelVersion, error) {
	if err := ctx.Err(); err != nil {
		return models.ModelVersion{}, err
	}
	if !ValidID(id) {
		return models.ModelVersion{}, fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	info, err := os.Stat(s.Path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.ModelVersion{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return models.ModelVersion{}, fmt.Errorf("stat version %s: %w", id, err)
	}
	if !info.IsDir() {
		return models.ModelVersion{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.load(id, info.ModTime().UTC()), nil
}

// List returns all versions, newest first. Identifiers are date-bucketed
// and sortable, so newest-first is descending lexical order.
func (s *Store) List(ctx context.Context) ([]models.ModelVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list versions: %w", err)
	}
	var versions []models.ModelVersion
	for _, entry := range entries {
		if !entry.IsDir() || !ValidID(entry.Name()) {
			continue
		}
		created := time.Time{}
		if info, err := entry.Info(); err == nil {
			created = info.ModTime().UTC()
		}
		versions = append(versions, s.load(entry.Name(), created))
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].ID > versions[j].ID
	})
	return versions, nil
}

// VerifyArtifacts checks that the version exists and carries the required
// artifact file for modelType. This is the promote/rollback precondition:
// a pointer must never be aimed at a missing or partially-written version.
func (s *Store) VerifyArtifacts(ctx context.Context, id, modelType string) error {
	artifact, ok := s.policy.ArtifactFor(modelType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModelType, modelType)
	}
	v, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := v.Artifacts[modelType]; !ok {
		return fmt.Errorf("%w: %s has no %s artifact (%s)", ErrNotFound, id, modelType, artifact)
	}
	return nil
}

func (s *Store) load(id string, created time.Time) models.ModelVersion {
	v := models.ModelVersion{
		ID:        id,
		Artifacts: map[string]string{},
		CreatedAt: created,
	}
	for _, mt := range s.policy.ModelTypes {
		p := filepath.Join(s.Path(id), mt.Artifact)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			v.Artifacts[mt.Name] = p
		}
	}
	if card, err := readCard(filepath.Join(s.Path(id), cardFileName)); err == nil {
		v.Card = card
	}
	return v
}

func readCard(path string) (models.ModelCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ModelCard{}, err
	}
	var card models.ModelCard
	if err := json.Unmarshal(data, &card); err != nil {
		return models.ModelCard{}, fmt.Errorf("parse %s: %w", cardFileName, err)
	}
	return card, nil
}
