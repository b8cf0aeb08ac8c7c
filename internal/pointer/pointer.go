// Package pointer manages the active-version pointer for each model type.
// A pointer swap is the only mutation serving traffic ever observes, so
// swaps are atomic per backend and always preceded by a backup record of
// the pointer being replaced.
package pointer

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnset is returned when no version has ever been activated for a
// model type.
var ErrUnset = errors.New("pointer unset")

// Store resolves and repoints the active version for a model type.
type Store interface {
	Active(ctx context.Context, modelType string) (string, error)
	Repoint(ctx context.Context, modelType, versionID string) error
	Ping(ctx context.Context) error
}

// SwapError reports a pointer swap that failed after validation and
// backup already succeeded. Repoints are atomic per backend, so the model
// type is still serving the prior version; that must reach the operator,
// never be swallowed.
type SwapError struct {
	ModelType string
	VersionID string
	Err       error
}

func (e *SwapError) Error() string {
	return fmt.Sprintf("pointer swap failed for %s -> %s, still on previous version: %v", e.ModelType, e.VersionID, e.Err)
}

func (e *SwapError) Unwrap() error { return e.Err }
