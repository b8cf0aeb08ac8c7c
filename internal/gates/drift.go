package gates

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DriftLevel is the drift collaborator's three-valued outcome. The exec
// checker maps process exit codes onto these at the boundary; nothing
// downstream sees an exit code.
type DriftLevel string

const (
	DriftNone     DriftLevel = "no-drift"
	DriftModerate DriftLevel = "moderate"
	DriftCritical DriftLevel = "critical"
)

// DriftChecker asks the drift collaborator for its current verdict. A
// returned error means the collaborator could not be consulted, which is
// a distinct condition from critical drift.
type DriftChecker interface {
	Check(ctx context.Context) (DriftLevel, error)
}

// ExecDriftChecker shells out to the configured drift-check command.
// Exit codes 0, 1 and 2 mean no-drift, moderate and critical; anything
// else is a checker failure.
type ExecDriftChecker struct {
	command []string
}

func NewExecDriftChecker(command []string) *ExecDriftChecker {
	return &ExecDriftChecker{command: append([]string(nil), command...)}
}

func (c *ExecDriftChecker) Check(ctx context.Context) (DriftLevel, error) {
	if len(c.command) == 0 {
		return "", errors.New("drift command not configured")
	}
	cmd := exec.CommandContext(ctx, c.command[0], c.command[1:]...)
	out, err := cmd.CombinedOutput()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", fmt.Errorf("run drift check: %w", err)
		}
		code = exitErr.ExitCode()
	}
	switch code {
	case 0:
		return DriftNone, nil
	case 1:
		return DriftModerate, nil
	case 2:
		return DriftCritical, nil
	}
	return "", fmt.Errorf("drift check exited %d: %s", code, strings.TrimSpace(string(out)))
}

// StaticDriftChecker returns a fixed verdict. Used by tests and by
// deployments that pin the drift signal while the checker is offline.
type StaticDriftChecker struct {
	Level DriftLevel
	Err   error
}

func (c StaticDriftChecker) Check(ctx context.Context) (DriftLevel, error) {
	return c.Level, c.Err
}
