package gates

import (
	"context"
	"testing"
)

func TestExecDriftCheckerExitCodes(t *testing.T) {
	cases := []struct {
		exit string
		want DriftLevel
	}{
		{"exit 0", DriftNone},
		{"exit 1", DriftModerate},
		{"exit 2", DriftCritical},
	}
	for _, tc := range cases {
		checker := NewExecDriftChecker([]string{"sh", "-c", tc.exit})
		level, err := checker.Check(context.Background())
		if err != nil {
			t.Fatalf("%s: %v", tc.exit, err)
		}
		if level != tc.want {
			t.Fatalf("%s: level %s, want %s", tc.exit, level, tc.want)
		}
	}
}

func TestExecDriftCheckerUnexpectedExit(t *testing.T) {
	checker := NewExecDriftChecker([]string{"sh", "-c", "echo boom >&2; exit 3"})
	if _, err := checker.Check(context.Background()); err == nil {
		t.Fatal("exit 3 must be reported as a checker failure, not a drift level")
	}
}

func TestExecDriftCheckerMissingBinary(t *testing.T) {
	checker := NewExecDriftChecker([]string{"/nonexistent/drift-check"})
	if _, err := checker.Check(context.Background()); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestExecDriftCheckerUnconfigured(t *testing.T) {
	checker := NewExecDriftChecker(nil)
	if _, err := checker.Check(context.Background()); err == nil {
		t.Fatal("expected error for empty command")
	}
}
