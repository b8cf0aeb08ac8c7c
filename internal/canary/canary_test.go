package canary

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	return NewController(filepath.Join(t.TempDir(), "canary_policy.json"), 0.10)
}

func TestPolicyDefaultWhenMissing(t *testing.T) {
	c := newTestController(t)
	policy, err := c.Policy(context.Background())
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if policy.Enabled {
		t.Fatal("canary must start disabled")
	}
	if policy.Fraction != 0.10 {
		t.Fatalf("default fraction %v, want 0.10", policy.Fraction)
	}
}

func TestEnableDisableRoundTrip(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	policy, err := c.Enable(ctx)
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !policy.Enabled {
		t.Fatal("Enable did not set the flag")
	}

	policy, err = c.Disable(ctx)
	if err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if policy.Enabled {
		t.Fatal("Disable did not clear the flag")
	}
	if policy.Fraction != 0.10 {
		t.Fatalf("disable changed fraction to %v", policy.Fraction)
	}
}

func TestSetFractionPersistsAcrossControllers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canary_policy.json")
	ctx := context.Background()

	c := NewController(path, 0.10)
	if _, err := c.SetFraction(ctx, 0.25); err != nil {
		t.Fatalf("SetFraction: %v", err)
	}

	reopened := NewController(path, 0.10)
	policy, err := reopened.Policy(ctx)
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if policy.Fraction != 0.25 {
		t.Fatalf("fraction %v, want 0.25", policy.Fraction)
	}
	if policy.Enabled {
		t.Fatal("setting a fraction must not enable canary")
	}
}

func TestSetFractionValidation(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	for _, bad := range []float64{-0.01, 1.01, math.NaN()} {
		if _, err := c.SetFraction(ctx, bad); !errors.Is(err, ErrInvalidFraction) {
			t.Fatalf("fraction %v: expected ErrInvalidFraction, got %v", bad, err)
		}
	}
	for _, ok := range []float64{0, 1, 0.5} {
		if _, err := c.SetFraction(ctx, ok); err != nil {
			t.Fatalf("fraction %v rejected: %v", ok, err)
		}
	}
}

func TestRejectedFractionLeavesPolicyUntouched(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	if _, err := c.SetFraction(ctx, 0.2); err != nil {
		t.Fatalf("SetFraction: %v", err)
	}
	if _, err := c.SetFraction(ctx, 2.0); !errors.Is(err, ErrInvalidFraction) {
		t.Fatalf("expected ErrInvalidFraction, got %v", err)
	}
	policy, err := c.Policy(ctx)
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if policy.Fraction != 0.2 {
		t.Fatalf("fraction %v, want 0.2", policy.Fraction)
	}
}

func TestCorruptPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canary_policy.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := NewController(path, 0.10)
	if _, err := c.Policy(context.Background()); err == nil {
		t.Fatal("expected parse error for corrupt policy file")
	}
}
