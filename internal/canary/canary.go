// Package canary owns the canary routing policy: whether a fraction of
// decision traffic is mirrored to the newest candidate version, and how
// large that fraction is. The policy lives in a single JSON document so
// the serving layer can read it without talking to this service.
package canary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/quantfoundry/modelgate/internal/models"
)

// ErrInvalidFraction rejects canary fractions outside [0, 1] or NaN.
var ErrInvalidFraction = errors.New("canary fraction must be within [0, 1]")

// Controller serializes reads and writes of the canary policy file.
type Controller struct {
	path            string
	defaultFraction float64

	mu sync.Mutex
}

func NewController(path string, defaultFraction float64) *Controller {
	return &Controller{path: path, defaultFraction: defaultFraction}
}

// Policy returns the current canary policy. A missing file means canary
// routing has never been configured: disabled, at the default fraction.
func (c *Controller) Policy(ctx context.Context) (models.CanaryPolicy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read(ctx)
}

// Enable turns canary routing on at the currently configured fraction.
func (c *Controller) Enable(ctx context.Context) (models.CanaryPolicy, error) {
	return c.update(ctx, func(p *models.CanaryPolicy) error {
		p.Enabled = true
		return nil
	})
}

// Disable turns canary routing off. The fraction is kept so a later
// enable resumes at the same level.
func (c *Controller) Disable(ctx context.Context) (models.CanaryPolicy, error) {
	return c.update(ctx, func(p *models.CanaryPolicy) error {
		p.Enabled = false
		return nil
	})
}

// SetFraction updates the routed fraction without touching the enabled
// flag, so operators can stage a fraction before turning canary on.
func (c *Controller) SetFraction(ctx context.Context, fraction float64) (models.CanaryPolicy, error) {
	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return models.CanaryPolicy{}, fmt.Errorf("%w: %v", ErrInvalidFraction, fraction)
	}
	return c.update(ctx, func(p *models.CanaryPolicy) error {
		p.Fraction = fraction
		return nil
	})
}

func (c *Controller) update(ctx context.Context, mutate func(*models.CanaryPolicy) error) (models.CanaryPolicy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	policy, err := c.read(ctx)
	if err != nil {
		return models.CanaryPolicy{}, err
	}
	if err := mutate(&policy); err != nil {
		return models.CanaryPolicy{}, err
	}
	if err := c.write(policy); err != nil {
		return models.CanaryPolicy{}, err
	}
	return policy, nil
}

func (c *Controller) read(ctx context.Context) (models.CanaryPolicy, error) {
	if err := ctx.Err(); err != nil {
		return models.CanaryPolicy{}, err
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.CanaryPolicy{Enabled: false, Fraction: c.defaultFraction}, nil
		}
		return models.CanaryPolicy{}, fmt.Errorf("read canary policy: %w", err)
	}
	var policy models.CanaryPolicy
	if err := json.Unmarshal(data, &policy); err != nil {
		return models.CanaryPolicy{}, fmt.Errorf("parse canary policy: %w", err)
	}
	return policy, nil
}

// write replaces the policy file through a temp file and rename so
// serving-side readers never see a half-written document.
func (c *Controller) write(policy models.CanaryPolicy) error {
	data, err := json.MarshalIndent(policy, "", "  ")
	if err != nil {
		return fmt.Errorf("encode canary policy: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure canary dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".canary-*")
	if err != nil {
		return fmt.Errorf("stage canary policy: %w", err)
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
		return fmt.Errorf("write canary policy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close canary policy: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("commit canary policy: %w", err)
	}
	success = true
	return nil
}
