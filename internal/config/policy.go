package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelTypeSpec names one deployable model type and the artifact file a
// version directory must contain for it.
type ModelTypeSpec struct {
	Name     string `yaml:"name"`
	Artifact string `yaml:"artifact"`
}

// GateThresholds holds the classification boundaries used by the gate
// evaluator. Values mirror the registry/probe units: ECE is a fraction,
// staleness is seconds.
type GateThresholds struct {
	ECEPass              float64 `yaml:"ece_pass"`
	ECEMarginal          float64 `yaml:"ece_marginal"`
	StalenessPassSec     float64 `yaml:"staleness_pass_sec"`
	StalenessMarginalSec float64 `yaml:"staleness_marginal_sec"`
	MinShadowTrades      int     `yaml:"min_shadow_trades"`
	GateTimeoutSec       int     `yaml:"gate_timeout_sec"`
}

// ReleasePolicy is the operator-tunable policy document. A missing file
// yields the compiled-in defaults; a present file overrides field-wise.
type ReleasePolicy struct {
	ModelTypes       []ModelTypeSpec `yaml:"model_types"`
	Gates            GateThresholds  `yaml:"gates"`
	CanaryFraction   float64         `yaml:"canary_fraction"`
	MarathonMinHours int             `yaml:"marathon_min_hours"`
}

func DefaultPolicy() ReleasePolicy {
	return ReleasePolicy{
		ModelTypes: []ModelTypeSpec{
			{Name: "lgbm", Artifact: "model_lgbm.txt"},
			{Name: "tft", Artifact: "model_tft.pt"},
		},
		Gates: GateThresholds{
			ECEPass:              0.05,
			ECEMarginal:          0.06,
			StalenessPassSec:     1800,
			StalenessMarginalSec: 3600,
			MinShadowTrades:      20,
			GateTimeoutSec:       10,
		},
		CanaryFraction:   0.10,
		MarathonMinHours: 48,
	}
}

// LoadPolicy reads the YAML policy at path, overlaying it on the
// defaults. An empty path returns the defaults unchanged.
func LoadPolicy(path string) (ReleasePolicy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ReleasePolicy{}, fmt.Errorf("read release policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return ReleasePolicy{}, fmt.Errorf("parse release policy: %w", err)
	}
	if err := policy.validate(); err != nil {
		return ReleasePolicy{}, err
	}
	return policy, nil
}

func (p ReleasePolicy) validate() error {
	if len(p.ModelTypes) == 0 {
		return fmt.Errorf("release policy: at least one model type required")
	}
	for _, mt := range p.ModelTypes {
		if mt.Name == "" || mt.Artifact == "" {
			return fmt.Errorf("release policy: model type name and artifact required")
		}
	}
	if p.CanaryFraction < 0 || p.CanaryFraction > 1 {
		return fmt.Errorf("release policy: canary_fraction %v outside [0,1]", p.CanaryFraction)
	}
	if p.MarathonMinHours <= 0 {
		return fmt.Errorf("release policy: marathon_min_hours must be positive")
	}
	return nil
}

// TypeNames returns the configured model type names in declaration order.
func (p ReleasePolicy) TypeNames() []string {
	names := make([]string, 0, len(p.ModelTypes))
	for _, mt := range p.ModelTypes {
		names = append(names, mt.Name)
	}
	return names
}

// ArtifactFor returns the artifact filename required for a model type,
// or false when the type is not configured.
func (p ReleasePolicy) ArtifactFor(modelType string) (string, bool) {
	for _, mt := range p.ModelTypes {
		if mt.Name == modelType {
			return mt.Artifact, true
		}
	}
	return "", false
}
