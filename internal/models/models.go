// Package models contains the canonical types shared by the release
// controller: model versions and cards, canary policy, gate results,
// marathon runs and reports, and pointer backups.
package models

import (
	"time"

	"github.com/google/uuid"
)

// GateStatus classifies a single gate reading.
type GateStatus string

const (
	GatePass     GateStatus = "pass"
	GateMarginal GateStatus = "marginal"
	GateFail     GateStatus = "fail"
	// GateUnknown means the collaborator backing the gate could not be
	// read (unreachable, failed to run, or no data). Distinct from
	// GateFail: the collaborator reported nothing, not a bad value.
	GateUnknown GateStatus = "unknown"
)

// DecisionTier is the verdict computed from the pass count over all gates.
type DecisionTier string

const (
	TierReady    DecisionTier = "ready"
	TierMarginal DecisionTier = "marginal"
	TierNotReady DecisionTier = "not_ready"
)

// MarathonStatus is the lifecycle state of the observation window.
type MarathonStatus string

const (
	MarathonNotStarted MarathonStatus = "not_started"
	MarathonRunning    MarathonStatus = "running"
	MarathonCompleted  MarathonStatus = "completed"
)

// RecommendationAction is what the controller suggests the operator do
// after an evaluation. The controller never acts on it by itself.
type RecommendationAction string

const (
	ActionPromote  RecommendationAction = "promote"
	ActionHold     RecommendationAction = "hold"
	ActionRollback RecommendationAction = "rollback"
)

// LatencyPercentiles holds serving-latency percentiles in milliseconds.
type LatencyPercentiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// ModelCard is the structured metadata document written next to a
// version's artifacts by the training collaborator. Pointers distinguish
// "metric absent" from a genuine zero.
type ModelCard struct {
	ECE       *float64           `json:"ece,omitempty"`
	Accuracy  *float64           `json:"accuracy,omitempty"`
	Latency   LatencyPercentiles `json:"latency_ms"`
	Leakage   map[string]bool    `json:"leakage_checks,omitempty"`
	TrainedAt time.Time          `json:"trained_at,omitempty"`
}

// ModelVersion is one immutable entry in the version store: a date-like
// sortable identifier plus the artifact files present for each model type.
type ModelVersion struct {
	ID        string            `json:"id"`
	Artifacts map[string]string `json:"artifacts"` // model type -> artifact path
	Card      ModelCard         `json:"card"`
	CreatedAt time.Time         `json:"created_at"`
}

// HasArtifact reports whether the version carries an artifact for the
// given model type.
func (v ModelVersion) HasArtifact(modelType string) bool {
	_, ok := v.Artifacts[modelType]
	return ok
}

// ModelTypes returns the model types this version has artifacts for,
// in unspecified order.
func (v ModelVersion) ModelTypes() []string {
	types := make([]string, 0, len(v.Artifacts))
	for t := range v.Artifacts {
		types = append(types, t)
	}
	return types
}

// CanaryPolicy is the singleton routing policy consumed by the traffic
// router. Both fields always change together; readers must never observe
// a half-updated document.
type CanaryPolicy struct {
	Enabled  bool    `json:"enabled"`
	Fraction float64 `json:"fraction"`
}

// GateResult is one gate reading. Ephemeral: recomputed each evaluation
// and persisted only inside a MarathonReport.
type GateResult struct {
	Name              string     `json:"name"`
	Status            GateStatus `json:"status"`
	Observed          string     `json:"observed_value"`
	ThresholdPass     string     `json:"threshold_pass,omitempty"`
	ThresholdMarginal string     `json:"threshold_marginal,omitempty"`
	// Detail carries collaborator error text when Status is unknown.
	Detail string `json:"detail,omitempty"`
}

// Snapshot captures the gate readings and canary policy at marathon start.
type Snapshot struct {
	TakenAt time.Time    `json:"taken_at"`
	Gates   []GateResult `json:"gates"`
	Policy  CanaryPolicy `json:"canary_policy"`
	Tier    DecisionTier `json:"decision_tier"`
}

// MarathonRun is the singleton observation window. At most one run is in
// MarathonRunning state system-wide.
type MarathonRun struct {
	ID                 string         `json:"id"`
	StartTime          time.Time      `json:"start_time"`
	MinimumDurationSec int64          `json:"minimum_duration_sec"`
	Snapshot           Snapshot       `json:"initial_snapshot"`
	Status             MarathonStatus `json:"status"`
}

// MinimumDuration returns the run's minimum observation window.
func (r MarathonRun) MinimumDuration() time.Duration {
	return time.Duration(r.MinimumDurationSec) * time.Second
}

// RollbackTarget names the version a model type would be rolled back to.
type RollbackTarget struct {
	ModelType string `json:"model_type"`
	VersionID string `json:"version_id"`
}

// Recommendation is the controller's suggested next action plus the
// evidence-derived reason. Promotion and rollback remain operator calls.
type Recommendation struct {
	Action  RecommendationAction `json:"action"`
	Targets []RollbackTarget     `json:"targets,omitempty"`
	Reason  string               `json:"reason"`
}

// MarathonReport is the immutable evaluation record persisted for audit.
type MarathonReport struct {
	ID          string      `json:"id"`
	Run         MarathonRun `json:"run"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
	ElapsedSec  int64       `json:"elapsed_sec"`
	// Premature is set when the evaluation ran before the minimum
	// duration elapsed. The result is still reported; callers decide
	// whether to trust an early read.
	Premature      bool           `json:"premature"`
	Gates          []GateResult   `json:"gate_results"`
	PassCount      int            `json:"pass_count"`
	Tier           DecisionTier   `json:"decision_tier"`
	Recommendation Recommendation `json:"recommendation"`
}

// Elapsed returns the observed window length at evaluation time.
func (r MarathonReport) Elapsed() time.Duration {
	return time.Duration(r.ElapsedSec) * time.Second
}

// Backup records a deployment pointer's prior target, written immediately
// before every pointer mutation. Never auto-deleted.
type Backup struct {
	ID         string    `json:"id"`
	ModelType  string    `json:"model_type"`
	VersionID  string    `json:"version_id"`            // prior target; empty when pointer was unset
	ReplacedBy string    `json:"replaced_by,omitempty"` // version the swap moved to
	Ts         time.Time `json:"ts"`
}

// Pass counts required by the release decision rule. The 4-of-5 / 3-of-5
// split is a policy constant, deliberately not derived from the gates.
const (
	ReadyPassCount    = 4
	MarginalPassCount = 3
)

// TierFor applies the release decision rule to a pass count.
func TierFor(passCount int) DecisionTier {
	switch {
	case passCount >= ReadyPassCount:
		return TierReady
	case passCount >= MarginalPassCount:
		return TierMarginal
	default:
		return TierNotReady
	}
}

// CountPasses returns how many gate results carry pass status.
func CountPasses(gates []GateResult) int {
	n := 0
	for _, g := range gates {
		if g.Status == GatePass {
			n++
		}
	}
	return n
}

// NewID returns a freshly-generated UUID string.
func NewID() string {
	return uuid.New().String()
}
