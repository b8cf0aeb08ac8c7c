// Package release composes the version store, deployment pointers,
// canary controller, marathon monitor, and audit trail into the
// operator-facing release operations. Promotion and rollback are always
// explicit operator calls; evaluations only ever attach a recommendation.
package release

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantfoundry/modelgate/internal/audit"
	"github.com/quantfoundry/modelgate/internal/canary"
	"github.com/quantfoundry/modelgate/internal/config"
	"github.com/quantfoundry/modelgate/internal/marathon"
	"github.com/quantfoundry/modelgate/internal/models"
	"github.com/quantfoundry/modelgate/internal/pointer"
	"github.com/quantfoundry/modelgate/internal/version"
)

// AllModelTypes fans a promote or rollback out across every configured
// model type.
const AllModelTypes = "all"

// GateEvaluator reads all gates. since bounds the shadow-trade window.
type GateEvaluator interface {
	Evaluate(ctx context.Context, since time.Time) []models.GateResult
}

type Controller struct {
	versions *version.Store
	pointers *pointer.Manager
	canary   *canary.Controller
	monitor  *marathon.Monitor
	gates    GateEvaluator
	trail    *audit.Trail
	policy   config.ReleasePolicy
}

func New(versions *version.Store, pointers *pointer.Manager, canaryCtl *canary.Controller, monitor *marathon.Monitor, gates GateEvaluator, trail *audit.Trail, policy config.ReleasePolicy) *Controller {
	return &Controller{
		versions: versions,
		pointers: pointers,
		canary:   canaryCtl,
		monitor:  monitor,
		gates:    gates,
		trail:    trail,
		policy:   policy,
	}
}

// SwapOutcome is the per-type result of a promote or rollback. Error is
// that type's failure only; other types proceed independently.
type SwapOutcome struct {
	ModelType string         `json:"model_type"`
	VersionID string         `json:"version_id"`
	Backup    *models.Backup `json:"backup,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// SwapReport is the full evidence for a pointer mutation, one outcome
// per model type touched.
type SwapReport struct {
	Action   string        `json:"action"`
	Outcomes []SwapOutcome `json:"outcomes"`
}

// PointerState is one model type's active version, empty when the
// pointer has never been set.
type PointerState struct {
	ModelType string `json:"model_type"`
	VersionID string `json:"version_id,omitempty"`
}

// CycleStart is what beginning a release cycle changed: the canary
// policy now routing traffic and the marathon run observing it.
type CycleStart struct {
	Canary models.CanaryPolicy `json:"canary_policy"`
	Run    models.MarathonRun  `json:"run"`
}

// ListVersions returns every known version, newest first.
func (c *Controller) ListVersions(ctx context.Context) ([]models.ModelVersion, error) {
	return c.versions.List(ctx)
}

// GetVersion returns a single version by id.
func (c *Controller) GetVersion(ctx context.Context, id string) (models.ModelVersion, error) {
	return c.versions.Get(ctx, id)
}

// Pointers reports the active version per model type.
func (c *Controller) Pointers(ctx context.Context) ([]PointerState, error) {
	states := make([]PointerState, 0, len(c.pointers.Types()))
	for _, t := range c.pointers.Types() {
		active, err := c.pointers.Active(ctx, t)
		if err != nil && !errors.Is(err, pointer.ErrUnset) {
			return nil, fmt.Errorf("read pointer for %s: %w", t, err)
		}
		states = append(states, PointerState{ModelType: t, VersionID: active})
	}
	return states, nil
}

// Promote repoints one model type, or all of them, at versionID.
func (c *Controller) Promote(ctx context.Context, actor, modelType, versionID string) (SwapReport, error) {
	return c.swap(ctx, actor, audit.ActionPromote, modelType, versionID)
}

// Rollback repoints one model type, or all of them, at a previously
// released versionID. Mechanically identical to Promote; audited under
// its own action so the trail reads truthfully.
func (c *Controller) Rollback(ctx context.Context, actor, modelType, versionID string) (SwapReport, error) {
	return c.swap(ctx, actor, audit.ActionRollback, modelType, versionID)
}

func (c *Controller) swap(ctx context.Context, actor, action, modelType, versionID string) (SwapReport, error) {
	report := SwapReport{Action: actionName(action)}
	if versionID == "" {
		return report, fmt.Errorf("%w: version id required", version.ErrNotFound)
	}

	var results []pointer.TypeResult
	if modelType == AllModelTypes {
		results = c.pointers.RepointAll(ctx, versionID)
	} else {
		backup, err := c.pointers.Repoint(ctx, modelType, versionID)
		results = []pointer.TypeResult{{ModelType: modelType, Backup: backup, Err: err}}
	}

	var firstErr, atomicErr error
	succeeded := 0
	for _, r := range results {
		out := SwapOutcome{ModelType: r.ModelType, VersionID: versionID}
		if r.Err != nil {
			out.Error = r.Err.Error()
			if firstErr == nil {
				firstErr = r.Err
			}
			var se *pointer.SwapError
			if errors.As(r.Err, &se) && atomicErr == nil {
				atomicErr = r.Err
			}
		} else {
			succeeded++
			if r.Backup.ID != "" {
				b := r.Backup
				out.Backup = &b
			}
		}
		report.Outcomes = append(report.Outcomes, out)
	}

	// Attempts are audited whether or not they landed.
	payload := map[string]interface{}{
		"model_type": modelType,
		"version_id": versionID,
		"outcomes":   report.Outcomes,
	}
	if err := c.auditApplied(ctx, actor, action, report.Action+" applied", payload); err != nil {
		return report, err
	}

	switch {
	case atomicErr != nil:
		// A failed swap threatens the pointer invariant; surface it
		// over any validation failure.
		return report, atomicErr
	case succeeded == 0 && firstErr != nil:
		return report, firstErr
	}
	return report, nil
}

func actionName(auditAction string) string {
	if auditAction == audit.ActionRollback {
		return "rollback"
	}
	return "promote"
}

// Gates evaluates all gates right now, outside any marathon bookkeeping.
// The shadow window follows the running marathon when there is one.
func (c *Controller) Gates(ctx context.Context) (models.Snapshot, error) {
	var since time.Time
	if run, err := c.monitor.Status(ctx); err == nil && run.Status == models.MarathonRunning {
		since = run.StartTime
	}
	results := c.gates.Evaluate(ctx, since)
	policy, err := c.canary.Policy(ctx)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("read canary policy: %w", err)
	}
	return models.Snapshot{
		TakenAt: time.Now().UTC(),
		Gates:   results,
		Policy:  policy,
		Tier:    models.TierFor(models.CountPasses(results)),
	}, nil
}

// CanaryPolicy returns the current routing policy.
func (c *Controller) CanaryPolicy(ctx context.Context) (models.CanaryPolicy, error) {
	return c.canary.Policy(ctx)
}

// CanaryEnable turns canary routing on at the stored fraction.
func (c *Controller) CanaryEnable(ctx context.Context, actor string) (models.CanaryPolicy, error) {
	policy, err := c.canary.Enable(ctx)
	if err != nil {
		return policy, err
	}
	return policy, c.auditApplied(ctx, actor, audit.ActionCanaryEnable, "canary enabled", policyPayload(policy))
}

// CanaryDisable turns canary routing off, keeping the fraction.
func (c *Controller) CanaryDisable(ctx context.Context, actor string) (models.CanaryPolicy, error) {
	policy, err := c.canary.Disable(ctx)
	if err != nil {
		return policy, err
	}
	return policy, c.auditApplied(ctx, actor, audit.ActionCanaryDisable, "canary disabled", policyPayload(policy))
}

// CanarySetFraction stores a new traffic fraction without changing the
// enabled flag.
func (c *Controller) CanarySetFraction(ctx context.Context, actor string, fraction float64) (models.CanaryPolicy, error) {
	policy, err := c.canary.SetFraction(ctx, fraction)
	if err != nil {
		return policy, err
	}
	return policy, c.auditApplied(ctx, actor, audit.ActionCanaryFraction, "canary fraction set", policyPayload(policy))
}

func policyPayload(policy models.CanaryPolicy) map[string]interface{} {
	return map[string]interface{}{
		"enabled":  policy.Enabled,
		"fraction": policy.Fraction,
	}
}

// auditApplied records a mutation that has already landed. A failed
// append must not read as a failed mutation, so the error says both.
func (c *Controller) auditApplied(ctx context.Context, actor, action, applied string, payload map[string]interface{}) error {
	if err := c.trail.Record(ctx, actor, action, payload); err != nil {
		return fmt.Errorf("%s but audit append failed: %w", applied, err)
	}
	return nil
}

// MarathonStart opens an observation window. A non-positive minimum
// selects the policy default.
func (c *Controller) MarathonStart(ctx context.Context, actor string, minimum time.Duration) (models.MarathonRun, error) {
	if minimum <= 0 {
		minimum = c.marathonMinimum()
	}
	run, err := c.monitor.Start(ctx, minimum)
	if err != nil {
		return run, err
	}
	return run, c.auditApplied(ctx, actor, audit.ActionMarathonStart, "marathon started", map[string]interface{}{
		"run_id":               run.ID,
		"minimum_duration_sec": run.MinimumDurationSec,
		"snapshot_tier":        run.Snapshot.Tier,
	})
}

// MarathonEvaluate closes the running marathon, attaches the operator
// recommendation, and records plus archives the result.
func (c *Controller) MarathonEvaluate(ctx context.Context, actor string) (models.MarathonReport, error) {
	report, err := c.monitor.Evaluate(ctx)
	if err != nil {
		return models.MarathonReport{}, err
	}
	report.Recommendation = c.recommend(ctx, report)
	if err := c.auditApplied(ctx, actor, audit.ActionMarathonEval, "marathon evaluated", map[string]interface{}{
		"report_id":      report.ID,
		"run_id":         report.Run.ID,
		"decision_tier":  report.Tier,
		"pass_count":     report.PassCount,
		"premature":      report.Premature,
		"recommendation": report.Recommendation,
	}); err != nil {
		return report, err
	}
	// The trail logs archive failures; the evaluation stands either way.
	_ = c.trail.ArchiveReport(ctx, report)
	return report, nil
}

// MarathonAbort discards the running marathon without a decision.
func (c *Controller) MarathonAbort(ctx context.Context, actor string) (models.MarathonRun, error) {
	run, err := c.monitor.Abort(ctx)
	if err != nil {
		return run, err
	}
	return run, c.auditApplied(ctx, actor, audit.ActionMarathonAbort, "marathon aborted", map[string]interface{}{
		"run_id": run.ID,
	})
}

// MarathonStatus reports the current run without touching it.
func (c *Controller) MarathonStatus(ctx context.Context) (models.MarathonRun, error) {
	return c.monitor.Status(ctx)
}

// LatestReport returns the most recent persisted evaluation.
func (c *Controller) LatestReport(ctx context.Context) (models.MarathonReport, error) {
	return c.monitor.LatestReport(ctx)
}

// BeginCycle runs the release-cycle preamble: canary traffic on at the
// configured fraction, then a marathon at the policy minimum. The
// decision comes later, from MarathonEvaluate, and acting on it stays
// with the operator.
func (c *Controller) BeginCycle(ctx context.Context, actor string) (CycleStart, error) {
	run, err := c.monitor.Status(ctx)
	if err != nil {
		return CycleStart{}, err
	}
	if run.Status == models.MarathonRunning {
		return CycleStart{}, fmt.Errorf("%w: run %s", marathon.ErrAlreadyRunning, run.ID)
	}

	policy, err := c.canary.SetFraction(ctx, c.policy.CanaryFraction)
	if err != nil {
		return CycleStart{}, fmt.Errorf("begin cycle: %w", err)
	}
	policy, err = c.canary.Enable(ctx)
	if err != nil {
		return CycleStart{}, fmt.Errorf("begin cycle: %w", err)
	}
	run, err = c.monitor.Start(ctx, c.marathonMinimum())
	if err != nil {
		return CycleStart{}, fmt.Errorf("begin cycle: canary enabled at %v but marathon not started: %w", policy.Fraction, err)
	}

	start := CycleStart{Canary: policy, Run: run}
	return start, c.auditApplied(ctx, actor, audit.ActionCycleBegin, "cycle begun", map[string]interface{}{
		"fraction":             policy.Fraction,
		"run_id":               run.ID,
		"minimum_duration_sec": run.MinimumDurationSec,
	})
}

// AuditEvents returns the full trail in chain order.
func (c *Controller) AuditEvents(ctx context.Context) ([]audit.Event, error) {
	return c.trail.Events(ctx)
}

// VerifyAudit re-checks the persisted hash chain.
func (c *Controller) VerifyAudit(ctx context.Context) error {
	return c.trail.Verify(ctx)
}

// Ping checks the pointer backend.
func (c *Controller) Ping(ctx context.Context) error {
	return c.pointers.Ping(ctx)
}

func (c *Controller) marathonMinimum() time.Duration {
	return time.Duration(c.policy.MarathonMinHours) * time.Hour
}

// recommend turns a decision tier into operator advice. Rollback targets
// come from each type's most recent backup; types that have never been
// repointed have nothing to roll back to.
func (c *Controller) recommend(ctx context.Context, report models.MarathonReport) models.Recommendation {
	passes := fmt.Sprintf("%d of %d gates pass", report.PassCount, len(report.Gates))
	switch report.Tier {
	case models.TierReady:
		return models.Recommendation{
			Action: models.ActionPromote,
			Reason: passes + "; operator may promote",
		}
	case models.TierMarginal:
		return models.Recommendation{
			Action: models.ActionHold,
			Reason: passes + "; hold and re-evaluate before promoting",
		}
	}

	rec := models.Recommendation{Action: models.ActionRollback}
	for _, t := range c.pointers.Types() {
		backup, err := c.pointers.LatestBackup(ctx, t)
		if err != nil || backup.VersionID == "" {
			continue
		}
		rec.Targets = append(rec.Targets, models.RollbackTarget{ModelType: t, VersionID: backup.VersionID})
	}
	if len(rec.Targets) == 0 {
		rec.Reason = passes + "; no recorded backup to roll back to"
	} else {
		rec.Reason = passes + "; roll back to the previously active version"
	}
	return rec
}
