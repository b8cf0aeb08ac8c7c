package release

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quantfoundry/modelgate/internal/audit"
	"github.com/quantfoundry/modelgate/internal/canary"
	"github.com/quantfoundry/modelgate/internal/config"
	"github.com/quantfoundry/modelgate/internal/marathon"
	"github.com/quantfoundry/modelgate/internal/models"
	"github.com/quantfoundry/modelgate/internal/pointer"
	"github.com/quantfoundry/modelgate/internal/version"
)

var gateNames = []string{"calibration_ece", "feature_staleness", "drift", "shadow_volume", "api_health"}

func gateResults(passes int) []models.GateResult {
	out := make([]models.GateResult, len(gateNames))
	for i, name := range gateNames {
		status := models.GateFail
		if i < passes {
			status = models.GatePass
		}
		out[i] = models.GateResult{Name: name, Status: status, Observed: "x"}
	}
	return out
}

// stubGates satisfies both this package's GateEvaluator and the
// monitor's, recording every window it was asked for.
type stubGates struct {
	mu      sync.Mutex
	results []models.GateResult
	since   []time.Time
}

func (s *stubGates) Evaluate(ctx context.Context, since time.Time) []models.GateResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = append(s.since, since)
	out := make([]models.GateResult, len(s.results))
	copy(out, s.results)
	return out
}

func (s *stubGates) set(results []models.GateResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = results
}

func (s *stubGates) windows() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.since))
	copy(out, s.since)
	return out
}

type fixture struct {
	ctrl        *Controller
	gates       *stubGates
	trail       *audit.Trail
	policy      config.ReleasePolicy
	versionsDir string
	marathonDir string
}

func newFixture(t *testing.T, store pointer.Store) *fixture {
	t.Helper()
	root := t.TempDir()
	policy := config.DefaultPolicy()

	versionsDir := filepath.Join(root, "versions")
	versions := version.NewStore(versionsDir, policy)
	backups := pointer.NewBackupLog(filepath.Join(root, "backups"))
	if store == nil {
		store = pointer.NewMemoryStore()
	}
	mgr := pointer.NewManager(store, versions, backups, policy.TypeNames())

	can := canary.NewController(filepath.Join(root, "canary.json"), policy.CanaryFraction)
	gatesStub := &stubGates{results: gateResults(5)}
	marathonDir := filepath.Join(root, "marathon")
	mon := marathon.NewMonitor(marathonDir, filepath.Join(root, "reports"), gatesStub, can)
	trail := audit.NewTrail(audit.NewFileLog(filepath.Join(root, "audit")), nil, nil, nil)

	return &fixture{
		ctrl:        New(versions, mgr, can, mon, gatesStub, trail, policy),
		gates:       gatesStub,
		trail:       trail,
		policy:      policy,
		versionsDir: versionsDir,
		marathonDir: marathonDir,
	}
}

func (f *fixture) writeVersion(t *testing.T, id string, artifacts ...string) {
	t.Helper()
	dir := filepath.Join(f.versionsDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range artifacts {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("artifact"), 0o644); err != nil {
			t.Fatalf("write artifact: %v", err)
		}
	}
}

func (f *fixture) lastEvent(t *testing.T) audit.Event {
	t.Helper()
	events, err := f.trail.Events(context.Background())
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("audit trail empty")
	}
	return events[len(events)-1]
}

func TestBeginCycleEnablesCanaryAndStartsMarathon(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	start, err := f.ctrl.BeginCycle(ctx, "alice")
	if err != nil {
		t.Fatalf("BeginCycle: %v", err)
	}
	if !start.Canary.Enabled || start.Canary.Fraction != f.policy.CanaryFraction {
		t.Fatalf("canary policy = %+v, want enabled at %v", start.Canary, f.policy.CanaryFraction)
	}
	if start.Run.Status != models.MarathonRunning {
		t.Fatalf("run status = %s, want running", start.Run.Status)
	}
	wantSec := int64(f.policy.MarathonMinHours) * 3600
	if start.Run.MinimumDurationSec != wantSec {
		t.Fatalf("minimum duration = %d sec, want %d", start.Run.MinimumDurationSec, wantSec)
	}
	// The start snapshot must have seen the canary already routing.
	if !start.Run.Snapshot.Policy.Enabled {
		t.Fatal("start snapshot captured canary disabled")
	}
	if ev := f.lastEvent(t); ev.Action != audit.ActionCycleBegin || ev.Actor != "alice" {
		t.Fatalf("last event = %s by %s, want %s by alice", ev.Action, ev.Actor, audit.ActionCycleBegin)
	}
}

func TestBeginCycleRefusedWhileMarathonRunning(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.ctrl.BeginCycle(ctx, "alice"); err != nil {
		t.Fatalf("first BeginCycle: %v", err)
	}
	if _, err := f.ctrl.CanaryDisable(ctx, "alice"); err != nil {
		t.Fatalf("CanaryDisable: %v", err)
	}

	_, err := f.ctrl.BeginCycle(ctx, "bob")
	if !errors.Is(err, marathon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	policy, err := f.ctrl.CanaryPolicy(ctx)
	if err != nil {
		t.Fatalf("CanaryPolicy: %v", err)
	}
	if policy.Enabled {
		t.Fatal("refused cycle still touched the canary policy")
	}
}

func TestPromoteRecordsBackupAndAudit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.writeVersion(t, "2025-08-20", "model_lgbm.txt", "model_tft.pt")
	f.writeVersion(t, "2025-08-21", "model_lgbm.txt", "model_tft.pt")

	report, err := f.ctrl.Promote(ctx, "alice", "lgbm", "2025-08-20")
	if err != nil {
		t.Fatalf("first Promote: %v", err)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Backup != nil {
		t.Fatalf("first activation recorded a backup: %+v", report.Outcomes)
	}

	report, err = f.ctrl.Promote(ctx, "alice", "lgbm", "2025-08-21")
	if err != nil {
		t.Fatalf("second Promote: %v", err)
	}
	backup := report.Outcomes[0].Backup
	if backup == nil || backup.VersionID != "2025-08-20" || backup.ReplacedBy != "2025-08-21" {
		t.Fatalf("backup = %+v, want 2025-08-20 replaced by 2025-08-21", backup)
	}

	states, err := f.ctrl.Pointers(ctx)
	if err != nil {
		t.Fatalf("Pointers: %v", err)
	}
	byType := map[string]string{}
	for _, s := range states {
		byType[s.ModelType] = s.VersionID
	}
	if byType["lgbm"] != "2025-08-21" || byType["tft"] != "" {
		t.Fatalf("pointers = %v, want lgbm at 2025-08-21 and tft unset", byType)
	}

	if ev := f.lastEvent(t); ev.Action != audit.ActionPromote || ev.Actor != "alice" {
		t.Fatalf("last event = %s by %s", ev.Action, ev.Actor)
	}
	if err := f.ctrl.VerifyAudit(ctx); err != nil {
		t.Fatalf("VerifyAudit: %v", err)
	}
}

func TestPromoteAllIsolatesPerTypeFailures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.writeVersion(t, "2025-08-21", "model_lgbm.txt") // tft artifact missing

	report, err := f.ctrl.Promote(ctx, "alice", AllModelTypes, "2025-08-21")
	if err != nil {
		t.Fatalf("Promote all with one good type: %v", err)
	}
	outcomes := map[string]SwapOutcome{}
	for _, o := range report.Outcomes {
		outcomes[o.ModelType] = o
	}
	if outcomes["lgbm"].Error != "" {
		t.Fatalf("lgbm failed: %s", outcomes["lgbm"].Error)
	}
	if outcomes["tft"].Error == "" {
		t.Fatal("tft outcome missing its error")
	}

	states, _ := f.ctrl.Pointers(ctx)
	for _, s := range states {
		if s.ModelType == "tft" && s.VersionID != "" {
			t.Fatalf("tft pointer moved to %s despite missing artifact", s.VersionID)
		}
	}
}

func TestPromoteAllFailsWhenNothingMoved(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.ctrl.Promote(context.Background(), "alice", AllModelTypes, "2099-01-01")
	if !errors.Is(err, version.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// The attempt is still on the trail.
	if ev := f.lastEvent(t); ev.Action != audit.ActionPromote {
		t.Fatalf("last event = %s, want %s", ev.Action, audit.ActionPromote)
	}
}

type flakyStore struct {
	*pointer.MemoryStore
	failType string
}

func (f *flakyStore) Repoint(ctx context.Context, modelType, versionID string) error {
	if modelType == f.failType {
		return fmt.Errorf("backend down")
	}
	return f.MemoryStore.Repoint(ctx, modelType, versionID)
}

func TestSwapFailureOutranksPartialSuccess(t *testing.T) {
	f := newFixture(t, &flakyStore{MemoryStore: pointer.NewMemoryStore(), failType: "tft"})
	ctx := context.Background()
	f.writeVersion(t, "2025-08-21", "model_lgbm.txt", "model_tft.pt")

	report, err := f.ctrl.Promote(ctx, "alice", AllModelTypes, "2025-08-21")
	var se *pointer.SwapError
	if !errors.As(err, &se) {
		t.Fatalf("expected SwapError even with lgbm promoted, got %v", err)
	}
	if se.ModelType != "tft" {
		t.Fatalf("SwapError names %s, want tft", se.ModelType)
	}
	outcomes := map[string]SwapOutcome{}
	for _, o := range report.Outcomes {
		outcomes[o.ModelType] = o
	}
	if outcomes["lgbm"].Error != "" || outcomes["tft"].Error == "" {
		t.Fatalf("outcomes = %+v", outcomes)
	}
}

func TestEvaluateNotReadyRecommendsRollbackToBackup(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.writeVersion(t, "2025-08-20", "model_lgbm.txt", "model_tft.pt")
	f.writeVersion(t, "2025-08-21", "model_lgbm.txt", "model_tft.pt")

	if _, err := f.ctrl.Promote(ctx, "alice", AllModelTypes, "2025-08-20"); err != nil {
		t.Fatalf("seed promote: %v", err)
	}
	if _, err := f.ctrl.Promote(ctx, "alice", AllModelTypes, "2025-08-21"); err != nil {
		t.Fatalf("candidate promote: %v", err)
	}

	f.gates.set(gateResults(2))
	start, err := f.ctrl.BeginCycle(ctx, "alice")
	if err != nil {
		t.Fatalf("BeginCycle: %v", err)
	}

	report, err := f.ctrl.MarathonEvaluate(ctx, "alice")
	if err != nil {
		t.Fatalf("MarathonEvaluate: %v", err)
	}
	if report.Tier != models.TierNotReady || !report.Premature {
		t.Fatalf("tier = %s premature = %v, want not_ready premature", report.Tier, report.Premature)
	}
	if report.Recommendation.Action != models.ActionRollback {
		t.Fatalf("action = %s, want rollback", report.Recommendation.Action)
	}
	targets := map[string]string{}
	for _, tgt := range report.Recommendation.Targets {
		targets[tgt.ModelType] = tgt.VersionID
	}
	if targets["lgbm"] != "2025-08-20" || targets["tft"] != "2025-08-20" {
		t.Fatalf("targets = %v, want both at 2025-08-20", targets)
	}
	if !strings.Contains(report.Recommendation.Reason, "2 of 5") {
		t.Fatalf("reason %q does not carry the pass count", report.Recommendation.Reason)
	}

	// The marathon evaluation must count shadow trades from run start.
	windows := f.gates.windows()
	last := windows[len(windows)-1]
	if !last.Equal(start.Run.StartTime) {
		t.Fatalf("evaluation window since %v, want run start %v", last, start.Run.StartTime)
	}

	// Acting on the recommendation restores the previous version.
	for _, tgt := range report.Recommendation.Targets {
		if _, err := f.ctrl.Rollback(ctx, "alice", tgt.ModelType, tgt.VersionID); err != nil {
			t.Fatalf("Rollback %s: %v", tgt.ModelType, err)
		}
	}
	states, _ := f.ctrl.Pointers(ctx)
	for _, s := range states {
		if s.VersionID != "2025-08-20" {
			t.Fatalf("%s still at %s after rollback", s.ModelType, s.VersionID)
		}
	}
	if err := f.ctrl.VerifyAudit(ctx); err != nil {
		t.Fatalf("VerifyAudit: %v", err)
	}
}

func TestEvaluateReadyRecommendsPromote(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.ctrl.MarathonStart(ctx, "alice", 0); err != nil {
		t.Fatalf("MarathonStart: %v", err)
	}
	report, err := f.ctrl.MarathonEvaluate(ctx, "alice")
	if err != nil {
		t.Fatalf("MarathonEvaluate: %v", err)
	}
	if report.Tier != models.TierReady || report.Recommendation.Action != models.ActionPromote {
		t.Fatalf("tier = %s action = %s, want ready/promote", report.Tier, report.Recommendation.Action)
	}
	if len(report.Recommendation.Targets) != 0 {
		t.Fatalf("promote advice carries rollback targets: %+v", report.Recommendation.Targets)
	}
}

func TestEvaluateMarginalRecommendsHold(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.gates.set(gateResults(3))

	if _, err := f.ctrl.MarathonStart(ctx, "alice", time.Hour); err != nil {
		t.Fatalf("MarathonStart: %v", err)
	}
	report, err := f.ctrl.MarathonEvaluate(ctx, "alice")
	if err != nil {
		t.Fatalf("MarathonEvaluate: %v", err)
	}
	if report.Tier != models.TierMarginal || report.Recommendation.Action != models.ActionHold {
		t.Fatalf("tier = %s action = %s, want marginal/hold", report.Tier, report.Recommendation.Action)
	}
}

func TestNotReadyWithoutBackupsHasNoTargets(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.gates.set(gateResults(0))

	if _, err := f.ctrl.MarathonStart(ctx, "alice", time.Hour); err != nil {
		t.Fatalf("MarathonStart: %v", err)
	}
	report, err := f.ctrl.MarathonEvaluate(ctx, "alice")
	if err != nil {
		t.Fatalf("MarathonEvaluate: %v", err)
	}
	if report.Recommendation.Action != models.ActionRollback {
		t.Fatalf("action = %s, want rollback", report.Recommendation.Action)
	}
	if len(report.Recommendation.Targets) != 0 {
		t.Fatalf("targets = %+v, want none", report.Recommendation.Targets)
	}
	if !strings.Contains(report.Recommendation.Reason, "no recorded backup") {
		t.Fatalf("reason %q does not explain the missing targets", report.Recommendation.Reason)
	}
}

func TestGatesSnapshotFollowsRunningWindow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	snap, err := f.ctrl.Gates(ctx)
	if err != nil {
		t.Fatalf("Gates: %v", err)
	}
	if snap.Tier != models.TierReady || len(snap.Gates) != 5 {
		t.Fatalf("snapshot = tier %s with %d gates", snap.Tier, len(snap.Gates))
	}
	if w := f.gates.windows(); !w[len(w)-1].IsZero() {
		t.Fatalf("no marathon running but window = %v", w[len(w)-1])
	}

	run, err := f.ctrl.MarathonStart(ctx, "alice", time.Hour)
	if err != nil {
		t.Fatalf("MarathonStart: %v", err)
	}
	if _, err := f.ctrl.Gates(ctx); err != nil {
		t.Fatalf("Gates during marathon: %v", err)
	}
	if w := f.gates.windows(); !w[len(w)-1].Equal(run.StartTime) {
		t.Fatalf("window = %v, want run start %v", w[len(w)-1], run.StartTime)
	}
}

func TestCanaryOpsAreAudited(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.ctrl.CanaryEnable(ctx, "alice"); err != nil {
		t.Fatalf("CanaryEnable: %v", err)
	}
	policy, err := f.ctrl.CanarySetFraction(ctx, "alice", 0.25)
	if err != nil {
		t.Fatalf("CanarySetFraction: %v", err)
	}
	if !policy.Enabled || policy.Fraction != 0.25 {
		t.Fatalf("policy = %+v", policy)
	}
	if _, err := f.ctrl.CanaryDisable(ctx, "alice"); err != nil {
		t.Fatalf("CanaryDisable: %v", err)
	}

	events, err := f.ctrl.AuditEvents(ctx)
	if err != nil {
		t.Fatalf("AuditEvents: %v", err)
	}
	var actions []string
	for _, ev := range events {
		actions = append(actions, ev.Action)
	}
	want := []string{audit.ActionCanaryEnable, audit.ActionCanaryFraction, audit.ActionCanaryDisable}
	if len(actions) != len(want) {
		t.Fatalf("actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("actions = %v, want %v", actions, want)
		}
	}

	// A rejected fraction is not a mutation, so it leaves no event.
	if _, err := f.ctrl.CanarySetFraction(ctx, "alice", 1.5); !errors.Is(err, canary.ErrInvalidFraction) {
		t.Fatalf("expected ErrInvalidFraction, got %v", err)
	}
	events, _ = f.ctrl.AuditEvents(ctx)
	if len(events) != len(want) {
		t.Fatalf("rejected fraction appended an event: %d events", len(events))
	}
}

func TestMarathonAbortIsAudited(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	started, err := f.ctrl.MarathonStart(ctx, "alice", time.Hour)
	if err != nil {
		t.Fatalf("MarathonStart: %v", err)
	}
	aborted, err := f.ctrl.MarathonAbort(ctx, "alice")
	if err != nil {
		t.Fatalf("MarathonAbort: %v", err)
	}
	if aborted.ID != started.ID {
		t.Fatalf("aborted run %s, want %s", aborted.ID, started.ID)
	}
	if ev := f.lastEvent(t); ev.Action != audit.ActionMarathonAbort {
		t.Fatalf("last event = %s", ev.Action)
	}
	run, err := f.ctrl.MarathonStatus(ctx)
	if err != nil {
		t.Fatalf("MarathonStatus: %v", err)
	}
	if run.Status != models.MarathonNotStarted {
		t.Fatalf("status = %s after abort", run.Status)
	}
}
