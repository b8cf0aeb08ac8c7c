package release

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantfoundry/modelgate/internal/models"
)

// plantMarker writes a run marker directly, the same recovery path a
// restarted service takes, so tests can back-date the start time.
func plantMarker(t *testing.T, f *fixture, run models.MarathonRun) {
	t.Helper()
	if err := os.MkdirAll(f.marathonDir, 0o755); err != nil {
		t.Fatalf("mkdir marathon dir: %v", err)
	}
	data, err := json.Marshal(run)
	if err != nil {
		t.Fatalf("encode marker: %v", err)
	}
	if err := os.WriteFile(filepath.Join(f.marathonDir, "current_run.json"), data, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
}

func elapsedRun() models.MarathonRun {
	return models.MarathonRun{
		ID:                 models.NewID(),
		StartTime:          time.Now().UTC().Add(-2 * time.Hour),
		MinimumDurationSec: 3600,
		Status:             models.MarathonRunning,
	}
}

func TestEvaluateDueIdleWithoutMarathon(t *testing.T) {
	f := newFixture(t, nil)
	_, evaluated, err := EvaluateDue(context.Background(), f.ctrl)
	if err != nil || evaluated {
		t.Fatalf("evaluated=%v err=%v, want idle", evaluated, err)
	}
}

func TestEvaluateDueWaitsOutTheWindow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.ctrl.MarathonStart(ctx, "alice", time.Hour); err != nil {
		t.Fatalf("MarathonStart: %v", err)
	}

	_, evaluated, err := EvaluateDue(ctx, f.ctrl)
	if err != nil || evaluated {
		t.Fatalf("evaluated=%v err=%v, want to keep waiting", evaluated, err)
	}
	run, err := f.ctrl.MarathonStatus(ctx)
	if err != nil {
		t.Fatalf("MarathonStatus: %v", err)
	}
	if run.Status != models.MarathonRunning {
		t.Fatalf("status = %s, the watcher ended the run early", run.Status)
	}
}

func TestEvaluateDueCompletesElapsedMarathon(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	run := elapsedRun()
	plantMarker(t, f, run)

	report, evaluated, err := EvaluateDue(ctx, f.ctrl)
	if err != nil {
		t.Fatalf("EvaluateDue: %v", err)
	}
	if !evaluated {
		t.Fatal("due marathon not evaluated")
	}
	if report.Premature {
		t.Fatal("two hours into a one-hour window reported premature")
	}
	if report.Run.ID != run.ID {
		t.Fatalf("evaluated run %s, want %s", report.Run.ID, run.ID)
	}
	if report.Recommendation.Action == "" {
		t.Fatal("watcher evaluation left no recommendation")
	}
	if ev := f.lastEvent(t); ev.Actor != WatcherActor {
		t.Fatalf("evaluation attributed to %q, want %q", ev.Actor, WatcherActor)
	}
	status, err := f.ctrl.MarathonStatus(ctx)
	if err != nil {
		t.Fatalf("MarathonStatus: %v", err)
	}
	if status.Status != models.MarathonNotStarted {
		t.Fatalf("status = %s after completion", status.Status)
	}
}

func TestRunWatcherEvaluatesAndStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	run := elapsedRun()
	plantMarker(t, f, run)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunWatcher(ctx, f.ctrl, WatcherConfig{PollInterval: 5 * time.Millisecond})
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		report, err := f.ctrl.LatestReport(context.Background())
		if err == nil && report.Run.ID == run.ID {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("watcher never evaluated the due marathon")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}
