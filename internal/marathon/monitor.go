// Package marathon runs the timed observation window between canary
// enablement and the release decision. At most one marathon runs at a
// time; the persisted start marker survives process restarts and is the
// source of truth for "is a marathon running".
package marathon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quantfoundry/modelgate/internal/models"
)

var (
	ErrAlreadyRunning  = errors.New("marathon already running")
	ErrNotRunning      = errors.New("no marathon running")
	ErrRunSuperseded   = errors.New("marathon run superseded")
	ErrInvalidDuration = errors.New("minimum duration must be positive")
)

const markerFileName = "current_run.json"

// GateEvaluator reads all gates. since bounds the shadow-trade window.
type GateEvaluator interface {
	Evaluate(ctx context.Context, since time.Time) []models.GateResult
}

// PolicyReader supplies the canary policy captured in the start snapshot.
type PolicyReader interface {
	Policy(ctx context.Context) (models.CanaryPolicy, error)
}

// Monitor serializes marathon lifecycle transitions. Gate reads happen
// outside the lock so Abort is never blocked behind a slow collaborator;
// an evaluation whose run was aborted or replaced mid-read discards its
// results instead of touching state.
type Monitor struct {
	dir        string
	reportsDir string
	gates      GateEvaluator
	policy     PolicyReader

	mu sync.Mutex
}

func NewMonitor(dir, reportsDir string, gates GateEvaluator, policy PolicyReader) *Monitor {
	return &Monitor{dir: dir, reportsDir: reportsDir, gates: gates, policy: policy}
}

func (m *Monitor) markerPath() string {
	return filepath.Join(m.dir, markerFileName)
}

// Start begins a marathon: captures the initial gate and policy
// snapshot, persists the run marker and transitions to Running. Fails
// with ErrAlreadyRunning while another run's marker exists.
func (m *Monitor) Start(ctx context.Context, minimum time.Duration) (models.MarathonRun, error) {
	if minimum <= 0 {
		return models.MarathonRun{}, fmt.Errorf("%w: %s", ErrInvalidDuration, minimum)
	}

	m.mu.Lock()
	existing, err := m.readMarker()
	m.mu.Unlock()
	if err == nil {
		return models.MarathonRun{}, fmt.Errorf("%w: run %s", ErrAlreadyRunning, existing.ID)
	}
	if !errors.Is(err, ErrNotRunning) {
		return models.MarathonRun{}, err
	}

	// Snapshot outside the lock; collaborator reads can be slow.
	now := time.Now().UTC()
	results := m.gates.Evaluate(ctx, time.Time{})
	policy, err := m.policy.Policy(ctx)
	if err != nil {
		return models.MarathonRun{}, fmt.Errorf("snapshot canary policy: %w", err)
	}

	run := models.MarathonRun{
		ID:                 models.NewID(),
		StartTime:          now,
		MinimumDurationSec: int64(minimum / time.Second),
		Snapshot: models.Snapshot{
			TakenAt: now,
			Gates:   results,
			Policy:  policy,
			Tier:    models.TierFor(models.CountPasses(results)),
		},
		Status: models.MarathonRunning,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if racing, err := m.readMarker(); err == nil {
		return models.MarathonRun{}, fmt.Errorf("%w: run %s", ErrAlreadyRunning, racing.ID)
	} else if !errors.Is(err, ErrNotRunning) {
		return models.MarathonRun{}, err
	}
	if err := m.writeMarker(run); err != nil {
		return models.MarathonRun{}, err
	}
	return run, nil
}

// Evaluate scores all gates against the running marathon's window,
// persists the report and completes the run. Evaluating before the
// minimum duration is not an error; the report carries premature=true
// and the caller decides whether to trust it. If the run is aborted or
// replaced while gates are being read, the results are discarded and
// ErrRunSuperseded is returned.
func (m *Monitor) Evaluate(ctx context.Context) (models.MarathonReport, error) {
	m.mu.Lock()
	run, err := m.readMarker()
	m.mu.Unlock()
	if err != nil {
		return models.MarathonReport{}, err
	}

	evaluatedAt := time.Now().UTC()
	results := m.gates.Evaluate(ctx, run.StartTime)

	m.mu.Lock()
	defer m.mu.Unlock()
	current, err := m.readMarker()
	if err != nil {
		if errors.Is(err, ErrNotRunning) {
			return models.MarathonReport{}, fmt.Errorf("%w: run %s ended during evaluation", ErrRunSuperseded, run.ID)
		}
		return models.MarathonReport{}, err
	}
	if current.ID != run.ID {
		return models.MarathonReport{}, fmt.Errorf("%w: run %s replaced by %s", ErrRunSuperseded, run.ID, current.ID)
	}

	elapsed := evaluatedAt.Sub(run.StartTime)
	run.Status = models.MarathonCompleted
	passCount := models.CountPasses(results)
	report := models.MarathonReport{
		ID:          models.NewID(),
		Run:         run,
		EvaluatedAt: evaluatedAt,
		ElapsedSec:  int64(elapsed.Seconds()),
		Premature:   elapsed < run.MinimumDuration(),
		Gates:       results,
		PassCount:   passCount,
		Tier:        models.TierFor(passCount),
	}
	if err := m.writeReport(report); err != nil {
		return models.MarathonReport{}, err
	}
	if err := os.Remove(m.markerPath()); err != nil {
		return models.MarathonReport{}, fmt.Errorf("clear run marker: %w", err)
	}
	return report, nil
}

// Abort ends the running marathon without a report. In-flight gate
// reads from a concurrent Evaluate complete harmlessly and their
// results are discarded.
func (m *Monitor) Abort(ctx context.Context) (models.MarathonRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.readMarker()
	if err != nil {
		return models.MarathonRun{}, err
	}
	if err := os.Remove(m.markerPath()); err != nil {
		return models.MarathonRun{}, fmt.Errorf("clear run marker: %w", err)
	}
	run.Status = models.MarathonCompleted
	return run, nil
}

// Status reports the current run, or a NotStarted placeholder when no
// marathon is running.
func (m *Monitor) Status(ctx context.Context) (models.MarathonRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.readMarker()
	if err != nil {
		if errors.Is(err, ErrNotRunning) {
			return models.MarathonRun{Status: models.MarathonNotStarted}, nil
		}
		return models.MarathonRun{}, err
	}
	return run, nil
}

// LatestReport returns the most recently persisted marathon report.
func (m *Monitor) LatestReport(ctx context.Context) (models.MarathonReport, error) {
	entries, err := os.ReadDir(m.reportsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.MarathonReport{}, fmt.Errorf("%w: no reports", ErrNotRunning)
		}
		return models.MarathonReport{}, fmt.Errorf("list reports: %w", err)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "report_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return models.MarathonReport{}, fmt.Errorf("%w: no reports", ErrNotRunning)
	}
	sort.Strings(names)
	data, err := os.ReadFile(filepath.Join(m.reportsDir, names[len(names)-1]))
	if err != nil {
		return models.MarathonReport{}, fmt.Errorf("read report: %w", err)
	}
	var report models.MarathonReport
	if err := json.Unmarshal(data, &report); err != nil {
		return models.MarathonReport{}, fmt.Errorf("parse report: %w", err)
	}
	return report, nil
}

func (m *Monitor) readMarker() (models.MarathonRun, error) {
	data, err := os.ReadFile(m.markerPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.MarathonRun{}, ErrNotRunning
		}
		return models.MarathonRun{}, fmt.Errorf("read run marker: %w", err)
	}
	var run models.MarathonRun
	if err := json.Unmarshal(data, &run); err != nil {
		return models.MarathonRun{}, fmt.Errorf("parse run marker: %w", err)
	}
	return run, nil
}

func (m *Monitor) writeMarker(run models.MarathonRun) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run marker: %w", err)
	}
	return atomicWrite(m.dir, m.markerPath(), data)
}

func (m *Monitor) writeReport(report models.MarathonReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	name := fmt.Sprintf("report_%020d_%s.json", report.EvaluatedAt.UnixNano(), report.Run.ID)
	return atomicWrite(m.reportsDir, filepath.Join(m.reportsDir, name), data)
}

func atomicWrite(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".stage-*")
	if err != nil {
		return fmt.Errorf("stage write: %w", err)
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
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("commit %s: %w", filepath.Base(path), err)
	}
	success = true
	return nil
}
