package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantfoundry/modelgate/internal/models"
)

type captureProducer struct {
	keys [][]byte
	err  error
}

func (c *captureProducer) Produce(ctx context.Context, key, value []byte) (time.Time, error) {
	c.keys = append(c.keys, key)
	if c.err != nil {
		return time.Time{}, c.err
	}
	return time.Now().UTC(), nil
}

func (c *captureProducer) Close() error { return nil }

type captureArchiver struct {
	events  []string
	reports []string
	err     error
}

func (c *captureArchiver) ArchiveEvent(ctx context.Context, ev *Event) error {
	c.events = append(c.events, ev.ID)
	return c.err
}

func (c *captureArchiver) ArchiveReport(ctx context.Context, report models.MarathonReport) error {
	c.reports = append(c.reports, report.ID)
	return c.err
}

func TestRecordAppendsAndStreams(t *testing.T) {
	log := NewFileLog(t.TempDir())
	producer := &captureProducer{}
	archiver := &captureArchiver{}
	trail := NewTrail(log, producer, archiver, nil)
	ctx := context.Background()

	if err := trail.Record(ctx, "operator", ActionPromote, map[string]interface{}{
		"model_type": "lgbm",
		"version_id": "2025-08-21",
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := trail.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].Actor != "operator" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if len(producer.keys) != 1 || string(producer.keys[0]) != "lgbm" {
		t.Fatalf("producer keys %v, want the model type", producer.keys)
	}
	if len(archiver.events) != 1 || archiver.events[0] != events[0].ID {
		t.Fatalf("archiver events %v", archiver.events)
	}
}

func TestStreamKeyFallbacks(t *testing.T) {
	cases := []struct {
		payload interface{}
		want    string
	}{
		{map[string]interface{}{"model_type": "tft"}, "tft"},
		{map[string]interface{}{"run_id": "r17"}, "r17"},
		{map[string]interface{}{"fraction": 0.1}, ActionCanaryEnable},
		{nil, ActionCanaryEnable},
	}
	for _, tc := range cases {
		if got := string(streamKey(ActionCanaryEnable, tc.payload)); got != tc.want {
			t.Fatalf("streamKey(%v) = %q, want %q", tc.payload, got, tc.want)
		}
	}
}

func TestRecordSurvivesSinkFailures(t *testing.T) {
	log := NewFileLog(t.TempDir())
	producer := &captureProducer{err: errors.New("broker down")}
	archiver := &captureArchiver{err: errors.New("bucket denied")}
	trail := NewTrail(log, producer, archiver, nil)
	ctx := context.Background()

	if err := trail.Record(ctx, "", ActionCanaryDisable, nil); err != nil {
		t.Fatalf("sink failures must not fail Record: %v", err)
	}
	events, err := trail.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("event not persisted, got %d", len(events))
	}
	if err := trail.Verify(ctx); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestRecordWithoutSinks(t *testing.T) {
	trail := NewTrail(NewFileLog(t.TempDir()), nil, nil, nil)
	ctx := context.Background()

	if err := trail.Record(ctx, "cli", ActionMarathonAbort, map[string]interface{}{"run": "r9"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := trail.ArchiveReport(ctx, models.MarathonReport{ID: "rep1"}); err != nil {
		t.Fatalf("ArchiveReport without archiver should be a no-op: %v", err)
	}
}

func TestArchiveReportDelegates(t *testing.T) {
	archiver := &captureArchiver{}
	trail := NewTrail(NewFileLog(t.TempDir()), nil, archiver, nil)

	report := models.MarathonReport{ID: "rep42", EvaluatedAt: time.Now().UTC()}
	if err := trail.ArchiveReport(context.Background(), report); err != nil {
		t.Fatalf("ArchiveReport: %v", err)
	}
	if len(archiver.reports) != 1 || archiver.reports[0] != "rep42" {
		t.Fatalf("archiver reports %v", archiver.reports)
	}
}
