package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/quantfoundry/modelgate/internal/models"
)

// Trail is the audit pipeline. The file log append is the durability
// contract and must succeed; Kafka streaming and S3 archival are
// best-effort sinks whose failures are logged, never propagated into the
// operation being audited.
type Trail struct {
	log      *FileLog
	producer Producer
	archiver Archiver
	logger   logrus.FieldLogger
}

// NewTrail wires the pipeline. producer and archiver may be nil when the
// deployment has no Kafka or S3 configured.
func NewTrail(log *FileLog, producer Producer, archiver Archiver, logger logrus.FieldLogger) *Trail {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Trail{log: log, producer: producer, archiver: archiver, logger: logger}
}

// Record appends one event to the chain and fans it out to the optional
// sinks.
func (t *Trail) Record(ctx context.Context, actor, action string, payload interface{}) error {
	ev := &Event{Action: action, Actor: actor, Payload: payload}
	if err := t.log.Append(ctx, ev); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}

	if t.producer != nil {
		value, err := json.Marshal(ev)
		if err == nil {
			_, err = t.producer.Produce(ctx, streamKey(action, payload), value)
		}
		if err != nil {
			t.logger.WithError(err).WithFields(logrus.Fields{
				"event":  ev.ID,
				"action": action,
			}).Warn("audit event persisted but not streamed")
		}
	}
	if t.archiver != nil {
		if err := t.archiver.ArchiveEvent(ctx, ev); err != nil {
			t.logger.WithError(err).WithFields(logrus.Fields{
				"event":  ev.ID,
				"action": action,
			}).Warn("audit event persisted but not archived")
		}
	}
	return nil
}

// ArchiveReport uploads a marathon report to the archive sink, when one
// is configured.
func (t *Trail) ArchiveReport(ctx context.Context, report models.MarathonReport) error {
	if t.archiver == nil {
		return nil
	}
	if err := t.archiver.ArchiveReport(ctx, report); err != nil {
		t.logger.WithError(err).WithField("report", report.ID).Warn("marathon report not archived")
		return err
	}
	return nil
}

// streamKey picks the Kafka partition key: the model type when the
// payload names one, else the run id, else the action. Consumers
// replaying one model's pointer history then see its events in order.
func streamKey(action string, payload interface{}) []byte {
	if m, ok := payload.(map[string]interface{}); ok {
		for _, field := range []string{"model_type", "run_id"} {
			if v, ok := m[field].(string); ok && v != "" {
				return []byte(v)
			}
		}
	}
	return []byte(action)
}

// Verify re-checks the persisted chain.
func (t *Trail) Verify(ctx context.Context) error {
	return t.log.Verify(ctx)
}

// Events returns the full audit history in append order.
func (t *Trail) Events(ctx context.Context) ([]Event, error) {
	return t.log.List(ctx)
}
