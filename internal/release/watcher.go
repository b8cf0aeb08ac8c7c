package release

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfoundry/modelgate/internal/marathon"
	"github.com/quantfoundry/modelgate/internal/models"
)

// WatcherActor is the audit actor for evaluations the watcher triggers.
const WatcherActor = "marathon-watcher"

type WatcherConfig struct {
	PollInterval time.Duration
	Logger       logrus.FieldLogger
}

// RunWatcher polls the running marathon and evaluates it once its minimum
// window has elapsed, so unattended runs still end in a recorded report
// and recommendation. It never promotes or rolls back.
func RunWatcher(ctx context.Context, ctrl *Controller, cfg WatcherConfig) {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	for {
		if ctx.Err() != nil {
			return
		}
		report, evaluated, err := EvaluateDue(ctx, ctrl)
		if err != nil {
			logger.WithError(err).Warn("marathon watcher")
		}
		if evaluated {
			logger.WithFields(logrus.Fields{
				"report":     report.ID,
				"run":        report.Run.ID,
				"tier":       report.Tier,
				"pass_count": report.PassCount,
				"action":     report.Recommendation.Action,
			}).Info("marathon window elapsed, evaluation recorded")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// EvaluateDue evaluates the running marathon when its minimum window has
// elapsed, reporting whether an evaluation happened. Losing the run to a
// concurrent operator call is not an error.
func EvaluateDue(ctx context.Context, ctrl *Controller) (models.MarathonReport, bool, error) {
	if ctx.Err() != nil {
		return models.MarathonReport{}, false, ctx.Err()
	}
	run, err := ctrl.MarathonStatus(ctx)
	if err != nil {
		return models.MarathonReport{}, false, err
	}
	if run.Status != models.MarathonRunning {
		return models.MarathonReport{}, false, nil
	}
	if time.Since(run.StartTime) < run.MinimumDuration() {
		return models.MarathonReport{}, false, nil
	}

	report, err := ctrl.MarathonEvaluate(ctx, WatcherActor)
	if err != nil {
		if errors.Is(err, marathon.ErrNotRunning) || errors.Is(err, marathon.ErrRunSuperseded) {
			return models.MarathonReport{}, false, nil
		}
		return models.MarathonReport{}, false, err
	}
	return report, true, nil
}
