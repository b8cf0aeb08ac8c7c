// Package gates evaluates the five promotion gates against their
// external collaborators. Every gate is read-only and individually
// fault-tolerant: a collaborator that cannot be consulted degrades that
// gate to unknown and never blocks the others.
package gates

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/quantfoundry/modelgate/internal/config"
	"github.com/quantfoundry/modelgate/internal/models"
)

// Gate names, in the order Evaluate reports them.
const (
	GateCalibration = "calibration_ece"
	GateStaleness   = "feature_staleness"
	GateDrift       = "drift"
	GateShadow      = "shadow_volume"
	GateHealth      = "api_health"
)

// missingECE stands in for an absent calibration metric. It is far past
// the fail threshold so a missing metric can never pass.
const missingECE = 999

// Evaluator runs all five gates concurrently, each under its own
// timeout.
type Evaluator struct {
	registry   *RegistryReader
	health     HealthProber
	drift      DriftChecker
	shadow     *ShadowCounter
	thresholds config.GateThresholds
}

func NewEvaluator(registry *RegistryReader, health HealthProber, drift DriftChecker, shadow *ShadowCounter, thresholds config.GateThresholds) *Evaluator {
	return &Evaluator{
		registry:   registry,
		health:     health,
		drift:      drift,
		shadow:     shadow,
		thresholds: thresholds,
	}
}

// Evaluate reads all gates. since bounds the shadow-trade window; zero
// counts every record on file. The result always has exactly five
// entries in a fixed order.
func (e *Evaluator) Evaluate(ctx context.Context, since time.Time) []models.GateResult {
	timeout := time.Duration(e.thresholds.GateTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var (
		wg                         sync.WaitGroup
		calibration, drift, shadow models.GateResult
		staleness, health          models.GateResult
	)
	run := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}
	run(func() { calibration = e.calibrationGate(ctx, timeout) })
	run(func() { staleness, health = e.healthGates(ctx, timeout) })
	run(func() { drift = e.driftGate(ctx, timeout) })
	run(func() { shadow = e.shadowGate(ctx, timeout, since) })
	wg.Wait()

	return []models.GateResult{calibration, staleness, drift, shadow, health}
}

func (e *Evaluator) calibrationGate(ctx context.Context, timeout time.Duration) models.GateResult {
	r := models.GateResult{
		Name:              GateCalibration,
		ThresholdPass:     "<= " + formatFloat(e.thresholds.ECEPass),
		ThresholdMarginal: "<= " + formatFloat(e.thresholds.ECEMarginal),
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ece := float64(missingECE)
	snap, err := e.registry.Read(cctx)
	switch {
	case err != nil:
		r.Detail = err.Error()
	case snap.ECECalibrated == nil:
		r.Detail = "registry has no current.calibration.ece_calibrated"
	default:
		ece = *snap.ECECalibrated
	}
	r.Observed = formatFloat(ece)
	switch {
	case ece <= e.thresholds.ECEPass:
		r.Status = models.GatePass
	case ece <= e.thresholds.ECEMarginal:
		r.Status = models.GateMarginal
	default:
		r.Status = models.GateFail
	}
	return r
}

// healthGates derives both the staleness and the api_health gate from a
// single probe. An unreachable endpoint degrades both to unknown; a
// reachable endpoint reporting ok=false is a hard health failure.
func (e *Evaluator) healthGates(ctx context.Context, timeout time.Duration) (staleness, health models.GateResult) {
	staleness = models.GateResult{
		Name:              GateStaleness,
		ThresholdPass:     fmt.Sprintf("< %ss", formatFloat(e.thresholds.StalenessPassSec)),
		ThresholdMarginal: fmt.Sprintf("< %ss", formatFloat(e.thresholds.StalenessMarginalSec)),
	}
	health = models.GateResult{
		Name:          GateHealth,
		ThresholdPass: "ok",
	}
	if e.health == nil {
		staleness.Status = models.GateUnknown
		staleness.Detail = "no health endpoint configured"
		health.Status = models.GateUnknown
		health.Detail = "no health endpoint configured"
		return staleness, health
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	probe, err := e.health.Probe(cctx)
	if err != nil {
		staleness.Status = models.GateUnknown
		staleness.Observed = "unreachable"
		staleness.Detail = err.Error()
		health.Status = models.GateUnknown
		health.Observed = "unreachable"
		health.Detail = err.Error()
		return staleness, health
	}

	if probe.OK {
		health.Status = models.GatePass
		health.Observed = "ok"
	} else {
		health.Status = models.GateFail
		health.Observed = "not ok"
	}

	if probe.FeatureStalenessSec == nil {
		staleness.Status = models.GateUnknown
		staleness.Observed = "missing"
		staleness.Detail = "health response has no feature_staleness_sec"
		return staleness, health
	}
	sec := *probe.FeatureStalenessSec
	staleness.Observed = formatFloat(sec) + "s"
	switch {
	case sec < e.thresholds.StalenessPassSec:
		staleness.Status = models.GatePass
	case sec < e.thresholds.StalenessMarginalSec:
		staleness.Status = models.GateMarginal
	default:
		staleness.Status = models.GateFail
	}
	return staleness, health
}

func (e *Evaluator) driftGate(ctx context.Context, timeout time.Duration) models.GateResult {
	r := models.GateResult{
		Name:              GateDrift,
		ThresholdPass:     string(DriftNone),
		ThresholdMarginal: string(DriftModerate),
	}
	if e.drift == nil {
		r.Status = models.GateUnknown
		r.Observed = "unavailable"
		r.Detail = "no drift checker configured"
		return r
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	level, err := e.drift.Check(cctx)
	if err != nil {
		r.Status = models.GateUnknown
		r.Observed = "unavailable"
		r.Detail = err.Error()
		return r
	}
	r.Observed = string(level)
	switch level {
	case DriftNone:
		r.Status = models.GatePass
	case DriftModerate:
		r.Status = models.GateMarginal
	case DriftCritical:
		r.Status = models.GateFail
	default:
		r.Status = models.GateUnknown
		r.Detail = fmt.Sprintf("unrecognized drift level %q", level)
	}
	return r
}

func (e *Evaluator) shadowGate(ctx context.Context, timeout time.Duration, since time.Time) models.GateResult {
	r := models.GateResult{
		Name:          GateShadow,
		ThresholdPass: fmt.Sprintf("> %d trades", e.thresholds.MinShadowTrades),
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	count, err := e.shadow.Count(cctx, since)
	if err != nil {
		r.Status = models.GateUnknown
		if errors.Is(err, ErrNoShadowData) {
			r.Observed = "no data"
		} else {
			r.Observed = "unavailable"
		}
		r.Detail = err.Error()
		return r
	}
	r.Observed = fmt.Sprintf("%d trades", count)
	if count > e.thresholds.MinShadowTrades {
		r.Status = models.GatePass
	} else {
		r.Status = models.GateMarginal
	}
	return r
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
