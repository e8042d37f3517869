// Package corrector learns a bounded multiplicative correction for
// shutdown predictions from the observed outcome of warnings: a warning
// that was cancelled means the prediction was too pessimistic, a warning
// followed by an actual shutdown is compared against the predicted time.
package corrector

import (
	"sync"
	"time"

	"github.com/drainwatch/drainwatch/internal/logging"
	"github.com/drainwatch/drainwatch/statestore"
)

var log = logging.NewLogger("info")

type (
	// ShutdownWarning is the snapshot held while a warning is active.
	ShutdownWarning = statestore.ShutdownWarning
	// WarningOutcome records how a warning resolved.
	WarningOutcome = statestore.WarningOutcome
)

const (
	learningRate = 0.1

	// The factor can at most halve or double a prediction, so one
	// pathological outcome never drives predictions to extremes.
	minFactor = 0.5
	maxFactor = 2.0

	maxOutcomeHistory = 50
)

// Corrector tracks the active warning and the learned adjustment factor.
// All public methods are safe for concurrent use on one instance.
type Corrector struct {
	mu    sync.Mutex
	store statestore.Store

	factor  float64
	active  *ShutdownWarning
	history []WarningOutcome

	now func() time.Time
}

// New creates a corrector, rehydrating the adjustment factor and outcome
// history from the store. A nil store disables persistence.
func New(store statestore.Store) *Corrector {
	c := &Corrector{
		store:  store,
		factor: 1.0,
		now:    time.Now,
	}
	if store == nil {
		return c
	}
	state, err := store.LoadCorrector()
	if err != nil {
		log.Warnf("Could not load corrector state, starting fresh: %v", err)
		return c
	}
	c.factor = clampFactor(state.PredictionAdjustment)
	c.history = state.PredictionHistory
	if len(c.history) > maxOutcomeHistory {
		c.history = c.history[len(c.history)-maxOutcomeHistory:]
	}
	return c
}

// RecordWarningStart snapshots the conditions under which a shutdown
// warning was raised. Starting while a warning is already active
// silently replaces the previous snapshot.
func (c *Corrector) RecordWarningStart(predictedMinutes float64, voltageMv int, temperature float64, batteryLevel int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		log.Debugf("Replacing active shutdown warning from %d", c.active.StartTimeMs)
	}
	c.active = &ShutdownWarning{
		StartTimeMs:      c.now().UnixMilli(),
		PredictedMinutes: predictedMinutes,
		VoltageMv:        voltageMv,
		Temperature:      temperature,
		BatteryLevel:     batteryLevel,
	}
}

// RecordWarningCancelled resolves the active warning as a false alarm.
// The prior prediction was too pessimistic, so future predictions are
// scaled up. No-op when no warning is active.
func (c *Corrector) RecordWarningCancelled() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return
	}
	c.appendOutcome(WarningOutcome{
		Warning:      *c.active,
		WasCancelled: true,
	})
	c.factor = clampFactor(c.factor * (1 + learningRate))
	c.active = nil
	c.save()
}

// RecordActualShutdown resolves the active warning as confirmed: the
// device shut down. The factor is blended toward the observed ratio of
// actual to predicted minutes rather than jumping to it, damping
// oscillation from any single outcome. No-op when no warning is active.
func (c *Corrector) RecordActualShutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return
	}
	shutdownMs := c.now().UnixMilli()
	c.appendOutcome(WarningOutcome{
		Warning:            *c.active,
		ActualShutdownTime: &shutdownMs,
		WasCancelled:       false,
	})
	if c.active.PredictedMinutes > 0 {
		actualMinutes := float64(shutdownMs-c.active.StartTimeMs) / 60000.0
		ratio := actualMinutes / c.active.PredictedMinutes
		c.factor = clampFactor(c.factor*(1-learningRate) + ratio*learningRate)
	}
	c.active = nil
	c.save()
}

// PredictionAdjustment returns the learned correction factor, always
// within [0.5, 2.0]. Pure read.
func (c *Corrector) PredictionAdjustment() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.factor
}

// WarningActive reports whether a warning snapshot is currently held.
func (c *Corrector) WarningActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// WarningHistory returns a copy of the bounded outcome log. The log is
// for inspection only; learning uses just the latest outcome.
func (c *Corrector) WarningHistory() []WarningOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]WarningOutcome(nil), c.history...)
}

// appendOutcome adds to the bounded outcome history, oldest evicted
// first. Caller must hold c.mu.
func (c *Corrector) appendOutcome(outcome WarningOutcome) {
	c.history = append(c.history, outcome)
	if len(c.history) > maxOutcomeHistory {
		c.history = c.history[1:]
	}
}

func clampFactor(f float64) float64 {
	if f < minFactor {
		return minFactor
	}
	if f > maxFactor {
		return maxFactor
	}
	return f
}

// save writes the corrector namespace back to the store. Persistence
// failures are logged, never propagated. Caller must hold c.mu.
func (c *Corrector) save() {
	if c.store == nil {
		return
	}
	state := statestore.CorrectorState{
		PredictionAdjustment: c.factor,
		PredictionHistory:    append([]WarningOutcome(nil), c.history...),
	}
	if err := c.store.SaveCorrector(state); err != nil {
		log.Errorf("Failed to save corrector state: %v", err)
	}
}
