// Package monitor owns one drain estimator and one adaptive corrector
// behind a single mutex, and applies the warning threshold policy: it
// decides when a shutdown warning starts, when it is cancelled, and
// feeds those transitions back into the corrector. All entry points
// (telemetry feed, D-Bus calls, shutdown hooks) go through the same
// instance.
package monitor

import (
	"errors"
	"math"
	"sync"

	"github.com/drainwatch/drainwatch/corrector"
	"github.com/drainwatch/drainwatch/estimator"
	"github.com/drainwatch/drainwatch/internal/logging"
	"github.com/drainwatch/drainwatch/statestore"
)

var log = logging.NewLogger("info")

// ErrVoltageOutOfRange is returned for samples dropped by the validity
// filter before reaching the estimator.
var ErrVoltageOutOfRange = errors.New("voltage outside valid range")

const referenceTempC = 25.0

// Thresholds configures the warning policy.
type Thresholds struct {
	// Warn when the adjusted prediction drops to this many minutes.
	MinutesThreshold float64
	// Warn when the battery level drops to this percentage.
	LowLevel int
	// Warn when voltage drops to this many mV at the reference
	// temperature.
	CriticalVoltageMv int
	// Cold raises the voltage cutoff: mV added per degree below the
	// reference temperature.
	ColdCompensationMvPerDeg float64
	// Recovery margin in minutes before an active warning clears.
	HysteresisMinutes float64

	// Valid voltage range for the sample filter.
	MinValidVoltageMv int
	MaxValidVoltageMv int
}

// EventType labels a warning lifecycle transition.
type EventType string

const (
	EventWarningStarted   EventType = "warning-started"
	EventWarningCancelled EventType = "warning-cancelled"
	EventShutdownRecorded EventType = "shutdown-recorded"
)

// Event describes a warning transition, delivered to the notify
// callback so the host can raise signals or alerts.
type Event struct {
	Type            EventType
	AdjustedMinutes float64
	Prediction      estimator.Prediction
	Sample          estimator.Sample
}

// Monitor serializes all access to the estimator and corrector pair.
type Monitor struct {
	mu   sync.Mutex
	est  *estimator.Estimator
	corr *corrector.Corrector

	thresholds    Thresholds
	warningActive bool
	notify        func(Event)
}

// New builds a monitor over a shared state store. notify may be nil.
func New(store statestore.Store, thresholds Thresholds, notify func(Event)) *Monitor {
	return &Monitor{
		est:        estimator.New(store),
		corr:       corrector.New(store),
		thresholds: thresholds,
		notify:     notify,
	}
}

// HandleSample runs one sample through the filter, the estimator and the
// warning policy, returning the resulting prediction. Samples with
// voltage outside the valid range are dropped and ErrVoltageOutOfRange
// returned.
func (m *Monitor) HandleSample(s estimator.Sample) (estimator.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.VoltageMv < m.thresholds.MinValidVoltageMv || s.VoltageMv > m.thresholds.MaxValidVoltageMv {
		log.Debugf("Dropping sample with voltage %dmV outside [%d, %d]",
			s.VoltageMv, m.thresholds.MinValidVoltageMv, m.thresholds.MaxValidVoltageMv)
		return estimator.Prediction{}, ErrVoltageOutOfRange
	}

	m.est.Ingest(s)
	pred := m.est.Predict()
	adjusted := pred.MinutesLeft * m.corr.PredictionAdjustment()

	if s.Charging {
		if m.warningActive {
			log.Info("Charger connected, cancelling shutdown warning")
			m.corr.RecordWarningCancelled()
			m.warningActive = false
			m.emit(Event{Type: EventWarningCancelled, AdjustedMinutes: adjusted, Prediction: pred, Sample: s})
		}
		return pred, nil
	}

	shouldWarn := m.shouldWarn(s, adjusted)
	switch {
	case shouldWarn && !m.warningActive:
		log.Warnf("Shutdown warning: %.1f adjusted minutes left (level %d%%, %dmV, %.1f°C)",
			adjusted, s.Level, s.VoltageMv, s.Temperature)
		m.corr.RecordWarningStart(adjusted, s.VoltageMv, s.Temperature, s.Level)
		m.warningActive = true
		m.emit(Event{Type: EventWarningStarted, AdjustedMinutes: adjusted, Prediction: pred, Sample: s})
	case m.warningActive && m.recovered(s, adjusted):
		log.Infof("Conditions recovered (%.1f adjusted minutes left), cancelling shutdown warning", adjusted)
		m.corr.RecordWarningCancelled()
		m.warningActive = false
		m.emit(Event{Type: EventWarningCancelled, AdjustedMinutes: adjusted, Prediction: pred, Sample: s})
	}
	return pred, nil
}

// shouldWarn is the raise condition: imminent predicted shutdown, low
// level, or voltage under the temperature-adjusted cutoff.
func (m *Monitor) shouldWarn(s estimator.Sample, adjustedMinutes float64) bool {
	return adjustedMinutes <= m.thresholds.MinutesThreshold ||
		s.Level <= m.thresholds.LowLevel ||
		float64(s.VoltageMv) <= m.adjustedCriticalVoltage(s.Temperature)
}

// recovered is the clear condition: every trigger must be out of range,
// with a hysteresis margin on the prediction so the warning does not
// flap around the threshold.
func (m *Monitor) recovered(s estimator.Sample, adjustedMinutes float64) bool {
	return adjustedMinutes > m.thresholds.MinutesThreshold+m.thresholds.HysteresisMinutes &&
		s.Level > m.thresholds.LowLevel &&
		float64(s.VoltageMv) > m.adjustedCriticalVoltage(s.Temperature)
}

// adjustedCriticalVoltage raises the voltage cutoff in the cold, where
// cells sag under load and shut down earlier than their open-circuit
// voltage suggests.
func (m *Monitor) adjustedCriticalVoltage(temperature float64) float64 {
	cold := math.Max(0, referenceTempC-temperature)
	return float64(m.thresholds.CriticalVoltageMv) + cold*m.thresholds.ColdCompensationMvPerDeg
}

// ConfirmShutdown records that the warned-of shutdown actually happened.
// Called from the host's shutdown hook.
func (m *Monitor) ConfirmShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.warningActive {
		return
	}
	m.corr.RecordActualShutdown()
	m.warningActive = false
	m.emit(Event{Type: EventShutdownRecorded})
}

// CancelWarning cancels the active warning on the host's behalf, e.g.
// when the user dismisses the alert.
func (m *Monitor) CancelWarning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.warningActive {
		return
	}
	m.corr.RecordWarningCancelled()
	m.warningActive = false
	m.emit(Event{Type: EventWarningCancelled})
}

// Predict returns the current raw prediction.
func (m *Monitor) Predict() estimator.Prediction {
	return m.est.Predict()
}

// EstimatedCycles returns the smoothed discharge cycle count.
func (m *Monitor) EstimatedCycles() float64 {
	return m.est.EstimatedCycles()
}

// WeightedDrainRate returns the smoothed drain rate in %/min.
func (m *Monitor) WeightedDrainRate() float64 {
	return m.est.WeightedDrainRate()
}

// PredictionAdjustment returns the learned correction factor.
func (m *Monitor) PredictionAdjustment() float64 {
	return m.corr.PredictionAdjustment()
}

// WarningHistory returns a copy of the bounded outcome log.
func (m *Monitor) WarningHistory() []corrector.WarningOutcome {
	return m.corr.WarningHistory()
}

// WarningActive reports whether a shutdown warning is currently raised.
func (m *Monitor) WarningActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warningActive
}

func (m *Monitor) emit(e Event) {
	if m.notify != nil {
		m.notify(e)
	}
}
