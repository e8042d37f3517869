// Package estimator maintains a smoothed discharge-cycle estimate and a
// recency- and temperature-weighted drain rate from a stream of battery
// telemetry samples, and derives a time-to-shutdown prediction with a
// discrete confidence tier.
package estimator

import (
	"math"
	"sync"

	"github.com/drainwatch/drainwatch/internal/logging"
	"github.com/drainwatch/drainwatch/statestore"
)

var log = logging.NewLogger("info")

// Sample is one battery telemetry reading.
type Sample = statestore.Sample

const (
	// Bounded history sizes, oldest evicted first.
	maxHistory  = 200
	drainWindow = 20

	// Number of trailing samples the instantaneous rate pass looks at.
	ratePairSamples = 10

	// Smoothing factor for the cycle estimate: new value weighted 20%.
	cycleSmoothing = 0.2

	// Reference temperature for the outer rate-window weighting.
	nominalTempC = 25.0

	// Predictions are capped at 24 hours.
	maxPredictionMinutes = 1440.0
)

// Confidence labels how much drain-history data backs a prediction.
type Confidence string

const (
	ConfidenceInsufficientData Confidence = "insufficient-data"
	ConfidenceLow              Confidence = "low"
	ConfidenceMedium           Confidence = "medium"
	ConfidenceHigh             Confidence = "high"
	ConfidenceCharging         Confidence = "charging"
)

// Prediction is a time-to-shutdown estimate. MinutesLeft is +Inf when no
// shutdown is foreseeable (charging, or no data yet). Derived on demand,
// never persisted.
type Prediction struct {
	MinutesLeft float64
	Confidence  Confidence
}

// DrainRateRecord is one derived drain-rate observation.
type DrainRateRecord struct {
	Rate        float64 // %/min
	Temperature float64
	TimestampMs int64
}

// Estimator ingests battery samples and derives drain rate, cycle count
// and shutdown predictions. All public methods are safe for concurrent
// use on one instance.
type Estimator struct {
	mu    sync.Mutex
	store statestore.Store

	history    []Sample
	rateWindow []DrainRateRecord

	cumulativeDischarge float64
	estimatedCycles     float64
	previousLevel       int // -1 = unset
}

// New creates an estimator, rehydrating counters and sample history from
// the store. A nil store disables persistence.
func New(store statestore.Store) *Estimator {
	e := &Estimator{
		store:         store,
		previousLevel: -1,
	}
	if store == nil {
		return e
	}
	state, err := store.LoadEstimator()
	if err != nil {
		log.Warnf("Could not load estimator state, starting fresh: %v", err)
		return e
	}
	e.cumulativeDischarge = state.CumulativeDischarge
	e.estimatedCycles = state.EstimatedCycles
	e.previousLevel = state.PreviousBatteryLevel
	e.history = state.BatteryHistory
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
	return e
}

// Ingest incorporates one sample: updates the cycle counters, appends to
// the bounded history, recomputes the weighted drain rate and persists
// the mutable state. Inputs are taken as-is; voltage range filtering is
// the caller's job.
func (e *Estimator) Ingest(s Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.Charging {
		// Charging invalidates the recent discharge trend.
		e.rateWindow = e.rateWindow[:0]
	}

	if e.previousLevel >= 0 && s.Level < e.previousLevel {
		e.cumulativeDischarge += float64(e.previousLevel - s.Level)
		e.estimatedCycles = cycleSmoothing*(e.cumulativeDischarge/100) +
			(1-cycleSmoothing)*e.estimatedCycles
	}

	e.history = append(e.history, s)
	if len(e.history) > maxHistory {
		e.history = e.history[1:]
	}

	if !s.Charging && len(e.history) >= 2 {
		rate := e.instantWeightedRate(s.Temperature)
		e.rateWindow = append(e.rateWindow, DrainRateRecord{
			Rate:        rate,
			Temperature: s.Temperature,
			TimestampMs: s.TimestampMs,
		})
		if len(e.rateWindow) > drainWindow {
			e.rateWindow = e.rateWindow[1:]
		}
	}

	e.previousLevel = s.Level
	e.save()
}

// instantWeightedRate computes the weighted mean drain rate over the
// consecutive pairs of the last ratePairSamples history samples. Recent
// pairs decay exponentially less; pairs recorded far from the present
// temperature are upweighted as more informative of stress behaviour.
// Caller must hold e.mu.
func (e *Estimator) instantWeightedRate(currentTemp float64) float64 {
	start := len(e.history) - ratePairSamples
	if start < 0 {
		start = 0
	}
	recent := e.history[start:]
	pairs := len(recent) - 1

	var weightedSum, totalWeight float64
	for i := 0; i < pairs; i++ {
		prev, curr := recent[i], recent[i+1]
		if prev.Charging || curr.Charging {
			continue
		}
		minutes := float64(curr.TimestampMs-prev.TimestampMs) / 60000.0
		if minutes <= 0 || prev.Level <= curr.Level {
			continue
		}
		instantRate := float64(prev.Level-curr.Level) / minutes
		recency := math.Exp(-0.1 * float64(pairs-i))
		tempInfluence := 1 + math.Abs(currentTemp-prev.Temperature)*0.02
		weight := recency * tempInfluence
		weightedSum += instantRate * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weightedSum / totalWeight
}

// WeightedDrainRate returns the smoothed drain rate in %/min: a second
// weighted pass over the already-derived rate window, stabilising the
// rate series against sudden regime shifts. Returns 0 when the window is
// empty.
func (e *Estimator) WeightedDrainRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.rateWindow)
	if n == 0 {
		return 0
	}
	var weightedSum, totalWeight float64
	for i, r := range e.rateWindow {
		recency := 2.0 * float64(i+1) / float64(n)
		tempWeight := 1.5 * (1 + math.Abs(r.Temperature-nominalTempC)*0.02)
		weight := recency * tempWeight
		weightedSum += r.Rate * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weightedSum / totalWeight
}

// Predict derives a time-to-shutdown estimate from the current state.
// The minutes figure uses a voltage-banded rate rather than the weighted
// rate directly: voltage bands are device-characteristic floors that do
// not overreact to transient drain spikes. Pure read, no side effects.
func (e *Estimator) Predict() Prediction {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.history) == 0 {
		return Prediction{MinutesLeft: math.Inf(1), Confidence: ConfidenceInsufficientData}
	}
	latest := e.history[len(e.history)-1]
	if latest.Charging {
		return Prediction{MinutesLeft: math.Inf(1), Confidence: ConfidenceCharging}
	}

	minutes := float64(latest.Level) / bandedRate(latest.VoltageMv)
	if minutes > maxPredictionMinutes {
		minutes = maxPredictionMinutes
	}

	confidence := ConfidenceHigh
	switch {
	case len(e.rateWindow) < 5:
		confidence = ConfidenceLow
	case len(e.rateWindow) < 10:
		confidence = ConfidenceMedium
	}

	return Prediction{MinutesLeft: minutes, Confidence: confidence}
}

// bandedRate maps a voltage reading to a characteristic drain speed in
// %/min. Lower voltage means the cell is deeper into its discharge curve
// and drains faster.
func bandedRate(voltageMv int) float64 {
	switch {
	case voltageMv > 4000:
		return 0.5
	case voltageMv > 3700:
		return 1.2
	case voltageMv > 3400:
		return 2.5
	case voltageMv > 3200:
		return 5.0
	default:
		return 10.0
	}
}

// EstimatedCycles returns the smoothed cumulative discharge cycle count.
func (e *Estimator) EstimatedCycles() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.estimatedCycles
}

// CumulativeDischarge returns the total of all observed level drops.
func (e *Estimator) CumulativeDischarge() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cumulativeDischarge
}

// HistoryLen reports how many samples the bounded history holds.
func (e *Estimator) HistoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

// RateWindowLen reports how many derived rate records the window holds.
func (e *Estimator) RateWindowLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rateWindow)
}

// save writes the estimator namespace back to the store. Persistence
// failures are logged, never propagated: the estimator must always keep
// producing predictions. Caller must hold e.mu.
func (e *Estimator) save() {
	if e.store == nil {
		return
	}
	state := statestore.EstimatorState{
		CumulativeDischarge:  e.cumulativeDischarge,
		EstimatedCycles:      e.estimatedCycles,
		PreviousBatteryLevel: e.previousLevel,
		BatteryHistory:       append([]Sample(nil), e.history...),
	}
	if err := e.store.SaveEstimator(state); err != nil {
		log.Errorf("Failed to save estimator state: %v", err)
	}
}
