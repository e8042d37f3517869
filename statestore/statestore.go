// Package statestore persists the estimator and corrector state across
// process restarts. Two logical namespaces are kept: the drain estimator's
// counters and sample history, and the adaptive corrector's adjustment
// factor and warning outcome log.
package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/drainwatch/drainwatch/internal/logging"
)

var log = logging.NewLogger("info")

const (
	schemaVersion = 1

	estimatorStateFile = "estimator_state.json"
	correctorStateFile = "corrector_state.json"
)

// Sample is one battery telemetry reading. Immutable once recorded.
type Sample struct {
	TimestampMs int64   `json:"timestamp"`
	Level       int     `json:"level"`
	Temperature float64 `json:"temperature"`
	VoltageMv   int     `json:"voltage"`
	Charging    bool    `json:"charging"`
}

// ShutdownWarning is the snapshot taken when a shutdown countdown begins.
type ShutdownWarning struct {
	StartTimeMs      int64   `json:"startTime"`
	PredictedMinutes float64 `json:"predictedMinutes"`
	VoltageMv        int     `json:"voltage"`
	Temperature      float64 `json:"temperature"`
	BatteryLevel     int     `json:"batteryLevel"`
}

// WarningOutcome is the terminal record of a warning's resolution.
type WarningOutcome struct {
	Warning            ShutdownWarning `json:"warning"`
	ActualShutdownTime *int64          `json:"actualShutdownTime,omitempty"`
	WasCancelled       bool            `json:"wasCancelled"`
}

// EstimatorState is the persisted namespace of the drain estimator.
type EstimatorState struct {
	Version              int      `json:"version"`
	CumulativeDischarge  float64  `json:"cumulativeDischarge"`
	EstimatedCycles      float64  `json:"estimatedCycles"`
	PreviousBatteryLevel int      `json:"previousBatteryLevel"`
	BatteryHistory       []Sample `json:"batteryHistoryJson"`
}

// CorrectorState is the persisted namespace of the adaptive corrector.
type CorrectorState struct {
	Version              int              `json:"version"`
	PredictionAdjustment float64          `json:"predictionAdjustment"`
	PredictionHistory    []WarningOutcome `json:"predictionHistory"`
}

// DefaultEstimatorState returns the state used for a fresh install or
// after an unreadable state file.
func DefaultEstimatorState() EstimatorState {
	return EstimatorState{
		Version:              schemaVersion,
		PreviousBatteryLevel: -1,
	}
}

// DefaultCorrectorState returns the corrector namespace defaults. The
// adjustment factor starts neutral at 1.0.
func DefaultCorrectorState() CorrectorState {
	return CorrectorState{
		Version:              schemaVersion,
		PredictionAdjustment: 1.0,
	}
}

// Store is the durable backing for both namespaces. Load never fails on
// missing or corrupt state: that namespace resets to defaults so the
// estimator can always produce a prediction.
type Store interface {
	LoadEstimator() (EstimatorState, error)
	SaveEstimator(EstimatorState) error
	LoadCorrector() (CorrectorState, error)
	SaveCorrector(CorrectorState) error
}

// FileStore keeps each namespace as a JSON file in a state directory.
type FileStore struct {
	stateDir string
}

// NewFileStore creates the state directory if needed.
func NewFileStore(stateDir string) (*FileStore, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{stateDir: stateDir}, nil
}

func (s *FileStore) LoadEstimator() (EstimatorState, error) {
	state := DefaultEstimatorState()
	if err := s.loadJSON(estimatorStateFile, &state); err != nil {
		log.Warnf("Resetting estimator state to defaults: %v", err)
		return DefaultEstimatorState(), nil
	}
	return state, nil
}

func (s *FileStore) SaveEstimator(state EstimatorState) error {
	state.Version = schemaVersion
	return s.saveJSON(estimatorStateFile, &state)
}

func (s *FileStore) LoadCorrector() (CorrectorState, error) {
	state := DefaultCorrectorState()
	if err := s.loadJSON(correctorStateFile, &state); err != nil {
		log.Warnf("Resetting corrector state to defaults: %v", err)
		return DefaultCorrectorState(), nil
	}
	return state, nil
}

func (s *FileStore) SaveCorrector(state CorrectorState) error {
	state.Version = schemaVersion
	return s.saveJSON(correctorStateFile, &state)
}

func (s *FileStore) loadJSON(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.stateDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No state yet, keep defaults.
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *FileStore) saveJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.stateDir, name), data, 0644)
}
