package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/boltdb/bolt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEstimatorState() EstimatorState {
	return EstimatorState{
		CumulativeDischarge:  42.5,
		EstimatedCycles:      0.38,
		PreviousBatteryLevel: 61,
		BatteryHistory: []Sample{
			{TimestampMs: 1000, Level: 62, Temperature: 24.5, VoltageMv: 3810},
			{TimestampMs: 61000, Level: 61, Temperature: 24.6, VoltageMv: 3795, Charging: true},
		},
	}
}

func testCorrectorState() CorrectorState {
	shutdownMs := int64(99000)
	return CorrectorState{
		PredictionAdjustment: 1.3,
		PredictionHistory: []WarningOutcome{
			{
				Warning:      ShutdownWarning{StartTimeMs: 5000, PredictedMinutes: 12, VoltageMv: 3300, Temperature: 21, BatteryLevel: 6},
				WasCancelled: true,
			},
			{
				Warning:            ShutdownWarning{StartTimeMs: 90000, PredictedMinutes: 8, VoltageMv: 3250, Temperature: 20, BatteryLevel: 4},
				ActualShutdownTime: &shutdownMs,
			},
		},
	}
}

func TestFileStoreDefaultsWhenEmpty(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	est, err := store.LoadEstimator()
	require.NoError(t, err)
	assert.Equal(t, -1, est.PreviousBatteryLevel)
	assert.Equal(t, 0.0, est.CumulativeDischarge)
	assert.Empty(t, est.BatteryHistory)

	corr, err := store.LoadCorrector()
	require.NoError(t, err)
	assert.Equal(t, 1.0, corr.PredictionAdjustment)
	assert.Empty(t, corr.PredictionHistory)
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.SaveEstimator(testEstimatorState()))
	require.NoError(t, store.SaveCorrector(testCorrectorState()))

	est, err := store.LoadEstimator()
	require.NoError(t, err)
	assert.Equal(t, 42.5, est.CumulativeDischarge)
	assert.Equal(t, 61, est.PreviousBatteryLevel)
	require.Len(t, est.BatteryHistory, 2)
	assert.True(t, est.BatteryHistory[1].Charging)

	corr, err := store.LoadCorrector()
	require.NoError(t, err)
	assert.Equal(t, 1.3, corr.PredictionAdjustment)
	require.Len(t, corr.PredictionHistory, 2)
	assert.True(t, corr.PredictionHistory[0].WasCancelled)
	require.NotNil(t, corr.PredictionHistory[1].ActualShutdownTime)
	assert.Equal(t, int64(99000), *corr.PredictionHistory[1].ActualShutdownTime)
}

func TestFileStoreCorruptStateResetsToDefaults(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, estimatorStateFile), []byte("not json"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, correctorStateFile), []byte("{broken"), 0644))

	est, err := store.LoadEstimator()
	require.NoError(t, err)
	assert.Equal(t, DefaultEstimatorState(), est)

	corr, err := store.LoadCorrector()
	require.NoError(t, err)
	assert.Equal(t, DefaultCorrectorState(), corr)
}

func TestFileStoreVersionStamped(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.SaveEstimator(EstimatorState{}))
	est, err := store.LoadEstimator()
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, est.Version)
}

func TestBoltStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drainwatch.db")
	store, err := NewBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	// Fresh database reads back defaults.
	est, err := store.LoadEstimator()
	require.NoError(t, err)
	assert.Equal(t, -1, est.PreviousBatteryLevel)

	require.NoError(t, store.SaveEstimator(testEstimatorState()))
	require.NoError(t, store.SaveCorrector(testCorrectorState()))

	est, err = store.LoadEstimator()
	require.NoError(t, err)
	assert.Equal(t, 42.5, est.CumulativeDischarge)
	require.Len(t, est.BatteryHistory, 2)

	corr, err := store.LoadCorrector()
	require.NoError(t, err)
	assert.Equal(t, 1.3, corr.PredictionAdjustment)
	assert.Len(t, corr.PredictionHistory, 2)
}

func TestBoltStoreCorruptValueResetsToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drainwatch.db")

	db, err := bolt.Open(path, 0600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(estimatorBucket)
		if err != nil {
			return err
		}
		return b.Put(stateKey, []byte("garbage"))
	}))
	require.NoError(t, db.Close())

	store, err := NewBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	est, err := store.LoadEstimator()
	require.NoError(t, err)
	assert.Equal(t, DefaultEstimatorState(), est)
}
