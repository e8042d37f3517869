package corrector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drainwatch/drainwatch/statestore"
)

// fakeClock lets tests control the warning timestamps.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestCorrector() (*Corrector, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New(nil)
	c.now = clock.Now
	return c, clock
}

func TestCancelledWarningScalesFactorUp(t *testing.T) {
	c, _ := newTestCorrector()
	assert.Equal(t, 1.0, c.PredictionAdjustment())

	c.RecordWarningStart(20, 3300, 22, 8)
	c.RecordWarningCancelled()
	assert.InDelta(t, 1.1, c.PredictionAdjustment(), 1e-9)

	c.RecordWarningStart(25, 3350, 22, 9)
	c.RecordWarningCancelled()
	assert.InDelta(t, 1.21, c.PredictionAdjustment(), 1e-9)
}

func TestFactorClampedAtUpperBound(t *testing.T) {
	c, _ := newTestCorrector()
	for i := 0; i < 20; i++ {
		c.RecordWarningStart(20, 3300, 22, 8)
		c.RecordWarningCancelled()
	}
	assert.Equal(t, 2.0, c.PredictionAdjustment())
}

func TestActualShutdownBlendsTowardRatio(t *testing.T) {
	c, clock := newTestCorrector()

	// Predicted 10 minutes, shutdown actually took 30: ratio 3, factor
	// blends to 0.9*1.0 + 0.1*3.0.
	c.RecordWarningStart(10, 3250, 20, 4)
	clock.Advance(30 * time.Minute)
	c.RecordActualShutdown()
	assert.InDelta(t, 1.2, c.PredictionAdjustment(), 1e-9)
}

func TestAdversarialRatioStaysClamped(t *testing.T) {
	c, clock := newTestCorrector()

	c.RecordWarningStart(1, 3250, 20, 4)
	clock.Advance(100 * time.Minute) // ratio 100
	c.RecordActualShutdown()
	assert.Equal(t, 2.0, c.PredictionAdjustment())

	// And the other direction: instant shutdown, ratio 0.
	for i := 0; i < 20; i++ {
		c.RecordWarningStart(1000, 3250, 20, 4)
		c.RecordActualShutdown()
	}
	assert.Equal(t, 0.5, c.PredictionAdjustment())
}

func TestZeroPredictedMinutesSkipsFactorUpdate(t *testing.T) {
	c, clock := newTestCorrector()

	c.RecordWarningStart(0, 3250, 20, 4)
	clock.Advance(5 * time.Minute)
	c.RecordActualShutdown()
	assert.Equal(t, 1.0, c.PredictionAdjustment())
	// The outcome is still recorded for the audit log.
	assert.Len(t, c.WarningHistory(), 1)
}

func TestResolutionWithoutWarningIsNoOp(t *testing.T) {
	c, _ := newTestCorrector()

	c.RecordWarningCancelled()
	c.RecordActualShutdown()
	assert.Equal(t, 1.0, c.PredictionAdjustment())
	assert.Empty(t, c.WarningHistory())
	assert.False(t, c.WarningActive())
}

func TestSecondStartReplacesSnapshot(t *testing.T) {
	c, _ := newTestCorrector()

	c.RecordWarningStart(40, 3400, 22, 15)
	c.RecordWarningStart(12, 3300, 22, 6)
	c.RecordWarningCancelled()

	history := c.WarningHistory()
	require.Len(t, history, 1)
	assert.Equal(t, 12.0, history[0].Warning.PredictedMinutes)
	assert.Equal(t, 6, history[0].Warning.BatteryLevel)
}

func TestOutcomeHistoryIsBounded(t *testing.T) {
	c, _ := newTestCorrector()
	for i := 0; i < 60; i++ {
		c.RecordWarningStart(float64(i), 3300, 22, 8)
		c.RecordWarningCancelled()
	}
	history := c.WarningHistory()
	assert.Len(t, history, 50)
	// Oldest evicted first.
	assert.Equal(t, 10.0, history[0].Warning.PredictedMinutes)
	assert.Equal(t, 59.0, history[49].Warning.PredictedMinutes)
}

func TestOutcomeRecordsShutdownTime(t *testing.T) {
	c, clock := newTestCorrector()

	start := clock.Now().UnixMilli()
	c.RecordWarningStart(10, 3250, 20, 4)
	clock.Advance(7 * time.Minute)
	c.RecordActualShutdown()

	history := c.WarningHistory()
	require.Len(t, history, 1)
	assert.False(t, history[0].WasCancelled)
	require.NotNil(t, history[0].ActualShutdownTime)
	assert.Equal(t, start+7*60_000, *history[0].ActualShutdownTime)

	c.RecordWarningStart(10, 3250, 20, 4)
	c.RecordWarningCancelled()
	history = c.WarningHistory()
	require.Len(t, history, 2)
	assert.True(t, history[1].WasCancelled)
	assert.Nil(t, history[1].ActualShutdownTime)
}

func TestFactorPersistsAcrossInstances(t *testing.T) {
	store, err := statestore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	c := New(store)
	c.RecordWarningStart(20, 3300, 22, 8)
	c.RecordWarningCancelled()
	require.InDelta(t, 1.1, c.PredictionAdjustment(), 1e-9)

	restored := New(store)
	assert.InDelta(t, 1.1, restored.PredictionAdjustment(), 1e-9)
	assert.Len(t, restored.WarningHistory(), 1)
}
