package tuner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattwatch/thermal-governor/internal/thermal"
	"github.com/wattwatch/thermal-governor/internal/window"
)

func samplesOf(n int, temp int32, fanRPM uint32, capApplied uint32) []window.Sample {
	out := make([]window.Sample, n)
	now := time.Now()
	for i := range out {
		out[i] = window.Sample{
			TempC:         temp,
			FanRPM:        fanRPM,
			CapKHzApplied: capApplied,
			Timestamp:     now.Add(time.Duration(i) * 2 * time.Second),
		}
	}
	return out
}

func TestTune_BelowMinSamples_NoChange(t *testing.T) {
	tbl := thermal.DefaultTable(thermal.Performance)
	before := tbl.Clone()
	samples := samplesOf(MinSamples-1, 80, 0, tbl.FloorCap())

	metrics, summary := Tune(thermal.Performance, &tbl, samples)

	assert.Equal(t, before, tbl)
	assert.Contains(t, summary, "skipped")
	assert.Equal(t, len(samples), metrics.Samples)
}

func TestTune_Performance_RaisesOnHeadroom(t *testing.T) {
	// Scenario 5: max_temp=88, fan_active=100%, floor_time=0 -> every level
	// cap +100MHz; MaxCapKHz already sits at the 4.5GHz ceiling and stays there.
	tbl := thermal.DefaultTable(thermal.Performance)
	before := tbl.Clone()
	samples := samplesOf(60, 88, 200, tbl.MaxCapKHz)

	_, summary := Tune(thermal.Performance, &tbl, samples)

	assert.Contains(t, summary, "+1 step")
	assert.Equal(t, thermal.Performance.Ceiling(), tbl.MaxCapKHz)
	for i, lvl := range tbl.Levels {
		assert.Equal(t, before.Levels[i].CapKHz+thermal.TuneStep, lvl.CapKHz)
	}
	assertInvariants(t, tbl, thermal.Performance.Ceiling())
}

func TestTune_Performance_EmergencyLowerOnHardThrottle(t *testing.T) {
	// Scenario 6: max_temp=99, floor_time_pct=25% -> every cap -200MHz.
	tbl := thermal.DefaultTable(thermal.Performance)
	before := tbl.Clone()

	samples := make([]window.Sample, 60)
	now := time.Now()
	for i := range samples {
		temp := int32(99)
		cap_ := tbl.Levels[0].CapKHz
		if i < 15 { // 25% of 60
			cap_ = tbl.FloorCap()
		}
		samples[i] = window.Sample{TempC: temp, FanRPM: 500, CapKHzApplied: cap_, Timestamp: now.Add(time.Duration(i) * 2 * time.Second)}
	}

	_, summary := Tune(thermal.Performance, &tbl, samples)

	assert.Contains(t, summary, "-2 steps")
	assert.Less(t, tbl.MaxCapKHz, before.MaxCapKHz)
	assertInvariants(t, tbl, thermal.Performance.Ceiling())
}

func TestTune_PowerSaver_UnderloadSuppressesRaise(t *testing.T) {
	tbl := thermal.DefaultTable(thermal.PowerSaver)
	before := tbl.Clone()
	// Fans silent, cool, but avg_temp < 48 -> "underload", no upward move.
	samples := samplesOf(60, 40, 0, tbl.MaxCapKHz)

	_, summary := Tune(thermal.PowerSaver, &tbl, samples)

	assert.Equal(t, "no change", summary)
	assert.Equal(t, before, tbl)
}

func TestTune_PowerSaver_RaisesWhenActuallyLoadedAndQuiet(t *testing.T) {
	tbl := thermal.DefaultTable(thermal.PowerSaver)
	before := tbl.Clone()
	samples := samplesOf(60, 52, 0, tbl.MaxCapKHz)

	_, summary := Tune(thermal.PowerSaver, &tbl, samples)

	assert.Contains(t, summary, "+1 step")
	assert.Greater(t, tbl.MaxCapKHz, before.MaxCapKHz)
}

func TestTune_Balanced_FloorTimeTriggersLower(t *testing.T) {
	tbl := thermal.DefaultTable(thermal.Balanced)
	before := tbl.Clone()

	samples := make([]window.Sample, 60)
	now := time.Now()
	for i := range samples {
		cap_ := tbl.Levels[1].CapKHz
		if i < 25 { // > 30% at floor
			cap_ = tbl.FloorCap()
		}
		samples[i] = window.Sample{TempC: 76, FanRPM: 50, CapKHzApplied: cap_, Timestamp: now.Add(time.Duration(i) * 2 * time.Second)}
	}

	_, summary := Tune(thermal.Balanced, &tbl, samples)

	assert.Contains(t, summary, "floor")
	assert.Less(t, tbl.MaxCapKHz, before.MaxCapKHz)
}

func TestTune_IsContractionOnStaleData(t *testing.T) {
	// Tuner idempotence: once a window's signal lands in the "no change"
	// bucket, re-running the tuner over that same stale window again must
	// not perturb the table any further.
	tbl := thermal.DefaultTable(thermal.Performance)
	samples := samplesOf(60, 92, 50, tbl.Levels[1].CapKHz)

	_, summary := Tune(thermal.Performance, &tbl, samples)
	require.Equal(t, "no change", summary)
	afterFirst := tbl.Clone()

	Tune(thermal.Performance, &tbl, samples)

	assert.Equal(t, afterFirst, tbl)
}

func assertInvariants(t *testing.T, tbl thermal.Table, ceiling uint32) {
	t.Helper()
	require.NotEmpty(t, tbl.Levels)
	for i, lvl := range tbl.Levels {
		assert.GreaterOrEqual(t, lvl.CapKHz, thermal.MinCap)
		assert.LessOrEqual(t, lvl.CapKHz, ceiling)
		if i > 0 {
			assert.Greater(t, lvl.ThresholdC, tbl.Levels[i-1].ThresholdC)
			assert.GreaterOrEqual(t, tbl.Levels[i-1].CapKHz-lvl.CapKHz, thermal.MinSpread)
		}
	}
	assert.GreaterOrEqual(t, tbl.MaxCapKHz, tbl.Levels[0].CapKHz)
}
