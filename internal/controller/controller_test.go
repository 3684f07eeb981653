package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattwatch/thermal-governor/internal/govlog"
	"github.com/wattwatch/thermal-governor/internal/thermal"
	"github.com/wattwatch/thermal-governor/internal/window"
)

func newTestController(profile thermal.Profile) *Controller {
	tbl := thermal.DefaultTable(profile)
	return &Controller{
		Profile: profile,
		Table:   &tbl,
		State:   NewState(tbl.MaxCapKHz),
		Window:  window.NewRing(window.MinCapacity),
		Log:     govlog.New("test"),
	}
}

func TestTick_ColdStart_NoChangeUntilThresholdCrossed(t *testing.T) {
	c := newTestController(thermal.Performance)
	now := time.Now()

	changed, cap_, _ := c.tick(now, Reading{TempC: 55})
	assert.False(t, changed)
	c.State.setLastTemp(55)

	now = now.Add(PollInterval)
	changed, cap_, _ = c.tick(now, Reading{TempC: 62})
	assert.False(t, changed)
	c.State.setLastTemp(62)

	now = now.Add(PollInterval)
	changed, cap_, _ = c.tick(now, Reading{TempC: 80})
	require.True(t, changed)
	// The 18C rise from 62 to 80 adds a +9C predictive bias, landing the
	// effective temperature (89C) in the 85-92C band rather than 75-85C.
	assert.Equal(t, uint32(3_200_000), cap_)
}

func TestTick_PredictiveBias_StepsDownFurtherThanRawTempAlone(t *testing.T) {
	c := newTestController(thermal.Performance)
	now := time.Now()

	// First tick establishes a baseline with no bias (no prior reading).
	changed, _, _ := c.tick(now, Reading{TempC: 70})
	assert.False(t, changed)
	c.State.setLastTemp(70)

	// Second tick: raw 86C alone would land in the 85-92 band (3.2GHz), but
	// the +8C predictive bias (half of the 16C rise) pushes the effective
	// temperature into the 92-95 band instead.
	now = now.Add(PollInterval)
	changed, cap_, _ := c.tick(now, Reading{TempC: 86})
	require.True(t, changed)
	assert.Equal(t, uint32(2_800_000), cap_, "predictive bias should select the hotter band than raw temp would")

	withoutBias := c.Table.Lookup(86)
	assert.Equal(t, uint32(3_200_000), withoutBias, "sanity check: raw 86C alone maps to 3.2GHz")
}

func TestTick_StepUp_BlockedDuringCooldown(t *testing.T) {
	c := newTestController(thermal.Performance)
	now := time.Now()

	changed, cap_, _ := c.tick(now, Reading{TempC: 96})
	require.True(t, changed)
	require.Equal(t, uint32(2_200_000), cap_)
	c.State.CurrentCapKHz = cap_
	c.State.setLastTemp(96)

	// Only 2s have elapsed (one poll interval); COOLDOWN is 6s.
	now = now.Add(PollInterval)
	changed, cap_, _ = c.tick(now, Reading{TempC: 40})
	assert.False(t, changed, "step-up must be blocked until COOLDOWN has elapsed since the last step-down")
	assert.Equal(t, uint32(2_200_000), cap_)
}

func TestTick_GradualStepUp_OneFreqStepPerTickUntilPlateau(t *testing.T) {
	c := newTestController(thermal.Performance)
	now := time.Now()

	// Force a step-down first so the cooldown clock starts somewhere
	// comfortably in the past.
	changed, cap_, _ := c.tick(now, Reading{TempC: 96})
	require.True(t, changed)
	c.State.CurrentCapKHz = cap_
	c.State.setLastTemp(96)

	now = now.Add(Cooldown + PollInterval)

	var last uint32
	steps := 0
	for i := 0; i < 20 && c.State.CurrentCapKHz < c.Table.MaxCapKHz; i++ {
		changed, cap_, _ = c.tick(now, Reading{TempC: 40})
		if changed {
			require.Greater(t, cap_, last, "each step-up tick must raise the cap")
			delta := cap_ - c.State.CurrentCapKHz
			require.LessOrEqual(t, delta, thermal.FreqStep, "never more than one FREQ_STEP per tick")
			c.State.CurrentCapKHz = cap_
			last = cap_
			steps++
		}
		c.State.setLastTemp(40)
		now = now.Add(PollInterval)
	}

	assert.Equal(t, c.Table.MaxCapKHz, c.State.CurrentCapKHz, "ramp should plateau at MaxCapKHz")
	assert.Greater(t, steps, 1, "ramp should take more than one tick")

	changed, cap_, _ = c.tick(now, Reading{TempC: 40})
	assert.False(t, changed, "no further step-up once already at MaxCapKHz")
	_ = cap_
}

func TestTick_StepUp_HysteresisBlocksWhenTooCloseToThreshold(t *testing.T) {
	c := newTestController(thermal.Performance)
	now := time.Now()

	c.State.CurrentCapKHz = 2_800_000
	c.State.LastStepDownAt = now.Add(-Cooldown - time.Second)
	c.State.setLastTemp(84)

	// Next cap up from 2.8GHz is 3.2GHz, gated at threshold 85C. With
	// HysteresisC=5, the reading must be <= 80C to pass; 84C must not.
	changed, cap_, _ := c.tick(now, Reading{TempC: 84})
	assert.False(t, changed)
	assert.Equal(t, uint32(2_800_000), cap_)
}

func TestEffectiveTemp_NoBiasOnFallingOrFlatTemperature(t *testing.T) {
	c := newTestController(thermal.Balanced)
	c.State.setLastTemp(80)

	assert.Equal(t, int32(70), c.effectiveTemp(70), "falling temp is never biased")
	assert.Equal(t, int32(80), c.effectiveTemp(80), "flat temp is never biased")
	assert.Equal(t, int32(95), c.effectiveTemp(80+10), "rising temp is biased by half the delta")
}

type fakeSensor struct {
	err error
}

func (f *fakeSensor) Read(ctx context.Context) (Reading, error) {
	if f.err != nil {
		return Reading{}, f.err
	}
	return Reading{TempC: 50}, nil
}

func TestRunOneTick_TwoConsecutiveSoftFailuresEscalateToHard(t *testing.T) {
	c := newTestController(thermal.Balanced)
	c.Reader = &fakeSensor{err: errors.New("i2c timeout")}
	c.Actuator = noopActuator{}

	err := c.runOneTick(context.Background(), time.Now())
	assert.NoError(t, err, "first failure is soft")

	err = c.runOneTick(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrHardSensorFailure)
}

func TestRunOneTick_SuccessfulReadResetsFailureCounter(t *testing.T) {
	c := newTestController(thermal.Balanced)
	c.Actuator = noopActuator{}

	c.Reader = &fakeSensor{err: errors.New("transient")}
	require.NoError(t, c.runOneTick(context.Background(), time.Now()))

	c.Reader = &fakeSensor{}
	require.NoError(t, c.runOneTick(context.Background(), time.Now()))

	c.Reader = &fakeSensor{err: errors.New("transient again")}
	require.NoError(t, c.runOneTick(context.Background(), time.Now()), "counter should have reset on the good read")
}

type noopActuator struct{}

func (noopActuator) Apply(ctx context.Context, capKHz, minKHz uint32, epp string) error {
	return nil
}
