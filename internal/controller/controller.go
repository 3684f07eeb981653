// Package controller runs the 2-second thermal feedback loop: predictive
// step-down, hysteretic gradual step-up, cooldown, and the post-step pause
// that together avoid the boost-crash cycle described in the spec.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wattwatch/thermal-governor/internal/govlog"
	"github.com/wattwatch/thermal-governor/internal/thermal"
	"github.com/wattwatch/thermal-governor/internal/tuner"
	"github.com/wattwatch/thermal-governor/internal/window"
)

// Timing constants from spec §3/§4.4.
const (
	PollInterval    = 2 * time.Second
	Cooldown        = 6 * time.Second
	TuneInterval    = 120 * time.Second
	PersistInterval = 300 * time.Second

	// SensorDeadline bounds a single sensor read so a hung file handle
	// degrades to a soft error instead of stalling the tick indefinitely
	// (spec §5 suspension-point requirement).
	SensorDeadline = 500 * time.Millisecond
)

// ErrHardSensorFailure is returned from Run when two consecutive sensor
// reads have failed — the controller terminates and the supervisor is
// expected to relaunch it.
var ErrHardSensorFailure = errors.New("controller: two consecutive sensor read failures")

// Reading is a single tick's sensor observation.
type Reading struct {
	TempC  int32
	FanRPM uint32
}

// SensorReader is the narrow interface the controller needs from C1.
type SensorReader interface {
	Read(ctx context.Context) (Reading, error)
}

// Actuator is the narrow interface the controller needs from C2.
type Actuator interface {
	Apply(ctx context.Context, capKHz, minKHz uint32, epp string) error
}

// Persister is the narrow interface the controller needs from C7. Save is
// given the full map of profile tables; in practice the supervisor wires
// this to also read the other, currently-inactive profiles' tables, but
// the controller only ever contributes its own.
type Persister interface {
	Save(tables map[thermal.Profile]thermal.Table) error
}

// Metrics is the optional ambient observability sink (internal/metrics).
// A nil Metrics is valid and simply means no metrics are recorded.
type Metrics interface {
	ObserveTick(profile thermal.Profile, temp int32, fanRPM uint32, capKHz uint32)
	ObserveTune(profile thermal.Profile, summary string)
}

// Controller runs the feedback loop for one profile until its context is
// canceled or a hard sensor failure occurs.
type Controller struct {
	Profile   thermal.Profile
	Table     *thermal.Table
	State     *State
	Window    *window.Ring
	Reader    SensorReader
	Actuator  Actuator
	Persister Persister
	Metrics   Metrics
	Log       *govlog.Logger

	// TableForSave is called at persist time to get a full snapshot of
	// every profile's table (the supervisor keeps the inactive profiles'
	// tables around for this purpose); if nil, only this controller's own
	// table is persisted.
	TableForSave func() map[thermal.Profile]thermal.Table

	consecutiveSoftFailures int
	lastTuneAt              time.Time
	lastPersistAt           time.Time
}

// Run executes the tick loop until ctx is canceled or a hard sensor
// failure is detected. It checks for cancellation once per tick and at
// the top of the loop, per spec §5.
func (c *Controller) Run(ctx context.Context) error {
	now := time.Now()
	c.lastTuneAt = now
	c.lastPersistAt = now

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := c.runOneTick(ctx, now); err != nil {
				return err
			}
		}
	}
}

func (c *Controller) runOneTick(ctx context.Context, now time.Time) error {
	readCtx, cancel := context.WithTimeout(ctx, SensorDeadline)
	reading, err := c.Reader.Read(readCtx)
	cancel()

	if err != nil {
		c.consecutiveSoftFailures++
		c.Log.Printf("sensor read failed (%d/2): %v", c.consecutiveSoftFailures, err)
		if c.consecutiveSoftFailures >= 2 {
			return ErrHardSensorFailure
		}
		return nil
	}
	c.consecutiveSoftFailures = 0

	changed, newCap, arrow := c.tick(now, reading)
	if changed {
		if err := c.Actuator.Apply(ctx, newCap, thermal.MinCap, c.Profile.EPP()); err != nil {
			c.Log.Printf("actuator apply failed: %v", err)
		}
		c.Log.Printf("%d°C fan:%drpm %s %s→%s GHz", reading.TempC, reading.FanRPM, arrow, ghzStr(c.State.CurrentCapKHz), ghzStr(newCap))
		c.State.CurrentCapKHz = newCap
	}

	c.Window.Push(window.Sample{
		TempC:         reading.TempC,
		FanRPM:        reading.FanRPM,
		CapKHzApplied: c.State.CurrentCapKHz,
		Timestamp:     now,
	})
	if c.Metrics != nil {
		c.Metrics.ObserveTick(c.Profile, reading.TempC, reading.FanRPM, c.State.CurrentCapKHz)
	}

	c.State.setLastTemp(reading.TempC)

	if now.Sub(c.lastTuneAt) >= TuneInterval {
		c.runTune(now)
		c.lastTuneAt = now
	}
	if now.Sub(c.lastPersistAt) >= PersistInterval {
		c.runPersist()
		c.lastPersistAt = now
	}

	return nil
}

// tick performs the decision steps 2-6 of spec §4.4 against the current
// reading and returns whether the cap changed, the new cap, and the log
// arrow. It updates the step timestamps, pause deadline and Phase in State,
// but does not itself apply the cap, update CurrentCapKHz, record the
// sample, or update LastTempC — the caller (runOneTick, or a test) does that.
func (c *Controller) tick(now time.Time, reading Reading) (changed bool, newCap uint32, arrow string) {
	effTemp := c.effectiveTemp(reading.TempC)
	target := c.Table.Lookup(effTemp)
	current := c.State.CurrentCapKHz

	switch {
	case target < current:
		c.State.LastStepDownAt = now
		c.State.Phase = JustSteppedDown
		return true, target, "↓"

	case target > current:
		if now.Sub(c.State.LastStepDownAt) < Cooldown {
			return false, current, ""
		}
		if now.Before(c.State.PendingUpPauseUntil) {
			return false, current, ""
		}
		next := c.Table.NextStepUpTarget(current)
		if next <= current {
			return false, current, ""
		}
		threshold, ok := c.Table.ThresholdForCap(next)
		if !ok || reading.TempC+c.Profile.HysteresisC() > threshold {
			return false, current, ""
		}
		stepped := current + thermal.FreqStep
		if stepped > next {
			stepped = next
		}
		c.State.LastStepUpAt = now
		c.State.PendingUpPauseUntil = now.Add(PollInterval)
		c.State.Phase = JustSteppedUp
		return true, stepped, "↑"

	default:
		if c.State.Phase == JustSteppedDown && now.Sub(c.State.LastStepDownAt) >= Cooldown {
			c.State.Phase = Steady
		}
		if c.State.Phase == JustSteppedUp && !now.Before(c.State.PendingUpPauseUntil) {
			c.State.Phase = Steady
		}
		return false, current, ""
	}
}

// effectiveTemp applies the predictive bias from spec §4.4 step 2: a fast
// rise pulls the controller's view of temperature ahead by half the
// delta. Falling or flat temperatures are never biased — the asymmetry is
// deliberate (spec §9 Open Question).
func (c *Controller) effectiveTemp(tempC int32) int32 {
	last, ok := c.State.LastTemp()
	if !ok {
		return tempC
	}
	delta := tempC - last
	if delta <= 0 {
		return tempC
	}
	return tempC + delta/2
}

func (c *Controller) runTune(now time.Time) {
	samples := c.Window.Snapshot(int(TuneInterval / PollInterval))
	metrics, summary := tuner.Tune(c.Profile, c.Table, samples)
	c.Log.Printf("tuner: samples=%d avg=%d°C max=%d°C fan=%.0f%% floor=%.0f%% -> %s",
		metrics.Samples, metrics.AvgTempC, metrics.MaxTempC, metrics.FanActivePct, metrics.FloorTimePct, summary)
	if c.Metrics != nil {
		c.Metrics.ObserveTune(c.Profile, summary)
	}
}

func (c *Controller) runPersist() {
	if c.Persister == nil {
		return
	}
	tables := map[thermal.Profile]thermal.Table{c.Profile: *c.Table}
	if c.TableForSave != nil {
		tables = c.TableForSave()
		tables[c.Profile] = *c.Table
	}
	if err := c.Persister.Save(tables); err != nil {
		c.Log.Printf("persist failed, will retry next interval: %v", err)
	}
}

func ghzStr(capKHz uint32) string {
	return fmt.Sprintf("%.1f", float64(capKHz)/1_000_000)
}
