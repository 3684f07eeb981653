// Package tuner rewrites a profile's thermal table from a rolling window of
// recent observations: a heuristic online learner constrained to only ever
// produce invariant-valid tables.
package tuner

import (
	"fmt"

	"github.com/wattwatch/thermal-governor/internal/thermal"
	"github.com/wattwatch/thermal-governor/internal/window"
)

// MinSamples is the smallest window the tuner will act on. Spec §4.6 calls
// for N >= 30; below that the sample is too noisy to trust.
const MinSamples = 30

// FanActiveRPM is the noise-gate RPM above which a fan is considered
// "active" for the purposes of fan_active_pct. Spec §9 calls this out as a
// hardware-specific constant that may need adjusting per fan controller,
// while the tuner's own thresholds stay defined in terms of the resulting
// percentage.
const FanActiveRPM = 100

// Metrics are the derived statistics the tuner's rules read from a sample
// window.
type Metrics struct {
	Samples       int
	MaxTempC      int32
	AvgTempC      int32
	FanActivePct  float64
	FloorTimePct  float64
	Underload     bool
}

// DeriveMetrics computes Metrics from a sample snapshot and the table as it
// stood at the *start* of the window (so floor_time_pct reflects the caps
// that were actually applied during observation, not a table already
// rewritten by this run).
func DeriveMetrics(profile thermal.Profile, tbl thermal.Table, samples []window.Sample) Metrics {
	m := Metrics{Samples: len(samples)}
	if len(samples) == 0 {
		return m
	}

	var tempSum int64
	var fanActive, atFloor int
	floor := tbl.FloorCap()

	for _, s := range samples {
		tempSum += int64(s.TempC)
		if s.TempC > m.MaxTempC {
			m.MaxTempC = s.TempC
		}
		if s.FanRPM > FanActiveRPM {
			fanActive++
		}
		if s.CapKHzApplied == floor {
			atFloor++
		}
	}

	m.AvgTempC = int32(tempSum / int64(len(samples)))
	m.FanActivePct = float64(fanActive) / float64(len(samples)) * 100
	m.FloorTimePct = float64(atFloor) / float64(len(samples)) * 100
	m.Underload = profile == thermal.PowerSaver && m.AvgTempC < 48

	return m
}

// Tune rewrites tbl in place according to the per-profile heuristic rules,
// then re-enforces the table's invariants — the tuner never bypasses them.
// A no-change run is normal. Returns a short description of what happened,
// for logging.
func Tune(profile thermal.Profile, tbl *thermal.Table, samples []window.Sample) (Metrics, string) {
	metrics := DeriveMetrics(profile, *tbl, samples)
	defer tbl.EnforceInvariants(profile.Ceiling())

	if metrics.Samples < MinSamples {
		return metrics, fmt.Sprintf("skipped: only %d samples (need %d)", metrics.Samples, MinSamples)
	}

	switch profile {
	case thermal.PowerSaver:
		return metrics, tunePowerSaver(tbl, metrics)
	case thermal.Balanced:
		return metrics, tuneBalanced(tbl, metrics)
	default:
		return metrics, tunePerformance(tbl, metrics)
	}
}

func tunePowerSaver(tbl *thermal.Table, m Metrics) string {
	switch {
	case m.FanActivePct < 5 && !m.Underload && m.MaxTempC < 58:
		shiftAllCaps(tbl, 1)
		return "fans quiet and cool under real load: +1 step"
	case m.FanActivePct > 25 || m.MaxTempC >= 65:
		shiftAllCaps(tbl, -1)
		return "fans loud or too hot: -1 step"
	case m.FloorTimePct > 50:
		shiftAllCaps(tbl, -1)
		return "spending most of the window at the floor: -1 step"
	default:
		return "no change"
	}
}

func tuneBalanced(tbl *thermal.Table, m Metrics) string {
	switch {
	case m.MaxTempC < 72 && m.FanActivePct < 40:
		shiftAllCaps(tbl, 1)
		return "headroom available: +1 step"
	case m.MaxTempC > 82:
		shiftAllCaps(tbl, -1)
		return "too hot: -1 step"
	case m.FloorTimePct > 30:
		shiftAllCaps(tbl, -1)
		return "spending too long at the floor: -1 step"
	default:
		return "no change"
	}
}

func tunePerformance(tbl *thermal.Table, m Metrics) string {
	switch {
	case m.MaxTempC < 90:
		shiftAllCaps(tbl, 1)
		return "headroom available: +1 step"
	case m.MaxTempC >= 98 || m.FloorTimePct > 20:
		shiftAllCaps(tbl, -2)
		return "hard-throttle wall detected: -2 steps"
	case m.MaxTempC >= 94:
		shiftAllCaps(tbl, -1)
		return "running warm: -1 step"
	default:
		return "no change"
	}
}

// shiftAllCaps adds steps*TuneStep (signed) to MaxCapKHz and every level's
// cap. Underflow below zero saturates at zero; EnforceInvariants clamps the
// result into range afterward.
func shiftAllCaps(tbl *thermal.Table, steps int32) {
	tbl.MaxCapKHz = shiftCap(tbl.MaxCapKHz, steps)
	for i := range tbl.Levels {
		tbl.Levels[i].CapKHz = shiftCap(tbl.Levels[i].CapKHz, steps)
	}
}

func shiftCap(cap_ uint32, steps int32) uint32 {
	delta := int64(steps) * int64(thermal.TuneStep)
	result := int64(cap_) + delta
	if result < 0 {
		return 0
	}
	return uint32(result)
}
