package sysfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/wattwatch/thermal-governor/internal/thermal"
)

// HWPDynamicBoostPath is the single, machine-wide (not per-CPU) knob that
// lets Intel's HWP firmware opportunistically exceed scaling_max_freq on
// its own — exactly the boost behavior this daemon replaces with its own
// closed loop, so it's disabled once at startup (spec §4.2). Absent on
// non-Intel hosts and on Intel hosts without intel_pstate active, in
// which case the write is simply skipped.
const HWPDynamicBoostPath = "/sys/devices/system/cpu/intel_pstate/hwp_dynamic_boost"

// Actuator writes scaling_max_freq/scaling_min_freq/energy_performance_preference
// to every discovered per-CPU cpufreq directory (spec §4.2). Writes are
// coalesced: an Apply whose cap, min and EPP equal the last successfully
// applied values writes nothing to any CPU; the files themselves are not
// read back.
type Actuator struct {
	Dirs []string

	// HWPBoostPath overrides HWPDynamicBoostPath; tests set it to a
	// tempdir file so Prime/ResetHost never touch the real host path.
	HWPBoostPath string

	lastCapKHz uint32
	lastMinKHz uint32
	lastEPP    string
	primed     bool
}

func (a *Actuator) hwpBoostPath() string {
	if a.HWPBoostPath != "" {
		return a.HWPBoostPath
	}
	return HWPDynamicBoostPath
}

// Prime applies an initial configuration to every CPU. It returns an error,
// carrying the last per-CPU failure, only when every CPU rejected the
// write; a partial failure is not reported, and the CPUs that failed are
// written again only by a later Apply that changes a value. The returned
// error does not stop the daemon: the supervisor logs it and starts the
// controller anyway.
func (a *Actuator) Prime(ctx context.Context, capKHz, minKHz uint32, epp string) error {
	failures := 0
	var lastErr error
	for _, dir := range a.Dirs {
		if err := applyOne(ctx, dir, capKHz, minKHz, epp); err != nil {
			failures++
			lastErr = err
		}
	}
	if failures == len(a.Dirs) {
		return fmt.Errorf("sysfs: initial configuration failed on all %d CPUs: %w", len(a.Dirs), lastErr)
	}
	a.lastCapKHz, a.lastMinKHz, a.lastEPP, a.primed = capKHz, minKHz, epp, true

	// Best-effort: absence or a write failure here never affects Prime's
	// own success, since most hosts don't have this file at all.
	_ = writeCtx(ctx, a.hwpBoostPath(), "0")

	return nil
}

// ResetHost restores the stock, unbounded cpufreq configuration on every
// CPU and re-disables HWP dynamic boost, best-effort, so the daemon never
// leaves a frequency cap latched after it exits (spec §4.9/C9). Every
// write is attempted regardless of earlier failures; the first per-CPU
// error encountered, if any, is returned once all writes have been
// tried. The hwp_dynamic_boost write stays best-effort even in the
// returned error, since most hosts don't carry that file at all.
func (a *Actuator) ResetHost(ctx context.Context) error {
	var firstErr error
	for _, dir := range a.Dirs {
		if err := applyOne(ctx, dir, thermal.MaxCap, thermal.MinCap, thermal.Balanced.EPP()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	_ = writeCtx(ctx, a.hwpBoostPath(), "0")
	return firstErr
}

// Apply implements controller.Actuator. It is a no-op if the requested
// values match what was last successfully applied.
func (a *Actuator) Apply(ctx context.Context, capKHz, minKHz uint32, epp string) error {
	if a.primed && capKHz == a.lastCapKHz && minKHz == a.lastMinKHz && epp == a.lastEPP {
		return nil
	}

	var lastErr error
	applied := 0
	for _, dir := range a.Dirs {
		if err := applyOne(ctx, dir, capKHz, minKHz, epp); err != nil {
			lastErr = err
			continue
		}
		applied++
	}
	if applied == 0 {
		return fmt.Errorf("sysfs: apply failed on all %d CPUs: %w", len(a.Dirs), lastErr)
	}
	a.lastCapKHz, a.lastMinKHz, a.lastEPP, a.primed = capKHz, minKHz, epp, true
	if applied < len(a.Dirs) {
		return fmt.Errorf("sysfs: apply failed on %d/%d CPUs: %w", len(a.Dirs)-applied, len(a.Dirs), lastErr)
	}
	return nil
}

func applyOne(ctx context.Context, dir string, capKHz, minKHz uint32, epp string) error {
	if err := writeCtx(ctx, filepath.Join(dir, "scaling_max_freq"), strconv.FormatUint(uint64(capKHz), 10)); err != nil {
		return err
	}
	if err := writeCtx(ctx, filepath.Join(dir, "scaling_min_freq"), strconv.FormatUint(uint64(minKHz), 10)); err != nil {
		return err
	}
	// energy_performance_preference is absent on CPUs without Intel HWP or
	// the amd-pstate EPP driver; its absence is not a failure.
	eppPath := filepath.Join(dir, "energy_performance_preference")
	if _, err := os.Stat(eppPath); err == nil {
		if err := writeCtx(ctx, eppPath, epp); err != nil {
			return err
		}
	}
	return nil
}

func writeCtx(ctx context.Context, path, value string) error {
	ch := make(chan error, 1)
	go func() {
		ch <- os.WriteFile(path, []byte(value), 0o644)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ch:
		return err
	}
}
