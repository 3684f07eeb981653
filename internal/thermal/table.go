package thermal

import "sort"

// Level is one row of a thermal table: at or above ThresholdC, CapKHz is the
// frequency ceiling the controller should impose.
type Level struct {
	ThresholdC int32  `json:"threshold_c"`
	CapKHz     uint32 `json:"cap_khz"`
}

// Table is an ordered set of Levels plus the cap used below the coolest
// threshold. Levels are kept sorted ascending by ThresholdC; after
// EnforceInvariants, caps strictly decrease as thresholds increase.
type Table struct {
	MaxCapKHz uint32  `json:"max_cap_khz"`
	Levels    []Level `json:"levels"`
}

// Clone returns a deep copy so callers can mutate without aliasing the
// active controller's table.
func (t Table) Clone() Table {
	out := Table{MaxCapKHz: t.MaxCapKHz, Levels: make([]Level, len(t.Levels))}
	copy(out.Levels, t.Levels)
	return out
}

// Lookup returns the cap of the hottest level whose threshold is at or below
// effTempC, or MaxCapKHz if the temperature is below every threshold.
// Lookup is monotone: a higher effTempC never yields a higher cap.
func (t Table) Lookup(effTempC int32) uint32 {
	cap_ := t.MaxCapKHz
	for _, lvl := range t.Levels {
		if effTempC >= lvl.ThresholdC {
			cap_ = lvl.CapKHz
		}
	}
	return cap_
}

// NextStepUpTarget returns the next strictly higher cap found among the
// table's levels and MaxCapKHz, or currentCap unchanged if currentCap is
// already at or above the table's highest cap.
func (t Table) NextStepUpTarget(currentCap uint32) uint32 {
	best := currentCap
	found := false
	consider := func(c uint32) {
		if c > currentCap && (!found || c < best) {
			best = c
			found = true
		}
	}
	for _, lvl := range t.Levels {
		consider(lvl.CapKHz)
	}
	consider(t.MaxCapKHz)
	if !found {
		return currentCap
	}
	return best
}

// ThresholdForCap returns the threshold of the level whose CapKHz equals
// target, or the coolest configured threshold if target is MaxCapKHz.
// ok is false if target matches neither a level cap nor MaxCapKHz.
func (t Table) ThresholdForCap(target uint32) (threshold int32, ok bool) {
	if target == t.MaxCapKHz {
		if len(t.Levels) == 0 {
			return 0, false
		}
		return t.Levels[0].ThresholdC, true
	}
	for _, lvl := range t.Levels {
		if lvl.CapKHz == target {
			return lvl.ThresholdC, true
		}
	}
	return 0, false
}

// CoolestCap returns the lowest-threshold level's cap — the first cap the
// controller steps down to once the temperature reaches the coolest
// threshold. Returns MaxCapKHz if the table has no levels.
func (t Table) CoolestCap() uint32 {
	if len(t.Levels) == 0 {
		return t.MaxCapKHz
	}
	return t.Levels[0].CapKHz
}

// FloorCap returns the lowest (hottest) level's cap — the frequency imposed
// at the worst thermal extreme this table knows about.
func (t Table) FloorCap() uint32 {
	if len(t.Levels) == 0 {
		return t.MaxCapKHz
	}
	return t.Levels[len(t.Levels)-1].CapKHz
}

// EnforceInvariants restores the five table invariants in place:
//  1. thresholds strictly ascend,
//  2. caps strictly descend with index,
//  3. MaxCapKHz >= coolest level cap, both <= ceiling,
//  4. adjacent caps differ by at least MinSpread,
//  5. all caps within [MinCap, MaxCap].
//
// It is idempotent: calling it twice in a row produces no further change.
func (t *Table) EnforceInvariants(ceiling uint32) {
	sort.Slice(t.Levels, func(i, j int) bool {
		return t.Levels[i].ThresholdC < t.Levels[j].ThresholdC
	})

	for i := range t.Levels {
		t.Levels[i].CapKHz = clampCap(t.Levels[i].CapKHz)
		if t.Levels[i].CapKHz > ceiling {
			t.Levels[i].CapKHz = ceiling
		}
	}

	// Caps must strictly decrease as we move to hotter (higher-index)
	// levels. Walk from coolest to hottest and pull any cap that isn't at
	// least MinSpread below its cooler neighbor down to fit.
	for i := 1; i < len(t.Levels); i++ {
		cooler := t.Levels[i-1].CapKHz
		if t.Levels[i].CapKHz > cooler-minUint(MinSpread, cooler) {
			next := uint32(0)
			if cooler > MinSpread {
				next = cooler - MinSpread
			}
			t.Levels[i].CapKHz = clampCap(next)
		}
	}

	t.MaxCapKHz = clampCap(t.MaxCapKHz)
	if t.MaxCapKHz > ceiling {
		t.MaxCapKHz = ceiling
	}

	if len(t.Levels) == 0 {
		return
	}

	coolest := t.Levels[0].CapKHz
	required := uint64(coolest) + uint64(MinSpread)
	switch {
	case uint64(t.MaxCapKHz) >= required:
		// already satisfied
	case required <= uint64(ceiling):
		t.MaxCapKHz = uint32(required)
	default:
		// Raising MaxCapKHz to the ceiling still isn't enough room; lower
		// the coolest level's cap instead so the spread invariant holds.
		t.MaxCapKHz = ceiling
		if ceiling > MinSpread {
			t.Levels[0].CapKHz = clampCap(ceiling - MinSpread)
		} else {
			t.Levels[0].CapKHz = clampCap(0)
		}
		// Re-cascade the spread constraint downward from the adjusted
		// coolest level, since lowering it may now violate level 1's gap.
		for i := 1; i < len(t.Levels); i++ {
			cooler := t.Levels[i-1].CapKHz
			if t.Levels[i].CapKHz > cooler-minUint(MinSpread, cooler) {
				next := uint32(0)
				if cooler > MinSpread {
					next = cooler - MinSpread
				}
				t.Levels[i].CapKHz = clampCap(next)
			}
		}
	}
}

func minUint(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
