package thermal

// ghz converts a frequency expressed in GHz to the kHz units used
// everywhere else in this package.
func ghz(v float64) uint32 {
	return uint32(v * 1_000_000)
}

// DefaultTable returns the built-in thermal table for a profile, sorted
// ascending by threshold and already invariant-clean.
func DefaultTable(p Profile) Table {
	var t Table
	switch p {
	case PowerSaver:
		t = Table{
			MaxCapKHz: ghz(3.0),
			Levels: []Level{
				{ThresholdC: 48, CapKHz: ghz(2.4)},
				{ThresholdC: 55, CapKHz: ghz(1.8)},
				{ThresholdC: 62, CapKHz: ghz(1.4)},
				{ThresholdC: 70, CapKHz: ghz(1.0)},
			},
		}
	case Performance:
		t = Table{
			MaxCapKHz: ghz(4.5),
			Levels: []Level{
				{ThresholdC: 75, CapKHz: ghz(3.6)},
				{ThresholdC: 85, CapKHz: ghz(3.2)},
				{ThresholdC: 92, CapKHz: ghz(2.8)},
				{ThresholdC: 95, CapKHz: ghz(2.2)},
			},
		}
	default: // Balanced
		t = Table{
			MaxCapKHz: ghz(4.0),
			Levels: []Level{
				{ThresholdC: 66, CapKHz: ghz(3.2)},
				{ThresholdC: 74, CapKHz: ghz(2.6)},
				{ThresholdC: 82, CapKHz: ghz(2.0)},
				{ThresholdC: 90, CapKHz: ghz(1.4)},
			},
		}
	}
	t.EnforceInvariants(p.Ceiling())
	return t
}

// DefaultTables returns the built-in tables for every known profile.
func DefaultTables() map[Profile]Table {
	out := make(map[Profile]Table, len(Profiles))
	for _, p := range Profiles {
		out[p] = DefaultTable(p)
	}
	return out
}
