package thermal

// Global frequency bounds and step sizes, all in kHz. These are shared by
// the table invariant enforcer, the controller's ramp logic, and the tuner's
// nudges.
const (
	MinCap    uint32 = 400_000
	MaxCap    uint32 = 4_500_000
	MinSpread uint32 = 200_000
	FreqStep  uint32 = 200_000
	TuneStep  uint32 = 100_000
)

func clampCap(v uint32) uint32 {
	if v < MinCap {
		return MinCap
	}
	if v > MaxCap {
		return MaxCap
	}
	return v
}
