package controller

import "time"

// Phase names the controller's position in the {Steady, JustSteppedDown,
// JustSteppedUp} state machine from spec §4.4. The controller updates it on
// every tick but nothing reads it to decide or log anything; the
// cooldown/pause gates are evaluated directly off the timestamps in State.
type Phase int

const (
	Steady Phase = iota
	JustSteppedDown
	JustSteppedUp
)

func (p Phase) String() string {
	switch p {
	case JustSteppedDown:
		return "just-stepped-down"
	case JustSteppedUp:
		return "just-stepped-up"
	default:
		return "steady"
	}
}

// State is the per-controller-instance mutable state described in spec §3.
// A fresh State is created on profile activation and discarded on
// deactivation; it is owned exclusively by one Controller.
type State struct {
	CurrentCapKHz uint32

	// tempSet distinguishes "no reading yet" (at boot) from a genuine 0°C
	// reading, since the predictive-bias delta must not fire on the first
	// tick.
	lastTempC    int32
	tempSet      bool

	LastStepDownAt       time.Time
	LastStepUpAt         time.Time
	PendingUpPauseUntil  time.Time

	Phase Phase
}

// NewState creates a fresh ControllerState with the given starting cap
// (normally the table's MaxCapKHz, applied by the supervisor before the
// controller's first tick).
func NewState(startCapKHz uint32) *State {
	return &State{CurrentCapKHz: startCapKHz}
}

// LastTemp returns the previous tick's temperature and whether one has
// been recorded yet.
func (s *State) LastTemp() (int32, bool) {
	return s.lastTempC, s.tempSet
}

func (s *State) setLastTemp(tempC int32) {
	s.lastTempC = tempC
	s.tempSet = true
}
