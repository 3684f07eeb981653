// Package debugcli provides a unix-socket introspection server and a
// readline-based client for it: the client keeps the local
// line-editing/history UX,
// while a plain text protocol carries commands to the running daemon.
package debugcli

import (
	"sync"
	"time"

	"github.com/wattwatch/thermal-governor/internal/thermal"
)

// Snapshot is the most recent observation recorded for one profile.
type Snapshot struct {
	Profile   thermal.Profile
	TempC     int32
	FanRPM    uint32
	CapKHz    uint32
	UpdatedAt time.Time
	LastTune  string
}

// Inner is the optional downstream sink a Recorder forwards observations
// to (normally *metrics.Metrics); nil is valid and simply means no
// Prometheus series are updated.
type Inner interface {
	ObserveTick(profile thermal.Profile, temp int32, fanRPM uint32, capKHz uint32)
	ObserveTune(profile thermal.Profile, summary string)
}

// Recorder implements controller.Metrics, keeping the latest Snapshot per
// profile for the debug server while optionally forwarding every
// observation to an Inner sink.
type Recorder struct {
	Inner Inner

	mu        sync.Mutex
	snapshots map[thermal.Profile]Snapshot
}

// NewRecorder creates a Recorder, optionally wrapping an Inner sink.
func NewRecorder(inner Inner) *Recorder {
	return &Recorder{Inner: inner, snapshots: make(map[thermal.Profile]Snapshot)}
}

// ObserveTick implements controller.Metrics.
func (r *Recorder) ObserveTick(profile thermal.Profile, temp int32, fanRPM uint32, capKHz uint32) {
	r.mu.Lock()
	s := r.snapshots[profile]
	s.Profile, s.TempC, s.FanRPM, s.CapKHz, s.UpdatedAt = profile, temp, fanRPM, capKHz, time.Now()
	r.snapshots[profile] = s
	r.mu.Unlock()

	if r.Inner != nil {
		r.Inner.ObserveTick(profile, temp, fanRPM, capKHz)
	}
}

// ObserveTune implements controller.Metrics.
func (r *Recorder) ObserveTune(profile thermal.Profile, summary string) {
	r.mu.Lock()
	s := r.snapshots[profile]
	s.LastTune = summary
	r.snapshots[profile] = s
	r.mu.Unlock()

	if r.Inner != nil {
		r.Inner.ObserveTune(profile, summary)
	}
}

// SetActiveProfile forwards to Inner if it supports it, letting a Recorder
// wrapping *metrics.Metrics satisfy the supervisor's optional active-profile
// gauge update without Recorder depending on the metrics package.
func (r *Recorder) SetActiveProfile(profile thermal.Profile) {
	type activeProfileSetter interface {
		SetActiveProfile(thermal.Profile)
	}
	if setter, ok := r.Inner.(activeProfileSetter); ok {
		setter.SetActiveProfile(profile)
	}
}

// Snapshots returns a copy of every profile's latest recorded observation.
func (r *Recorder) Snapshots() map[thermal.Profile]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[thermal.Profile]Snapshot, len(r.snapshots))
	for p, s := range r.snapshots {
		out[p] = s
	}
	return out
}
