// Package supervisor owns the single active profile controller and reacts
// to profile-change events from the session bus (spec §4.8/C8): it cancels
// and joins the outgoing controller, builds a fresh one for the new
// profile, and keeps every profile's tuned table around so a deactivated
// profile resumes from where it left off next time it's selected.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wattwatch/thermal-governor/internal/busevents"
	"github.com/wattwatch/thermal-governor/internal/controller"
	"github.com/wattwatch/thermal-governor/internal/govlog"
	"github.com/wattwatch/thermal-governor/internal/persistence"
	"github.com/wattwatch/thermal-governor/internal/thermal"
	"github.com/wattwatch/thermal-governor/internal/window"
)

// BusRetryInterval is the fixed backoff between attempts to (re)establish
// the startup query when the session bus is unreachable.
const BusRetryInterval = 5 * time.Second

// Supervisor owns at most one running Controller at a time.
type Supervisor struct {
	Source    busevents.Source
	Reader    controller.SensorReader
	Actuator  controller.Actuator
	Store     *persistence.Store
	Metrics   controller.Metrics
	Log       *govlog.Logger

	mu          sync.Mutex
	tables      map[thermal.Profile]thermal.Table
	active      thermal.Profile
	activeTable *thermal.Table
	hasActive   bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// Run blocks until ctx is canceled. It loads persisted tables, queries the
// bus for the initial profile (retrying every BusRetryInterval if the bus
// is unreachable), starts the first controller, then reacts to subsequent
// profile-change events for the lifetime of ctx.
func (s *Supervisor) Run(ctx context.Context) error {
	s.tables = s.Store.Load()

	profile, err := s.queryInitialWithRetry(ctx)
	if err != nil {
		return err
	}
	s.Log.Printf("initial profile: %s", profile)
	s.activate(ctx, profile)

	events, err := s.Source.Events(ctx)
	if err != nil {
		s.stopActive()
		return fmt.Errorf("supervisor: subscribe to bus events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.stopActive()
			return nil
		case profile, ok := <-events:
			if !ok {
				s.stopActive()
				return nil
			}
			s.mu.Lock()
			duplicate := s.hasActive && s.active == profile
			s.mu.Unlock()
			if duplicate {
				continue
			}
			s.Log.Printf("profile change: %s", profile)
			s.activate(ctx, profile)
		}
	}
}

func (s *Supervisor) queryInitialWithRetry(ctx context.Context) (thermal.Profile, error) {
	for {
		profile, err := s.Source.QueryInitial(ctx)
		if err == nil {
			return profile, nil
		}
		s.Log.Printf("bus unreachable (%v), retrying in %s", err, BusRetryInterval)
		select {
		case <-time.After(BusRetryInterval):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// activate stops the current controller (if any), joining it fully before
// building the next one, so the two are never running concurrently.
func (s *Supervisor) activate(ctx context.Context, profile thermal.Profile) {
	s.stopActive()

	s.mu.Lock()
	tbl := s.tables[profile].Clone()
	s.mu.Unlock()

	instanceID := uuid.NewString()
	log := s.Log.WithScope(profile.String())
	log.Printf("starting controller %s", instanceID)

	if err := primeIfSupported(ctx, s.Actuator, tbl.MaxCapKHz, thermal.MinCap, profile.EPP()); err != nil {
		log.Printf("initial actuator configuration failed: %v", err)
	}

	state := controller.NewState(tbl.MaxCapKHz)
	subCtx, cancel := context.WithCancel(ctx)
	c := &controller.Controller{
		Profile:   profile,
		Table:     &tbl,
		State:     state,
		Window:    window.NewRing(window.MinCapacity),
		Reader:    s.Reader,
		Actuator:  s.Actuator,
		Persister: s.Store,
		Metrics:   s.Metrics,
		Log:       log,
	}
	c.TableForSave = func() map[thermal.Profile]thermal.Table {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := make(map[thermal.Profile]thermal.Table, len(s.tables))
		for p, t := range s.tables {
			out[p] = t
		}
		return out
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			// Each run is a fresh copy so its soft-failure count starts at
			// zero; Table, State and Window stay shared across restarts.
			run := *c
			err := run.Run(subCtx)
			if err == nil {
				return
			}
			log.Printf("controller stopped: %v, restarting in %s", err, controller.PollInterval)
			select {
			case <-time.After(controller.PollInterval):
			case <-subCtx.Done():
				return
			}
		}
	}()

	s.mu.Lock()
	s.active, s.activeTable, s.hasActive = profile, &tbl, true
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	type activeProfileSetter interface {
		SetActiveProfile(thermal.Profile)
	}
	if setter, ok := s.Metrics.(activeProfileSetter); ok {
		setter.SetActiveProfile(profile)
	}
}

// stopActive cancels and fully joins the current controller, if any, then
// writes its final tuned table back into the shared table map
// synchronously — so that by the time stopActive returns, s.tables
// reflects everything the outgoing controller learned, with no
// background writeback left racing the caller.
func (s *Supervisor) stopActive() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	profile, tbl := s.active, s.activeTable
	hadActive := s.hasActive
	s.cancel, s.done, s.activeTable, s.hasActive = nil, nil, nil, false
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	if hadActive {
		s.mu.Lock()
		s.tables[profile] = *tbl
		s.mu.Unlock()
	}
}

// Flush persists every profile's current table, including the active
// one's latest tuned state. It is intended for graceful shutdown, after
// Run has returned and the active controller has already been joined
// and written back by stopActive — but it is safe to call at any time.
func (s *Supervisor) Flush() error {
	s.mu.Lock()
	tables := make(map[thermal.Profile]thermal.Table, len(s.tables))
	for p, t := range s.tables {
		tables[p] = t
	}
	s.mu.Unlock()
	return s.Store.Save(tables)
}

func primeIfSupported(ctx context.Context, act controller.Actuator, capKHz, minKHz uint32, epp string) error {
	type primer interface {
		Prime(ctx context.Context, capKHz, minKHz uint32, epp string) error
	}
	if p, ok := act.(primer); ok {
		return p.Prime(ctx, capKHz, minKHz, epp)
	}
	return act.Apply(ctx, capKHz, minKHz, epp)
}
