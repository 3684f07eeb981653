// Package persistence snapshots and restores per-profile tuned thermal
// tables, the sole source of learning continuity across restarts.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wattwatch/thermal-governor/internal/govlog"
	"github.com/wattwatch/thermal-governor/internal/thermal"
)

// DefaultPath is the on-disk location of the persisted tables.
const DefaultPath = "/var/lib/thermal-governor/tuned-params.json"

// document is the JSON shape written to disk: one Table per profile, with
// unknown fields ignored and missing profiles falling back to defaults on
// load.
type document struct {
	PowerSaver  *thermal.Table `json:"power_saver"`
	Balanced    *thermal.Table `json:"balanced"`
	Performance *thermal.Table `json:"performance"`
}

// Store persists per-profile thermal tables to a single JSON file.
type Store struct {
	path string
	log  *govlog.Logger
}

// New creates a Store writing to path.
func New(path string, log *govlog.Logger) *Store {
	return &Store{path: path, log: log}
}

// Save atomically writes all three profiles' tables in one snapshot: write
// to a temp file in the same directory, flush, then rename over the
// target. A save failure is returned to the caller (who logs it and
// retries on the next PERSIST_INTERVAL per §7) rather than retried here.
func (s *Store) Save(tables map[thermal.Profile]thermal.Table) error {
	doc := document{}
	for p, t := range tables {
		tc := t
		switch p {
		case thermal.PowerSaver:
			doc.PowerSaver = &tc
		case thermal.Balanced:
			doc.Balanced = &tc
		case thermal.Performance:
			doc.Performance = &tc
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("persistence: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tuned-params-*.json.tmp")
	if err != nil {
		return fmt.Errorf("persistence: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persistence: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("persistence: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persistence: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("persistence: rename into place: %w", err)
	}

	return nil
}

// Load reads the persisted tables, falling back to built-in defaults for
// any profile that is absent, and to defaults for everything if the file
// itself is absent or unparseable. A corrupt file is logged once; any
// loaded table failing invariants is silently repaired before use — per
// §7, invariant violations never surface as user-visible errors.
func (s *Store) Load() map[thermal.Profile]thermal.Table {
	out := thermal.DefaultTables()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Printf("persistence: could not read %s: %v, using defaults", s.path, err)
		}
		return out
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.Printf("persistence: %s is corrupt (%v), using defaults", s.path, err)
		return out
	}

	applyIfPresent(out, thermal.PowerSaver, doc.PowerSaver)
	applyIfPresent(out, thermal.Balanced, doc.Balanced)
	applyIfPresent(out, thermal.Performance, doc.Performance)

	for p, t := range out {
		t.EnforceInvariants(p.Ceiling())
		out[p] = t
	}

	return out
}

func applyIfPresent(out map[thermal.Profile]thermal.Table, p thermal.Profile, loaded *thermal.Table) {
	if loaded == nil || len(loaded.Levels) == 0 {
		return
	}
	out[p] = *loaded
}
