package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattwatch/thermal-governor/internal/govlog"
	"github.com/wattwatch/thermal-governor/internal/thermal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuned-params.json")
	return New(path, govlog.New("test"))
}

func TestLoad_AbsentFile_ReturnsDefaults(t *testing.T) {
	s := newTestStore(t)
	tables := s.Load()
	assert.Equal(t, thermal.DefaultTables(), tables)
}

func TestLoad_CorruptFile_ReturnsDefaultsAndLogsOnce(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.path, []byte("{not json"), 0o644))

	tables := s.Load()

	assert.Equal(t, thermal.DefaultTables(), tables)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	tables := thermal.DefaultTables()
	custom := tables[thermal.Performance]
	custom.MaxCapKHz = 4_400_000
	tables[thermal.Performance] = custom

	require.NoError(t, s.Save(tables))

	loaded := s.Load()
	for p, want := range tables {
		want.EnforceInvariants(p.Ceiling())
		assert.Equal(t, want, loaded[p])
	}
}

func TestLoad_MissingProfileInFile_FallsBackToDefaultForThatProfile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.path, []byte(`{"performance": {"max_cap_khz": 4500000, "levels": [
		{"threshold_c": 75, "cap_khz": 3600000},
		{"threshold_c": 85, "cap_khz": 3200000},
		{"threshold_c": 92, "cap_khz": 2800000},
		{"threshold_c": 95, "cap_khz": 2200000}
	]}}`), 0o644))

	loaded := s.Load()

	assert.Equal(t, thermal.DefaultTable(thermal.PowerSaver), loaded[thermal.PowerSaver])
	assert.Equal(t, thermal.DefaultTable(thermal.Balanced), loaded[thermal.Balanced])
}

func TestLoad_RepairsInvariantViolations(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.path, []byte(`{"balanced": {"max_cap_khz": 4500000, "levels": [
		{"threshold_c": 66, "cap_khz": 4400000},
		{"threshold_c": 74, "cap_khz": 4400000},
		{"threshold_c": 82, "cap_khz": 2000000},
		{"threshold_c": 90, "cap_khz": 1400000}
	]}}`), 0o644))

	loaded := s.Load()
	bal := loaded[thermal.Balanced]
	for i := 1; i < len(bal.Levels); i++ {
		assert.Greater(t, bal.Levels[i-1].CapKHz, bal.Levels[i].CapKHz)
	}
}

func TestSave_WritesAtomically(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(thermal.DefaultTables()))

	entries, err := os.ReadDir(filepath.Dir(s.path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "no leftover temp files after a successful save")
	}
}
