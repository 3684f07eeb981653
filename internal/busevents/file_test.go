package busevents

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattwatch/thermal-governor/internal/thermal"
)

func TestFileWatcher_QueryInitial_ReadsCurrentValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile")
	require.NoError(t, os.WriteFile(path, []byte("performance\n"), 0o644))

	w := &FileWatcher{Path: path}
	p, err := w.QueryInitial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, thermal.Performance, p)
}

func TestFileWatcher_Events_EmitsOnlyOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile")
	require.NoError(t, os.WriteFile(path, []byte("balanced"), 0o644))

	w := &FileWatcher{Path: path, PollInterval: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := w.Events(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("performance"), 0o644))

	select {
	case p := <-ch:
		assert.Equal(t, thermal.Performance, p)
	case <-time.After(time.Second):
		t.Fatal("expected a profile change event")
	}

	// Rewriting the same value must not emit a second event.
	require.NoError(t, os.WriteFile(path, []byte("performance"), 0o644))
	select {
	case p := <-ch:
		t.Fatalf("unexpected duplicate event: %v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFileWatcher_QueryInitial_PropagatesReadError(t *testing.T) {
	w := &FileWatcher{Path: filepath.Join(t.TempDir(), "missing")}
	_, err := w.QueryInitial(context.Background())
	assert.Error(t, err)
}
