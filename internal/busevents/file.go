package busevents

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wattwatch/thermal-governor/internal/thermal"
)

// DefaultControlFile is the fallback polled file spec §6 names for hosts
// with no session bus reachable (e.g. a bare console, or test harnesses).
const DefaultControlFile = "/run/thermal-governor/profile"

// FileWatcher implements Source by polling a plain text file containing a
// profile name. It exists for environments with no MQTT broker and for
// deterministic tests of the supervisor's event-handling path.
type FileWatcher struct {
	Path         string
	PollInterval time.Duration
}

func (f *FileWatcher) pollInterval() time.Duration {
	if f.PollInterval > 0 {
		return f.PollInterval
	}
	return time.Second
}

func (f *FileWatcher) read() (thermal.Profile, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return 0, fmt.Errorf("busevents: read %s: %w", f.Path, err)
	}
	return thermal.ParseProfile(strings.TrimSpace(string(data)))
}

// QueryInitial implements Source.
func (f *FileWatcher) QueryInitial(ctx context.Context) (thermal.Profile, error) {
	return f.read()
}

// Events implements Source: it polls the file on a fixed interval and
// emits a value only when the parsed profile changes.
func (f *FileWatcher) Events(ctx context.Context) (<-chan thermal.Profile, error) {
	ch := make(chan thermal.Profile, 8)
	last, _ := f.read()

	go func() {
		defer close(ch)
		ticker := time.NewTicker(f.pollInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current, err := f.read()
				if err != nil {
					continue
				}
				if current != last {
					last = current
					select {
					case ch <- current:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}
