// Package busevents watches for desktop power-profile changes and delivers
// them to the supervisor (spec §6's "EXTERNAL: session bus"). The exact
// transport is explicitly left open by the spec's own design notes, so the
// retained-message MQTT topic the rest of this codebase already depends on
// stands in for whatever desktop session bus a real deployment would use.
package busevents

import (
	"context"

	"github.com/wattwatch/thermal-governor/internal/thermal"
)

// Source delivers profile-change events and answers the one-shot startup
// query spec §6 requires before the first controller is built.
type Source interface {
	// QueryInitial blocks until the current profile is known, or ctx is
	// canceled.
	QueryInitial(ctx context.Context) (thermal.Profile, error)

	// Events returns a channel of subsequent profile changes. FileWatcher
	// closes the channel when ctx is canceled; MQTTWatcher never closes it,
	// and a lost-then-recovered MQTT connection keeps using the same
	// channel.
	Events(ctx context.Context) (<-chan thermal.Profile, error)
}
