// Package safego launches long-running goroutines with panic recovery and
// retry-with-backoff.
package safego

import (
	"context"
	"time"

	"github.com/wattwatch/thermal-governor/internal/govlog"
)

const (
	maxRetries = 10
	maxDelay   = 10 * time.Minute
	resetAfter = 2 * time.Minute
)

// Go launches fn in its own goroutine. On panic it retries with exponential
// backoff (starting at 1s, capped at maxDelay); if fn ran for at least
// resetAfter before panicking, the retry count resets. After maxRetries
// consecutive quick failures it calls cancel and stops.
func Go(ctx context.Context, cancel context.CancelFunc, name string, log *govlog.Logger, fn func(ctx context.Context)) {
	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			if panicValue == nil {
				return
			}

			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Printf("panic in %s (attempt %d/%d): %v", name, retries, maxRetries, panicValue)

			if retries >= maxRetries {
				log.Printf("%s failed after %d retries, shutting down", name, maxRetries)
				cancel()
				return
			}

			log.Printf("%s will retry in %v", name, delay)
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}
