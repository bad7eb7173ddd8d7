package udl

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// clock is the package-level time source for backoff and pacing sleeps,
// swappable so tests never wait on real time.
var clock = clockwork.NewRealClock()

// SetClock replaces the package clock. Pass nil to restore real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// sleepWithContext waits for d or until the context is done, whichever comes
// first.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
