// Package backoff implements the bounded retry ladder used when the
// browser automation endpoint is still booting. The ladder is an
// explicit state machine so it can be driven in tests without waiting
// out real delays.
package backoff

import (
	"context"
	"time"
)

// delay schedule tuned for an automation endpoint that restarts
// alongside the host platform and can take minutes to become ready.
// faster initial retries, then a slow crawl up to the ceiling.
var defaultSchedule = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	20 * time.Second,
	30 * time.Second,
	45 * time.Second,
	60 * time.Second,
	90 * time.Second,
	120 * time.Second,
	150 * time.Second,
	180 * time.Second,
	240 * time.Second,
}

const DefaultMaxAttempts = 12

// Ceiling bounds any single delay regardless of schedule contents.
const Ceiling = 5 * time.Minute

type Ladder struct {
	schedule    []time.Duration
	maxAttempts int
	attempt     int
}

func NewLadder() *Ladder {
	return &Ladder{
		schedule:    defaultSchedule,
		maxAttempts: DefaultMaxAttempts,
	}
}

// NewLadderWith is used by tests to shrink the delays.
func NewLadderWith(schedule []time.Duration, maxAttempts int) *Ladder {
	return &Ladder{
		schedule:    schedule,
		maxAttempts: maxAttempts,
	}
}

// Attempt reports the number of failures recorded so far.
func (l *Ladder) Attempt() int {
	return l.attempt
}

// Next records a failed attempt and returns the delay to sleep before
// the following one. ok is false once the ladder is exhausted, in
// which case the caller must stop retrying for this cycle.
func (l *Ladder) Next() (delay time.Duration, ok bool) {
	if l.attempt >= l.maxAttempts-1 {
		l.attempt++
		return 0, false
	}

	idx := l.attempt
	if idx >= len(l.schedule) {
		idx = len(l.schedule) - 1
	}
	delay = l.schedule[idx]
	if delay > Ceiling {
		delay = Ceiling
	}

	l.attempt++
	return delay, true
}

// Sleep blocks for d or until ctx is cancelled. The delay is a
// suspension point, never a busy wait.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
