package client

import (
	"sync"
	"time"
)

// DefaultBackoffSchedule is the escalating wait applied after
// consecutive sync failures.
var DefaultBackoffSchedule = []time.Duration{
	30 * time.Second,
	1 * time.Minute,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
}

// Backoff gates sync attempts after failures. Each failure advances one
// step through the schedule; the last step repeats until a success
// resets it. While the window is open, attempts are suppressed without
// touching the network.
type Backoff struct {
	mu          sync.Mutex
	schedule    []time.Duration
	index       int
	failing     bool
	nextAllowed time.Time
	now         func() time.Time
}

// NewBackoff creates a backoff over schedule, or the default schedule
// when schedule is empty.
func NewBackoff(schedule []time.Duration) *Backoff {
	if len(schedule) == 0 {
		schedule = DefaultBackoffSchedule
	}
	return &Backoff{
		schedule: append([]time.Duration(nil), schedule...),
		now:      time.Now,
	}
}

// CanAttempt reports whether a sync attempt is allowed right now.
func (b *Backoff) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.failing {
		return true
	}
	return !b.now().Before(b.nextAllowed)
}

// OnFailure records a failed attempt and returns the applied delay: the
// current window restarts and the next failure moves one step up the
// schedule, clamped to the last entry.
func (b *Backoff) OnFailure() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	delay := b.schedule[b.index]
	b.nextAllowed = b.now().Add(delay)
	if b.index < len(b.schedule)-1 {
		b.index++
	}
	b.failing = true
	return delay
}

// Reset clears the failure streak after a successful sync.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index = 0
	b.failing = false
	b.nextAllowed = time.Time{}
}

// Remaining returns how long until the next attempt is allowed, zero
// when attempts are already allowed.
func (b *Backoff) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.failing {
		return 0
	}
	d := b.nextAllowed.Sub(b.now())
	if d < 0 {
		return 0
	}
	return d
}
