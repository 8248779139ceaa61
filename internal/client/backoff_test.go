package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock drives the backoff deterministically.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBackoff(schedule []time.Duration) (*Backoff, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBackoff(schedule)
	b.now = clock.now
	return b, clock
}

func TestBackoffAllowsFirstAttempt(t *testing.T) {
	b, _ := newTestBackoff(nil)
	assert.True(t, b.CanAttempt())
	assert.Zero(t, b.Remaining())
}

func TestBackoffEscalates(t *testing.T) {
	schedule := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	b, clock := newTestBackoff(schedule)

	assert.Equal(t, time.Second, b.OnFailure())
	assert.False(t, b.CanAttempt())
	assert.Equal(t, time.Second, b.Remaining())

	clock.advance(time.Second)
	assert.True(t, b.CanAttempt())

	// Second failure waits the next step.
	assert.Equal(t, 2*time.Second, b.OnFailure())
	assert.Equal(t, 2*time.Second, b.Remaining())
	clock.advance(2 * time.Second)
	assert.True(t, b.CanAttempt())
}

func TestBackoffClampsAtLastStep(t *testing.T) {
	schedule := []time.Duration{time.Second, 2 * time.Second}
	b, clock := newTestBackoff(schedule)

	for i := 0; i < 5; i++ {
		b.OnFailure()
		clock.advance(10 * time.Second)
	}
	assert.Equal(t, 2*time.Second, b.OnFailure(), "must not advance past the last step")
	assert.Equal(t, 2*time.Second, b.Remaining())
}

func TestBackoffReset(t *testing.T) {
	b, clock := newTestBackoff([]time.Duration{time.Minute})
	b.OnFailure()
	assert.False(t, b.CanAttempt())

	b.Reset()
	assert.True(t, b.CanAttempt())
	assert.Zero(t, b.Remaining())

	// After a reset the first failure starts from the first step again.
	assert.Equal(t, time.Minute, b.OnFailure())
	assert.Equal(t, time.Minute, b.Remaining())
	clock.advance(time.Minute)
	assert.True(t, b.CanAttempt())
}
