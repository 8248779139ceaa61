// Package client implements the device side of wallet synchronization:
// a local append-only event journal, the projection it folds into, the
// failure backoff, and the sync engine that reconciles the journal with
// the server event store.
package client

import (
	"context"
	"sync"
	"time"

	"example.com/debitum/internal/event"
)

// Journal is the local append-only event log. Writes are recorded here
// first; the sync engine pushes unsynced entries to the server and
// merges remote entries back in.
type Journal interface {
	// Append records a locally produced event. The journal assigns the
	// id and timestamp when unset, and the version as the aggregate's
	// latest version plus one.
	Append(ctx context.Context, ev *event.Event) error

	// LatestVersion returns the highest version the journal holds for
	// one aggregate, zero when it holds none.
	LatestVersion(ctx context.Context, aggregateType, aggregateID string) (int, error)

	// Merge records a server-ordered event, already marked synced.
	// Merging an id the journal already holds updates its sequence and
	// synced flag instead of duplicating it.
	Merge(ctx context.Context, ev *event.Event) error

	// UnsyncedEvents returns the local events not yet accepted by the
	// server, in append order.
	UnsyncedEvents(ctx context.Context) ([]event.Event, error)

	// MarkSynced flags one event as accepted with its assigned sequence.
	MarkSynced(ctx context.Context, id string, sequence int64) error

	// Remove drops entries by id. Used for events the server rejected
	// permanently; they must never be pushed again or replayed locally.
	Remove(ctx context.Context, ids []string) error

	// AllEvents returns every journal entry.
	AllEvents(ctx context.Context) ([]event.Event, error)

	// MaxSequence returns the highest server sequence the journal holds:
	// the pull cursor.
	MaxSequence(ctx context.Context) (int64, error)

	// Clear removes every entry; used before a full resync.
	Clear(ctx context.Context) error
}

// MemoryJournal is an in-memory Journal for tests and ephemeral devices.
type MemoryJournal struct {
	mu     sync.Mutex
	events []event.Event
	byID   map[string]int
}

// NewMemoryJournal returns an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{byID: make(map[string]int)}
}

// Append records a local event.
func (j *MemoryJournal) Append(_ context.Context, ev *event.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if ev.ID == "" {
		ev.ID = event.NewID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Version == 0 {
		ev.Version = j.latestVersionLocked(ev.AggregateType, ev.AggregateID) + 1
	}
	if _, ok := j.byID[ev.ID]; ok {
		return nil
	}
	j.byID[ev.ID] = len(j.events)
	j.events = append(j.events, *ev)
	return nil
}

// LatestVersion returns the aggregate's highest recorded version.
func (j *MemoryJournal) LatestVersion(_ context.Context, aggregateType, aggregateID string) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.latestVersionLocked(aggregateType, aggregateID), nil
}

func (j *MemoryJournal) latestVersionLocked(aggregateType, aggregateID string) int {
	latest := 0
	for _, ev := range j.events {
		if ev.AggregateType == aggregateType && ev.AggregateID == aggregateID && ev.Version > latest {
			latest = ev.Version
		}
	}
	return latest
}

// Merge records a server event, updating an existing entry in place.
func (j *MemoryJournal) Merge(_ context.Context, ev *event.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if i, ok := j.byID[ev.ID]; ok {
		j.events[i].Sequence = ev.Sequence
		j.events[i].Synced = true
		return nil
	}
	merged := *ev
	merged.Synced = true
	j.byID[merged.ID] = len(j.events)
	j.events = append(j.events, merged)
	return nil
}

// UnsyncedEvents returns local events pending push, in append order.
func (j *MemoryJournal) UnsyncedEvents(_ context.Context) ([]event.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []event.Event
	for _, ev := range j.events {
		if !ev.Synced {
			out = append(out, ev)
		}
	}
	return out, nil
}

// MarkSynced flags one event as accepted.
func (j *MemoryJournal) MarkSynced(_ context.Context, id string, sequence int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if i, ok := j.byID[id]; ok {
		j.events[i].Synced = true
		j.events[i].Sequence = sequence
	}
	return nil
}

// Remove drops entries by id.
func (j *MemoryJournal) Remove(_ context.Context, ids []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := j.events[:0]
	for _, ev := range j.events {
		if _, ok := drop[ev.ID]; !ok {
			kept = append(kept, ev)
		}
	}
	j.events = kept
	j.byID = make(map[string]int, len(j.events))
	for i, ev := range j.events {
		j.byID[ev.ID] = i
	}
	return nil
}

// AllEvents returns a copy of every journal entry.
func (j *MemoryJournal) AllEvents(_ context.Context) ([]event.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]event.Event(nil), j.events...), nil
}

// MaxSequence returns the pull cursor.
func (j *MemoryJournal) MaxSequence(_ context.Context) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var max int64
	for _, ev := range j.events {
		if ev.Sequence > max {
			max = ev.Sequence
		}
	}
	return max, nil
}

// Clear drops every entry.
func (j *MemoryJournal) Clear(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = nil
	j.byID = make(map[string]int)
	return nil
}
