package eventstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"example.com/debitum/internal/event"
	"example.com/debitum/internal/permission"
	"example.com/debitum/internal/projection"
)

// MemoryStore implements Store entirely in memory with the same
// semantics as GormStore. It backs tests and embedded deployments that
// have no database; a single mutex stands in for the per-wallet
// transactional lock.
type MemoryStore struct {
	mu       sync.Mutex
	gate     permission.Gate
	notifier Notifier
	wallets  map[uuid.UUID]*memoryWallet
}

type memoryWallet struct {
	events  []event.Event
	byID    map[string]struct{}
	lastSeq int64
	state   *projection.State
}

// NewMemoryStore creates an empty store. notifier may be nil.
func NewMemoryStore(gate permission.Gate, notifier Notifier) *MemoryStore {
	return &MemoryStore{
		gate:     gate,
		notifier: notifier,
		wallets:  make(map[uuid.UUID]*memoryWallet),
	}
}

// CreateWallet registers a wallet so pushes to it are accepted.
func (s *MemoryStore) CreateWallet(walletID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[walletID]; !ok {
		s.wallets[walletID] = &memoryWallet{
			byID:  make(map[string]struct{}),
			state: projection.NewState(),
		}
	}
}

// Push mirrors GormStore.Push: per-event gate, validation, idempotency,
// sequence assignment and projection update under one lock.
func (s *MemoryStore) Push(ctx context.Context, userID, walletID uuid.UUID, events []event.Event) ([]Result, error) {
	results := make([]Result, 0, len(events))
	var accepted []event.Event

	s.mu.Lock()
	w := s.wallets[walletID]
	s.mu.Unlock()

	for i := range events {
		ev := events[i]
		ev.WalletID = walletID.String()

		if err := s.gate.Authorize(ctx, walletID, userID, ev.Action()); err != nil {
			if errors.Is(err, permission.ErrInsufficientPermission) {
				results = append(results, Result{ID: ev.ID, Status: StatusRejected, Reason: ReasonPermissionDenied})
				continue
			}
			return nil, err
		}
		if err := ev.Validate(); err != nil {
			results = append(results, Result{ID: ev.ID, Status: StatusRejected, Reason: ReasonValidationFailed})
			continue
		}
		if w == nil {
			results = append(results, Result{ID: ev.ID, Status: StatusRejected, Reason: ReasonUnknownWallet})
			continue
		}

		s.mu.Lock()
		if _, dup := w.byID[ev.ID]; dup {
			s.mu.Unlock()
			results = append(results, Result{ID: ev.ID, Status: StatusAccepted})
			continue
		}
		w.lastSeq++
		ev.Sequence = w.lastSeq
		if err := w.state.Apply(&ev); err != nil {
			// Projection failure must not lose the sequence gap: the event
			// was validated above, so this is unreachable in practice.
			w.lastSeq--
			s.mu.Unlock()
			return nil, errors.Wrap(err, "failed to project event")
		}
		w.byID[ev.ID] = struct{}{}
		w.events = append(w.events, ev)
		s.mu.Unlock()

		results = append(results, Result{ID: ev.ID, Status: StatusAccepted})
		accepted = append(accepted, ev)
	}

	if s.notifier != nil {
		for i := range accepted {
			s.notifier.EventAccepted(walletID, &accepted[i])
		}
	}
	return results, nil
}

// Pull returns up to limit events with sequence > afterSequence.
func (s *MemoryStore) Pull(_ context.Context, walletID uuid.UUID, afterSequence int64, limit int) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.wallets[walletID]
	if w == nil {
		return nil, nil
	}
	out := make([]event.Event, 0, limit)
	for _, ev := range w.events {
		if ev.Sequence <= afterSequence {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Hash summarizes the wallet's log.
func (s *MemoryStore) Hash(_ context.Context, walletID uuid.UUID) (Digest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.wallets[walletID]
	if w == nil {
		return Digest{}, nil
	}
	return Digest{MaxSequence: w.lastSeq, EventCount: int64(len(w.events))}, nil
}

// State exposes the wallet's folded projection for assertions.
func (s *MemoryStore) State(walletID uuid.UUID) *projection.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.wallets[walletID]
	if w == nil {
		return projection.NewState()
	}
	return w.state
}
