// Package projection folds ordered event streams into current-state
// views. The same fold runs in two places: wholesale in State (client
// rebuilds, server full rebuilds, tests) and incrementally in the
// server-side Projector against the projection tables. Both must agree:
// replaying the same ordered event set always yields the same result,
// independent of batch boundaries or replay count.
package projection

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"example.com/debitum/internal/event"
)

// Contact is the folded view of a contact aggregate.
type Contact struct {
	ID        string
	Name      string
	Username  *string
	Phone     *string
	Email     *string
	Notes     *string
	Balance   int64
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is the folded view of a transaction aggregate.
type Transaction struct {
	ID          string
	ContactID   string
	Direction   string
	Amount      int64
	Currency    string
	Description *string
	Date        *string
	DueDate     *string
	Deleted     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// State is a deterministic fold over an ordered event stream. It tracks
// applied event ids so re-applying an event is a no-op, which makes
// merges and overlapping batches idempotent.
type State struct {
	Contacts     map[string]*Contact
	Transactions map[string]*Transaction
	applied      map[string]struct{}
}

// NewState returns an empty fold state.
func NewState() *State {
	return &State{
		Contacts:     make(map[string]*Contact),
		Transactions: make(map[string]*Transaction),
		applied:      make(map[string]struct{}),
	}
}

// Fold builds a state from scratch. Events must already be in replay
// order (ascending sequence); use SortForReplay when they are not.
func Fold(events []event.Event) (*State, error) {
	s := NewState()
	for i := range events {
		if err := s.Apply(&events[i]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SortForReplay orders events for folding: accepted events ascending by
// sequence, then local events that have no sequence yet, by timestamp.
// The sort is stable so same-key events keep their journal order.
func SortForReplay(events []event.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Sequence != 0 && b.Sequence != 0 {
			return a.Sequence < b.Sequence
		}
		if a.Sequence != b.Sequence {
			// Unsequenced (local, unsynced) events replay after everything
			// the server has already ordered.
			return a.Sequence != 0
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// Applied reports whether an event id has already been folded in.
func (s *State) Applied(id string) bool {
	_, ok := s.applied[id]
	return ok
}

// Apply folds one event into the state. Unknown aggregate types are
// ignored (wallet and user events do not project here). Delete is
// absorbing: once an aggregate is tombstoned no later event mutates it.
func (s *State) Apply(ev *event.Event) error {
	if s.Applied(ev.ID) {
		return nil
	}
	s.applied[ev.ID] = struct{}{}

	switch ev.AggregateType {
	case event.AggregateContact:
		if err := s.applyContact(ev); err != nil {
			return err
		}
	case event.AggregateTransaction:
		if err := s.applyTransaction(ev); err != nil {
			return err
		}
	default:
		return nil
	}
	return nil
}

func (s *State) applyContact(ev *event.Event) error {
	decoded, err := event.DecodePayload(ev.AggregateType, ev.EventType, ev.Payload)
	if err != nil {
		return errors.Wrapf(err, "event %s", ev.ID)
	}

	existing := s.Contacts[ev.AggregateID]
	if existing != nil && existing.Deleted {
		return nil
	}

	switch ev.EventType {
	case event.TypeCreated:
		if existing != nil {
			return nil
		}
		p := decoded.(*event.ContactPayload)
		c := &Contact{
			ID:        ev.AggregateID,
			Username:  p.Username,
			Phone:     p.Phone,
			Email:     p.Email,
			Notes:     p.Notes,
			CreatedAt: ev.CreatedAt,
			UpdatedAt: ev.CreatedAt,
		}
		if p.Name != nil {
			c.Name = *p.Name
		}
		s.Contacts[ev.AggregateID] = c
	case event.TypeUpdated:
		if existing == nil {
			return nil
		}
		p := decoded.(*event.ContactPayload)
		if p.Name != nil {
			existing.Name = *p.Name
		}
		if p.Username != nil {
			existing.Username = p.Username
		}
		if p.Phone != nil {
			existing.Phone = p.Phone
		}
		if p.Email != nil {
			existing.Email = p.Email
		}
		if p.Notes != nil {
			existing.Notes = p.Notes
		}
		existing.UpdatedAt = ev.CreatedAt
	case event.TypeDeleted:
		if existing == nil {
			return nil
		}
		existing.Deleted = true
		existing.UpdatedAt = ev.CreatedAt
		// A deleted contact leaves no live transactions behind.
		for _, t := range s.Transactions {
			if t.ContactID == ev.AggregateID && !t.Deleted {
				t.Deleted = true
				t.UpdatedAt = ev.CreatedAt
			}
		}
	}
	s.rebalance(ev.AggregateID)
	return nil
}

func (s *State) applyTransaction(ev *event.Event) error {
	decoded, err := event.DecodePayload(ev.AggregateType, ev.EventType, ev.Payload)
	if err != nil {
		return errors.Wrapf(err, "event %s", ev.ID)
	}

	existing := s.Transactions[ev.AggregateID]
	if existing != nil && existing.Deleted {
		return nil
	}

	var touched string
	switch ev.EventType {
	case event.TypeCreated:
		if existing != nil {
			return nil
		}
		p := decoded.(*event.TransactionPayload)
		t := &Transaction{
			ID:          ev.AggregateID,
			Currency:    "IQD",
			Description: p.Description,
			Date:        p.Date,
			DueDate:     p.DueDate,
			CreatedAt:   ev.CreatedAt,
			UpdatedAt:   ev.CreatedAt,
		}
		if p.ContactID != nil {
			t.ContactID = *p.ContactID
		}
		if p.Direction != nil {
			t.Direction = *p.Direction
		}
		if p.Amount != nil {
			t.Amount = *p.Amount
		}
		if p.Currency != nil {
			t.Currency = *p.Currency
		}
		// A transaction created after its contact was tombstoned is born
		// tombstoned, keeping the fold a pure function of sequence order.
		if c := s.Contacts[t.ContactID]; c != nil && c.Deleted {
			t.Deleted = true
		}
		s.Transactions[ev.AggregateID] = t
		touched = t.ContactID
	case event.TypeUpdated:
		if existing == nil {
			return nil
		}
		p := decoded.(*event.TransactionPayload)
		previous := existing.ContactID
		if p.ContactID != nil {
			existing.ContactID = *p.ContactID
		}
		if p.Direction != nil {
			existing.Direction = *p.Direction
		}
		if p.Amount != nil {
			existing.Amount = *p.Amount
		}
		if p.Currency != nil {
			existing.Currency = *p.Currency
		}
		if p.Description != nil {
			existing.Description = p.Description
		}
		if p.Date != nil {
			existing.Date = p.Date
		}
		if p.DueDate != nil {
			existing.DueDate = p.DueDate
		}
		existing.UpdatedAt = ev.CreatedAt
		touched = existing.ContactID
		// A move between contacts changes both balances.
		if previous != existing.ContactID {
			s.rebalance(previous)
		}
	case event.TypeDeleted:
		if existing == nil {
			return nil
		}
		existing.Deleted = true
		existing.UpdatedAt = ev.CreatedAt
		touched = existing.ContactID
	}
	if touched != "" {
		s.rebalance(touched)
	}
	return nil
}

// rebalance recomputes one contact's balance from its live transactions:
// +amount when lent, -amount when owed.
func (s *State) rebalance(contactID string) {
	c := s.Contacts[contactID]
	if c == nil {
		return
	}
	var balance int64
	if !c.Deleted {
		for _, t := range s.Transactions {
			if t.Deleted || t.ContactID != contactID {
				continue
			}
			if t.Direction == event.DirectionLent {
				balance += t.Amount
			} else {
				balance -= t.Amount
			}
		}
	}
	c.Balance = balance
}

// LiveContacts returns non-deleted contacts, unordered.
func (s *State) LiveContacts() []*Contact {
	out := make([]*Contact, 0, len(s.Contacts))
	for _, c := range s.Contacts {
		if !c.Deleted {
			out = append(out, c)
		}
	}
	return out
}

// LiveTransactions returns non-deleted transactions, unordered.
func (s *State) LiveTransactions() []*Transaction {
	out := make([]*Transaction, 0, len(s.Transactions))
	for _, t := range s.Transactions {
		if !t.Deleted {
			out = append(out, t)
		}
	}
	return out
}
