package projection

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/debitum/internal/event"
)

type eventBuilder struct {
	walletID string
	seq      int64
	now      time.Time
}

func newEventBuilder() *eventBuilder {
	return &eventBuilder{
		walletID: uuid.New().String(),
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (b *eventBuilder) next(aggregateType, aggregateID, eventType string, payload interface{}) event.Event {
	b.seq++
	b.now = b.now.Add(time.Second)
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	return event.Event{
		ID:            event.NewID(),
		WalletID:      b.walletID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
		CreatedAt:     b.now,
		Version:       int(b.seq),
		Sequence:      b.seq,
	}
}

func (b *eventBuilder) contactCreated(contactID, name string) event.Event {
	return b.next(event.AggregateContact, contactID, event.TypeCreated, map[string]string{"name": name})
}

func (b *eventBuilder) transactionCreated(txnID, contactID, direction string, amount int64) event.Event {
	return b.next(event.AggregateTransaction, txnID, event.TypeCreated, map[string]interface{}{
		"contact_id": contactID,
		"direction":  direction,
		"amount":     amount,
	})
}

func TestFoldBasics(t *testing.T) {
	b := newEventBuilder()
	contactID := uuid.New().String()
	txnID := uuid.New().String()

	state, err := Fold([]event.Event{
		b.contactCreated(contactID, "Alice"),
		b.transactionCreated(txnID, contactID, event.DirectionLent, 1500),
	})
	require.NoError(t, err)

	c := state.Contacts[contactID]
	require.NotNil(t, c)
	assert.Equal(t, "Alice", c.Name)
	assert.Equal(t, int64(1500), c.Balance)
	assert.Len(t, state.LiveTransactions(), 1)
}

func TestFoldBalance(t *testing.T) {
	b := newEventBuilder()
	contactID := uuid.New().String()

	events := []event.Event{
		b.contactCreated(contactID, "Bob"),
		b.transactionCreated(uuid.New().String(), contactID, event.DirectionLent, 1000),
		b.transactionCreated(uuid.New().String(), contactID, event.DirectionOwed, 300),
		b.transactionCreated(uuid.New().String(), contactID, event.DirectionLent, 50),
	}
	state, err := Fold(events)
	require.NoError(t, err)
	assert.Equal(t, int64(750), state.Contacts[contactID].Balance)
}

func TestFoldIdempotent(t *testing.T) {
	b := newEventBuilder()
	contactID := uuid.New().String()
	txn := b.transactionCreated(uuid.New().String(), contactID, event.DirectionLent, 100)

	state := NewState()
	created := b.contactCreated(contactID, "Carol")
	for _, ev := range []event.Event{created, txn, txn, created} {
		ev := ev
		require.NoError(t, state.Apply(&ev))
	}
	assert.Equal(t, int64(100), state.Contacts[contactID].Balance)
	assert.Len(t, state.Transactions, 1)
}

func TestFoldDeterministicAcrossBatches(t *testing.T) {
	b := newEventBuilder()
	contactID := uuid.New().String()
	txnID := uuid.New().String()

	amount := int64(2000)
	events := []event.Event{
		b.contactCreated(contactID, "Dana"),
		b.transactionCreated(txnID, contactID, event.DirectionLent, 500),
		b.next(event.AggregateTransaction, txnID, event.TypeUpdated, map[string]interface{}{"amount": amount}),
		b.next(event.AggregateContact, contactID, event.TypeUpdated, map[string]string{"name": "Dana B."}),
	}

	whole, err := Fold(events)
	require.NoError(t, err)

	// Same events in two batches with an overlap.
	piecewise := NewState()
	for _, ev := range events[:3] {
		ev := ev
		require.NoError(t, piecewise.Apply(&ev))
	}
	for _, ev := range events[1:] {
		ev := ev
		require.NoError(t, piecewise.Apply(&ev))
	}

	assert.Equal(t, whole.Contacts[contactID].Name, piecewise.Contacts[contactID].Name)
	assert.Equal(t, whole.Contacts[contactID].Balance, piecewise.Contacts[contactID].Balance)
	assert.Equal(t, whole.Transactions[txnID].Amount, piecewise.Transactions[txnID].Amount)
}

func TestTombstoneAbsorbsLaterEvents(t *testing.T) {
	b := newEventBuilder()
	contactID := uuid.New().String()
	txnID := uuid.New().String()

	events := []event.Event{
		b.contactCreated(contactID, "Eve"),
		b.transactionCreated(txnID, contactID, event.DirectionLent, 500),
		b.next(event.AggregateTransaction, txnID, event.TypeDeleted, nil),
		// Sequenced after the delete: must not resurrect the transaction.
		b.next(event.AggregateTransaction, txnID, event.TypeUpdated, map[string]interface{}{"amount": 2000}),
	}
	state, err := Fold(events)
	require.NoError(t, err)

	txn := state.Transactions[txnID]
	require.NotNil(t, txn)
	assert.True(t, txn.Deleted)
	assert.Equal(t, int64(500), txn.Amount, "update after delete must be ignored")
	assert.Equal(t, int64(0), state.Contacts[contactID].Balance)
}

func TestContactDeleteCascades(t *testing.T) {
	b := newEventBuilder()
	contactID := uuid.New().String()
	txnID := uuid.New().String()

	events := []event.Event{
		b.contactCreated(contactID, "Frank"),
		b.transactionCreated(txnID, contactID, event.DirectionLent, 500),
		b.next(event.AggregateContact, contactID, event.TypeDeleted, nil),
	}
	state, err := Fold(events)
	require.NoError(t, err)

	assert.True(t, state.Contacts[contactID].Deleted)
	assert.True(t, state.Transactions[txnID].Deleted)
	assert.Empty(t, state.LiveContacts())
	assert.Empty(t, state.LiveTransactions())
}

func TestTransactionForDeletedContactBornTombstoned(t *testing.T) {
	b := newEventBuilder()
	contactID := uuid.New().String()

	events := []event.Event{
		b.contactCreated(contactID, "Grace"),
		b.next(event.AggregateContact, contactID, event.TypeDeleted, nil),
		b.transactionCreated(uuid.New().String(), contactID, event.DirectionLent, 999),
	}
	state, err := Fold(events)
	require.NoError(t, err)
	assert.Empty(t, state.LiveTransactions())
	assert.Equal(t, int64(0), state.Contacts[contactID].Balance)
}

func TestTransactionMoveRebalancesBothContacts(t *testing.T) {
	b := newEventBuilder()
	from := uuid.New().String()
	to := uuid.New().String()
	txnID := uuid.New().String()

	events := []event.Event{
		b.contactCreated(from, "Hana"),
		b.contactCreated(to, "Iris"),
		b.transactionCreated(txnID, from, event.DirectionLent, 100),
		b.next(event.AggregateTransaction, txnID, event.TypeUpdated, map[string]interface{}{"contact_id": to}),
	}
	state, err := Fold(events)
	require.NoError(t, err)

	assert.Equal(t, int64(0), state.Contacts[from].Balance, "moved transaction must leave the old contact")
	assert.Equal(t, int64(100), state.Contacts[to].Balance)
	assert.Equal(t, to, state.Transactions[txnID].ContactID)
}

func TestDefaultCurrency(t *testing.T) {
	b := newEventBuilder()
	contactID := uuid.New().String()
	txnID := uuid.New().String()

	state, err := Fold([]event.Event{
		b.contactCreated(contactID, "Jalil"),
		b.transactionCreated(txnID, contactID, event.DirectionLent, 100),
	})
	require.NoError(t, err)
	assert.Equal(t, "IQD", state.Transactions[txnID].Currency)
}

func TestSortForReplay(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mk := func(seq int64, at time.Time) event.Event {
		return event.Event{ID: event.NewID(), Sequence: seq, CreatedAt: at}
	}
	events := []event.Event{
		mk(0, base.Add(2*time.Second)), // local, newer
		mk(3, base),
		mk(0, base.Add(time.Second)), // local, older
		mk(1, base),
		mk(2, base),
	}
	rand.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

	SortForReplay(events)
	var seqs []int64
	for _, ev := range events {
		seqs = append(seqs, ev.Sequence)
	}
	assert.Equal(t, []int64{1, 2, 3, 0, 0}, seqs)
	// Local events ordered by timestamp.
	assert.True(t, events[3].CreatedAt.Before(events[4].CreatedAt))
}
