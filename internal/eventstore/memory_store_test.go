package eventstore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/debitum/internal/event"
	"example.com/debitum/internal/models"
	"example.com/debitum/internal/permission"
)

func contactCreated(walletID uuid.UUID, name string) event.Event {
	payload, _ := json.Marshal(map[string]string{"name": name})
	return event.Event{
		ID:            event.NewID(),
		WalletID:      walletID.String(),
		AggregateType: event.AggregateContact,
		AggregateID:   uuid.New().String(),
		EventType:     event.TypeCreated,
		Payload:       payload,
		Version:       1,
	}
}

func newTestStore(t *testing.T) (*MemoryStore, *permission.StaticGate, uuid.UUID, uuid.UUID) {
	t.Helper()
	gate := permission.NewStaticGate()
	store := NewMemoryStore(gate, nil)
	walletID := uuid.New()
	userID := uuid.New()
	store.CreateWallet(walletID)
	gate.SetRole(walletID, userID, models.RoleOwner)
	return store, gate, walletID, userID
}

func TestPushAssignsMonotonicSequences(t *testing.T) {
	store, _, walletID, userID := newTestStore(t)
	ctx := context.Background()

	batch := []event.Event{
		contactCreated(walletID, "Alice"),
		contactCreated(walletID, "Bob"),
		contactCreated(walletID, "Carol"),
	}
	results, err := store.Push(ctx, userID, walletID, batch)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, res := range results {
		assert.Equal(t, StatusAccepted, res.Status)
	}

	events, err := store.Pull(ctx, walletID, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Sequence)
	}
}

func TestPushIsIdempotent(t *testing.T) {
	store, _, walletID, userID := newTestStore(t)
	ctx := context.Background()

	ev := contactCreated(walletID, "Alice")
	_, err := store.Push(ctx, userID, walletID, []event.Event{ev})
	require.NoError(t, err)

	// Same event retried, e.g. after a lost response.
	results, err := store.Push(ctx, userID, walletID, []event.Event{ev})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, results[0].Status)

	digest, err := store.Hash(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), digest.EventCount)
	assert.Equal(t, int64(1), digest.MaxSequence)
}

func TestPushRejectionsAreIndependent(t *testing.T) {
	store, _, walletID, userID := newTestStore(t)
	ctx := context.Background()

	bad := contactCreated(walletID, "Bad")
	bad.Payload = json.RawMessage(`{}`)
	good := contactCreated(walletID, "Good")

	results, err := store.Push(ctx, userID, walletID, []event.Event{bad, good})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, results[0].Status)
	assert.Equal(t, ReasonValidationFailed, results[0].Reason)
	assert.Equal(t, StatusAccepted, results[1].Status)

	events, err := store.Pull(ctx, walletID, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, good.ID, events[0].ID)
}

func TestPushPermissionDenied(t *testing.T) {
	store, gate, walletID, _ := newTestStore(t)
	ctx := context.Background()

	// Member whose group grants contact but not transaction writes.
	member := uuid.New()
	gate.SetRole(walletID, member, models.RoleMember)
	gate.AddGroup(walletID, member, "contact:create")

	contact := contactCreated(walletID, "Allowed")
	payload, _ := json.Marshal(map[string]interface{}{
		"contact_id": uuid.New().String(),
		"direction":  "lent",
		"amount":     100,
	})
	txn := event.Event{
		ID:            event.NewID(),
		WalletID:      walletID.String(),
		AggregateType: event.AggregateTransaction,
		AggregateID:   uuid.New().String(),
		EventType:     event.TypeCreated,
		Payload:       payload,
		Version:       2,
	}

	results, err := store.Push(ctx, member, walletID, []event.Event{contact, txn})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, results[0].Status)
	assert.Equal(t, StatusRejected, results[1].Status)
	assert.Equal(t, ReasonPermissionDenied, results[1].Reason)
}

func TestPushUnknownWallet(t *testing.T) {
	gate := permission.NewStaticGate()
	store := NewMemoryStore(gate, nil)
	walletID := uuid.New()
	userID := uuid.New()
	gate.SetRole(walletID, userID, models.RoleOwner)

	results, err := store.Push(context.Background(), userID, walletID, []event.Event{contactCreated(walletID, "X")})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, results[0].Status)
	assert.Equal(t, ReasonUnknownWallet, results[0].Reason)
}

func TestPullPaging(t *testing.T) {
	store, _, walletID, userID := newTestStore(t)
	ctx := context.Background()

	var batch []event.Event
	for i := 0; i < 7; i++ {
		batch = append(batch, contactCreated(walletID, "C"))
	}
	_, err := store.Push(ctx, userID, walletID, batch)
	require.NoError(t, err)

	var all []event.Event
	var cursor int64
	for {
		page, err := store.Pull(ctx, walletID, cursor, 3)
		require.NoError(t, err)
		all = append(all, page...)
		if len(page) < 3 {
			break
		}
		cursor = page[len(page)-1].Sequence
	}
	require.Len(t, all, 7)
	for i, ev := range all {
		assert.Equal(t, int64(i+1), ev.Sequence)
	}
}

func TestDigestEquality(t *testing.T) {
	storeA, gateA, walletID, userID := newTestStore(t)
	_ = gateA

	gateB := permission.NewStaticGate()
	storeB := NewMemoryStore(gateB, nil)
	storeB.CreateWallet(walletID)
	gateB.SetRole(walletID, userID, models.RoleOwner)

	ctx := context.Background()
	events := []event.Event{
		contactCreated(walletID, "Alice"),
		contactCreated(walletID, "Bob"),
	}
	_, err := storeA.Push(ctx, userID, walletID, events)
	require.NoError(t, err)
	_, err = storeB.Push(ctx, userID, walletID, events)
	require.NoError(t, err)

	da, err := storeA.Hash(ctx, walletID)
	require.NoError(t, err)
	db, err := storeB.Hash(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Equal(t, da.Hash(), db.Hash())

	// One more event and they diverge.
	_, err = storeA.Push(ctx, userID, walletID, []event.Event{contactCreated(walletID, "Carol")})
	require.NoError(t, err)
	da, err = storeA.Hash(ctx, walletID)
	require.NoError(t, err)
	assert.NotEqual(t, da.Hash(), db.Hash())
}

func TestConcurrentPushKeepsSequencesUnique(t *testing.T) {
	store, _, walletID, userID := newTestStore(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Push(ctx, userID, walletID, []event.Event{contactCreated(walletID, "C")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	events, err := store.Pull(ctx, walletID, 0, 100)
	require.NoError(t, err)
	require.Len(t, events, writers)
	seen := make(map[int64]bool)
	for _, ev := range events {
		assert.False(t, seen[ev.Sequence], "duplicate sequence %d", ev.Sequence)
		seen[ev.Sequence] = true
		assert.Greater(t, ev.Sequence, int64(0))
		assert.LessOrEqual(t, ev.Sequence, int64(writers))
	}
}

func TestNotifierFiresForFreshEventsOnly(t *testing.T) {
	gate := permission.NewStaticGate()
	var notified []string
	notifier := NotifierFunc(func(walletID uuid.UUID, ev *event.Event) {
		notified = append(notified, ev.ID)
	})
	store := NewMemoryStore(gate, notifier)
	walletID := uuid.New()
	userID := uuid.New()
	store.CreateWallet(walletID)
	gate.SetRole(walletID, userID, models.RoleOwner)

	ctx := context.Background()
	ev := contactCreated(walletID, "Alice")
	_, err := store.Push(ctx, userID, walletID, []event.Event{ev})
	require.NoError(t, err)
	_, err = store.Push(ctx, userID, walletID, []event.Event{ev})
	require.NoError(t, err)

	assert.Equal(t, []string{ev.ID}, notified)
}
