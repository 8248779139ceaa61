package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/debitum/internal/event"
)

var testUpgrader = websocket.Upgrader{}

// dialHub spins up a server that subscribes every connection to
// walletID and returns a connected client conn.
func dialHub(t *testing.T, hub *Hub, walletID uuid.UUID) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Subscribe(walletID, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, walletID uuid.UUID, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(walletID) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, hub.Subscribers(walletID))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesWalletSubscribers(t *testing.T) {
	hub := NewHub()
	walletID := uuid.New()
	conn := dialHub(t, hub, walletID)
	waitForSubscribers(t, hub, walletID, 1)

	ev := &event.Event{ID: event.NewID(), EventType: event.TypeCreated, AggregateType: event.AggregateContact}
	hub.EventAccepted(walletID, ev)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, event.AggregateContact, msg.Type)
	assert.Equal(t, walletID.String(), msg.WalletID)
}

func TestBroadcastIsWalletScoped(t *testing.T) {
	hub := NewHub()
	walletA := uuid.New()
	walletB := uuid.New()
	connA := dialHub(t, hub, walletA)
	connB := dialHub(t, hub, walletB)
	waitForSubscribers(t, hub, walletA, 1)
	waitForSubscribers(t, hub, walletB, 1)

	hub.EventAccepted(walletA, &event.Event{ID: event.NewID()})

	connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, connA.ReadJSON(&msg))
	assert.Equal(t, walletA.String(), msg.WalletID)

	// The other wallet's subscriber must stay silent.
	connB.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var other Message
	err := connB.ReadJSON(&other)
	assert.Error(t, err)
}

func TestUnsubscribeOnClose(t *testing.T) {
	hub := NewHub()
	walletID := uuid.New()
	conn := dialHub(t, hub, walletID)
	waitForSubscribers(t, hub, walletID, 1)

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(walletID) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not removed after close")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Broadcasting to an empty wallet is a no-op, not a panic.
	hub.Broadcast(walletID, Message{Type: event.AggregateContact, WalletID: walletID.String()})
}
