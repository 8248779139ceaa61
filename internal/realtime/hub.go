// Package realtime fans accepted events out to connected devices over
// websockets. Delivery is best-effort: a device that misses a message
// converges anyway on its next sync, so the hub never blocks the push
// path and drops messages to slow consumers.
package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"example.com/debitum/internal/event"
)

// Message is the wire envelope broadcast to subscribers.
type Message struct {
	Type     string      `json:"type"`
	WalletID string      `json:"wallet_id"`
	Data     interface{} `json:"data"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

// Client is one connected device subscribed to a single wallet.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	walletID uuid.UUID
	send     chan Message
}

// Hub tracks subscriptions per wallet and broadcasts to them.
type Hub struct {
	mu      sync.RWMutex
	wallets map[uuid.UUID]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{wallets: make(map[uuid.UUID]map[*Client]struct{})}
}

// Subscribe registers conn for the wallet and starts its pumps. The hub
// owns the connection from here on.
func (h *Hub) Subscribe(walletID uuid.UUID, conn *websocket.Conn) *Client {
	c := &Client{
		hub:      h,
		conn:     conn,
		walletID: walletID,
		send:     make(chan Message, sendBufferSize),
	}
	h.mu.Lock()
	if h.wallets[walletID] == nil {
		h.wallets[walletID] = make(map[*Client]struct{})
	}
	h.wallets[walletID][c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
	return c
}

func (h *Hub) unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients := h.wallets[c.walletID]; clients != nil {
		if _, ok := clients[c]; ok {
			delete(clients, c)
			close(c.send)
			if len(clients) == 0 {
				delete(h.wallets, c.walletID)
			}
		}
	}
}

// Broadcast sends msg to every device subscribed to the wallet. Slow
// consumers are dropped rather than waited on.
func (h *Hub) Broadcast(walletID uuid.UUID, msg Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.wallets[walletID]))
	for c := range h.wallets[walletID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			log.Warn().Str("walletID", walletID.String()).Msg("Dropping slow websocket subscriber")
			go h.unsubscribe(c)
		}
	}
}

// EventAccepted implements eventstore.Notifier. The message type is the
// entity the event touched, so thin clients can refresh just that view.
func (h *Hub) EventAccepted(walletID uuid.UUID, ev *event.Event) {
	h.Broadcast(walletID, Message{
		Type:     ev.AggregateType,
		WalletID: walletID.String(),
		Data:     ev,
	})
}

// Subscribers returns the number of devices subscribed to the wallet.
func (h *Hub) Subscribers(walletID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.wallets[walletID])
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the socket is server-to-client
// only. It exists to process pongs and observe the close.
func (c *Client) readPump() {
	defer func() {
		c.hub.unsubscribe(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
