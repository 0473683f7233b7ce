// Package wsfeed is the operator-facing live feed (§12 supplemented
// feature): a websocket broadcast of queue dispatch, call lifecycle, and
// notification events, adapted from apicall's internal/websocket/hub.go.
// Unlike the original's process-wide singleton, Hub is constructed and
// injected so tests can run multiple isolated instances.
package wsfeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventType enumerates the feed's event taxonomy.
type EventType string

const (
	EventCallDispatched EventType = "call_dispatched"
	EventCallLifecycle  EventType = "call_lifecycle"
	EventCallCompleted  EventType = "call_completed"
	EventQueueStats     EventType = "queue_stats"
	EventNotification   EventType = "notification"
)

// Message is one broadcast envelope.
type Message struct {
	Type      EventType   `json:"type"`
	TenantID  int64       `json:"tenant_id,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains active websocket connections and fans out Messages,
// filtering by each client's subscribed tenant topics.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan Message
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

// New constructs a Hub. Call Run in a goroutine to start it.
func New() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run drives the hub's event loop until ctx-style shutdown is handled by
// the caller closing its process; Hub has no internal stop signal since it
// lives for the server's lifetime.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			log.Debug().Int("clients", len(h.clients)).Msg("wsfeed client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.subscribes(msg.TenantID) {
					continue
				}
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast publishes an event. tenantID of 0 reaches every subscriber
// regardless of their tenant topic.
func (h *Hub) Broadcast(eventType EventType, tenantID int64, data interface{}) {
	h.broadcast <- Message{Type: eventType, TenantID: tenantID, Data: data, Timestamp: time.Now()}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// client represents one websocket connection and its tenant subscriptions.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message
	mu     sync.RWMutex
	topics map[int64]bool // 0 means "all tenants"
}

func (c *client) subscribes(tenantID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return tenantID == 0 || c.topics[0] || c.topics[tenantID]
}

// HandleWebSocket upgrades an HTTP request to a websocket feed connection,
// subscribed to "all" (topic 0). A subscribe message adds a tenant topic
// without removing "all"; the feed narrows only once the client unsubscribes
// from tenant 0.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("wsfeed upgrade failed")
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan Message, 256), topics: map[int64]bool{0: true}}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var sub struct {
			Action   string `json:"action"`
			TenantID int64  `json:"tenant_id"`
		}
		if json.Unmarshal(message, &sub) != nil {
			continue
		}

		c.mu.Lock()
		switch sub.Action {
		case "subscribe":
			c.topics[sub.TenantID] = true
		case "unsubscribe":
			delete(c.topics, sub.TenantID)
		}
		c.mu.Unlock()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
