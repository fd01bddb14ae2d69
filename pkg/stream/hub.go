// Package stream pushes provisioning status to terminal frontends over
// WebSocket, so the UI renders phase changes without polling.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BadGenius22/rekon/pkg/provision"
)

// EventType is the kind of streamed event.
type EventType string

const (
	EventTypeStatus    EventType = "status"
	EventTypePhase     EventType = "phase"
	EventTypeError     EventType = "error"
	EventTypeHeartbeat EventType = "heartbeat"
)

// Event is a single message sent to clients.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Hub fans provisioning events out to connected WebSocket clients. A newly
// connected client immediately receives the latest status snapshot, so the
// frontend never starts from a blank state.
type Hub struct {
	log        *zap.Logger
	clients    map[*client]bool
	broadcast  chan Event
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex

	lastStatus *provision.Snapshot

	upgrader websocket.Upgrader
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a streaming hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:        log,
		clients:    make(map[*client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run drives the hub event loop until the broadcast channel is drained and
// the process exits. It is expected to run as a goroutine for the process
// lifetime.
func (h *Hub) Run() {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			last := h.lastStatus
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("stream client connected", zap.Int("clients", n))

			if last != nil {
				if data, err := json.Marshal(Event{
					Type:      EventTypeStatus,
					Timestamp: time.Now(),
					Data:      last,
				}); err == nil {
					select {
					case c.send <- data:
					default:
					}
				}
			}

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("stream client disconnected", zap.Int("clients", n))

		case event := <-h.broadcast:
			h.fanOut(event)

		case <-heartbeat.C:
			h.Broadcast(Event{
				Type: EventTypeHeartbeat,
				Data: map[string]interface{}{"clients": h.ClientCount()},
			})
		}
	}
}

func (h *Hub) fanOut(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("stream event marshal failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow consumer; drop the connection rather than the event loop.
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// Broadcast queues an event for all connected clients. A full queue drops
// the event; status is re-sent on every change so no client stays stale.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("stream broadcast queue full, dropping event",
			zap.String("type", string(event.Type)))
	}
}

// BroadcastStatus publishes a provisioning snapshot. The snapshot is also
// retained for replay to clients that connect later.
func (h *Hub) BroadcastStatus(snap provision.Snapshot) {
	h.mu.Lock()
	h.lastStatus = &snap
	h.mu.Unlock()

	h.Broadcast(Event{Type: EventTypeStatus, Data: snap})
	if snap.Phase == provision.PhaseError && snap.Error != "" {
		h.Broadcast(Event{
			Type: EventTypeError,
			Data: map[string]interface{}{
				"error": snap.Error,
				"kind":  snap.ErrorKind,
				"phase": snap.ErrorPhase,
			},
		})
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request into a streaming connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump discards client messages, acting only on close and pong frames.
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
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
