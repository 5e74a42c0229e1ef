// Package feed pushes deal and transaction updates to WebSocket
// subscribers. It is a fan-out layer only: slow or dead clients are
// dropped, never waited on, so lifecycle operations stay unblocked.
package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcboost/stimulus-engine/internal/metrics"
	"github.com/arcboost/stimulus-engine/internal/model"
)

// Event is a JSON message sent to feed subscribers.
type Event struct {
	Type        string                  `json:"type"` // "deal_updated" or "transaction_recorded"
	Deal        *model.Deal             `json:"deal,omitempty"`
	Transaction *model.TransactionEvent `json:"transaction,omitempty"`
	TS          time.Time               `json:"ts"`
}

// Hub manages WebSocket connections and broadcasts events to all
// subscribers. All writes to a connection, pings included, happen on the
// Run goroutine: a websocket connection supports at most one concurrent
// writer.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	pingEvery  time.Duration
	mu         sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		pingEvery:  30 * time.Second,
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	// Pings keep connections alive through proxies; sending them here
	// keeps the Run goroutine the sole writer on every connection.
	ping := time.NewTicker(h.pingEvery)
	defer ping.Stop()
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.FeedClients.Set(float64(total))
			slog.Info("feed client connected", "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.FeedClients.Set(float64(total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			metrics.FeedClients.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case <-ping.C:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			metrics.FeedClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an event to all subscribers. Never blocks: the event
// is dropped when the buffer is full.
func (h *Hub) Broadcast(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// DealUpdated pushes a deal state change to subscribers.
func (h *Hub) DealUpdated(d *model.Deal) {
	h.Broadcast(Event{Type: "deal_updated", Deal: d})
}

// TransactionRecorded pushes a newly recorded transfer to subscribers.
func (h *Hub) TransactionRecorded(e *model.TransactionEvent) {
	h.Broadcast(Event{Type: "transaction_recorded", Transaction: e})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/mon/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	// Read pump: keep connection alive and detect disconnects. Writes,
	// pings included, are the Run loop's alone.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
