package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/shopbot/backend/internal/logging"
)

// Event is one pipeline notification pushed to dashboards.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// Hub tracks dashboard connections and broadcasts events to all of them.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	upgrader websocket.Upgrader
	log      logging.Logger
}

func NewHub(log logging.Logger) *Hub {
	if log == nil {
		log = logging.Discard()
	}
	return &Hub{
		conns: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  maxReadBytes,
			WriteBufferSize: 4096,
		},
		log: log,
	}
}

// ServeWS upgrades the request and blocks until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(ws)
	h.attach(conn)
	h.log.Info(r.Context(), "dashboard connected", "conn", conn.ID)

	go conn.writeLoop()
	conn.readLoop()

	h.detach(conn)
	conn.Close(websocket.CloseNormalClosure, "bye")
	h.log.Info(context.Background(), "dashboard disconnected", "conn", conn.ID)
}

// Publish broadcasts an event and returns how many connections accepted it.
func (h *Hub) Publish(_ context.Context, eventType string, data any) int {
	payload, err := json.Marshal(Event{Type: eventType, At: time.Now().UTC(), Data: data})
	if err != nil {
		h.log.Error(context.Background(), "encode event failed", "type", eventType, "error", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(payload); err == nil {
			delivered++
		} else {
			h.detach(conn)
		}
	}
	return delivered
}

// Count returns the number of attached dashboards.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every dashboard.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*Connection)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

func (h *Hub) attach(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.mu.Unlock()
}

func (h *Hub) detach(conn *Connection) {
	h.mu.Lock()
	delete(h.conns, conn.ID)
	h.mu.Unlock()
}
