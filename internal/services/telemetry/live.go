package telemetry

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smart-greenhouse/telemetry/internal/model"
)

// liveUpdate is the wire shape pushed to dashboard websocket clients.
type liveUpdate struct {
	Sensor string  `json:"sensor"`
	Ts     int64   `json:"ts"`
	Value  float64 `json:"value"`
}

// LiveHub fans accepted readings out to websocket subscribers. Publishing
// is non-blocking: when the hub's buffer is full the update is dropped,
// the dashboard only ever wants the freshest values.
type LiveHub struct {
	mu      sync.RWMutex
	conns   map[*websocket.Conn]struct{}
	updates chan liveUpdate

	upgrader websocket.Upgrader
}

func NewLiveHub() *LiveHub {
	return &LiveHub{
		conns:   make(map[*websocket.Conn]struct{}),
		updates: make(chan liveUpdate, 256),
		upgrader: websocket.Upgrader{
			// The dashboard is served from elsewhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// PublishReading queues a reading for broadcast without ever blocking the
// ingestion path.
func (h *LiveHub) PublishReading(r model.Reading) {
	select {
	case h.updates <- liveUpdate{Sensor: r.Sensor.String(), Ts: r.Timestamp.UnixMilli(), Value: r.Value}:
	default:
	}
}

// Run broadcasts queued updates until ctx is cancelled.
func (h *LiveHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case u := <-h.updates:
			h.broadcast(u)
		}
	}
}

func (h *LiveHub) broadcast(u liveUpdate) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := c.WriteJSON(u); err != nil {
			h.remove(c)
		}
	}
}

func (h *LiveHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		_ = c.Close()
		delete(h.conns, c)
	}
}

func (h *LiveHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		_ = c.Close()
	}
	h.conns = make(map[*websocket.Conn]struct{})
}

// ServeHTTP upgrades the connection and registers it with the hub. Clients
// are write-only; the read loop exists to notice disconnects.
func (h *LiveHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("live: upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(conn)
				return
			}
		}
	}()
}
