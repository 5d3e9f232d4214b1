// Package gateway is the client-facing WebSocket surface: it fans price
// updates and triggered alerts out to browser sessions, filtered by each
// session's subscribed symbols.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"crypto-alerts/internal/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The gateway fronts a public dashboard; origin policy is enforced at
	// the proxy layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub manages WebSocket sessions and event fan-out.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]bool
	latest   map[string]model.PriceTick // last price per symbol for request-prices
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[*Session]bool),
		latest:   make(map[string]model.PriceTick, 256),
	}
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// HandleWS upgrades the HTTP connection and registers a session.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}

	s := &Session{
		id:      uuid.NewString(),
		userID:  r.URL.Query().Get("userId"),
		conn:    conn,
		send:    make(chan []byte, 256),
		hub:     h,
		symbols: make(map[string]bool),
	}

	h.mu.Lock()
	h.sessions[s] = true
	count := len(h.sessions)
	h.mu.Unlock()

	log.Printf("[gateway] session %s connected (%d total)", s.id, count)

	s.enqueue(envelope("connection-success", map[string]interface{}{
		"clientId": s.id,
	}))

	go s.writePump()
	go s.readPump()
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	if ok {
		delete(h.sessions, s)
	}
	h.mu.Unlock()
	if ok {
		close(s.send)
	}
}

// Run consumes ticks and triggers until ctx is cancelled, delivering each to
// every session whose subscription matches the symbol.
func (h *Hub) Run(ctx context.Context, tickCh <-chan model.PriceTick, triggerCh <-chan *model.TriggeredAlert) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-tickCh:
			if !ok {
				return
			}
			h.mu.Lock()
			h.latest[tick.Symbol] = tick
			h.mu.Unlock()
			h.deliver(tick.Symbol, envelope("price-update", tick))
		case ev, ok := <-triggerCh:
			if !ok {
				return
			}
			h.deliver(ev.Symbol, envelope("triggered-alert", ev))
		}
	}
}

// deliver sends one payload to matching sessions. A session whose send
// buffer is full skips the message; slow readers must not stall the hub.
func (h *Hub) deliver(symbol string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if !s.wants(symbol) {
			continue
		}
		select {
		case s.send <- payload:
		default:
		}
	}
}

// snapshot returns the latest ticks for the requested symbols, or all of
// them when symbols is empty.
func (h *Hub) snapshot(symbols []string) map[string]model.PriceTick {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]model.PriceTick, len(h.latest))
	if len(symbols) == 0 {
		for sym, tick := range h.latest {
			out[sym] = tick
		}
		return out
	}
	for _, sym := range symbols {
		if tick, ok := h.latest[sym]; ok {
			out[sym] = tick
		}
	}
	return out
}

func envelope(msgType string, data interface{}) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"type": msgType,
		"data": data,
	})
	return b
}
