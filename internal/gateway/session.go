package gateway

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// Inbound message types.
const (
	MsgSubscribeSymbol   = "subscribe-symbol"
	MsgUnsubscribeSymbol = "unsubscribe-symbol"
	MsgRequestPrices     = "request-prices"
)

// inboundMsg covers every client-to-gateway message.
type inboundMsg struct {
	Type    string   `json:"type"`
	Symbol  string   `json:"symbol,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

// Session is one WebSocket peer. A session subscribed to "*" receives every
// symbol; otherwise only symbols it subscribed explicitly.
type Session struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub

	// Guarded by hub.mu alongside delivery, so wants() and the
	// subscribe handlers never race.
	all     bool
	symbols map[string]bool
}

// wants reports whether the session should receive events for symbol.
// Caller holds hub.mu.
func (s *Session) wants(symbol string) bool {
	return s.all || s.symbols[symbol]
}

func (s *Session) enqueue(payload []byte) {
	select {
	case s.send <- payload:
	default:
	}
}

func (s *Session) readPump() {
	defer func() {
		s.hub.remove(s)
		s.conn.Close()
		log.Printf("[gateway] session %s disconnected", s.id)
	}()

	s.conn.SetReadLimit(4096)
	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg inboundMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch msg.Type {
		case MsgSubscribeSymbol:
			s.handleSubscribe(msg.Symbol)
		case MsgUnsubscribeSymbol:
			s.handleUnsubscribe(msg.Symbol)
		case MsgRequestPrices:
			s.enqueue(envelope("prices", s.hub.snapshot(msg.Symbols)))
		}
	}
}

func (s *Session) handleSubscribe(symbol string) {
	if symbol == "" {
		return
	}
	s.hub.mu.Lock()
	if symbol == "*" {
		s.all = true
	} else {
		s.symbols[symbol] = true
	}
	s.hub.mu.Unlock()
	log.Printf("[gateway] session %s subscribed to %s", s.id, symbol)
}

func (s *Session) handleUnsubscribe(symbol string) {
	s.hub.mu.Lock()
	if symbol == "*" {
		s.all = false
	} else {
		delete(s.symbols, symbol)
	}
	s.hub.mu.Unlock()
	log.Printf("[gateway] session %s unsubscribed from %s", s.id, symbol)
}

func (s *Session) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: batch queued messages into one frame with
			// newline separators.
			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(s.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-s.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
