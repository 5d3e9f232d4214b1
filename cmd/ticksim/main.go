// cmd/ticksim is a demo exchange stream server.
// Speaks just enough of the exchange ticker protocol for the alert engine to
// run against it without exchange connectivity: SUBSCRIBE/UNSUBSCRIBE frames
// are acknowledged and a random-walk 24hrTicker stream is emitted for each
// subscribed symbol.
//
// Config (env vars):
//
//	TICKSIM_ADDR         listen address (default ":9001")
//	TICKSIM_SYMBOLS      comma-separated symbols (default "BTCUSDT,ETHUSDT")
//	TICKSIM_INTERVAL_MS  tick interval milliseconds (default "250")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// tickerMsg mirrors the exchange 24hrTicker payload shape.
type tickerMsg struct {
	EventType      string `json:"e"`
	EventTimeMs    int64  `json:"E"`
	Symbol         string `json:"s"`
	LastPrice      string `json:"c"`
	QuoteVolume    string `json:"q"`
	PriceChangePct string `json:"P"`
}

type subscribeMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	price  float64
	open24 float64 // anchor for the simulated 24h change
	volume float64
}

type hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

// client is one engine connection with its subscribed stream set.
type client struct {
	conn *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	streams map[string]bool // lowercase "<symbol>@ticker"
}

func newHub() *hub {
	return &hub{clients: make(map[*client]bool)}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcast delivers one ticker frame to every client subscribed to its
// stream. Slow clients drop frames.
func (h *hub) broadcast(stream string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.mu.Lock()
		wants := c.streams[stream]
		c.mu.Unlock()
		if !wants {
			continue
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[ticksim] upgrade error: %v", err)
			return
		}
		log.Printf("[ticksim] client connected: %s", r.RemoteAddr)

		c := &client{
			conn:    conn,
			send:    make(chan []byte, 256),
			streams: make(map[string]bool),
		}
		h.register(c)
		defer func() {
			h.unregister(c)
			conn.Close()
			log.Printf("[ticksim] client disconnected: %s", r.RemoteAddr)
		}()

		go writePump(c)
		readPump(c)
	}
}

// readPump handles SUBSCRIBE/UNSUBSCRIBE frames and acks each by id.
func readPump(c *client) {
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return c.conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(raw, &msg) != nil || msg.ID == 0 {
			continue
		}

		c.mu.Lock()
		switch msg.Method {
		case "SUBSCRIBE":
			for _, p := range msg.Params {
				c.streams[strings.ToLower(p)] = true
			}
		case "UNSUBSCRIBE":
			for _, p := range msg.Params {
				delete(c.streams, strings.ToLower(p))
			}
		}
		n := len(c.streams)
		c.mu.Unlock()

		ack, _ := json.Marshal(map[string]interface{}{"result": nil, "id": msg.ID})
		select {
		case c.send <- ack:
		default:
		}
		log.Printf("[ticksim] %s %d streams (total %d)", msg.Method, len(msg.Params), n)
	}
}

func writePump(c *client) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// walk applies a tiny random price move (±0.1%).
func walk(price float64) float64 {
	pct := (rand.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	if next < 0.0001 {
		next = 0.0001
	}
	return next
}

func runGenerator(h *hub, instruments map[string]*instrument, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now().UnixMilli()
		for sym, ins := range instruments {
			ins.price = walk(ins.price)
			ins.volume += ins.price * float64(rand.Intn(5))
			pct := (ins.price - ins.open24) / ins.open24 * 100

			msg := tickerMsg{
				EventType:      "24hrTicker",
				EventTimeMs:    now,
				Symbol:         sym,
				LastPrice:      strconv.FormatFloat(ins.price, 'f', 8, 64),
				QuoteVolume:    strconv.FormatFloat(ins.volume, 'f', 2, 64),
				PriceChangePct: strconv.FormatFloat(pct, 'f', 3, 64),
			}
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			h.broadcast(strings.ToLower(sym)+"@ticker", b)
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[ticksim] starting demo exchange stream...")

	addr := envOrDefault("TICKSIM_ADDR", ":9001")
	symbolsEnv := envOrDefault("TICKSIM_SYMBOLS", "BTCUSDT,ETHUSDT")
	intervalMs := envIntOrDefault("TICKSIM_INTERVAL_MS", 250)

	startPrices := map[string]float64{
		"BTCUSDT": 50000,
		"ETHUSDT": 3000,
		"SOLUSDT": 150,
	}

	instruments := make(map[string]*instrument)
	for _, part := range strings.Split(symbolsEnv, ",") {
		sym := strings.ToUpper(strings.TrimSpace(part))
		if sym == "" {
			continue
		}
		price := startPrices[sym]
		if price == 0 {
			price = 100
		}
		instruments[sym] = &instrument{
			price:  price,
			open24: price,
			volume: 2_000_000,
		}
	}
	if len(instruments) == 0 {
		log.Fatalf("[ticksim] no symbols configured via TICKSIM_SYMBOLS")
	}
	log.Printf("[ticksim] symbols: %v, interval: %dms", symbolsEnv, intervalMs)

	h := newHub()
	go runGenerator(h, instruments, intervalMs)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"ticksim"}`)
	})

	log.Printf("[ticksim] listening on %s (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[ticksim] server error: %v", err)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
