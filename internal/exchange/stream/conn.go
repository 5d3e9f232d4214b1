package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"crypto-alerts/internal/model"

	"github.com/gorilla/websocket"
)

// subscribeBatch is the max streams sent in one SUBSCRIBE frame.
const subscribeBatch = 50

// subscribeMsg is the exchange stream-management frame.
type subscribeMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// pendingSub tracks an outstanding SUBSCRIBE awaiting acknowledgement, so a
// rejection can be retried a capped number of times.
type pendingSub struct {
	symbols  []string
	attempts int
}

// conn is one sharded upstream connection. It owns its desired symbol set
// and reconnects independently of its siblings.
type conn struct {
	idx    int
	client *Client

	mu      sync.Mutex
	desired []string
	current map[string]bool // subscribed on the live socket
	dirty   bool            // desired changed since last reconcile

	nextID  int64
	pending map[int64]*pendingSub

	writeMu sync.Mutex
	ws      *websocket.Conn

	lastRead atomic.Int64 // unix nanos of the last inbound message or pong
}

func newConn(idx int, client *Client) *conn {
	return &conn{
		idx:     idx,
		client:  client,
		current: make(map[string]bool),
		pending: make(map[int64]*pendingSub),
	}
}

// setDesired replaces this connection's desired symbol set. The live socket
// is reconciled from the read loop (or on the next reconnect).
func (cn *conn) setDesired(symbols []string) {
	cn.mu.Lock()
	cn.desired = symbols
	cn.dirty = true
	cn.mu.Unlock()
}

// run dials, subscribes and reads until ctx is cancelled, reconnecting with
// the injected backoff policy. Retries forever: upstream disconnects are
// never fatal.
func (cn *conn) run(ctx context.Context, tickCh chan<- model.PriceTick) {
	policy := cn.client.cfg.Policy
	for {
		err := policy.Notify(ctx,
			func() error { return cn.runOnce(ctx, tickCh) },
			func(err error, next time.Duration) {
				log.Printf("[stream] conn %d disconnected (%v), reconnecting in %s", cn.idx, err, next)
				if cn.client.OnReconnect != nil {
					cn.client.OnReconnect()
				}
			})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// runOnce only returns nil on clean shutdown
			return
		}
	}
}

// runOnce makes a single connection attempt: dial, resubscribe the full
// desired set atomically, then read until disconnect or ctx cancel.
func (cn *conn) runOnce(ctx context.Context, tickCh chan<- model.PriceTick) error {
	url := strings.TrimRight(cn.client.cfg.URL, "/") + "/ws"
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer ws.Close()

	cn.mu.Lock()
	cn.current = make(map[string]bool)
	cn.pending = make(map[int64]*pendingSub)
	cn.dirty = true
	cn.mu.Unlock()

	cn.writeMu.Lock()
	cn.ws = ws
	cn.writeMu.Unlock()

	log.Printf("[stream] conn %d connected to %s", cn.idx, url)

	idleDrop := cn.client.cfg.IdleProbe + cn.client.cfg.IdleDrop
	cn.markRead()
	ws.SetReadDeadline(time.Now().Add(idleDrop))
	ws.SetPongHandler(func(string) error {
		cn.markRead()
		ws.SetReadDeadline(time.Now().Add(idleDrop))
		return nil
	})

	// Ping after IdleProbe without traffic; the read deadline drops the
	// connection after a further IdleDrop without pong or tick.
	stopPing := make(chan struct{})
	defer close(stopPing)
	go cn.pingLoop(ctx, ws, stopPing)

	// Context watcher closes the socket so ReadMessage unblocks.
	go func() {
		select {
		case <-ctx.Done():
			cn.writeConn(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			ws.Close()
		case <-stopPing:
		}
	}()

	if err := cn.reconcile(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		cn.markRead()
		ws.SetReadDeadline(time.Now().Add(idleDrop))

		cn.handleFrame(raw, tickCh)

		// Apply any subscription changes that arrived while reading.
		cn.mu.Lock()
		dirty := cn.dirty
		cn.mu.Unlock()
		if dirty {
			if err := cn.reconcile(); err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
		}
	}
}

func (cn *conn) handleFrame(raw []byte, tickCh chan<- model.PriceTick) {
	if ctl, ok := isControlFrame(raw); ok {
		cn.handleControl(ctl)
		return
	}

	tick, err := parseTick(raw)
	if err != nil {
		log.Printf("[stream] conn %d malformed frame: %v", cn.idx, err)
		if cn.client.OnMalformed != nil {
			cn.client.OnMalformed()
		}
		return
	}

	select {
	case tickCh <- tick:
	default:
		// Pipeline input full; drop, only the latest price matters.
	}
}

// handleControl resolves a pending SUBSCRIBE: success clears it, rejection
// retries up to the cap then reports each symbol to the admin surface.
func (cn *conn) handleControl(ctl controlFrame) {
	cn.mu.Lock()
	sub, ok := cn.pending[ctl.ID]
	if ok {
		delete(cn.pending, ctl.ID)
	}
	cn.mu.Unlock()
	if !ok {
		return
	}

	if ctl.Error == nil {
		return // acknowledged
	}

	sub.attempts++
	if sub.attempts >= cn.client.cfg.SubscribeRetries {
		for _, sym := range sub.symbols {
			cn.client.reportRejected(sym, ctl.Error.String())
			cn.mu.Lock()
			delete(cn.current, sym)
			cn.mu.Unlock()
		}
		return
	}

	log.Printf("[stream] conn %d subscribe rejected (%s), retry %d/%d",
		cn.idx, ctl.Error, sub.attempts, cn.client.cfg.SubscribeRetries)
	if err := cn.sendSubscribe("SUBSCRIBE", sub.symbols, sub); err != nil {
		log.Printf("[stream] conn %d subscribe retry failed: %v", cn.idx, err)
	}
}

// reconcile diffs desired against current subscriptions and sends the
// necessary SUBSCRIBE/UNSUBSCRIBE frames in batches.
func (cn *conn) reconcile() error {
	cn.mu.Lock()
	cn.dirty = false
	desired := make(map[string]bool, len(cn.desired))
	for _, s := range cn.desired {
		desired[s] = true
	}
	var add, remove []string
	for s := range desired {
		if !cn.current[s] {
			add = append(add, s)
		}
	}
	for s := range cn.current {
		if !desired[s] {
			remove = append(remove, s)
		}
	}
	for _, s := range add {
		cn.current[s] = true
	}
	for _, s := range remove {
		delete(cn.current, s)
	}
	cn.mu.Unlock()

	for start := 0; start < len(add); start += subscribeBatch {
		end := start + subscribeBatch
		if end > len(add) {
			end = len(add)
		}
		if err := cn.sendSubscribe("SUBSCRIBE", add[start:end], &pendingSub{symbols: add[start:end]}); err != nil {
			return err
		}
	}
	for start := 0; start < len(remove); start += subscribeBatch {
		end := start + subscribeBatch
		if end > len(remove) {
			end = len(remove)
		}
		if err := cn.sendSubscribe("UNSUBSCRIBE", remove[start:end], nil); err != nil {
			return err
		}
	}

	if len(add) > 0 || len(remove) > 0 {
		log.Printf("[stream] conn %d reconciled subscriptions: +%d -%d (total %d)",
			cn.idx, len(add), len(remove), len(desired))
	}
	return nil
}

func (cn *conn) sendSubscribe(method string, symbols []string, track *pendingSub) error {
	params := make([]string, len(symbols))
	for i, s := range symbols {
		params[i] = strings.ToLower(s) + "@ticker"
	}

	cn.mu.Lock()
	cn.nextID++
	id := cn.nextID
	if track != nil {
		cn.pending[id] = track
	}
	cn.mu.Unlock()

	payload, _ := json.Marshal(subscribeMsg{Method: method, Params: params, ID: id})
	return cn.writeConn(websocket.TextMessage, payload)
}

func (cn *conn) writeConn(messageType int, payload []byte) error {
	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()
	if cn.ws == nil {
		return fmt.Errorf("conn %d: not connected", cn.idx)
	}
	cn.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return cn.ws.WriteMessage(messageType, payload)
}

func (cn *conn) pingLoop(ctx context.Context, ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(cn.client.cfg.IdleProbe)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			// Only probe a quiet connection; a flowing tick stream is its
			// own liveness signal.
			if cn.idleFor() < cn.client.cfg.IdleProbe {
				continue
			}
			if err := cn.writeConn(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (cn *conn) markRead() {
	cn.lastRead.Store(time.Now().UnixNano())
}

// idleFor reports how long the connection has gone without inbound traffic.
func (cn *conn) idleFor() time.Duration {
	return time.Duration(time.Now().UnixNano() - cn.lastRead.Load())
}
