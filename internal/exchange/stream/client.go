// Package stream maintains the upstream exchange WebSocket connections
// subscribed to all active symbols' ticker streams. Symbols are sharded
// deterministically across a fixed pool of connections; each connection
// reconnects independently with exponential backoff and resubscribes its
// last-known set before resuming delivery.
package stream

import (
	"context"
	"hash/fnv"
	"log"
	"sort"
	"sync"
	"time"

	"crypto-alerts/internal/model"
	"crypto-alerts/internal/retry"
)

// Config holds configuration for the stream client pool.
type Config struct {
	// URL is the exchange stream base, e.g. "wss://stream.binance.com:9443".
	URL string

	// Conns is the number of sharded upstream connections (default 1).
	Conns int

	// MaxStreamsPerConn caps the symbols a single connection may carry.
	// Overflow symbols are reported via OnSubscribeRejected (default 200).
	MaxStreamsPerConn int

	// Policy is the reconnect backoff policy (default retry.Reconnect()).
	Policy retry.Policy

	// SubscribeRetries caps the attempts for a subscription the upstream
	// rejects before it is reported and abandoned (default 5).
	SubscribeRetries int

	// IdleProbe is how long without any message before an application-level
	// ping is sent (default 30s). IdleDrop is how much longer without a
	// pong or tick before the connection is forced to reconnect (default 30s).
	IdleProbe time.Duration
	IdleDrop  time.Duration
}

func (c *Config) defaults() {
	if c.Conns <= 0 {
		c.Conns = 1
	}
	if c.MaxStreamsPerConn <= 0 {
		c.MaxStreamsPerConn = 200
	}
	if c.Policy.Base == 0 {
		c.Policy = retry.Reconnect()
	}
	if c.SubscribeRetries <= 0 {
		c.SubscribeRetries = 5
	}
	if c.IdleProbe <= 0 {
		c.IdleProbe = 30 * time.Second
	}
	if c.IdleDrop <= 0 {
		c.IdleDrop = 30 * time.Second
	}
}

// Client is the upstream connection pool. Its only output is the tick
// channel passed to Run; there is no request/response surface.
type Client struct {
	cfg   Config
	conns []*conn

	mu      sync.Mutex
	symbols map[string]bool // desired active universe

	// Metrics/admin hooks (optional).
	OnReconnect         func()
	OnMalformed         func()
	OnSubscribeRejected func(symbol string, reason string)
}

// New creates a stream client pool for the given config.
func New(cfg Config) *Client {
	cfg.defaults()
	c := &Client{
		cfg:     cfg,
		symbols: make(map[string]bool),
	}
	for i := 0; i < cfg.Conns; i++ {
		c.conns = append(c.conns, newConn(i, c))
	}
	return c
}

// shardIndex maps a symbol to its connection: hash(symbol) mod N.
func shardIndex(symbol string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}

// SetSymbols reconciles the desired symbol universe against current
// subscriptions. New symbols are subscribed, missing ones unsubscribed;
// already-subscribed symbols are untouched. Safe to call at any time.
func (c *Client) SetSymbols(symbols []string) {
	c.mu.Lock()
	c.symbols = make(map[string]bool, len(symbols))
	for _, s := range symbols {
		c.symbols[s] = true
	}
	shards := make([][]string, len(c.conns))
	for s := range c.symbols {
		i := shardIndex(s, len(c.conns))
		shards[i] = append(shards[i], s)
	}
	c.mu.Unlock()

	for i, cn := range c.conns {
		sort.Strings(shards[i]) // deterministic subscribe order
		if len(shards[i]) > c.cfg.MaxStreamsPerConn {
			for _, sym := range shards[i][c.cfg.MaxStreamsPerConn:] {
				c.reportRejected(sym, "max streams per connection exceeded")
			}
			shards[i] = shards[i][:c.cfg.MaxStreamsPerConn]
		}
		cn.setDesired(shards[i])
	}
}

// Symbols returns the current desired universe.
func (c *Client) Symbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Run starts every pooled connection and blocks until ctx is cancelled.
// Ticks are delivered to tickCh; when it is full the tick is dropped
// (only the latest price per symbol matters downstream).
func (c *Client) Run(ctx context.Context, tickCh chan<- model.PriceTick) {
	var wg sync.WaitGroup
	for _, cn := range c.conns {
		wg.Add(1)
		go func(cn *conn) {
			defer wg.Done()
			cn.run(ctx, tickCh)
		}(cn)
	}
	wg.Wait()
	log.Printf("[stream] all %d connections stopped", len(c.conns))
}

func (c *Client) reportRejected(symbol, reason string) {
	log.Printf("[stream] subscription rejected: symbol=%s reason=%s", symbol, reason)
	if c.OnSubscribeRejected != nil {
		c.OnSubscribeRejected(symbol, reason)
	}
}
