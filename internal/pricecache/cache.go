// Package pricecache holds the latest PriceTick per symbol. Writes are
// monotonic by event time: a tick older than the stored one is dropped.
// Reads go through an atomic pointer per symbol, so the evaluator hot path
// never takes a lock for Get.
package pricecache

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"

	"crypto-alerts/internal/model"
)

const shardCount = 32

// Mirror receives every accepted tick for the shared cross-process cache
// (price:{symbol} key + prices pub/sub topic). Implemented by store/redis.
type Mirror interface {
	MirrorTick(ctx context.Context, tick model.PriceTick)
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*atomic.Pointer[model.PriceTick]
}

// Cache is a sharded concurrent mapping symbol → latest PriceTick.
type Cache struct {
	shards [shardCount]shard

	// OnStale is called when a tick is dropped for being older than the
	// stored one (optional, for metrics).
	OnStale func()
}

// New creates an empty Cache.
func New() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i].m = make(map[string]*atomic.Pointer[model.PriceTick], 64)
	}
	return c
}

func shardFor(symbol string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return h.Sum32() % shardCount
}

// Put inserts or replaces the tick for its symbol. Returns false when the
// tick is older than the stored one (monotonic by EventTimeMs).
func (c *Cache) Put(tick model.PriceTick) bool {
	sh := &c.shards[shardFor(tick.Symbol)]

	sh.mu.RLock()
	ptr, ok := sh.m[tick.Symbol]
	sh.mu.RUnlock()

	if !ok {
		sh.mu.Lock()
		ptr, ok = sh.m[tick.Symbol]
		if !ok {
			ptr = &atomic.Pointer[model.PriceTick]{}
			sh.m[tick.Symbol] = ptr
		}
		sh.mu.Unlock()
	}

	for {
		cur := ptr.Load()
		if cur != nil && cur.EventTimeMs >= tick.EventTimeMs {
			if c.OnStale != nil {
				c.OnStale()
			}
			return false
		}
		t := tick
		if ptr.CompareAndSwap(cur, &t) {
			return true
		}
	}
}

// Get returns the last observed tick for symbol, or false if none.
func (c *Cache) Get(symbol string) (model.PriceTick, bool) {
	sh := &c.shards[shardFor(symbol)]
	sh.mu.RLock()
	ptr, ok := sh.m[symbol]
	sh.mu.RUnlock()
	if !ok {
		return model.PriceTick{}, false
	}
	cur := ptr.Load()
	if cur == nil {
		return model.PriceTick{}, false
	}
	return *cur, true
}

// Evict removes every symbol not present in keep. Called by the supervisor
// when the active universe shrinks; entries never expire on their own.
func (c *Cache) Evict(keep map[string]bool) int {
	evicted := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		for sym := range sh.m {
			if !keep[sym] {
				delete(sh.m, sym)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	if evicted > 0 {
		log.Printf("[pricecache] evicted %d symbols outside active universe", evicted)
	}
	return evicted
}

// Len returns the number of cached symbols.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}

// Run consumes ticks from tickCh, stores each accepted tick, mirrors it to
// the shared cache, and forwards it to outCh for the in-process prices
// fan-out. Stale ticks are neither mirrored nor forwarded.
// Blocks until ctx is cancelled or tickCh is closed.
func (c *Cache) Run(ctx context.Context, tickCh <-chan model.PriceTick, outCh chan<- model.PriceTick, mirror Mirror) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-tickCh:
			if !ok {
				return
			}
			if !c.Put(tick) {
				continue
			}
			if mirror != nil {
				mirror.MirrorTick(ctx, tick)
			}
			select {
			case outCh <- tick:
			default:
				log.Printf("[pricecache] prices fan-out input full, dropping tick %s", tick.Symbol)
			}
		}
	}
}
