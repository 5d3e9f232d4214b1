// Package candles caches the currently-forming candle per (symbol,
// timeframe). A cache entry lives until its close time passes; at most one
// upstream fetch is in flight per (symbol, timeframe, openTime) and
// concurrent callers share the result.
package candles

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"crypto-alerts/internal/model"

	"golang.org/x/sync/singleflight"
)

// Source fetches the currently-forming candle from the exchange.
// Implemented by exchange/rest.Client.
type Source interface {
	CurrentKline(ctx context.Context, symbol string, tf model.Timeframe) (*model.Candle, error)
}

// Clock returns the current time; injected for tests.
type Clock func() time.Time

// Fetcher serves CurrentCandle lookups from cache, refreshing from the
// Source when the cached candle has closed.
type Fetcher struct {
	source Source
	clock  Clock

	mu    sync.RWMutex
	cache map[string]*model.Candle // key = symbol + "|" + tf

	group singleflight.Group

	// FetchTimeout bounds one upstream fetch (default 5s).
	FetchTimeout time.Duration

	// OnFetchError is called when an upstream fetch fails (optional).
	OnFetchError func()
}

// New creates a Fetcher over the given source.
func New(source Source, clock Clock) *Fetcher {
	if clock == nil {
		clock = time.Now
	}
	return &Fetcher{
		source:       source,
		clock:        clock,
		cache:        make(map[string]*model.Candle, 256),
		FetchTimeout: 5 * time.Second,
	}
}

func cacheKey(symbol string, tf model.Timeframe) string {
	return symbol + "|" + string(tf)
}

// CurrentCandle returns the currently-forming candle for (symbol, tf), or an
// error when the upstream fetch fails. Callers treat an error as "unknown"
// and fall back to the alert's base price.
func (f *Fetcher) CurrentCandle(ctx context.Context, symbol string, tf model.Timeframe) (*model.Candle, error) {
	nowMs := f.clock().UnixMilli()
	if c := f.cached(symbol, tf, nowMs); c != nil {
		return c, nil
	}

	// Single-flight key pins the exact candle identity: a new openTime is a
	// different fetch even for the same (symbol, tf).
	openMs := tf.AlignMs(nowMs)
	key := fmt.Sprintf("%s|%s|%d", symbol, tf, openMs)

	v, err, _ := f.group.Do(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, f.FetchTimeout)
		defer cancel()

		c, err := f.source.CurrentKline(fetchCtx, symbol, tf)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.cache[cacheKey(symbol, tf)] = c
		f.mu.Unlock()
		return c, nil
	})
	if err != nil {
		if f.OnFetchError != nil {
			f.OnFetchError()
		}
		return nil, fmt.Errorf("candles: fetch %s %s: %w", symbol, tf, err)
	}
	return v.(*model.Candle), nil
}

// Peek returns the cached forming candle without blocking. When the entry is
// missing or has closed it returns nil and starts an async refresh, so a
// later evaluation finds it populated. The evaluator hot path uses this:
// it never waits on I/O during a tick.
func (f *Fetcher) Peek(ctx context.Context, symbol string, tf model.Timeframe) *model.Candle {
	nowMs := f.clock().UnixMilli()
	if c := f.cached(symbol, tf, nowMs); c != nil {
		return c
	}

	go func() {
		if _, err := f.CurrentCandle(ctx, symbol, tf); err != nil {
			log.Printf("[candles] async refresh failed: %v", err)
		}
	}()
	return nil
}

// cached returns the cache entry if it is still the forming candle as of
// nowMs; closed entries are discarded.
func (f *Fetcher) cached(symbol string, tf model.Timeframe, nowMs int64) *model.Candle {
	key := cacheKey(symbol, tf)

	f.mu.RLock()
	c, ok := f.cache[key]
	f.mu.RUnlock()
	if !ok {
		return nil
	}
	if c.ClosedAt(nowMs) {
		f.mu.Lock()
		if cur, ok := f.cache[key]; ok && cur == c {
			delete(f.cache, key)
		}
		f.mu.Unlock()
		return nil
	}
	return c
}

// Len returns the number of cached forming candles.
func (f *Fetcher) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.cache)
}
