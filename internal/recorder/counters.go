package recorder

import (
	"sync"

	"crypto-alerts/internal/model"
)

// CounterStore owns the per-candle trigger counters, keyed by
// (alertID, countTimeframe). It lives outside the alert index so index
// refreshes (which swap in fresh Alert copies) never reset a count
// mid-candle. Bump is called from the evaluator worker that owns the
// alert's symbol, so per-alert access is already serialized; the mutex only
// guards the map shape against concurrent alerts.
type CounterStore struct {
	mu sync.Mutex
	m  map[counterKey]*model.TriggerCounter
}

type counterKey struct {
	alertID string
	tf      model.Timeframe
}

// NewCounterStore creates an empty store.
func NewCounterStore() *CounterStore {
	return &CounterStore{m: make(map[counterKey]*model.TriggerCounter, 256)}
}

// Peek returns the current count for the candle opening at candleOpenMs.
// A stored counter from an earlier candle reads as zero.
func (cs *CounterStore) Peek(alertID string, tf model.Timeframe, candleOpenMs int64) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.m[counterKey{alertID, tf}]
	if !ok || c.LastCandleOpenMs != candleOpenMs {
		return 0
	}
	return c.Count
}

// Bump increments the counter for the candle opening at candleOpenMs and
// returns the new count (the trigger's per-candle seq). Rolling into a new
// candle resets the count to 1.
func (cs *CounterStore) Bump(alertID string, tf model.Timeframe, candleOpenMs, nowMs int64) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	key := counterKey{alertID, tf}
	c, ok := cs.m[key]
	if !ok || c.LastCandleOpenMs != candleOpenMs {
		cs.m[key] = &model.TriggerCounter{
			Count:            1,
			LastCandleOpenMs: candleOpenMs,
			LastResetMs:      nowMs,
		}
		return 1
	}
	c.Count++
	return c.Count
}

// Seed restores one counter from the trigger log during restart
// reconciliation. A zero candleOpenMs seeds nothing.
func (cs *CounterStore) Seed(alertID string, tf model.Timeframe, candleOpenMs int64, count int) {
	if candleOpenMs == 0 || count <= 0 {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.m[counterKey{alertID, tf}] = &model.TriggerCounter{
		Count:            count,
		LastCandleOpenMs: candleOpenMs,
	}
}

// Forget drops the counter for one alert, e.g. after the alert is removed.
func (cs *CounterStore) Forget(alertID string, tf model.Timeframe) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.m, counterKey{alertID, tf})
}

// Len returns the number of live counters.
func (cs *CounterStore) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.m)
}
