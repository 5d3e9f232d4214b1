package pricecache

import (
	"context"
	"sync"
	"testing"

	"crypto-alerts/internal/model"
)

func TestPutGet(t *testing.T) {
	c := New()

	if _, ok := c.Get("BTCUSDT"); ok {
		t.Error("empty cache should miss")
	}

	if !c.Put(model.PriceTick{Symbol: "BTCUSDT", Price: 50000, EventTimeMs: 100}) {
		t.Fatal("first put should be accepted")
	}
	got, ok := c.Get("BTCUSDT")
	if !ok || got.Price != 50000 {
		t.Errorf("got %+v ok=%v", got, ok)
	}
}

func TestPut_MonotonicByEventTime(t *testing.T) {
	c := New()
	stale := 0
	c.OnStale = func() { stale++ }

	c.Put(model.PriceTick{Symbol: "BTCUSDT", Price: 50000, EventTimeMs: 200})

	if c.Put(model.PriceTick{Symbol: "BTCUSDT", Price: 49000, EventTimeMs: 100}) {
		t.Error("older tick should be rejected")
	}
	if c.Put(model.PriceTick{Symbol: "BTCUSDT", Price: 49500, EventTimeMs: 200}) {
		t.Error("equal-time tick should be rejected")
	}
	if stale != 2 {
		t.Errorf("OnStale called %d times, want 2", stale)
	}

	got, _ := c.Get("BTCUSDT")
	if got.Price != 50000 || got.EventTimeMs != 200 {
		t.Errorf("stored tick mutated: %+v", got)
	}

	if !c.Put(model.PriceTick{Symbol: "BTCUSDT", Price: 50100, EventTimeMs: 300}) {
		t.Error("newer tick should be accepted")
	}
}

func TestEvict(t *testing.T) {
	c := New()
	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		c.Put(model.PriceTick{Symbol: sym, Price: 1, EventTimeMs: 1})
	}

	n := c.Evict(map[string]bool{"BTCUSDT": true})
	if n != 2 {
		t.Errorf("evicted %d, want 2", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if _, ok := c.Get("ETHUSDT"); ok {
		t.Error("evicted symbol still present")
	}
	if _, ok := c.Get("BTCUSDT"); !ok {
		t.Error("kept symbol missing")
	}
}

func TestPut_ConcurrentSameSymbol(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.Put(model.PriceTick{Symbol: "BTCUSDT", Price: float64(i), EventTimeMs: int64(i)})
			}
		}(g)
	}
	wg.Wait()

	got, ok := c.Get("BTCUSDT")
	if !ok || got.EventTimeMs != 999 {
		t.Errorf("final tick %+v ok=%v, want EventTimeMs=999", got, ok)
	}
}

type recordingMirror struct {
	mu    sync.Mutex
	ticks []model.PriceTick
}

func (m *recordingMirror) MirrorTick(_ context.Context, tick model.PriceTick) {
	m.mu.Lock()
	m.ticks = append(m.ticks, tick)
	m.mu.Unlock()
}

func TestRun_MirrorsAndForwardsAcceptedOnly(t *testing.T) {
	c := New()
	mirror := &recordingMirror{}

	in := make(chan model.PriceTick, 4)
	out := make(chan model.PriceTick, 4)

	in <- model.PriceTick{Symbol: "BTCUSDT", Price: 50000, EventTimeMs: 200}
	in <- model.PriceTick{Symbol: "BTCUSDT", Price: 49000, EventTimeMs: 100} // stale
	close(in)

	c.Run(context.Background(), in, out, mirror)

	if len(mirror.ticks) != 1 || mirror.ticks[0].EventTimeMs != 200 {
		t.Errorf("mirrored %+v, want only the fresh tick", mirror.ticks)
	}
	if len(out) != 1 {
		t.Errorf("forwarded %d ticks, want 1", len(out))
	}
}
