package evaluate

import (
	"context"
	"log"
	"sync"
	"time"
)

// VolumeSource fetches the 24h quote volume for one symbol. Implemented by
// exchange/rest.Client.
type VolumeSource interface {
	QuoteVolume24h(ctx context.Context, symbol string) (float64, error)
}

// volumeEntry is one cached side-channel reading.
type volumeEntry struct {
	volume    float64
	known     bool
	fetchedAt time.Time
	inflight  bool
}

// VolumeCache is the 24h-volume side-channel for ticks that carry no volume
// field. Readings are refreshed at most once per refresh interval per
// symbol, and refreshes run off the evaluation path: a miss reads as
// "unknown" until the async fetch lands.
type VolumeCache struct {
	source  VolumeSource
	refresh time.Duration
	clock   func() time.Time

	mu sync.Mutex
	m  map[string]*volumeEntry
}

// NewVolumeCache creates a side-channel over source. refresh defaults to 5s.
func NewVolumeCache(source VolumeSource, refresh time.Duration) *VolumeCache {
	if refresh <= 0 {
		refresh = 5 * time.Second
	}
	return &VolumeCache{
		source:  source,
		refresh: refresh,
		clock:   time.Now,
		m:       make(map[string]*volumeEntry, 128),
	}
}

// Volume returns the cached 24h quote volume for symbol. known is false when
// no reading has landed yet; a stale or missing entry starts an async
// refresh, throttled to one fetch per refresh interval.
func (vc *VolumeCache) Volume(ctx context.Context, symbol string) (volume float64, known bool) {
	now := vc.clock()

	vc.mu.Lock()
	e, ok := vc.m[symbol]
	if !ok {
		e = &volumeEntry{}
		vc.m[symbol] = e
	}
	volume, known = e.volume, e.known
	needsFetch := !e.inflight && now.Sub(e.fetchedAt) >= vc.refresh
	if needsFetch {
		e.inflight = true
	}
	vc.mu.Unlock()

	if needsFetch {
		go vc.fetch(ctx, symbol)
	}
	return volume, known
}

func (vc *VolumeCache) fetch(ctx context.Context, symbol string) {
	v, err := vc.source.QuoteVolume24h(ctx, symbol)

	vc.mu.Lock()
	defer vc.mu.Unlock()
	e := vc.m[symbol]
	e.inflight = false
	e.fetchedAt = vc.clock()
	if err != nil {
		log.Printf("[evaluate] volume side-channel fetch %s failed: %v", symbol, err)
		return
	}
	e.volume = v
	e.known = true
}

// Seed stores a reading directly, used in tests and when a tick carries
// volume (keeping the side-channel warm for volume-less ticks that follow).
func (vc *VolumeCache) Seed(symbol string, volume float64) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.m[symbol] = &volumeEntry{volume: volume, known: true, fetchedAt: vc.clock()}
}
