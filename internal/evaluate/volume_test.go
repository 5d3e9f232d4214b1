package evaluate

import (
	"context"
	"sync"
	"testing"
	"time"
)

type countingVolumeSource struct {
	mu    sync.Mutex
	calls int
	v     float64
}

func (s *countingVolumeSource) QuoteVolume24h(context.Context, string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.v, nil
}

func (s *countingVolumeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestVolumeCache_ColdMissThenWarm(t *testing.T) {
	src := &countingVolumeSource{v: 3_000_000}
	vc := NewVolumeCache(src, 10*time.Millisecond)

	_, known := vc.Volume(context.Background(), "BTCUSDT")
	if known {
		t.Error("cold read should be unknown")
	}

	deadline := time.After(time.Second)
	for {
		v, known := vc.Volume(context.Background(), "BTCUSDT")
		if known {
			if v != 3_000_000 {
				t.Errorf("volume %v, want 3000000", v)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("async fetch never landed")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestVolumeCache_ThrottlesFetches(t *testing.T) {
	src := &countingVolumeSource{v: 1}
	vc := NewVolumeCache(src, time.Hour)

	for i := 0; i < 50; i++ {
		vc.Volume(context.Background(), "BTCUSDT")
	}
	time.Sleep(20 * time.Millisecond)

	if n := src.callCount(); n != 1 {
		t.Errorf("source called %d times inside one refresh window, want 1", n)
	}
}

func TestVolumeCache_Seed(t *testing.T) {
	vc := NewVolumeCache(&countingVolumeSource{}, time.Hour)
	vc.Seed("ETHUSDT", 42)

	v, known := vc.Volume(context.Background(), "ETHUSDT")
	if !known || v != 42 {
		t.Errorf("seeded reading %v known=%v", v, known)
	}
}
