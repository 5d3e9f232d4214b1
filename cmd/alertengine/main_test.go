package main

import (
	"testing"
	"time"

	"crypto-alerts/internal/alertindex"
	"crypto-alerts/internal/model"
)

func TestWaitOrTimeout(t *testing.T) {
	done := make(chan struct{})
	close(done)
	if !waitOrTimeout(done, time.Millisecond) {
		t.Error("closed channel should report done")
	}

	stuck := make(chan struct{})
	start := time.Now()
	if waitOrTimeout(stuck, 10*time.Millisecond) {
		t.Error("open channel should time out")
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("returned before the grace period elapsed")
	}

	// Late close still unblocks inside the grace window.
	late := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		close(late)
	}()
	if !waitOrTimeout(late, time.Second) {
		t.Error("close within the grace period should report done")
	}
}

func TestUniverse_MergesConfiguredAndIndexed(t *testing.T) {
	ix := alertindex.New()
	ix.Upsert(&model.Alert{
		ID:                 "a1",
		Symbol:             "SOLUSDT",
		Active:             true,
		UserCreated:        true,
		Direction:          model.DirectionUp,
		TargetType:         model.TargetPercentChange,
		ChangePctThreshold: 1,
		ChangePctTimeframe: model.Timeframe1Min,
	})

	got := universe([]string{"BTCUSDT", "ETHUSDT", "BTCUSDT"}, ix)
	want := map[string]bool{"BTCUSDT": true, "ETHUSDT": true, "SOLUSDT": true}
	if len(got) != len(want) {
		t.Fatalf("universe %v, want 3 unique symbols", got)
	}
	for _, s := range got {
		if !want[s] {
			t.Errorf("unexpected symbol %s", s)
		}
	}
}
