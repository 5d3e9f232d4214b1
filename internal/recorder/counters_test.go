package recorder

import (
	"testing"

	"crypto-alerts/internal/model"
)

const (
	candle1 = int64(1705314600000)
	candle2 = candle1 + 300_000
)

func TestBump_SequencesWithinCandle(t *testing.T) {
	cs := NewCounterStore()

	if seq := cs.Bump("a1", model.Timeframe5Min, candle1, 10); seq != 1 {
		t.Errorf("first bump seq = %d, want 1", seq)
	}
	if seq := cs.Bump("a1", model.Timeframe5Min, candle1, 11); seq != 2 {
		t.Errorf("second bump seq = %d, want 2", seq)
	}
	if got := cs.Peek("a1", model.Timeframe5Min, candle1); got != 2 {
		t.Errorf("Peek = %d, want 2", got)
	}
}

func TestBump_NewCandleResets(t *testing.T) {
	cs := NewCounterStore()
	cs.Bump("a1", model.Timeframe5Min, candle1, 10)
	cs.Bump("a1", model.Timeframe5Min, candle1, 11)

	if seq := cs.Bump("a1", model.Timeframe5Min, candle2, 20); seq != 1 {
		t.Errorf("bump on new candle seq = %d, want 1", seq)
	}
	if got := cs.Peek("a1", model.Timeframe5Min, candle1); got != 0 {
		t.Errorf("old candle should read 0, got %d", got)
	}
}

func TestPeek_StaleCandleReadsZero(t *testing.T) {
	cs := NewCounterStore()
	cs.Bump("a1", model.Timeframe5Min, candle1, 10)

	if got := cs.Peek("a1", model.Timeframe5Min, candle2); got != 0 {
		t.Errorf("Peek for a different candle = %d, want 0", got)
	}
	if got := cs.Peek("zz", model.Timeframe5Min, candle1); got != 0 {
		t.Errorf("Peek for unknown alert = %d, want 0", got)
	}
}

func TestCountersIndependentPerTimeframe(t *testing.T) {
	cs := NewCounterStore()
	open5 := model.Timeframe5Min.AlignMs(candle1)
	open1 := model.Timeframe1Min.AlignMs(candle1)

	cs.Bump("a1", model.Timeframe5Min, open5, 10)
	cs.Bump("a1", model.Timeframe1Min, open1, 10)

	if cs.Len() != 2 {
		t.Errorf("Len = %d, want one counter per timeframe", cs.Len())
	}
	if cs.Peek("a1", model.Timeframe5Min, open5) != 1 || cs.Peek("a1", model.Timeframe1Min, open1) != 1 {
		t.Error("timeframe counters should not interfere")
	}
}

func TestSeed(t *testing.T) {
	cs := NewCounterStore()
	cs.Seed("a1", model.Timeframe5Min, candle1, 2)

	if got := cs.Peek("a1", model.Timeframe5Min, candle1); got != 2 {
		t.Errorf("seeded Peek = %d, want 2", got)
	}
	// The next bump continues the sequence.
	if seq := cs.Bump("a1", model.Timeframe5Min, candle1, 30); seq != 3 {
		t.Errorf("bump after seed seq = %d, want 3", seq)
	}

	// Zero open time or count seeds nothing.
	cs.Seed("a2", model.Timeframe5Min, 0, 5)
	cs.Seed("a3", model.Timeframe5Min, candle1, 0)
	if cs.Len() != 1 {
		t.Errorf("Len = %d, want 1", cs.Len())
	}
}

func TestForget(t *testing.T) {
	cs := NewCounterStore()
	cs.Bump("a1", model.Timeframe5Min, candle1, 10)
	cs.Forget("a1", model.Timeframe5Min)

	if cs.Len() != 0 {
		t.Errorf("Len = %d after Forget, want 0", cs.Len())
	}
}
