package evaluate

import (
	"testing"

	"crypto-alerts/internal/model"
	"crypto-alerts/internal/recorder"
)

func baseAlert() *model.Alert {
	return &model.Alert{
		ID:                 "a1",
		Symbol:             "BTCUSDT",
		Active:             true,
		UserCreated:        true,
		Direction:          model.DirectionUp,
		TargetType:         model.TargetPercentChange,
		ChangePctThreshold: 0.2,
		ChangePctTimeframe: model.Timeframe1Min,
	}
}

func formingCandle(open float64, openMs int64, tf model.Timeframe) *model.Candle {
	return &model.Candle{
		Symbol:      "BTCUSDT",
		Timeframe:   tf,
		OpenTimeMs:  openMs,
		CloseTimeMs: openMs + tf.Millis(),
		Open:        open,
	}
}

func TestVolumeGate(t *testing.T) {
	cases := []struct {
		name   string
		floor  float64
		volume float64
		known  bool
		want   bool
	}{
		{"no floor", 0, 0, false, true},
		{"above floor", 1_000_000, 2_000_000, true, true},
		{"at floor", 1_000_000, 1_000_000, true, true},
		{"below floor", 1_000_000, 500_000, true, false},
		{"unknown fails floor", 1_000_000, 0, false, false},
		{"unknown passes no floor", 0, 0, false, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := baseAlert()
			a.MinDailyVolumeQuote = c.floor
			if got := volumeGate(a, c.volume, c.known); got != c.want {
				t.Errorf("volumeGate = %v, want %v", got, c.want)
			}
		})
	}
}

func TestChangeGate_CandleOpenBase(t *testing.T) {
	a := baseAlert()
	candle := formingCandle(50000, 1705314720000, model.Timeframe1Min)

	// 50100 vs open 50000 = +0.2% which meets the 0.2 threshold.
	res, err := changeGate(a, 50100, candle)
	if err != nil {
		t.Fatalf("changeGate: %v", err)
	}
	if !res.pass {
		t.Error("UP +0.2% at threshold 0.2 should pass")
	}
	if res.baseSource != model.BaseSourceCandleOpen || res.basePrice != 50000 {
		t.Errorf("base %v from %s, want candle open 50000", res.basePrice, res.baseSource)
	}
	if res.pctChange != 0.2 {
		t.Errorf("pctChange %v, want 0.2", res.pctChange)
	}
}

func TestChangeGate_FallbackBase(t *testing.T) {
	a := baseAlert()
	a.BasePrice = 50000

	res, err := changeGate(a, 50100, nil)
	if err != nil {
		t.Fatalf("changeGate: %v", err)
	}
	if res.baseSource != model.BaseSourceAlertBase {
		t.Errorf("base source %s, want alert_base_fallback", res.baseSource)
	}
	if !res.pass {
		t.Error("fallback base should pass the same threshold")
	}
}

func TestChangeGate_NoUsableBase(t *testing.T) {
	a := baseAlert() // BasePrice zero, no candle
	if _, err := changeGate(a, 50100, nil); err == nil {
		t.Fatal("expected error when no base price is usable")
	}
}

func TestChangeGate_DirectionRules(t *testing.T) {
	candle := formingCandle(50000, 1705314720000, model.Timeframe1Min)

	cases := []struct {
		name      string
		direction model.Direction
		threshold float64
		price     float64
		want      bool
	}{
		{"up below threshold", model.DirectionUp, 0.5, 50100, false}, // +0.2%
		{"up at threshold", model.DirectionUp, 0.2, 50100, true},
		{"up wrong way", model.DirectionUp, 0.2, 49800, false},
		{"down fires", model.DirectionDown, 0.5, 49505, true},     // -0.99%
		{"down not enough", model.DirectionDown, 0.5, 49900, false}, // -0.2%
		{"down wrong way", model.DirectionDown, 0.5, 50500, false},
		{"either down", model.DirectionEither, 1.0, 49500, true},  // -1.0%
		{"either up", model.DirectionEither, 1.0, 50500, true},    // +1.0%
		{"either inside band", model.DirectionEither, 1.0, 50300, false},
		{"zero threshold passes", model.DirectionUp, 0, 49000, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := baseAlert()
			a.Direction = c.direction
			a.ChangePctThreshold = c.threshold
			res, err := changeGate(a, c.price, candle)
			if err != nil {
				t.Fatalf("changeGate: %v", err)
			}
			if res.pass != c.want {
				t.Errorf("pass = %v (pct %.3f), want %v", res.pass, res.pctChange, c.want)
			}
		})
	}
}

func TestChangeGate_AbsolutePriceTarget(t *testing.T) {
	candle := formingCandle(50000, 1705314720000, model.Timeframe1Min)

	a := baseAlert()
	a.TargetType = model.TargetAbsolutePrice
	a.TargetValue = 50200

	// +0.2% clears the threshold but the price has not reached the target.
	res, _ := changeGate(a, 50100, candle)
	if res.pass {
		t.Error("price below absolute target should not pass")
	}

	res, _ = changeGate(a, 50200, candle)
	if !res.pass {
		t.Error("price at absolute target should pass")
	}

	down := baseAlert()
	down.Direction = model.DirectionDown
	down.TargetType = model.TargetAbsolutePrice
	down.TargetValue = 49500
	down.ChangePctThreshold = 0.5

	res, _ = changeGate(down, 49400, candle) // -1.2%, below target
	if !res.pass {
		t.Error("DOWN price under absolute target should pass")
	}
	res, _ = changeGate(down, 49700, candle) // -0.6%, above target
	if res.pass {
		t.Error("DOWN price above absolute target should not pass")
	}
}

func TestCountGate(t *testing.T) {
	counters := recorder.NewCounterStore()
	candle := formingCandle(50000, 1705314600000, model.Timeframe5Min)

	a := baseAlert()
	a.CountEnabled = true
	a.CountTimeframe = model.Timeframe5Min
	a.MaxTriggersPerCandle = 2

	pass, openMs := countGate(a, candle, counters, false)
	if !pass || openMs != candle.OpenTimeMs {
		t.Fatalf("fresh candle: pass=%v openMs=%d", pass, openMs)
	}

	counters.Bump(a.ID, a.CountTimeframe, candle.OpenTimeMs, 1)
	if pass, _ := countGate(a, candle, counters, false); !pass {
		t.Error("one trigger under a cap of two should pass")
	}

	counters.Bump(a.ID, a.CountTimeframe, candle.OpenTimeMs, 2)
	if pass, _ := countGate(a, candle, counters, false); pass {
		t.Error("cap reached, gate should reject")
	}

	// A new candle resets the budget.
	next := formingCandle(50100, candle.OpenTimeMs+model.Timeframe5Min.Millis(), model.Timeframe5Min)
	if pass, _ := countGate(a, next, counters, false); !pass {
		t.Error("new candle should reset the count budget")
	}
}

func TestCountGate_Disabled(t *testing.T) {
	counters := recorder.NewCounterStore()
	pass, openMs := countGate(baseAlert(), nil, counters, true)
	if !pass || openMs != 0 {
		t.Errorf("disabled count gate: pass=%v openMs=%d", pass, openMs)
	}
}

func TestCountGate_NilCandle(t *testing.T) {
	counters := recorder.NewCounterStore()
	a := baseAlert()
	a.CountEnabled = true
	a.CountTimeframe = model.Timeframe5Min
	a.MaxTriggersPerCandle = 1

	if pass, _ := countGate(a, nil, counters, false); !pass {
		t.Error("candle fetch failure should fail open by default")
	}
	if pass, _ := countGate(a, nil, counters, true); pass {
		t.Error("fail-closed mode should reject without a candle")
	}
}
