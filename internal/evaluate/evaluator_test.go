package evaluate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crypto-alerts/internal/model"
	"crypto-alerts/internal/recorder"
)

type staticAlerts map[string][]*model.Alert

func (s staticAlerts) AlertsFor(symbol string) []*model.Alert { return s[symbol] }

type staticCandles map[model.Timeframe]*model.Candle

func (s staticCandles) Peek(_ context.Context, _ string, tf model.Timeframe) *model.Candle {
	return s[tf]
}

type captureSink struct {
	mu       sync.Mutex
	recorded []*model.TriggeredAlert
	counters *recorder.CounterStore
}

// Record mimics the recorder: it bumps the counter synchronously so the next
// evaluation on the same symbol sees the new count.
func (s *captureSink) Record(_ context.Context, ev *model.TriggeredAlert, alert *model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alert.CountEnabled && ev.CandleOpenMs > 0 {
		ev.Seq = s.counters.Bump(alert.ID, alert.CountTimeframe, ev.CandleOpenMs, ev.TriggeredAtMs)
	}
	s.recorded = append(s.recorded, ev)
}

func (s *captureSink) triggers() []*model.TriggeredAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.TriggeredAlert(nil), s.recorded...)
}

type errVolumeSource struct{}

func (errVolumeSource) QuoteVolume24h(context.Context, string) (float64, error) {
	return 0, errors.New("unavailable")
}

type harness struct {
	eval     *Evaluator
	sink     *captureSink
	counters *recorder.CounterStore
	failed   map[string]int
	skipped  int
}

func newHarness(t *testing.T, alerts []*model.Alert, candles staticCandles, failClosed bool) *harness {
	t.Helper()
	bySymbol := staticAlerts{}
	for _, a := range alerts {
		bySymbol[a.Symbol] = append(bySymbol[a.Symbol], a)
	}

	counters := recorder.NewCounterStore()
	sink := &captureSink{counters: counters}
	h := &harness{sink: sink, counters: counters, failed: map[string]int{}}

	h.eval = New(
		Config{Workers: 1, RingSize: 16, FailClosedOnCandleError: failClosed},
		bySymbol, candles, NewVolumeCache(errVolumeSource{}, time.Hour), sink, counters,
	)
	h.eval.OnGateFail = func(gate string) { h.failed[gate]++ }
	h.eval.OnSkipped = func() { h.skipped++ }
	return h
}

func (h *harness) tick(tk model.PriceTick) {
	h.eval.evaluateTick(context.Background(), tk)
}

func oneMinCandle(open float64) *model.Candle {
	const openMs = 1705314720000
	return &model.Candle{
		Symbol: "BTCUSDT", Timeframe: model.Timeframe1Min,
		OpenTimeMs: openMs, CloseTimeMs: openMs + 60_000, Open: open,
	}
}

func fiveMinCandle(open float64) *model.Candle {
	const openMs = 1705314600000
	return &model.Candle{
		Symbol: "BTCUSDT", Timeframe: model.Timeframe5Min,
		OpenTimeMs: openMs, CloseTimeMs: openMs + 300_000, Open: open,
	}
}

func TestScenario_VolumeGateBlocks(t *testing.T) {
	a := baseAlert()
	a.MinDailyVolumeQuote = 1_000_000

	h := newHarness(t, []*model.Alert{a}, staticCandles{model.Timeframe1Min: oneMinCandle(50000)}, false)
	h.tick(model.PriceTick{Symbol: "BTCUSDT", Price: 50050, EventTimeMs: 1, Volume24h: 500_000})

	if len(h.sink.triggers()) != 0 {
		t.Error("expected no trigger with volume below floor")
	}
	if h.failed[GateVolume] != 1 {
		t.Errorf("volume gate failures = %d, want 1", h.failed[GateVolume])
	}
}

func TestScenario_ChangePctUpFires(t *testing.T) {
	a := baseAlert() // UP, 0.2%, 1MIN, no volume floor

	h := newHarness(t, []*model.Alert{a}, staticCandles{model.Timeframe1Min: oneMinCandle(50000)}, false)
	h.tick(model.PriceTick{Symbol: "BTCUSDT", Price: 50100, EventTimeMs: 1705314725000})

	got := h.sink.triggers()
	if len(got) != 1 {
		t.Fatalf("got %d triggers, want 1", len(got))
	}
	ev := got[0]
	if ev.BasePriceSource != model.BaseSourceCandleOpen {
		t.Errorf("base source %s, want candle_open", ev.BasePriceSource)
	}
	if ev.PctChange != 0.2 {
		t.Errorf("pctChange %v, want 0.2", ev.PctChange)
	}
	if ev.TriggeredAtMs != 1705314725000 {
		t.Errorf("triggered at %d, want tick event time", ev.TriggeredAtMs)
	}
	if !ev.Conditions.MinVolume || !ev.Conditions.ChangePct || !ev.Conditions.Count {
		t.Errorf("conditions %+v, want all true", ev.Conditions)
	}
}

func TestScenario_ChangePctDownFires(t *testing.T) {
	a := baseAlert()
	a.Direction = model.DirectionDown
	a.ChangePctThreshold = 0.5

	h := newHarness(t, []*model.Alert{a}, staticCandles{model.Timeframe1Min: oneMinCandle(50000)}, false)
	h.tick(model.PriceTick{Symbol: "BTCUSDT", Price: 49505, EventTimeMs: 1}) // -0.99%

	got := h.sink.triggers()
	if len(got) != 1 {
		t.Fatalf("got %d triggers, want 1 (DOWN -0.99%% vs 0.5)", len(got))
	}
	if got[0].PctChange >= 0 {
		t.Errorf("pctChange %v, want negative", got[0].PctChange)
	}
}

func TestScenario_EitherFiresBothWays(t *testing.T) {
	a := baseAlert()
	a.Direction = model.DirectionEither
	a.ChangePctThreshold = 1.0

	h := newHarness(t, []*model.Alert{a}, staticCandles{model.Timeframe1Min: oneMinCandle(50000)}, false)
	h.tick(model.PriceTick{Symbol: "BTCUSDT", Price: 49500, EventTimeMs: 1}) // -1.0%

	if len(h.sink.triggers()) != 1 {
		t.Fatalf("EITHER should fire on -1.0%% with |threshold| 1.0")
	}
}

func TestScenario_CountCapWithinCandle(t *testing.T) {
	a := baseAlert()
	a.ChangePctThreshold = 0 // always passes gate B
	a.CountEnabled = true
	a.CountTimeframe = model.Timeframe5Min
	a.MaxTriggersPerCandle = 1

	candles := staticCandles{
		model.Timeframe1Min: oneMinCandle(50000),
		model.Timeframe5Min: fiveMinCandle(50000),
	}
	h := newHarness(t, []*model.Alert{a}, candles, false)

	h.tick(model.PriceTick{Symbol: "BTCUSDT", Price: 50100, EventTimeMs: 1})
	h.tick(model.PriceTick{Symbol: "BTCUSDT", Price: 50200, EventTimeMs: 2})

	got := h.sink.triggers()
	if len(got) != 1 {
		t.Fatalf("got %d triggers inside one candle, want 1", len(got))
	}
	if got[0].Seq != 1 || got[0].CandleOpenMs != fiveMinCandle(0).OpenTimeMs {
		t.Errorf("trigger identity: seq=%d candleOpen=%d", got[0].Seq, got[0].CandleOpenMs)
	}
	if h.failed[GateCount] != 1 {
		t.Errorf("count gate failures = %d, want 1", h.failed[GateCount])
	}
}

func TestCountGate_FailOpenWithoutCandle(t *testing.T) {
	a := baseAlert()
	a.ChangePctThreshold = 0
	a.BasePrice = 50000 // fallback base; no candles at all
	a.CountEnabled = true
	a.CountTimeframe = model.Timeframe5Min
	a.MaxTriggersPerCandle = 1

	h := newHarness(t, []*model.Alert{a}, staticCandles{}, false)
	h.tick(model.PriceTick{Symbol: "BTCUSDT", Price: 50100, EventTimeMs: 1})

	got := h.sink.triggers()
	if len(got) != 1 {
		t.Fatalf("fail-open should trigger, got %d", len(got))
	}
	if got[0].CandleOpenMs != 0 || got[0].Seq != 0 {
		t.Errorf("trigger without candle should carry no dedup key: %+v", got[0])
	}
}

func TestCountGate_FailClosedWithoutCandle(t *testing.T) {
	a := baseAlert()
	a.ChangePctThreshold = 0
	a.BasePrice = 50000
	a.CountEnabled = true
	a.CountTimeframe = model.Timeframe5Min
	a.MaxTriggersPerCandle = 1

	h := newHarness(t, []*model.Alert{a}, staticCandles{}, true)
	h.tick(model.PriceTick{Symbol: "BTCUSDT", Price: 50100, EventTimeMs: 1})

	if len(h.sink.triggers()) != 0 {
		t.Error("fail-closed should suppress the trigger")
	}
	if h.failed[GateCount] != 1 {
		t.Errorf("count gate failures = %d, want 1", h.failed[GateCount])
	}
}

func TestEvaluate_SkipsUnusableBase(t *testing.T) {
	a := baseAlert() // no BasePrice, no candle

	h := newHarness(t, []*model.Alert{a}, staticCandles{}, false)
	h.tick(model.PriceTick{Symbol: "BTCUSDT", Price: 50100, EventTimeMs: 1})

	if len(h.sink.triggers()) != 0 {
		t.Error("unusable base must not trigger")
	}
	if h.skipped != 1 {
		t.Errorf("skipped = %d, want 1", h.skipped)
	}
}

func TestEvaluate_SideChannelVolume(t *testing.T) {
	a := baseAlert()
	a.MinDailyVolumeQuote = 1_000_000

	h := newHarness(t, []*model.Alert{a}, staticCandles{model.Timeframe1Min: oneMinCandle(50000)}, false)
	h.eval.volumes.Seed("BTCUSDT", 2_000_000)

	// Tick carries no volume; the seeded side-channel reading clears the floor.
	h.tick(model.PriceTick{Symbol: "BTCUSDT", Price: 50100, EventTimeMs: 1})

	got := h.sink.triggers()
	if len(got) != 1 {
		t.Fatalf("got %d triggers, want 1 via side-channel volume", len(got))
	}
	if got[0].Volume24h != 2_000_000 {
		t.Errorf("recorded volume %v, want side-channel reading", got[0].Volume24h)
	}
}

func TestEvaluate_IgnoresNonPositivePriceAndUnknownSymbol(t *testing.T) {
	a := baseAlert()
	h := newHarness(t, []*model.Alert{a}, staticCandles{model.Timeframe1Min: oneMinCandle(50000)}, false)

	h.tick(model.PriceTick{Symbol: "BTCUSDT", Price: 0, EventTimeMs: 1})
	h.tick(model.PriceTick{Symbol: "NOPEUSDT", Price: 50100, EventTimeMs: 1})

	if len(h.sink.triggers()) != 0 {
		t.Error("no evaluation should have produced a trigger")
	}
}

func TestRun_ShardsAndDelivers(t *testing.T) {
	a := baseAlert()
	bySymbol := staticAlerts{"BTCUSDT": {a}}
	counters := recorder.NewCounterStore()
	sink := &captureSink{counters: counters}

	eval := New(
		Config{Workers: 4, RingSize: 16},
		bySymbol, staticCandles{model.Timeframe1Min: oneMinCandle(50000)},
		NewVolumeCache(errVolumeSource{}, time.Hour), sink, counters,
	)

	ctx, cancel := context.WithCancel(context.Background())
	tickCh := make(chan model.PriceTick, 8)
	done := make(chan struct{})
	go func() {
		eval.Run(ctx, tickCh)
		close(done)
	}()

	tickCh <- model.PriceTick{Symbol: "BTCUSDT", Price: 50100, EventTimeMs: 1}

	deadline := time.After(2 * time.Second)
	for len(sink.triggers()) == 0 {
		select {
		case <-deadline:
			t.Fatal("trigger never delivered through Run")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestWorkerFor_Deterministic(t *testing.T) {
	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		first := workerFor(sym, 8)
		for i := 0; i < 10; i++ {
			if workerFor(sym, 8) != first {
				t.Fatalf("workerFor(%s) not stable", sym)
			}
		}
		if first < 0 || first >= 8 {
			t.Errorf("workerFor(%s) = %d out of range", sym, first)
		}
	}
}
