// Package evaluate is the condition evaluator: for every tick it runs each
// alert on that symbol through the three gates (volume, change-%, per-candle
// count) and records a trigger when all pass. Ticks are sharded to workers
// by symbol hash so evaluation for one symbol is always serialized, which is
// what lets the count gate read the counter without cross-worker locking.
package evaluate

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"crypto-alerts/internal/model"
	"crypto-alerts/internal/recorder"
	"crypto-alerts/internal/ringbuf"
)

// CandleSource serves the forming-candle snapshot without blocking.
// Implemented by candles.Fetcher.
type CandleSource interface {
	Peek(ctx context.Context, symbol string, tf model.Timeframe) *model.Candle
}

// AlertSource serves the per-symbol alert snapshot. Implemented by
// alertindex.Index.
type AlertSource interface {
	AlertsFor(symbol string) []*model.Alert
}

// Sink receives finished triggers. Implemented by recorder.Recorder.
type Sink interface {
	Record(ctx context.Context, ev *model.TriggeredAlert, alert *model.Alert)
}

// Config configures the Evaluator.
type Config struct {
	Workers  int // symbol-sharded workers (default 8)
	RingSize int // per-worker tick ring (default 4096)

	// FailClosedOnCandleError makes the count gate reject instead of pass
	// when the candle fetch fails.
	FailClosedOnCandleError bool
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.RingSize <= 0 {
		c.RingSize = 4096
	}
}

// Evaluator runs the gate pipeline over the tick stream.
type Evaluator struct {
	cfg      Config
	alerts   AlertSource
	candles  CandleSource
	volumes  *VolumeCache
	sink     Sink
	counters *recorder.CounterStore

	rings []*ringbuf.Ring
	bells []chan struct{}

	// Hooks (optional, for metrics).
	OnEvaluated func()            // one (alert, tick) pair evaluated
	OnGateFail  func(gate string) // one gate rejected
	OnTriggered func()            // all gates passed
	OnSkipped   func()            // alert skipped (unusable base price)
}

// New creates an Evaluator.
func New(cfg Config, alerts AlertSource, candles CandleSource, volumes *VolumeCache, sink Sink, counters *recorder.CounterStore) *Evaluator {
	cfg.defaults()
	e := &Evaluator{
		cfg:      cfg,
		alerts:   alerts,
		candles:  candles,
		volumes:  volumes,
		sink:     sink,
		counters: counters,
	}
	e.rings = make([]*ringbuf.Ring, cfg.Workers)
	e.bells = make([]chan struct{}, cfg.Workers)
	for i := range e.rings {
		e.rings[i] = ringbuf.New(cfg.RingSize)
		e.bells[i] = make(chan struct{}, 1)
	}
	return e
}

// QueueDepth returns the total ticks waiting across worker rings.
func (e *Evaluator) QueueDepth() int {
	n := 0
	for _, r := range e.rings {
		n += r.Len()
	}
	return n
}

// Overflow returns the total ticks dropped on full worker rings.
func (e *Evaluator) Overflow() uint64 {
	var n uint64
	for _, r := range e.rings {
		n += r.Overflow()
	}
	return n
}

// Run consumes ticks from tickCh and blocks until ctx is cancelled. The
// router goroutine is the sole producer for each worker ring.
func (e *Evaluator) Run(ctx context.Context, tickCh <-chan model.PriceTick) {
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			e.worker(ctx, idx)
		}(i)
	}

	log.Printf("[evaluate] started %d workers (ring=%d)", e.cfg.Workers, e.rings[0].Cap())

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case tick, ok := <-tickCh:
			if !ok {
				wg.Wait()
				return
			}
			idx := workerFor(tick.Symbol, e.cfg.Workers)
			e.rings[idx].Push(tick) // full ring drops; only the latest price matters
			select {
			case e.bells[idx] <- struct{}{}:
			default:
			}
		}
	}
}

func (e *Evaluator) worker(ctx context.Context, idx int) {
	ring := e.rings[idx]
	bell := e.bells[idx]
	for {
		select {
		case <-ctx.Done():
			return
		case <-bell:
			for {
				tick, ok := ring.Pop()
				if !ok {
					break
				}
				e.evaluateTick(ctx, tick)
			}
		}
	}
}

func (e *Evaluator) evaluateTick(ctx context.Context, tick model.PriceTick) {
	if tick.Price <= 0 {
		return
	}
	alerts := e.alerts.AlertsFor(tick.Symbol)
	if len(alerts) == 0 {
		return
	}

	// One candle snapshot per timeframe per tick: the count gate and the
	// change gate must not see different candles for the same evaluation.
	snap := make(map[model.Timeframe]*model.Candle, 2)
	peek := func(tf model.Timeframe) *model.Candle {
		if c, ok := snap[tf]; ok {
			return c
		}
		c := e.candles.Peek(ctx, tick.Symbol, tf)
		snap[tf] = c
		return c
	}

	for _, alert := range alerts {
		e.evaluateAlert(ctx, alert, tick, peek)
	}
}

func (e *Evaluator) evaluateAlert(ctx context.Context, alert *model.Alert, tick model.PriceTick, peek func(model.Timeframe) *model.Candle) {
	if e.OnEvaluated != nil {
		e.OnEvaluated()
	}

	// Gate A: tick volume first, side-channel for volume-less feeds.
	volume, known := tick.Volume24h, tick.Volume24h > 0
	if !known && alert.MinDailyVolumeQuote > 0 {
		volume, known = e.volumes.Volume(ctx, tick.Symbol)
	}
	if !volumeGate(alert, volume, known) {
		e.gateFail(GateVolume)
		return
	}

	// Gate B.
	change, err := changeGate(alert, tick.Price, peek(alert.ChangePctTimeframe))
	if err != nil {
		log.Printf("[evaluate] skipping alert %s on %s: %v", alert.ID, tick.Symbol, err)
		if e.OnSkipped != nil {
			e.OnSkipped()
		}
		return
	}
	if !change.pass {
		e.gateFail(GateChange)
		return
	}

	// Gate C.
	var countCandle *model.Candle
	if alert.CountEnabled {
		countCandle = peek(alert.CountTimeframe)
	}
	countPass, candleOpenMs := countGate(alert, countCandle, e.counters, e.cfg.FailClosedOnCandleError)
	if !countPass {
		e.gateFail(GateCount)
		return
	}
	if alert.CountEnabled && countCandle == nil {
		log.Printf("[evaluate] count gate for alert %s passed without candle (fetch unavailable)", alert.ID)
	}

	ev := &model.TriggeredAlert{
		AlertID:         alert.ID,
		Symbol:          tick.Symbol,
		TriggeredAtMs:   nowMs(tick),
		Price:           tick.Price,
		BasePriceUsed:   change.basePrice,
		BasePriceSource: change.baseSource,
		PctChange:       change.pctChange,
		Volume24h:       volume,
		Conditions:      model.GateConditions{MinVolume: true, ChangePct: true, Count: true},
		CandleOpenMs:    candleOpenMs,
	}
	e.sink.Record(ctx, ev, alert)
	if e.OnTriggered != nil {
		e.OnTriggered()
	}
}

func (e *Evaluator) gateFail(gate string) {
	if e.OnGateFail != nil {
		e.OnGateFail(gate)
	}
}

// nowMs stamps the trigger with the tick's exchange event time when present,
// falling back to wall clock for synthetic feeds.
func nowMs(tick model.PriceTick) int64 {
	if tick.EventTimeMs > 0 {
		return tick.EventTimeMs
	}
	return time.Now().UnixMilli()
}

func workerFor(symbol string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}
