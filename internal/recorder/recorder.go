// Package recorder is the trigger sink: it assigns trigger identity, owns
// the per-candle counters, persists every trigger to the durable log, and
// hands the event to the dispatch fabric. Durable writes are asynchronous
// and retried; dispatch happens even when the write queue is saturated, so
// a slow disk delays history but never notifications.
package recorder

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"crypto-alerts/internal/model"
	"crypto-alerts/internal/retry"

	"github.com/google/uuid"
)

// TriggerStore is the durable side. Implemented by store/sqlite.
type TriggerStore interface {
	InsertTrigger(ctx context.Context, ev *model.TriggeredAlert) error
	UpdateLastTriggered(ctx context.Context, alertID string, triggeredAtMs int64) error
	LatestCounter(ctx context.Context, alertID string) (candleOpenMs int64, count int, err error)
}

// Dispatcher receives every recorded trigger. Implemented by dispatch.Fabric.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *model.TriggeredAlert, alert *model.Alert)
}

// Config configures the Recorder.
type Config struct {
	Workers   int // durable-write workers (default 2)
	QueueSize int // per-worker write queue (default 1024)
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

type writeJob struct {
	ev    *model.TriggeredAlert
	alert *model.Alert
}

// Recorder records triggers. Record is called from the evaluator worker that
// owns the alert's symbol, which serializes per-alert access.
type Recorder struct {
	cfg      Config
	store    TriggerStore
	dispatch Dispatcher
	counters *CounterStore

	queues  []chan writeJob
	dropped atomic.Uint64

	// OnDropped is called when a trigger misses the durable queue (optional).
	OnDropped func()
}

// New creates a Recorder over the given store and dispatcher.
func New(cfg Config, store TriggerStore, dispatch Dispatcher) *Recorder {
	cfg.defaults()
	r := &Recorder{
		cfg:      cfg,
		store:    store,
		dispatch: dispatch,
		counters: NewCounterStore(),
	}
	r.queues = make([]chan writeJob, cfg.Workers)
	for i := range r.queues {
		r.queues[i] = make(chan writeJob, cfg.QueueSize)
	}
	return r
}

// Counters exposes the counter store to the evaluator's count gate.
func (r *Recorder) Counters() *CounterStore { return r.counters }

// Dropped returns the number of triggers that missed the durable queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Record finalizes one trigger: bumps the per-candle counter (when the alert
// counts), stamps the trigger id and seq, dispatches, and queues the durable
// write. The counter bump is synchronous so the very next tick on the same
// symbol sees the updated count.
func (r *Recorder) Record(ctx context.Context, ev *model.TriggeredAlert, alert *model.Alert) {
	ev.TriggerID = uuid.NewString()
	if alert.CountEnabled && ev.CandleOpenMs > 0 {
		ev.Seq = r.counters.Bump(alert.ID, alert.CountTimeframe, ev.CandleOpenMs, ev.TriggeredAtMs)
	}

	r.dispatch.Dispatch(ctx, ev, alert)

	// Same alert always lands on the same queue, preserving write order.
	job := writeJob{ev: ev, alert: alert}
	q := r.queues[queueFor(alert.ID, len(r.queues))]
	select {
	case q <- job:
	default:
		n := r.dropped.Add(1)
		log.Printf("[recorder] write queue full, trigger %s for alert %s not persisted (dropped=%d)",
			ev.TriggerID, alert.ID, n)
		if r.OnDropped != nil {
			r.OnDropped()
		}
	}
}

// Run starts the durable-write workers and blocks until ctx is cancelled.
// Queued writes are drained before returning so a clean shutdown loses
// nothing.
func (r *Recorder) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i, q := range r.queues {
		wg.Add(1)
		go func(idx int, queue chan writeJob) {
			defer wg.Done()
			r.worker(ctx, idx, queue)
		}(i, q)
	}
	wg.Wait()
}

func (r *Recorder) worker(ctx context.Context, idx int, queue chan writeJob) {
	for {
		select {
		case <-ctx.Done():
			r.drain(idx, queue)
			return
		case job := <-queue:
			r.persist(ctx, job)
		}
	}
}

// drain writes whatever is still queued, with a bounded grace context.
func (r *Recorder) drain(idx int, queue chan writeJob) {
	graceCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n := 0
	for {
		select {
		case job := <-queue:
			r.persist(graceCtx, job)
			n++
		default:
			if n > 0 {
				log.Printf("[recorder] worker %d drained %d triggers on shutdown", idx, n)
			}
			return
		}
	}
}

func (r *Recorder) persist(ctx context.Context, job writeJob) {
	policy := retry.Write()
	if err := policy.Do(ctx, func() error {
		return r.store.InsertTrigger(ctx, job.ev)
	}); err != nil {
		n := r.dropped.Add(1)
		log.Printf("[recorder] trigger %s lost after retries: %v (dropped=%d)", job.ev.TriggerID, err, n)
		if r.OnDropped != nil {
			r.OnDropped()
		}
		return
	}
	if err := policy.Do(ctx, func() error {
		return r.store.UpdateLastTriggered(ctx, job.alert.ID, job.ev.TriggeredAtMs)
	}); err != nil {
		log.Printf("[recorder] last-triggered update for %s failed: %v", job.alert.ID, err)
	}
}

// Reconcile seeds the counter store from the trigger log for every counted
// alert. Called once on cold start before the evaluator runs, so a restart
// mid-candle cannot over-trigger.
func (r *Recorder) Reconcile(ctx context.Context, alerts []*model.Alert) error {
	seeded := 0
	for _, a := range alerts {
		if !a.CountEnabled {
			continue
		}
		openMs, count, err := r.store.LatestCounter(ctx, a.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			r.counters.Seed(a.ID, a.CountTimeframe, openMs, count)
			seeded++
		}
	}
	if seeded > 0 {
		log.Printf("[recorder] reconciled %d trigger counters from the log", seeded)
	}
	return nil
}

func queueFor(alertID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(alertID))
	return int(h.Sum32() % uint32(n))
}
