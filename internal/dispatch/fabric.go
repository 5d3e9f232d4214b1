// Package dispatch fans recorded triggers out to every delivery surface:
// the Redis alerts topic (cross-process), in-process subscribers (gateway
// sessions, stats), and the configured notifiers. Delivery is best-effort
// everywhere; the durable trigger log is the source of truth.
package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	"crypto-alerts/internal/model"
)

// Publisher is the cross-process side. Implemented by store/redis.Writer.
type Publisher interface {
	PublishTrigger(ctx context.Context, ev *model.TriggeredAlert) error
}

// Notifier delivers one trigger to an external channel (chat, webhook, log).
type Notifier interface {
	// Name labels the channel in metrics and the attempted list.
	Name() string
	// Applies reports whether the alert is configured for this channel.
	Applies(alert *model.Alert) bool
	Send(ctx context.Context, ev *model.TriggeredAlert, alert *model.Alert) error
}

// Config configures the Fabric.
type Config struct {
	QueueSize     int           // dispatch input queue (default 4096)
	SubBufferSize int           // per-subscriber buffer (default 1024)
	NotifyTimeout time.Duration // per-notifier send timeout (default 10s)
}

func (c *Config) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.SubBufferSize <= 0 {
		c.SubBufferSize = 1024
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 10 * time.Second
	}
}

type item struct {
	ev    *model.TriggeredAlert
	alert *model.Alert
}

type subscriber struct {
	id   int
	name string
	ch   chan *model.TriggeredAlert
}

// Fabric is the trigger fan-out hub.
type Fabric struct {
	cfg       Config
	publisher Publisher
	notifiers []Notifier

	queue chan item

	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int

	notifyWG sync.WaitGroup

	// Hooks (optional, for metrics).
	OnDropped    func()                          // dispatch queue full
	OnDisconnect func(name string)               // subscriber evicted for falling behind
	OnNotified   func(channel string, err error) // one notifier attempt finished
}

// New creates a Fabric. The publisher may be nil (single-process runs);
// notifiers may be empty.
func New(cfg Config, publisher Publisher, notifiers []Notifier) *Fabric {
	cfg.defaults()
	return &Fabric{
		cfg:       cfg,
		publisher: publisher,
		notifiers: notifiers,
		queue:     make(chan item, cfg.QueueSize),
		subs:      make(map[int]*subscriber, 8),
	}
}

// Dispatch enqueues one trigger for fan-out. Called from the evaluator
// worker; never blocks. The attempted-channels list is stamped here so the
// durable record (queued by the caller right after) carries it.
func (f *Fabric) Dispatch(ctx context.Context, ev *model.TriggeredAlert, alert *model.Alert) {
	for _, n := range f.notifiers {
		if n.Applies(alert) {
			ev.NotificationsAttempted = append(ev.NotificationsAttempted, n.Name())
		}
	}

	select {
	case f.queue <- item{ev: ev, alert: alert}:
	default:
		log.Printf("[dispatch] queue full, trigger %s not fanned out", ev.TriggerID)
		if f.OnDropped != nil {
			f.OnDropped()
		}
	}
}

// Subscribe registers an in-process consumer. The returned cancel func must
// be called when the consumer goes away. A consumer whose buffer fills is
// evicted: slow sessions must not back-pressure the fabric.
func (f *Fabric) Subscribe(name string) (<-chan *model.TriggeredAlert, func()) {
	f.mu.Lock()
	f.nextID++
	sub := &subscriber{
		id:   f.nextID,
		name: name,
		ch:   make(chan *model.TriggeredAlert, f.cfg.SubBufferSize),
	}
	f.subs[sub.id] = sub
	f.mu.Unlock()

	cancel := func() { f.remove(sub.id, false) }
	return sub.ch, cancel
}

func (f *Fabric) remove(id int, evicted bool) {
	f.mu.Lock()
	sub, ok := f.subs[id]
	if ok {
		delete(f.subs, id)
	}
	f.mu.Unlock()
	if !ok {
		return
	}
	close(sub.ch)
	if evicted {
		log.Printf("[dispatch] subscriber %s evicted: buffer full at %d", sub.name, cap(sub.ch))
		if f.OnDisconnect != nil {
			f.OnDisconnect(sub.name)
		}
	}
}

// Subscribers returns the number of live in-process subscribers.
func (f *Fabric) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Run consumes the dispatch queue until ctx is cancelled, then drains what
// is still buffered before returning.
func (f *Fabric) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			f.drain()
			return
		case it := <-f.queue:
			f.fanout(ctx, it)
		}
	}
}

// drain fans out everything still queued and waits for in-flight notifier
// sends, all under one grace deadline.
func (f *Fabric) drain() {
	graceCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n := 0
	for {
		select {
		case it := <-f.queue:
			f.fanout(graceCtx, it)
			n++
		default:
			if n > 0 {
				log.Printf("[dispatch] drained %d triggers on shutdown", n)
			}
			f.waitNotifies(graceCtx)
			return
		}
	}
}

func (f *Fabric) waitNotifies(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		f.notifyWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("[dispatch] notifier sends still in flight at shutdown deadline")
	}
}

func (f *Fabric) fanout(ctx context.Context, it item) {
	if f.publisher != nil {
		// Errors are logged by the writer; dispatch keeps going.
		_ = f.publisher.PublishTrigger(ctx, it.ev)
	}

	f.mu.Lock()
	targets := make([]*subscriber, 0, len(f.subs))
	for _, sub := range f.subs {
		targets = append(targets, sub)
	}
	f.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- it.ev:
		default:
			f.remove(sub.id, true)
		}
	}

	for _, n := range f.notifiers {
		if !n.Applies(it.alert) {
			continue
		}
		f.notifyWG.Add(1)
		go func(n Notifier) {
			defer f.notifyWG.Done()
			f.notify(ctx, n, it)
		}(n)
	}
}

func (f *Fabric) notify(ctx context.Context, n Notifier, it item) {
	sendCtx, cancel := context.WithTimeout(ctx, f.cfg.NotifyTimeout)
	defer cancel()
	err := n.Send(sendCtx, it.ev, it.alert)
	if err != nil {
		log.Printf("[dispatch] %s notification for trigger %s failed: %v", n.Name(), it.ev.TriggerID, err)
	}
	if f.OnNotified != nil {
		f.OnNotified(n.Name(), err)
	}
}
