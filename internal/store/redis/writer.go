// Package redis is the shared-cache and pub/sub surface: latest prices under
// price:{symbol}, the per-symbol alert index under alerts:index:{symbol}, and
// the prices / alerts / alert-updates topics. All writes run through a
// circuit breaker so a dead Redis degrades the engine instead of stalling it.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"crypto-alerts/internal/model"
	"crypto-alerts/internal/retry"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Latest-price keys expire so a symbol dropped from the universe does not
	// serve stale quotes forever.
	priceTTL = 60 * time.Second

	TopicPrices       = "prices"
	TopicAlerts       = "alerts"
	TopicAlertUpdates = "alert-updates"
)

func priceKey(symbol string) string      { return "price:" + symbol }
func alertIndexKey(symbol string) string { return "alerts:index:" + symbol }

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer mirrors prices, publishes triggers, and maintains the shared alert
// index in Redis.
type Writer struct {
	client  *goredis.Client
	breaker *CircuitBreaker

	// OnPublishError is called when a write is dropped (breaker open or
	// command failure). Optional, for metrics.
	OnPublishError func()
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	w := &Writer{
		client:  client,
		breaker: NewCircuitBreaker(5, 10*time.Second),
	}
	w.breaker.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return w, nil
}

// NewWithRetry creates a Writer, retrying the initial connection under the
// given policy. Used at boot, where pub/sub is a required resource and the
// caller treats exhaustion as fatal.
func NewWithRetry(ctx context.Context, cfg WriterConfig, policy retry.Policy) (*Writer, error) {
	var w *Writer
	err := policy.Notify(ctx, func() error {
		var err error
		w, err = New(cfg)
		return err
	}, func(err error, next time.Duration) {
		log.Printf("[redis] %s not reachable (%v), retrying in %s", cfg.Addr, err, next)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// MirrorTick writes the latest price key and publishes the tick on the
// prices topic in one pipeline. Failures are logged and dropped: the
// in-process cache stays authoritative and newer ticks overwrite anyway.
func (w *Writer) MirrorTick(ctx context.Context, tick model.PriceTick) {
	payload := string(tick.JSON())
	err := w.breaker.Execute(func() error {
		pipe := w.client.Pipeline()
		pipe.Set(ctx, priceKey(tick.Symbol), payload, priceTTL)
		pipe.Publish(ctx, TopicPrices, payload)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		w.dropped("mirror tick "+tick.Symbol, err)
	}
}

// PublishTrigger publishes one trigger event on the alerts topic.
func (w *Writer) PublishTrigger(ctx context.Context, ev *model.TriggeredAlert) error {
	err := w.breaker.Execute(func() error {
		return w.client.Publish(ctx, TopicAlerts, string(ev.JSON())).Err()
	})
	if err != nil {
		w.dropped("trigger "+ev.TriggerID, err)
	}
	return err
}

// WriteAlertIndex replaces the shared per-symbol alert index snapshot.
// An empty slice deletes the key.
func (w *Writer) WriteAlertIndex(ctx context.Context, symbol string, alerts []*model.Alert) error {
	err := w.breaker.Execute(func() error {
		if len(alerts) == 0 {
			return w.client.Del(ctx, alertIndexKey(symbol)).Err()
		}
		payload, err := model.AlertsJSON(alerts)
		if err != nil {
			return err
		}
		return w.client.Set(ctx, alertIndexKey(symbol), payload, 0).Err()
	})
	if err != nil {
		w.dropped("alert index "+symbol, err)
	}
	return err
}

// PublishAlertUpdate publishes an upsert/remove event on the alert-updates
// topic. Used by the admin surface and the ticksim harness.
func (w *Writer) PublishAlertUpdate(ctx context.Context, ev model.AlertUpdate) error {
	payload, err := ev.JSON()
	if err != nil {
		return err
	}
	err = w.breaker.Execute(func() error {
		return w.client.Publish(ctx, TopicAlertUpdates, payload).Err()
	})
	if err != nil {
		w.dropped("alert update "+ev.AlertID, err)
	}
	return err
}

func (w *Writer) dropped(what string, err error) {
	log.Printf("[redis] dropped %s: %v", what, err)
	if w.OnPublishError != nil {
		w.OnPublishError()
	}
}

// BreakerState exposes the circuit breaker state for the health endpoint.
func (w *Writer) BreakerState() State {
	return w.breaker.CurrentState()
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
