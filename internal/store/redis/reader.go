package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"crypto-alerts/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr     string
	Password string
	DB       int
}

// Reader is the consumer side of the shared cache: the gateway reads latest
// prices from it and subscribes to the prices and alerts topics; the sync
// bridge subscribes to alert-updates.
type Reader struct {
	client *goredis.Client

	// OnBadUpdate is called when an alert-updates payload fails validation
	// (optional, for metrics).
	OnBadUpdate func()
}

// NewReader creates a Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{client: client}, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// LatestPrice reads price:{symbol}. Returns (zero, false, nil) when the key
// is missing or expired.
func (r *Reader) LatestPrice(ctx context.Context, symbol string) (model.PriceTick, bool, error) {
	data, err := r.client.Get(ctx, priceKey(symbol)).Result()
	if err != nil {
		if err == goredis.Nil {
			return model.PriceTick{}, false, nil
		}
		return model.PriceTick{}, false, fmt.Errorf("redis get %s: %w", priceKey(symbol), err)
	}
	var tick model.PriceTick
	if err := json.Unmarshal([]byte(data), &tick); err != nil {
		return model.PriceTick{}, false, fmt.Errorf("redis decode %s: %w", priceKey(symbol), err)
	}
	return tick, true, nil
}

// AlertIndex reads the shared per-symbol alert index snapshot. Returns nil
// when the key is absent.
func (r *Reader) AlertIndex(ctx context.Context, symbol string) ([]*model.Alert, error) {
	data, err := r.client.Get(ctx, alertIndexKey(symbol)).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", alertIndexKey(symbol), err)
	}
	var alerts []*model.Alert
	if err := json.Unmarshal([]byte(data), &alerts); err != nil {
		return nil, fmt.Errorf("redis decode %s: %w", alertIndexKey(symbol), err)
	}
	return alerts, nil
}

// SubscribeChannel subscribes to one pub/sub channel and waits for the
// subscription confirmation. Returns nil on failure.
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("[redis-reader] subscribe to %s failed: %v", channel, err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// ConsumePrices subscribes to the prices topic and forwards decoded ticks to
// out, dropping when out is full. Reconnects with a flat delay until ctx is
// cancelled.
func (r *Reader) ConsumePrices(ctx context.Context, out chan<- model.PriceTick) {
	r.consume(ctx, TopicPrices, func(payload string) {
		var tick model.PriceTick
		if err := json.Unmarshal([]byte(payload), &tick); err != nil {
			log.Printf("[redis-reader] bad tick on %s: %v", TopicPrices, err)
			return
		}
		select {
		case out <- tick:
		default:
		}
	})
}

// ConsumeTriggers subscribes to the alerts topic and forwards decoded
// trigger events to out, dropping when out is full.
func (r *Reader) ConsumeTriggers(ctx context.Context, out chan<- *model.TriggeredAlert) {
	r.consume(ctx, TopicAlerts, func(payload string) {
		var ev model.TriggeredAlert
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			log.Printf("[redis-reader] bad trigger on %s: %v", TopicAlerts, err)
			return
		}
		select {
		case out <- &ev:
		default:
		}
	})
}

// ConsumeAlertUpdates subscribes to the alert-updates topic, validates each
// payload, and forwards accepted events to out. Rejected payloads are logged
// and dropped; a malformed producer must not take the bridge down.
func (r *Reader) ConsumeAlertUpdates(ctx context.Context, out chan<- model.AlertUpdate) {
	r.consume(ctx, TopicAlertUpdates, func(payload string) {
		ev, err := model.ParseAlertUpdate([]byte(payload))
		if err != nil {
			log.Printf("[redis-reader] rejected alert-update: %v", err)
			if r.OnBadUpdate != nil {
				r.OnBadUpdate()
			}
			return
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	})
}

// consume runs one resubscribe loop over a channel, invoking handle per
// message. The pub/sub connection is rebuilt after any failure.
func (r *Reader) consume(ctx context.Context, channel string, handle func(payload string)) {
	for {
		if ctx.Err() != nil {
			return
		}
		pubsub := r.SubscribeChannel(ctx, channel)
		if pubsub == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		ch := pubsub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				handle(msg.Payload)
			}
		}
		pubsub.Close()
		log.Printf("[redis-reader] %s subscription lost, resubscribing", channel)
	}
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
