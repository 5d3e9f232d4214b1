// Package syncbridge keeps the in-memory alert index in step with the
// durable store: a full resync on cold start (and SIGHUP), then incremental
// alert-updates events from Redis. It also maintains the shared per-symbol
// index snapshot in Redis for cross-process readers.
package syncbridge

import (
	"context"
	"fmt"
	"log"
	"time"

	"crypto-alerts/internal/alertindex"
	"crypto-alerts/internal/model"
)

// AlertStore is the durable side. Implemented by store/sqlite.
type AlertStore interface {
	LoadActiveAlerts(ctx context.Context) ([]*model.Alert, error)
	UpsertAlert(ctx context.Context, a *model.Alert) error
	DeleteAlert(ctx context.Context, alertID string) error
}

// Updates is the incremental side: a subscription to the alert-updates
// topic. Implemented by store/redis.Reader.
type Updates interface {
	ConsumeAlertUpdates(ctx context.Context, out chan<- model.AlertUpdate)
}

// IndexMirror pushes per-symbol index snapshots to the shared cache.
// Implemented by store/redis.Writer. May be nil.
type IndexMirror interface {
	WriteAlertIndex(ctx context.Context, symbol string, alerts []*model.Alert) error
}

// Bridge wires store, index and update stream together.
type Bridge struct {
	store  AlertStore
	index  *alertindex.Index
	mirror IndexMirror

	// OnResync is called after each successful full resync with the number
	// of indexed alerts (optional).
	OnResync func(n int)
}

// New creates a Bridge. mirror may be nil for single-process runs.
func New(store AlertStore, index *alertindex.Index, mirror IndexMirror) *Bridge {
	return &Bridge{store: store, index: index, mirror: mirror}
}

// Resync replaces the whole index from a full store scan. On scan failure
// the previous index is kept: serving a slightly stale alert set beats
// serving none.
func (b *Bridge) Resync(ctx context.Context) error {
	alerts, err := b.store.LoadActiveAlerts(ctx)
	if err != nil {
		return fmt.Errorf("syncbridge: resync scan: %w", err)
	}
	b.index.ReplaceAll(alerts)
	log.Printf("[syncbridge] resynced index: %d alerts across %d symbols",
		b.index.Size(), len(b.index.Symbols()))

	if b.mirror != nil {
		for _, sym := range b.index.Symbols() {
			b.mirrorSymbol(ctx, sym)
		}
	}
	if b.OnResync != nil {
		b.OnResync(b.index.Size())
	}
	return nil
}

// Run consumes alert-updates events until ctx is cancelled. Each event is
// applied to the durable store first, then the in-memory index, then the
// shared snapshot, so a crash between steps resolves toward the store on
// the next resync.
func (b *Bridge) Run(ctx context.Context, updates Updates) {
	ch := make(chan model.AlertUpdate, 256)
	go updates.ConsumeAlertUpdates(ctx, ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			b.apply(ctx, ev)
		}
	}
}

func (b *Bridge) apply(ctx context.Context, ev model.AlertUpdate) {
	switch ev.Action {
	case model.ActionUpsert:
		if err := b.store.UpsertAlert(ctx, ev.Alert); err != nil {
			log.Printf("[syncbridge] upsert %s failed, index not updated: %v", ev.Alert.ID, err)
			return
		}
	case model.ActionRemove:
		if err := b.store.DeleteAlert(ctx, ev.AlertID); err != nil {
			log.Printf("[syncbridge] delete %s failed, index not updated: %v", ev.AlertID, err)
			return
		}
	}

	b.index.Apply(ev)
	b.mirrorSymbol(ctx, ev.Symbol)
}

func (b *Bridge) mirrorSymbol(ctx context.Context, symbol string) {
	if b.mirror == nil || symbol == "" {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.mirror.WriteAlertIndex(writeCtx, symbol, b.index.AlertsFor(symbol)); err != nil {
		log.Printf("[syncbridge] shared index write for %s failed: %v", symbol, err)
	}
}
