// Package alertindex keeps the fast in-memory lookup symbol → alerts.
// The durable store owns the Alert records; the index holds copy snapshots
// refreshed on each alert-updates event. Readers load the table and slice
// through atomic pointers and never take a lock; the mutex only serializes
// writers.
package alertindex

import (
	"log"
	"sync"
	"sync/atomic"

	"crypto-alerts/internal/model"
)

type symtab map[string]*atomic.Pointer[[]*model.Alert]

// Index maps symbol → []*Alert. Only active, user-created alerts are kept;
// everything else is silently filtered on ingress.
type Index struct {
	mu  sync.Mutex // serializes writers; the read path never takes it
	tab atomic.Pointer[symtab]
}

// New creates an empty Index.
func New() *Index {
	ix := &Index{}
	t := make(symtab, 128)
	ix.tab.Store(&t)
	return ix
}

// AlertsFor returns the alert snapshot for symbol. The returned slice is
// immutable: writers always swap in a fresh copy. Lock-free.
func (ix *Index) AlertsFor(symbol string) []*model.Alert {
	ptr, ok := (*ix.tab.Load())[symbol]
	if !ok {
		return nil
	}
	s := ptr.Load()
	if s == nil {
		return nil
	}
	return *s
}

// Upsert inserts or replaces one alert snapshot. Alerts that are not
// indexable (inactive or system-created) are removed instead.
func (ix *Index) Upsert(alert *model.Alert) {
	if alert == nil {
		return
	}
	if !alert.Indexable() {
		ix.Remove(alert.ID, alert.Symbol)
		return
	}
	cp := *alert // snapshot: the caller may reuse the value

	ix.mu.Lock()
	defer ix.mu.Unlock()

	tab := *ix.tab.Load()
	ptr, ok := tab[alert.Symbol]

	var old []*model.Alert
	if ok {
		if s := ptr.Load(); s != nil {
			old = *s
		}
	}
	next := make([]*model.Alert, 0, len(old)+1)
	for _, a := range old {
		if a.ID != cp.ID {
			next = append(next, a)
		}
	}
	next = append(next, &cp)

	if ok {
		ptr.Store(&next)
		return
	}
	// New symbol: publish the slice before the table that references it.
	ptr = &atomic.Pointer[[]*model.Alert]{}
	ptr.Store(&next)
	grown := cloneTab(tab, 1)
	grown[alert.Symbol] = ptr
	ix.tab.Store(&grown)
}

// Remove deletes one alert from its symbol's slice. A no-op when absent.
func (ix *Index) Remove(alertID, symbol string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	tab := *ix.tab.Load()
	ptr, ok := tab[symbol]
	if !ok {
		return
	}
	s := ptr.Load()
	if s == nil {
		return
	}
	old := *s
	next := make([]*model.Alert, 0, len(old))
	for _, a := range old {
		if a.ID != alertID {
			next = append(next, a)
		}
	}
	if len(next) == 0 {
		shrunk := cloneTab(tab, 0)
		delete(shrunk, symbol)
		ix.tab.Store(&shrunk)
		return
	}
	ptr.Store(&next)
}

// Apply routes one alert-updates event to Upsert or Remove.
func (ix *Index) Apply(ev model.AlertUpdate) {
	switch ev.Action {
	case model.ActionUpsert:
		ix.Upsert(ev.Alert)
	case model.ActionRemove:
		ix.Remove(ev.AlertID, ev.Symbol)
	default:
		log.Printf("[alertindex] ignoring unknown action %q", ev.Action)
	}
}

// ReplaceAll rebuilds the whole index from a full scan of the durable store
// (cold start and SIGHUP reload). Non-indexable alerts are filtered here too.
// Readers see either the old table or the complete new one, never a partial
// rebuild.
func (ix *Index) ReplaceAll(alerts []*model.Alert) {
	grouped := make(map[string][]*model.Alert, 128)
	for _, a := range alerts {
		if a == nil || !a.Indexable() {
			continue
		}
		cp := *a
		grouped[a.Symbol] = append(grouped[a.Symbol], &cp)
	}

	fresh := make(symtab, len(grouped))
	for sym, list := range grouped {
		ptr := &atomic.Pointer[[]*model.Alert]{}
		l := list
		ptr.Store(&l)
		fresh[sym] = ptr
	}

	ix.mu.Lock()
	ix.tab.Store(&fresh)
	ix.mu.Unlock()
}

// Symbols returns every symbol with at least one indexed alert.
func (ix *Index) Symbols() []string {
	tab := *ix.tab.Load()
	out := make([]string, 0, len(tab))
	for s := range tab {
		out = append(out, s)
	}
	return out
}

// Size returns the total number of indexed alerts.
func (ix *Index) Size() int {
	tab := *ix.tab.Load()
	n := 0
	for _, ptr := range tab {
		if s := ptr.Load(); s != nil {
			n += len(*s)
		}
	}
	return n
}

func cloneTab(tab symtab, extra int) symtab {
	out := make(symtab, len(tab)+extra)
	for k, v := range tab {
		out[k] = v
	}
	return out
}
