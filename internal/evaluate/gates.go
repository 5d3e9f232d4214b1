package evaluate

import (
	"fmt"
	"math"

	"crypto-alerts/internal/model"
	"crypto-alerts/internal/recorder"
)

// Gate labels used in metrics and failure counters.
const (
	GateVolume = "volume"
	GateChange = "changePct"
	GateCount  = "count"
)

// volumeGate passes when the alert has no volume floor, or the known 24h
// quote volume clears it. Unknown volume fails a non-zero floor.
func volumeGate(a *model.Alert, volume float64, known bool) bool {
	if a.MinDailyVolumeQuote == 0 {
		return true
	}
	if !known {
		return false
	}
	return volume >= a.MinDailyVolumeQuote
}

// changeResult is the change-% gate outcome carried into the trigger record.
type changeResult struct {
	pass       bool
	pctChange  float64
	basePrice  float64
	baseSource string
}

// changeGate resolves the comparison base (candle open when a forming candle
// is available, the alert's creation-time base otherwise) and applies the
// direction rule. For ABSOLUTE_PRICE alerts the price must additionally
// clear the target in the alert's direction.
func changeGate(a *model.Alert, price float64, candle *model.Candle) (changeResult, error) {
	base := a.BasePrice
	source := model.BaseSourceAlertBase
	if candle != nil && candle.Open > 0 {
		base = candle.Open
		source = model.BaseSourceCandleOpen
	}
	if base <= 0 {
		return changeResult{}, fmt.Errorf("alert %s: no usable base price (basePrice=%v, source=%s)",
			a.ID, a.BasePrice, source)
	}

	pct := (price - base) / base * 100

	var pass bool
	tau := a.ChangePctThreshold
	switch {
	case tau == 0:
		pass = true
	case a.Direction == model.DirectionUp:
		pass = pct >= tau
	case a.Direction == model.DirectionDown:
		pass = pct <= -tau
	case a.Direction == model.DirectionEither:
		pass = math.Abs(pct) >= math.Abs(tau)
	}

	if pass && a.TargetType == model.TargetAbsolutePrice {
		switch a.Direction {
		case model.DirectionUp:
			pass = price >= a.TargetValue
		case model.DirectionDown:
			pass = price <= a.TargetValue
		}
	}

	return changeResult{pass: pass, pctChange: pct, basePrice: base, baseSource: source}, nil
}

// countGate checks the per-candle trigger budget. A nil candle means the
// fetch failed: the gate fails open unless failClosed is set, on the theory
// that a transient exchange error should not silence alerts.
func countGate(a *model.Alert, candle *model.Candle, counters *recorder.CounterStore, failClosed bool) (pass bool, candleOpenMs int64) {
	if !a.CountEnabled {
		return true, 0
	}
	if candle == nil {
		return !failClosed, 0
	}
	cur := counters.Peek(a.ID, a.CountTimeframe, candle.OpenTimeMs)
	return cur < a.MaxTriggersPerCandle, candle.OpenTimeMs
}
