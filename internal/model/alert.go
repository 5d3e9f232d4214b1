package model

import (
	"encoding/json"
	"fmt"
)

// Direction constrains which way the price must move for an alert to fire.
type Direction string

const (
	DirectionUp     Direction = "UP"
	DirectionDown   Direction = "DOWN"
	DirectionEither Direction = "EITHER"
)

// TargetType selects the primary comparison the alert makes.
type TargetType string

const (
	TargetAbsolutePrice TargetType = "ABSOLUTE_PRICE"
	TargetPercentChange TargetType = "PERCENT_CHANGE"
)

// Alert is a user-defined trading alert rule. The durable store owns the
// record; the in-memory index holds copy snapshots refreshed on each
// alert-updates event. Per-candle trigger counters are kept separately
// (see recorder.CounterStore) so index refreshes never clobber them.
type Alert struct {
	ID          string `json:"alertId"`
	OwnerID     string `json:"ownerId"`
	Symbol      string `json:"symbol"`
	Active      bool   `json:"active"`
	UserCreated bool   `json:"userCreated"`

	// Primary predicate. BasePrice is captured at creation and used only as
	// a fallback comparison anchor when no candle open is available.
	Direction   Direction  `json:"direction"`
	TargetType  TargetType `json:"targetType"`
	TargetValue float64    `json:"targetValue"`
	BasePrice   float64    `json:"basePrice"`

	// Change-% gate. Threshold 0 means "pass unconditionally".
	ChangePctThreshold float64   `json:"changePctThreshold"`
	ChangePctTimeframe Timeframe `json:"changePctTimeframe"`

	// Volume gate, in quote currency. 0 disables the gate.
	MinDailyVolumeQuote float64 `json:"minDailyVolumeQuote"`

	// Count gate: at most MaxTriggersPerCandle triggers per candle of
	// CountTimeframe.
	CountEnabled         bool      `json:"countEnabled"`
	CountTimeframe       Timeframe `json:"countTimeframe,omitempty"`
	MaxTriggersPerCandle int       `json:"maxTriggersPerCandle,omitempty"`

	// Notification targets.
	Email      string `json:"email,omitempty"`
	ChatTarget string `json:"chatTarget,omitempty"`
	Comment    string `json:"comment,omitempty"`

	// LastTriggeredMs is the last trigger time in epoch ms, 0 if never.
	LastTriggeredMs int64 `json:"lastTriggeredAt,omitempty"`
}

// Validate checks the invariants an alert must satisfy before it is accepted
// by the admin surface or indexed.
func (a *Alert) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("alert: missing alertId")
	}
	if a.Symbol == "" {
		return fmt.Errorf("alert %s: missing symbol", a.ID)
	}
	switch a.Direction {
	case DirectionUp, DirectionDown, DirectionEither:
	default:
		return fmt.Errorf("alert %s: invalid direction %q", a.ID, a.Direction)
	}
	switch a.TargetType {
	case TargetAbsolutePrice, TargetPercentChange:
	default:
		return fmt.Errorf("alert %s: invalid targetType %q", a.ID, a.TargetType)
	}
	// EITHER has no meaningful absolute-price semantics; rejected at creation.
	if a.Direction == DirectionEither && a.TargetType == TargetAbsolutePrice {
		return fmt.Errorf("alert %s: direction EITHER requires targetType PERCENT_CHANGE", a.ID)
	}
	if a.TargetValue < 0 {
		return fmt.Errorf("alert %s: negative targetValue", a.ID)
	}
	if a.ChangePctThreshold < 0 {
		return fmt.Errorf("alert %s: negative changePctThreshold", a.ID)
	}
	if !a.ChangePctTimeframe.Valid() {
		return fmt.Errorf("alert %s: invalid changePctTimeframe %q", a.ID, a.ChangePctTimeframe)
	}
	if a.MinDailyVolumeQuote < 0 {
		return fmt.Errorf("alert %s: negative minDailyVolumeQuote", a.ID)
	}
	if a.CountEnabled {
		if !a.CountTimeframe.Valid() {
			return fmt.Errorf("alert %s: invalid countTimeframe %q", a.ID, a.CountTimeframe)
		}
		if a.MaxTriggersPerCandle < 1 {
			return fmt.Errorf("alert %s: maxTriggersPerCandle must be >= 1", a.ID)
		}
	}
	return nil
}

// Indexable reports whether the alert belongs in the evaluation index.
func (a *Alert) Indexable() bool {
	return a.Active && a.UserCreated
}

// JSON returns the JSON-encoded alert.
func (a *Alert) JSON() []byte {
	b, _ := json.Marshal(a)
	return b
}

// AlertsJSON encodes an alert slice for the shared per-symbol index key.
func AlertsJSON(alerts []*Alert) (string, error) {
	b, err := json.Marshal(alerts)
	if err != nil {
		return "", fmt.Errorf("alerts: encode: %w", err)
	}
	return string(b), nil
}

// TriggerCounter tracks how many times an alert has fired inside the current
// candle of one timeframe. LastCandleOpenMs is always the openTimeMs of a
// candle of that timeframe; a mismatch with the current candle at evaluation
// time means the count is stale and resets.
type TriggerCounter struct {
	Count            int   `json:"count"`
	LastCandleOpenMs int64 `json:"lastCandleOpenTimeMs"`
	LastResetMs      int64 `json:"lastResetAt"`
}
