package model

import "encoding/json"

// BasePriceSource records which anchor Gate B compared against.
const (
	BaseSourceCandleOpen = "candle_open"
	BaseSourceAlertBase  = "alert_base_fallback"
)

// GateConditions records the outcome of the three gates for a trigger.
// A TriggeredAlert only exists when all three are true.
type GateConditions struct {
	MinVolume bool `json:"minVolume"`
	ChangePct bool `json:"changePct"`
	Count     bool `json:"count"`
}

// TriggeredAlert is the immutable event emitted when every gate passes for
// one (alert, tick). Persisted once per actual trigger, never mutated.
// CandleOpenMs / Seq form the per-candle dedup key when counting is enabled.
type TriggeredAlert struct {
	TriggerID       string         `json:"triggerId"`
	AlertID         string         `json:"alertId"`
	Symbol          string         `json:"symbol"`
	TriggeredAtMs   int64          `json:"triggeredAtMs"`
	Price           float64        `json:"price"`
	BasePriceUsed   float64        `json:"basePriceUsed"`
	BasePriceSource string         `json:"basePriceSource"`
	PctChange       float64        `json:"pctChange"`
	Volume24h       float64        `json:"volume24h,omitempty"`
	Conditions      GateConditions `json:"conditions"`

	// CandleOpenMs is the open time of the count-timeframe candle the trigger
	// fell into (0 when counting is disabled). Seq is the per-candle trigger
	// ordinal starting at 1.
	CandleOpenMs int64 `json:"candleOpenTimeMs,omitempty"`
	Seq          int   `json:"seq,omitempty"`

	NotificationsAttempted []string `json:"notificationsAttempted,omitempty"`
}

// JSON returns the JSON-encoded event.
func (t *TriggeredAlert) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
