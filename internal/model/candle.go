package model

import "encoding/json"

// Candle is an OHLCV bar for one (symbol, timeframe). OpenTimeMs is the
// canonical identity of "which candle we are in": two candles with the same
// (symbol, timeframe, openTimeMs) are the same candle.
// Invariant: OpenTimeMs % Timeframe.Millis() == 0.
type Candle struct {
	Symbol      string    `json:"symbol"`
	Timeframe   Timeframe `json:"timeframe"`
	OpenTimeMs  int64     `json:"openTimeMs"`
	CloseTimeMs int64     `json:"closeTimeMs"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
}

// ClosedAt reports whether the candle has closed as of nowMs.
func (c *Candle) ClosedAt(nowMs int64) bool {
	return nowMs >= c.CloseTimeMs
}

// JSON returns the JSON-encoded candle.
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
