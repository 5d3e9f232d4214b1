package model

import "encoding/json"

// PriceTick is a single normalized price update for one symbol.
// Volume24h is the 24h traded volume in quote currency; 0 means unknown
// (the evaluator falls back to the 24h ticker side-channel).
// Immutable once produced by the stream client.
type PriceTick struct {
	Symbol            string  `json:"symbol"`
	Price             float64 `json:"price"`
	EventTimeMs       int64   `json:"eventTimeMs"`
	Volume24h         float64 `json:"volume24h,omitempty"`
	PriceChangePct24h float64 `json:"priceChangePct24h,omitempty"`
}

// JSON returns the JSON-encoded tick (ignoring errors for hot-path usage).
func (t *PriceTick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
