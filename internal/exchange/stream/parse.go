package stream

import (
	"encoding/json"
	"fmt"
	"strconv"

	"crypto-alerts/internal/model"
)

// tickerFrame is the exchange 24hrTicker stream payload. Only the fields the
// engine needs are decoded; prices arrive as decimal strings.
type tickerFrame struct {
	EventType      string `json:"e"`
	EventTimeMs    int64  `json:"E"`
	Symbol         string `json:"s"`
	LastPrice      string `json:"c"`
	QuoteVolume    string `json:"q"`
	PriceChangePct string `json:"P"`
}

// combinedFrame wraps payloads delivered on combined-stream endpoints.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// controlFrame is a SUBSCRIBE/UNSUBSCRIBE acknowledgement or rejection.
type controlFrame struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *controlError   `json:"error"`
}

type controlError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *controlError) String() string {
	return fmt.Sprintf("code=%d msg=%q", e.Code, e.Msg)
}

// parseTick converts a raw ticker frame into a normalized PriceTick.
// Returns an error for anything malformed; the caller counts and skips it.
func parseTick(raw []byte) (model.PriceTick, error) {
	var frame tickerFrame

	// Combined-stream endpoints wrap the payload in {"stream":..,"data":{..}}.
	var combined combinedFrame
	if err := json.Unmarshal(raw, &combined); err == nil && len(combined.Data) > 0 {
		raw = combined.Data
	}

	if err := json.Unmarshal(raw, &frame); err != nil {
		return model.PriceTick{}, fmt.Errorf("decode ticker frame: %w", err)
	}
	if frame.Symbol == "" {
		return model.PriceTick{}, fmt.Errorf("ticker frame missing symbol")
	}

	price, err := strconv.ParseFloat(frame.LastPrice, 64)
	if err != nil {
		return model.PriceTick{}, fmt.Errorf("ticker %s: bad price %q", frame.Symbol, frame.LastPrice)
	}
	if price <= 0 {
		return model.PriceTick{}, fmt.Errorf("ticker %s: non-positive price %v", frame.Symbol, price)
	}
	if frame.EventTimeMs <= 0 {
		return model.PriceTick{}, fmt.Errorf("ticker %s: missing event time", frame.Symbol)
	}

	tick := model.PriceTick{
		Symbol:      frame.Symbol,
		Price:       price,
		EventTimeMs: frame.EventTimeMs,
	}
	// Volume and 24h change are optional; 0 means unknown downstream.
	if v, err := strconv.ParseFloat(frame.QuoteVolume, 64); err == nil && v > 0 {
		tick.Volume24h = v
	}
	if p, err := strconv.ParseFloat(frame.PriceChangePct, 64); err == nil {
		tick.PriceChangePct24h = p
	}
	return tick, nil
}

// isControlFrame decodes SUBSCRIBE/UNSUBSCRIBE acknowledgements. Returns
// false when the frame is a data payload.
func isControlFrame(raw []byte) (controlFrame, bool) {
	var ctl controlFrame
	if err := json.Unmarshal(raw, &ctl); err != nil {
		return ctl, false
	}
	return ctl, ctl.ID != 0
}
