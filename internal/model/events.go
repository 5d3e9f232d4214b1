package model

import (
	"encoding/json"
	"fmt"
)

// Alert-update actions published on the alert-updates channel by the admin
// CRUD surface and consumed by the sync bridge.
const (
	ActionUpsert = "upsert"
	ActionRemove = "remove"
)

// AlertUpdate is one CRUD event on an alert. Alert is set for upserts only.
type AlertUpdate struct {
	Action  string `json:"action"`
	Symbol  string `json:"symbol"`
	AlertID string `json:"alertId"`
	Alert   *Alert `json:"alert,omitempty"`
}

// JSON encodes the event for the alert-updates channel.
func (ev AlertUpdate) JSON() (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("alert-update: encode: %w", err)
	}
	return string(b), nil
}

// ParseAlertUpdate decodes and validates an alert-updates payload.
func ParseAlertUpdate(raw []byte) (AlertUpdate, error) {
	var ev AlertUpdate
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("alert-update: decode: %w", err)
	}
	switch ev.Action {
	case ActionUpsert:
		if ev.Alert == nil {
			return ev, fmt.Errorf("alert-update: upsert without alert body (alertId=%s)", ev.AlertID)
		}
		if err := ev.Alert.Validate(); err != nil {
			return ev, fmt.Errorf("alert-update: %w", err)
		}
	case ActionRemove:
		if ev.AlertID == "" || ev.Symbol == "" {
			return ev, fmt.Errorf("alert-update: remove requires alertId and symbol")
		}
	default:
		return ev, fmt.Errorf("alert-update: unknown action %q", ev.Action)
	}
	return ev, nil
}
