// Package notification delivers triggered alerts to external channels
// (chat, webhooks) and implements the dispatch fabric's Notifier interface.
package notification

import (
	"context"
	"fmt"
	"log"

	"crypto-alerts/internal/model"
)

// message renders the human-readable trigger text shared by all channels.
func message(ev *model.TriggeredAlert, alert *model.Alert) string {
	arrow := "↑"
	if ev.PctChange < 0 {
		arrow = "↓"
	}
	text := fmt.Sprintf("%s %s %.4f (%+.2f%% vs %s base %.4f)",
		ev.Symbol, arrow, ev.Price, ev.PctChange, ev.BasePriceSource, ev.BasePriceUsed)
	if alert.Comment != "" {
		text += " | " + alert.Comment
	}
	return text
}

// LogNotifier prints triggers to the process log. Always applies; it is the
// delivery channel of last resort and useful in development.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Applies(alert *model.Alert) bool { return true }

func (n *LogNotifier) Send(ctx context.Context, ev *model.TriggeredAlert, alert *model.Alert) error {
	log.Printf("[notify] trigger %s alert %s: %s", ev.TriggerID, ev.AlertID, message(ev, alert))
	return nil
}
