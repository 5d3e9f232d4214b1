package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"crypto-alerts/internal/model"
)

// InsertTrigger appends one trigger to the log. Inserting the same
// (alert_id, candle_open_ms, seq) twice is a no-op, which makes the write
// path safe to retry.
func (s *Store) InsertTrigger(ctx context.Context, ev *model.TriggeredAlert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO triggered_alerts (
			trigger_id, alert_id, symbol, triggered_at_ms, price,
			base_price_used, base_price_source, pct_change, volume_24h,
			cond_min_volume, cond_change_pct, cond_count,
			candle_open_ms, seq, notifications
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.TriggerID, ev.AlertID, ev.Symbol, ev.TriggeredAtMs, ev.Price,
		ev.BasePriceUsed, ev.BasePriceSource, ev.PctChange, ev.Volume24h,
		boolInt(ev.Conditions.MinVolume), boolInt(ev.Conditions.ChangePct), boolInt(ev.Conditions.Count),
		ev.CandleOpenMs, ev.Seq, strings.Join(ev.NotificationsAttempted, ","))
	if err != nil {
		return fmt.Errorf("sqlite insert trigger %s: %w", ev.TriggerID, err)
	}
	return nil
}

// LatestCounter returns the per-candle counter state reconstructed from the
// trigger log for one alert: the most recent candle open and how many
// triggers fell into it. Returns (0, 0) when the alert has no counted
// triggers, which resets the counter to a fresh candle.
func (s *Store) LatestCounter(ctx context.Context, alertID string) (candleOpenMs int64, count int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT candle_open_ms, MAX(seq)
		FROM triggered_alerts
		WHERE alert_id = ?
		  AND candle_open_ms = (
			SELECT candle_open_ms FROM triggered_alerts
			WHERE alert_id = ? AND candle_open_ms > 0
			ORDER BY triggered_at_ms DESC LIMIT 1
		  )`, alertID, alertID)

	var open sql.NullInt64
	var seq sql.NullInt64
	if err := row.Scan(&open, &seq); err != nil {
		if err == sql.ErrNoRows {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("sqlite latest counter %s: %w", alertID, err)
	}
	if !open.Valid || !seq.Valid {
		return 0, 0, nil
	}
	return open.Int64, int(seq.Int64), nil
}

// RecentTriggers returns the newest triggers for one alert, most recent
// first. Serves the trigger-history view on the admin surface.
func (s *Store) RecentTriggers(ctx context.Context, alertID string, limit int) ([]*model.TriggeredAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trigger_id, alert_id, symbol, triggered_at_ms, price,
		       base_price_used, base_price_source, pct_change, volume_24h,
		       cond_min_volume, cond_change_pct, cond_count,
		       candle_open_ms, seq, notifications
		FROM triggered_alerts
		WHERE alert_id = ?
		ORDER BY triggered_at_ms DESC
		LIMIT ?`, alertID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite recent triggers %s: %w", alertID, err)
	}
	defer rows.Close()

	var out []*model.TriggeredAlert
	for rows.Next() {
		var ev model.TriggeredAlert
		var minVol, changePct, count int
		var notifications string
		if err := rows.Scan(
			&ev.TriggerID, &ev.AlertID, &ev.Symbol, &ev.TriggeredAtMs, &ev.Price,
			&ev.BasePriceUsed, &ev.BasePriceSource, &ev.PctChange, &ev.Volume24h,
			&minVol, &changePct, &count,
			&ev.CandleOpenMs, &ev.Seq, &notifications); err != nil {
			return nil, err
		}
		ev.Conditions = model.GateConditions{
			MinVolume: minVol == 1,
			ChangePct: changePct == 1,
			Count:     count == 1,
		}
		if notifications != "" {
			ev.NotificationsAttempted = strings.Split(notifications, ",")
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
