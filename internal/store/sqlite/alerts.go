package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"crypto-alerts/internal/model"
)

const alertColumns = `alert_id, owner_id, symbol, active, user_created,
	direction, target_type, target_value, base_price,
	change_pct_threshold, change_pct_tf, min_daily_volume_quote,
	count_enabled, count_tf, max_triggers_per_candle,
	email, chat_target, comment, last_triggered_ms`

// LoadActiveAlerts scans every active, user-created alert for the cold-start
// index rebuild.
func (s *Store) LoadActiveAlerts(ctx context.Context) ([]*model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE active = 1 AND user_created = 1`)
	if err != nil {
		return nil, fmt.Errorf("sqlite load alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// GetAlert fetches one alert by id. Returns nil when absent.
func (s *Store) GetAlert(ctx context.Context, alertID string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE alert_id = ?`, alertID)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// UpsertAlert inserts or replaces one alert row.
func (s *Store) UpsertAlert(ctx context.Context, a *model.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO alerts (`+strings.ReplaceAll(alertColumns, "\n\t", " ")+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.Symbol, boolInt(a.Active), boolInt(a.UserCreated),
		string(a.Direction), string(a.TargetType), a.TargetValue, a.BasePrice,
		a.ChangePctThreshold, string(a.ChangePctTimeframe), a.MinDailyVolumeQuote,
		boolInt(a.CountEnabled), string(a.CountTimeframe), a.MaxTriggersPerCandle,
		a.Email, a.ChatTarget, a.Comment, a.LastTriggeredMs)
	if err != nil {
		return fmt.Errorf("sqlite upsert alert %s: %w", a.ID, err)
	}
	return nil
}

// DeleteAlert removes one alert row.
func (s *Store) DeleteAlert(ctx context.Context, alertID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE alert_id = ?`, alertID)
	if err != nil {
		return fmt.Errorf("sqlite delete alert %s: %w", alertID, err)
	}
	return nil
}

// UpdateLastTriggered stamps the alert's last trigger time.
func (s *Store) UpdateLastTriggered(ctx context.Context, alertID string, triggeredAtMs int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET last_triggered_ms = ? WHERE alert_id = ?`, triggeredAtMs, alertID)
	if err != nil {
		return fmt.Errorf("sqlite update last_triggered %s: %w", alertID, err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(sc scanner) (*model.Alert, error) {
	var a model.Alert
	var active, userCreated, countEnabled int
	var direction, targetType, changeTF, countTF string
	err := sc.Scan(
		&a.ID, &a.OwnerID, &a.Symbol, &active, &userCreated,
		&direction, &targetType, &a.TargetValue, &a.BasePrice,
		&a.ChangePctThreshold, &changeTF, &a.MinDailyVolumeQuote,
		&countEnabled, &countTF, &a.MaxTriggersPerCandle,
		&a.Email, &a.ChatTarget, &a.Comment, &a.LastTriggeredMs)
	if err != nil {
		return nil, err
	}
	a.Active = active == 1
	a.UserCreated = userCreated == 1
	a.CountEnabled = countEnabled == 1
	a.Direction = model.Direction(direction)
	a.TargetType = model.TargetType(targetType)
	a.ChangePctTimeframe = model.Timeframe(changeTF)
	a.CountTimeframe = model.Timeframe(countTF)
	return &a, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
