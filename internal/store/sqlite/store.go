// Package sqlite is the durable store: one row per Alert and an append-only
// triggered_alerts log. A partial unique index on (alert_id, candle_open_ms,
// seq) makes trigger inserts idempotent for counted alerts, which is what
// lets the counter be reconciled from the log after a restart.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to the database file, e.g. "data/alerts.db"
}

// Store wraps the single-writer SQLite database.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (creating if needed) the database with WAL mode and the schema.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; readers share the WAL snapshot.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			alert_id               TEXT PRIMARY KEY,
			owner_id               TEXT NOT NULL DEFAULT '',
			symbol                 TEXT NOT NULL,
			active                 INTEGER NOT NULL DEFAULT 1,
			user_created           INTEGER NOT NULL DEFAULT 1,
			direction              TEXT NOT NULL,
			target_type            TEXT NOT NULL,
			target_value           REAL NOT NULL DEFAULT 0,
			base_price             REAL NOT NULL DEFAULT 0,
			change_pct_threshold   REAL NOT NULL DEFAULT 0,
			change_pct_tf          TEXT NOT NULL,
			min_daily_volume_quote REAL NOT NULL DEFAULT 0,
			count_enabled          INTEGER NOT NULL DEFAULT 0,
			count_tf               TEXT NOT NULL DEFAULT '',
			max_triggers_per_candle INTEGER NOT NULL DEFAULT 0,
			email                  TEXT NOT NULL DEFAULT '',
			chat_target            TEXT NOT NULL DEFAULT '',
			comment                TEXT NOT NULL DEFAULT '',
			last_triggered_ms      INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS alerts_symbol ON alerts(symbol);

		CREATE TABLE IF NOT EXISTS triggered_alerts (
			trigger_id        TEXT PRIMARY KEY,
			alert_id          TEXT NOT NULL,
			symbol            TEXT NOT NULL,
			triggered_at_ms   INTEGER NOT NULL,
			price             REAL NOT NULL,
			base_price_used   REAL NOT NULL,
			base_price_source TEXT NOT NULL,
			pct_change        REAL NOT NULL,
			volume_24h        REAL NOT NULL DEFAULT 0,
			cond_min_volume   INTEGER NOT NULL,
			cond_change_pct   INTEGER NOT NULL,
			cond_count        INTEGER NOT NULL,
			candle_open_ms    INTEGER NOT NULL DEFAULT 0,
			seq               INTEGER NOT NULL DEFAULT 0,
			notifications     TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS triggered_alerts_alert ON triggered_alerts(alert_id, triggered_at_ms);

		-- Per-candle dedup key: at most one row per (alert, candle, ordinal).
		CREATE UNIQUE INDEX IF NOT EXISTS triggered_alerts_dedup
			ON triggered_alerts(alert_id, candle_open_ms, seq)
			WHERE candle_open_ms > 0;
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
