package store

// sqlite.go is the store backend selected by `store.backend: sqlite`:
// strategy state blobs plus a durable order/fill audit log, backed by
// database/sql over the pure-Go modernc.org/sqlite driver. Grounded on
// AlejandroRuiz99-polybot's SQLiteStorage: single-writer connection pool,
// CREATE TABLE IF NOT EXISTS schema, ON CONFLICT DO UPDATE upserts.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS strategy_state (
    strategy_id TEXT    NOT NULL,
    state_key   TEXT    NOT NULL,
    value       BLOB    NOT NULL,
    updated_at  DATETIME NOT NULL,
    PRIMARY KEY (strategy_id, state_key)
);

CREATE TABLE IF NOT EXISTS order_events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    client_order_id TEXT     NOT NULL,
    instrument_id   TEXT     NOT NULL,
    event_type      TEXT     NOT NULL,
    payload         TEXT     NOT NULL,
    ts_event        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_events_client ON order_events(client_order_id);
CREATE INDEX IF NOT EXISTS idx_order_events_ts      ON order_events(ts_event DESC);
`

// SQLiteStore is the durable sqlite store backend: strategy state plus an
// append-only order/fill audit log.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveState upserts every key in state for strategyID.
func (s *SQLiteStore) SaveState(strategyID string, state StrategyState) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin save state tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO strategy_state (strategy_id, state_key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(strategy_id, state_key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("store: prepare save state: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for key, value := range state {
		if _, err := stmt.ExecContext(ctx, strategyID, key, value, now); err != nil {
			return fmt.Errorf("store: save state %s/%s: %w", strategyID, key, err)
		}
	}
	return tx.Commit()
}

// LoadState returns every key saved for strategyID, or nil, nil if none.
func (s *SQLiteStore) LoadState(strategyID string) (StrategyState, error) {
	rows, err := s.db.Query(`SELECT state_key, value FROM strategy_state WHERE strategy_id = ?`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("store: load state: %w", err)
	}
	defer rows.Close()

	state := make(StrategyState)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("store: scan state row: %w", err)
		}
		state[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(state) == 0 {
		return nil, nil
	}
	return state, nil
}

// RecordOrderEvent appends one row to the durable order/fill audit log.
func (s *SQLiteStore) RecordOrderEvent(clientOrderID, instrumentID, eventType, payloadJSON string, tsEvent time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO order_events (client_order_id, instrument_id, event_type, payload, ts_event) VALUES (?, ?, ?, ?, ?)`,
		clientOrderID, instrumentID, eventType, payloadJSON, tsEvent.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: record order event: %w", err)
	}
	return nil
}

// OrderEventsSince returns the audit log rows for clientOrderID at or after
// since, oldest first.
func (s *SQLiteStore) OrderEventsSince(clientOrderID string, since time.Time) ([]OrderEventRecord, error) {
	rows, err := s.db.Query(
		`SELECT instrument_id, event_type, payload, ts_event FROM order_events
		 WHERE client_order_id = ? AND ts_event >= ? ORDER BY ts_event ASC`,
		clientOrderID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("store: query order events: %w", err)
	}
	defer rows.Close()

	var out []OrderEventRecord
	for rows.Next() {
		var rec OrderEventRecord
		if err := rows.Scan(&rec.InstrumentID, &rec.EventType, &rec.Payload, &rec.TsEvent); err != nil {
			return nil, fmt.Errorf("store: scan order event: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// OrderEventRecord is one row of the durable order/fill audit log.
type OrderEventRecord struct {
	InstrumentID string
	EventType    string
	Payload      string
	TsEvent      time.Time
}
