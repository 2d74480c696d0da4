package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stockly-app/stockly/internal/models"
)

// SyncConflict is one journaled conflict and how it was settled.
type SyncConflict struct {
	ID            int64
	ChangeID      int64
	EntityType    string
	EntityID      int64
	Strategy      models.Strategy
	Resolution    models.Resolution
	ServerVersion int64
	LocalData     json.RawMessage
	ServerData    json.RawMessage
	CreatedAt     time.Time
}

// recordConflict journals a conflict inside the transaction.
func (tx *Tx) recordConflict(c SyncConflict) error {
	local := nullableJSON(c.LocalData)
	server := nullableJSON(c.ServerData)
	_, err := tx.tx.Exec(`
		INSERT INTO sync_conflicts (change_id, entity_type, entity_id, strategy, resolution, server_version, local_data, server_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ChangeID, c.EntityType, c.EntityID, string(c.Strategy), string(c.Resolution),
		c.ServerVersion, local, server, tx.db.nowString(),
	)
	if err != nil {
		return fmt.Errorf("record conflict: %w", err)
	}
	return nil
}

// RecordConflict journals a conflict outside any other write.
func (db *DB) RecordConflict(c SyncConflict) error {
	return db.Transaction(func(tx *Tx) error {
		return tx.recordConflict(c)
	})
}

func nullableJSON(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

// ListConflicts returns journaled conflicts, newest first. A zero since
// returns all of them.
func (db *DB) ListConflicts(limit int, since time.Time) ([]SyncConflict, error) {
	query := `
		SELECT id, change_id, entity_type, entity_id, strategy, resolution, server_version,
		       COALESCE(local_data, ''), COALESCE(server_data, ''), created_at
		FROM sync_conflicts`
	var args []any
	if !since.IsZero() {
		query += ` WHERE created_at >= ?`
		args = append(args, since.UTC().Format(timeLayout))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []SyncConflict
	for rows.Next() {
		var (
			c                    SyncConflict
			strategy, resolution string
			local, server, ts    string
		)
		if err := rows.Scan(&c.ID, &c.ChangeID, &c.EntityType, &c.EntityID, &strategy, &resolution,
			&c.ServerVersion, &local, &server, &ts); err != nil {
			return nil, err
		}
		c.Strategy = models.Strategy(strategy)
		c.Resolution = models.Resolution(resolution)
		if local != "" {
			c.LocalData = json.RawMessage(local)
		}
		if server != "" {
			c.ServerData = json.RawMessage(server)
		}
		if c.CreatedAt, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// TableSyncState is the pull bookkeeping for one table.
type TableSyncState struct {
	Table        string
	LastPulledAt *time.Time
	RowCount     int
	LastError    string
}

// GetTableSyncStates returns pull state for every table pulled at least once.
func (db *DB) GetTableSyncStates() ([]TableSyncState, error) {
	rows, err := db.conn.Query(`SELECT table_name, last_pulled_at, row_count, last_error FROM sync_state ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []TableSyncState
	for rows.Next() {
		var s TableSyncState
		var ts string
		if err := rows.Scan(&s.Table, &ts, &s.RowCount, &s.LastError); err != nil {
			return nil, err
		}
		if ts != "" {
			t, err := parseTimestamp(ts)
			if err != nil {
				return nil, err
			}
			s.LastPulledAt = &t
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// SetPullError records a failed pull for table, keeping its last success time.
func (db *DB) SetPullError(table, msg string) error {
	return db.Transaction(func(tx *Tx) error {
		_, err := tx.tx.Exec(`
			INSERT INTO sync_state (table_name, last_error) VALUES (?, ?)
			ON CONFLICT(table_name) DO UPDATE SET last_error = excluded.last_error`,
			table, msg)
		return err
	})
}

func (tx *Tx) markPulled(table string, rowCount int) error {
	_, err := tx.tx.Exec(`
		INSERT INTO sync_state (table_name, last_pulled_at, row_count, last_error) VALUES (?, ?, ?, '')
		ON CONFLICT(table_name) DO UPDATE SET
			last_pulled_at = excluded.last_pulled_at,
			row_count = excluded.row_count,
			last_error = ''`,
		table, tx.db.nowString(), rowCount)
	return err
}

// LastSyncAt returns the most recent successful push or pull, or nil.
func (db *DB) LastSyncAt() (*time.Time, error) {
	var ts sql.NullString
	err := db.conn.QueryRow(`SELECT MAX(timestamp) FROM sync_history`).Scan(&ts)
	if err != nil {
		return nil, err
	}
	var pulled sql.NullString
	if err := db.conn.QueryRow(`SELECT MAX(last_pulled_at) FROM sync_state WHERE last_pulled_at != ''`).Scan(&pulled); err != nil {
		return nil, err
	}
	latest := ts.String
	if pulled.Valid && pulled.String > latest {
		latest = pulled.String
	}
	if latest == "" {
		return nil, nil
	}
	t, err := parseTimestamp(latest)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
