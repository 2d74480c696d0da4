package db

import (
	"time"
)

// maxSyncHistoryRows bounds the sync_history journal.
const maxSyncHistoryRows = 10000

// SyncHistoryEntry represents a row from the sync_history table.
type SyncHistoryEntry struct {
	ID            int64
	Direction     string // "push" or "pull"
	Operation     string // "create", "update", "delete"
	EntityType    string
	EntityID      int64
	ServerVersion int64
	DeviceID      string
	Timestamp     time.Time
}

// parseTimestamp accepts the store layout plus the formats sqlite itself emits.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		timeLayout,
		time.RFC3339,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: timeLayout, Value: s}
}

// recordHistory batch-inserts entries within the transaction and trims the
// journal to its newest rows.
func (tx *Tx) recordHistory(entries []SyncHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	stmt, err := tx.tx.Prepare(`
		INSERT INTO sync_history (direction, operation, entity_type, entity_id, server_version, device_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := tx.db.nowString()
	for _, e := range entries {
		ts := now
		if !e.Timestamp.IsZero() {
			ts = e.Timestamp.UTC().Format(timeLayout)
		}
		device := e.DeviceID
		if device == "" {
			device = tx.db.deviceID
		}
		if _, err := stmt.Exec(e.Direction, e.Operation, e.EntityType, e.EntityID, e.ServerVersion, device, ts); err != nil {
			return err
		}
	}

	_, err = tx.tx.Exec(`
		DELETE FROM sync_history WHERE id NOT IN (
			SELECT id FROM sync_history ORDER BY id DESC LIMIT ?
		)
	`, maxSyncHistoryRows)
	return err
}

func (db *DB) queryHistory(query string, args ...any) ([]SyncHistoryEntry, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SyncHistoryEntry
	for rows.Next() {
		var e SyncHistoryEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.Direction, &e.Operation, &e.EntityType, &e.EntityID, &e.ServerVersion, &e.DeviceID, &ts); err != nil {
			return nil, err
		}
		parsed, parseErr := parseTimestamp(ts)
		if parseErr != nil {
			return nil, parseErr
		}
		e.Timestamp = parsed
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetSyncHistoryTail returns the last N entries in chronological order (oldest first).
func (db *DB) GetSyncHistoryTail(limit int) ([]SyncHistoryEntry, error) {
	entries, err := db.queryHistory(`
		SELECT id, direction, operation, entity_type, entity_id, server_version, device_id, timestamp
		FROM sync_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// GetSyncHistory returns entries with id > afterID, ordered by id ASC.
// Used for follow-mode polling.
func (db *DB) GetSyncHistory(afterID int64, limit int) ([]SyncHistoryEntry, error) {
	return db.queryHistory(`
		SELECT id, direction, operation, entity_type, entity_id, server_version, device_id, timestamp
		FROM sync_history
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, afterID, limit)
}
