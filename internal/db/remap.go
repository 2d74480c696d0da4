package db

import (
	"fmt"

	"github.com/stockly-app/stockly/internal/models"
)

// remapID replaces a provisional id with the one the server assigned. The row,
// every reference column pointing at it, and the entity ids and JSON payloads
// of unsynced change items are rewritten together.
func (tx *Tx) remapID(table string, oldID, newID int64) error {
	if oldID == newID {
		return nil
	}
	if err := validateTable(table); err != nil {
		return err
	}
	q := tx.tx

	// A pull may already have mirrored the server's row; the local copy wins
	// until its own items are confirmed.
	if _, err := q.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), newID); err != nil {
		return fmt.Errorf("remap %s: clear %d: %w", table, newID, err)
	}
	if _, err := q.Exec(fmt.Sprintf("UPDATE %s SET id = ? WHERE id = ?", table), newID, oldID); err != nil {
		return fmt.Errorf("remap %s %d->%d: %w", table, oldID, newID, err)
	}

	for _, ref := range models.ReferencesTo(table) {
		if _, err := q.Exec(fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", ref.Table, ref.Column, ref.Column), newID, oldID); err != nil {
			return fmt.Errorf("remap %s.%s: %w", ref.Table, ref.Column, err)
		}
		if err := remapPayloadField(tx, ref.Table, ref.Column, oldID, newID); err != nil {
			return err
		}
	}

	// Activities point at any table through an (entity_type, entity_id) pair.
	if _, err := q.Exec(`UPDATE activities SET entity_id = ? WHERE entity_type = ? AND entity_id = ?`, newID, table, oldID); err != nil {
		return fmt.Errorf("remap activities: %w", err)
	}
	if _, err := q.Exec(`
		UPDATE sync_queue SET change_data = json_set(change_data, '$.entity_id', ?)
		WHERE entity_type = 'activities' AND status != 'synced'
		  AND json_extract(change_data, '$.entity_type') = ?
		  AND json_extract(change_data, '$.entity_id') = ?`, newID, table, oldID); err != nil {
		return fmt.Errorf("remap activity payloads: %w", err)
	}

	if _, err := q.Exec(`UPDATE sync_queue SET entity_id = ? WHERE entity_type = ? AND entity_id = ?`, newID, table, oldID); err != nil {
		return fmt.Errorf("remap queue entity ids: %w", err)
	}
	return remapPayloadField(tx, table, models.ColID, oldID, newID)
}

// remapPayloadField rewrites one field of the data and old data snapshots of
// unsynced items of table.
func remapPayloadField(tx *Tx, table, field string, oldID, newID int64) error {
	if !validColumnName.MatchString(field) {
		return fmt.Errorf("invalid column name: %q", field)
	}
	path := "$." + field
	for _, col := range []string{"change_data", "old_data"} {
		query := fmt.Sprintf(`
			UPDATE sync_queue SET %[1]s = json_set(%[1]s, ?, ?)
			WHERE entity_type = ? AND status != 'synced'
			  AND %[1]s IS NOT NULL AND json_extract(%[1]s, ?) = ?`, col)
		if _, err := tx.tx.Exec(query, path, newID, table, path, oldID); err != nil {
			return fmt.Errorf("remap %s %s payloads: %w", table, field, err)
		}
	}
	return nil
}
