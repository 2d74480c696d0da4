package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stockly-app/stockly/internal/models"
)

// ErrChangeNotFound is returned when a change log id does not exist.
var ErrChangeNotFound = errors.New("change not found")

const changeColumns = `id, entity_type, entity_id, operation, change_data, old_data, status,
	error, attempts, base_version, server_version, idempotency_key, created_at, synced_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChange(s rowScanner) (models.ChangeItem, error) {
	var (
		c         models.ChangeItem
		data      string
		oldData   sql.NullString
		status    string
		op        string
		createdAt string
		syncedAt  sql.NullString
	)
	err := s.Scan(&c.ID, &c.EntityType, &c.EntityID, &op, &data, &oldData, &status,
		&c.Error, &c.Attempts, &c.BaseVersion, &c.ServerVersion, &c.IdempotencyKey, &createdAt, &syncedAt)
	if err != nil {
		return c, err
	}
	c.Operation = models.Operation(op)
	c.Status = models.SyncStatus(status)
	c.Data = json.RawMessage(data)
	if oldData.Valid && oldData.String != "" {
		c.OldData = json.RawMessage(oldData.String)
	}
	if c.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return c, fmt.Errorf("change %d created_at: %w", c.ID, err)
	}
	if syncedAt.Valid && syncedAt.String != "" {
		t, err := parseTimestamp(syncedAt.String)
		if err != nil {
			return c, fmt.Errorf("change %d synced_at: %w", c.ID, err)
		}
		c.SyncedAt = &t
	}
	return c, nil
}

func queryChanges(q querier, query string, args ...any) ([]models.ChangeItem, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.ChangeItem
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func getChange(q querier, id int64) (models.ChangeItem, error) {
	c, err := scanChange(q.QueryRow(`SELECT `+changeColumns+` FROM sync_queue WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return c, fmt.Errorf("%w: %d", ErrChangeNotFound, id)
	}
	return c, err
}

func encodePayload(v any) (string, error) {
	switch d := v.(type) {
	case nil:
		return "", nil
	case json.RawMessage:
		return string(d), nil
	case []byte:
		return string(d), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// serverVersionOf returns the last server version confirmed for a row, 0 if unknown.
func serverVersionOf(q querier, table string, id int64) int64 {
	var v int64
	q.QueryRow(fmt.Sprintf("SELECT server_version FROM %s WHERE id = ?", table), id).Scan(&v)
	return v
}

// LogChange appends a pending change item. It must run in the same
// transaction as the mutation it describes.
func (tx *Tx) LogChange(entityType string, op models.Operation, entityID int64, data, oldData any) (int64, error) {
	if err := validateTable(entityType); err != nil {
		return 0, err
	}
	if !models.IsValidOperation(op) {
		return 0, fmt.Errorf("invalid operation: %q", op)
	}
	payload, err := encodePayload(data)
	if err != nil {
		return 0, fmt.Errorf("marshal change data: %w", err)
	}
	if payload == "" {
		payload = "{}"
	}
	old, err := encodePayload(oldData)
	if err != nil {
		return 0, fmt.Errorf("marshal old data: %w", err)
	}
	var oldArg any
	if old != "" {
		oldArg = old
	}

	res, err := tx.tx.Exec(`
		INSERT INTO sync_queue (entity_type, entity_id, operation, change_data, old_data, status, base_version, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?, ?)`,
		entityType, entityID, string(op), payload, oldArg,
		serverVersionOf(tx.tx, entityType, entityID), ulid.Make().String(), tx.db.nowString(),
	)
	if err != nil {
		return 0, fmt.Errorf("log change: %w", err)
	}
	return res.LastInsertId()
}

// GetPending returns pending items in id order.
func (db *DB) GetPending() ([]models.ChangeItem, error) {
	return queryChanges(db.conn, `SELECT `+changeColumns+` FROM sync_queue WHERE status = 'pending' ORDER BY id ASC`)
}

// GetChange returns one change item.
func (db *DB) GetChange(id int64) (models.ChangeItem, error) {
	return getChange(db.conn, id)
}

// ListChanges returns items with any of the given statuses (all when none), newest last.
func (db *DB) ListChanges(limit int, statuses ...models.SyncStatus) ([]models.ChangeItem, error) {
	query := `SELECT ` + changeColumns + ` FROM sync_queue`
	var args []any
	if len(statuses) > 0 {
		ph := make([]string, len(statuses))
		for i, s := range statuses {
			ph[i] = "?"
			args = append(args, string(s))
		}
		query += " WHERE status IN (" + strings.Join(ph, ", ") + ")"
	}
	query += " ORDER BY id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return queryChanges(db.conn, query, args...)
}

// CountPending returns the number of pending items.
func (db *DB) CountPending() (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE status = 'pending'`).Scan(&n)
	return n, err
}

// CountByStatus returns item counts per status.
func (db *DB) CountByStatus() (map[models.SyncStatus]int, error) {
	rows, err := db.conn.Query(`SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[models.SyncStatus]int{
		models.StatusPending:  0,
		models.StatusSynced:   0,
		models.StatusConflict: 0,
		models.StatusFailed:   0,
	}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[models.SyncStatus(s)] = n
	}
	return counts, rows.Err()
}

// OutstandingIDs returns entity ids of table that still have pending,
// conflicting or failed items.
func (db *DB) OutstandingIDs(table string) (map[int64]bool, error) {
	return outstandingIDs(db.conn, table)
}

func outstandingIDs(q querier, table string) (map[int64]bool, error) {
	rows, err := q.Query(`SELECT DISTINCT entity_id FROM sync_queue
		WHERE entity_type = ? AND status IN ('pending', 'conflict', 'failed')`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// MarkStatus transitions an item. Transitioning an already synced item is a
// no-op so repeated acknowledgements are harmless. serverVersion is only
// recorded when positive.
func (tx *Tx) MarkStatus(id int64, status models.SyncStatus, serverVersion int64, errMsg string) error {
	if !models.IsValidStatus(status) {
		return fmt.Errorf("invalid status: %q", status)
	}
	var current string
	err := tx.tx.QueryRow(`SELECT status FROM sync_queue WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %d", ErrChangeNotFound, id)
	}
	if err != nil {
		return err
	}
	if models.SyncStatus(current) == models.StatusSynced {
		return nil
	}

	var syncedAt any
	synced := 0
	if status == models.StatusSynced {
		syncedAt = tx.db.nowString()
		synced = 1
	}
	_, err = tx.tx.Exec(`
		UPDATE sync_queue
		SET status = ?, synced = ?, error = ?, synced_at = ?,
		    server_version = CASE WHEN ? > 0 THEN ? ELSE server_version END
		WHERE id = ?`,
		string(status), synced, errMsg, syncedAt, serverVersion, serverVersion, id,
	)
	if err != nil {
		return fmt.Errorf("mark change %d %s: %w", id, status, err)
	}
	return nil
}

// MarkStatus is the standalone form of Tx.MarkStatus.
func (db *DB) MarkStatus(id int64, status models.SyncStatus, serverVersion int64, errMsg string) error {
	return db.Transaction(func(tx *Tx) error {
		return tx.MarkStatus(id, status, serverVersion, errMsg)
	})
}

// RecordAttempt counts a failed send without changing the item's status.
func (db *DB) RecordAttempt(id int64, errMsg string) error {
	return db.Transaction(func(tx *Tx) error {
		_, err := tx.tx.Exec(`UPDATE sync_queue SET attempts = attempts + 1, error = ? WHERE id = ? AND status = 'pending'`, errMsg, id)
		return err
	})
}

// Requeue replaces a failed or conflicting item with a fresh pending copy at
// the tail of the queue and returns the new id. The copy is based on the
// newest server version the old item learned about.
func (db *DB) Requeue(id int64) (int64, error) {
	var newID int64
	err := db.Transaction(func(tx *Tx) error {
		c, err := getChange(tx.tx, id)
		if err != nil {
			return err
		}
		if c.Status != models.StatusFailed && c.Status != models.StatusConflict {
			return fmt.Errorf("change %d is %s; only failed or conflict items can be requeued", id, c.Status)
		}
		var old any
		if len(c.OldData) > 0 {
			old = string(c.OldData)
		}
		res, err := tx.tx.Exec(`
			INSERT INTO sync_queue (entity_type, entity_id, operation, change_data, old_data, status, base_version, idempotency_key, created_at)
			VALUES (?, ?, ?, ?, ?, 'pending', ?, ?, ?)`,
			c.EntityType, c.EntityID, string(c.Operation), string(c.Data), old,
			max(c.BaseVersion, c.ServerVersion), ulid.Make().String(), tx.db.nowString(),
		)
		if err != nil {
			return fmt.Errorf("requeue change %d: %w", id, err)
		}
		if newID, err = res.LastInsertId(); err != nil {
			return err
		}
		_, err = tx.tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
		return err
	})
	return newID, err
}

// Discard drops an item, accepting the server's state for that entity.
// Discarding the create of a row the server never saw also removes the row
// and every other outstanding item for it.
func (db *DB) Discard(id int64) error {
	return db.Transaction(func(tx *Tx) error {
		c, err := getChange(tx.tx, id)
		if err != nil {
			return err
		}
		if c.Status == models.StatusSynced {
			return fmt.Errorf("change %d is already synced", id)
		}
		if _, err := tx.tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
			return fmt.Errorf("discard change %d: %w", id, err)
		}
		if c.Operation == models.OpCreate && c.EntityID < 0 {
			if _, err := tx.tx.Exec(`DELETE FROM sync_queue WHERE entity_type = ? AND entity_id = ? AND status != 'synced'`, c.EntityType, c.EntityID); err != nil {
				return err
			}
			if _, err := deleteRows(tx.tx, c.EntityType, ByID(c.EntityID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// PruneSynced deletes synced items confirmed before cutoff.
func (db *DB) PruneSynced(cutoff time.Time) (int64, error) {
	var n int64
	err := db.Transaction(func(tx *Tx) error {
		res, err := tx.tx.Exec(`DELETE FROM sync_queue WHERE status = 'synced' AND synced_at < ?`, cutoff.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("prune synced: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
