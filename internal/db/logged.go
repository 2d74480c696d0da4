package db

import (
	"errors"
	"fmt"

	"github.com/stockly-app/stockly/internal/models"
)

// ErrRowNotFound is returned when a logged mutation targets a missing row.
var ErrRowNotFound = errors.New("row not found")

// provisionalID returns a negative id no row or queued item of table has used.
// Negative ids never collide with server-assigned ones.
func provisionalID(q querier, table string) (int64, error) {
	var minRow, minQueued int64
	if err := q.QueryRow(fmt.Sprintf("SELECT COALESCE(MIN(id), 0) FROM %s", table)).Scan(&minRow); err != nil {
		return 0, err
	}
	if err := q.QueryRow(`SELECT COALESCE(MIN(entity_id), 0) FROM sync_queue WHERE entity_type = ?`, table).Scan(&minQueued); err != nil {
		return 0, err
	}
	return min(minRow, minQueued, 0) - 1, nil
}

// InsertLogged inserts a row and queues its create in the same transaction.
// Rows without an id get a provisional one until the server assigns theirs.
func (tx *Tx) InsertLogged(table string, data models.Row) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}
	fields := data.Clone()
	if fields.ID() == 0 {
		id, err := provisionalID(tx.tx, table)
		if err != nil {
			return 0, fmt.Errorf("provisional id: %w", err)
		}
		fields[models.ColID] = id
	}
	fields[models.ColIsSynced] = 0

	id, err := insertRow(tx.tx, table, fields, tx.db.nowString())
	if err != nil {
		return 0, err
	}
	row, err := findByID(tx.tx, table, id)
	if err != nil {
		return 0, err
	}
	if _, err := tx.LogChange(table, models.OpCreate, id, row.Payload(), nil); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateLogged applies a partial update to one row and queues it. The queued
// data holds only the changed fields; old data holds the full prior row.
func (tx *Tx) UpdateLogged(table string, id int64, changes models.Row) error {
	if err := validateTable(table); err != nil {
		return err
	}
	old, err := findByID(tx.tx, table, id)
	if err != nil {
		return err
	}
	if old == nil {
		return fmt.Errorf("%w: %s %d", ErrRowNotFound, table, id)
	}
	if _, err := updateRows(tx.tx, table, changes, ByID(id), tx.db.nowString()); err != nil {
		return err
	}
	updated, err := findByID(tx.tx, table, id)
	if err != nil {
		return err
	}

	data := changes.Payload()
	delete(data, models.ColID)
	data[models.ColUpdatedAt] = updated[models.ColUpdatedAt]
	data[models.ColLastModified] = updated[models.ColLastModified]
	_, err = tx.LogChange(table, models.OpUpdate, id, data, old.Payload())
	return err
}

// DeleteLogged removes one row and queues its delete.
func (tx *Tx) DeleteLogged(table string, id int64) error {
	if err := validateTable(table); err != nil {
		return err
	}
	old, err := findByID(tx.tx, table, id)
	if err != nil {
		return err
	}
	if old == nil {
		return fmt.Errorf("%w: %s %d", ErrRowNotFound, table, id)
	}
	// Logged before the delete so the item captures the row's server version.
	if _, err := tx.LogChange(table, models.OpDelete, id, models.Row{models.ColID: id}, old.Payload()); err != nil {
		return err
	}
	_, err = deleteRows(tx.tx, table, ByID(id))
	return err
}

// InsertLogged is the standalone form of Tx.InsertLogged.
func (db *DB) InsertLogged(table string, data models.Row) (int64, error) {
	var id int64
	err := db.Transaction(func(tx *Tx) error {
		var err error
		id, err = tx.InsertLogged(table, data)
		return err
	})
	return id, err
}

// UpdateLogged is the standalone form of Tx.UpdateLogged.
func (db *DB) UpdateLogged(table string, id int64, changes models.Row) error {
	return db.Transaction(func(tx *Tx) error {
		return tx.UpdateLogged(table, id, changes)
	})
}

// DeleteLogged is the standalone form of Tx.DeleteLogged.
func (db *DB) DeleteLogged(table string, id int64) error {
	return db.Transaction(func(tx *Tx) error {
		return tx.DeleteLogged(table, id)
	})
}
