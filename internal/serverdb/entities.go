package serverdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stockly-app/stockly/internal/models"
)

// Errors returned by EntityStore.Apply. ErrDuplicate is also an
// ErrInvalidChange.
var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrInvalidChange = errors.New("invalid change")
	ErrDuplicate     = errors.New("duplicate value")
)

// Entity is the server's authoritative copy of one row.
type Entity struct {
	Table        string
	ID           int64
	Version      int64
	Data         json.RawMessage
	Deleted      bool
	LastModified string
	DeviceID     string
}

// ConflictError reports a change whose base version no longer matches.
// Current is nil when the entity does not exist on the server.
type ConflictError struct {
	Table   string
	ID      int64
	Current *Entity
}

func (e *ConflictError) Error() string {
	if e.Current == nil {
		return fmt.Sprintf("conflict: %s %d does not exist", e.Table, e.ID)
	}
	return fmt.Sprintf("conflict: %s %d is at version %d", e.Table, e.ID, e.Current.Version)
}

// Change is one client mutation submitted for reconciliation.
type Change struct {
	Table          string
	Operation      models.Operation
	ID             int64
	Data           json.RawMessage
	BaseVersion    int64
	IdempotencyKey string
	DeviceID       string
}

// Applied is the outcome of a successfully reconciled change.
type Applied struct {
	ID           int64
	Version      int64
	LastModified string
	Data         json.RawMessage
	Replayed     bool
}

// EntityStore holds one tenant's versioned rows.
type EntityStore struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// OpenEntityStore opens (creating if needed) a tenant entity database.
func OpenEntityStore(dbPath string) (*EntityStore, error) {
	conn, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(entitySchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create entity schema: %w", err)
	}
	return &EntityStore{conn: conn, path: dbPath, now: func() time.Time { return time.Now().UTC() }}, nil
}

// SetClock replaces the clock used to stamp last_modified.
func (s *EntityStore) SetClock(now func() time.Time) {
	s.now = now
}

// Path returns the database file path.
func (s *EntityStore) Path() string { return s.path }

// Ping checks the database connection is alive.
func (s *EntityStore) Ping() error { return s.conn.Ping() }

// Close checkpoints the WAL and closes the database.
func (s *EntityStore) Close() error {
	s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.conn.Close()
}

// Apply reconciles one change inside a transaction. A change whose
// idempotency key was already applied returns the original outcome with
// Replayed set and touches nothing.
func (s *EntityStore) Apply(c Change) (*Applied, error) {
	if !models.IsSyncTable(c.Table) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, c.Table)
	}
	if !models.IsValidOperation(c.Operation) {
		return nil, fmt.Errorf("%w: operation %q", ErrInvalidChange, c.Operation)
	}
	incoming, err := models.DecodeRow(c.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChange, err)
	}
	if c.Operation != models.OpCreate && c.ID <= 0 {
		return nil, fmt.Errorf("%w: %s requires a server id", ErrInvalidChange, c.Operation)
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if c.IdempotencyKey != "" {
		prev, err := replay(tx, c.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			return prev, nil
		}
	}

	var existing *Entity
	if c.ID > 0 {
		if existing, err = getEntity(tx, c.Table, c.ID); err != nil {
			return nil, err
		}
	}
	live := existing != nil && !existing.Deleted
	conflict := func() error {
		ce := &ConflictError{Table: c.Table, ID: c.ID}
		if live {
			ce.Current = existing
		}
		return ce
	}

	id := c.ID
	version := int64(1)
	data := models.Row{}
	deleted := false

	switch c.Operation {
	case models.OpCreate:
		if live && c.BaseVersion != existing.Version {
			return nil, conflict()
		}
		if id <= 0 {
			if id, err = nextID(tx, c.Table); err != nil {
				return nil, err
			}
		}
		if existing != nil {
			version = existing.Version + 1
		}
	case models.OpUpdate:
		if !live || c.BaseVersion != existing.Version {
			return nil, conflict()
		}
		if data, err = models.DecodeRow(existing.Data); err != nil {
			return nil, fmt.Errorf("decode stored %s %d: %w", c.Table, id, err)
		}
		version = existing.Version + 1
	case models.OpDelete:
		if !live || c.BaseVersion != existing.Version {
			return nil, conflict()
		}
		if data, err = models.DecodeRow(existing.Data); err != nil {
			return nil, fmt.Errorf("decode stored %s %d: %w", c.Table, id, err)
		}
		incoming = nil
		version = existing.Version + 1
		deleted = true
	}

	for k, v := range incoming.Payload() {
		data[k] = v
	}
	if !deleted {
		if err := checkUnique(tx, c.Table, id, data); err != nil {
			return nil, err
		}
	}

	modified := s.now().UTC().Format(models.TimeLayout)
	data[models.ColID] = id
	data[models.ColLastModified] = modified

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s %d: %w", c.Table, id, err)
	}

	_, err = tx.Exec(`
		INSERT INTO entities (table_name, id, version, data, deleted, last_modified, device_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, id) DO UPDATE SET
			version = excluded.version, data = excluded.data, deleted = excluded.deleted,
			last_modified = excluded.last_modified, device_id = excluded.device_id`,
		c.Table, id, version, string(raw), deleted, modified, c.DeviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("write %s %d: %w", c.Table, id, err)
	}

	if c.IdempotencyKey != "" {
		_, err = tx.Exec(`
			INSERT INTO applied_changes (idempotency_key, table_name, entity_id, operation, version, last_modified, device_id, applied_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.IdempotencyKey, c.Table, id, string(c.Operation), version, modified, c.DeviceID, modified,
		)
		if err != nil {
			return nil, fmt.Errorf("record idempotency key: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &Applied{ID: id, Version: version, LastModified: modified, Data: raw}, nil
}

// checkUnique rejects data when another live row of table already holds one
// of its unique values.
func checkUnique(tx *sql.Tx, table string, id int64, data models.Row) error {
	for _, col := range models.UniqueColumns(table) {
		v, ok := data[col].(string)
		if !ok || v == "" {
			continue
		}
		var other int64
		err := tx.QueryRow(`
			SELECT id FROM entities
			WHERE table_name = ? AND deleted = 0 AND id != ? AND json_extract(data, '$.' || ?) = ?
			LIMIT 1`, table, id, col, v).Scan(&other)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("check %s.%s: %w", table, col, err)
		}
		return fmt.Errorf("%w: %w: %s %s %q is already used by id %d", ErrInvalidChange, ErrDuplicate, table, col, v, other)
	}
	return nil
}

func replay(tx *sql.Tx, key string) (*Applied, error) {
	var a Applied
	var table string
	err := tx.QueryRow(
		`SELECT table_name, entity_id, version, last_modified FROM applied_changes WHERE idempotency_key = ?`, key,
	).Scan(&table, &a.ID, &a.Version, &a.LastModified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check idempotency key: %w", err)
	}
	a.Replayed = true
	if e, err := getEntity(tx, table, a.ID); err == nil && e != nil && !e.Deleted {
		a.Data = e.Data
	}
	return &a, nil
}

func nextID(tx *sql.Tx, table string) (int64, error) {
	var maxID sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(id) FROM entities WHERE table_name = ?`, table).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("next id for %s: %w", table, err)
	}
	if !maxID.Valid || maxID.Int64 < 1 {
		return 1, nil
	}
	return maxID.Int64 + 1, nil
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

const entityColumns = `table_name, id, version, data, deleted, last_modified, device_id`

func scanEntity(row interface{ Scan(...any) error }) (*Entity, error) {
	e := &Entity{}
	var data string
	if err := row.Scan(&e.Table, &e.ID, &e.Version, &data, &e.Deleted, &e.LastModified, &e.DeviceID); err != nil {
		return nil, err
	}
	e.Data = json.RawMessage(data)
	return e, nil
}

// getEntity returns the row including tombstones, or nil when never written.
func getEntity(q querier, table string, id int64) (*Entity, error) {
	e, err := scanEntity(q.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE table_name = ? AND id = ?`, table, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %d: %w", table, id, err)
	}
	return e, nil
}

// GetEntity returns the live copy of one row, or nil when missing or deleted.
func (s *EntityStore) GetEntity(table string, id int64) (*Entity, error) {
	if !models.IsSyncTable(table) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	e, err := getEntity(s.conn, table, id)
	if err != nil || e == nil || e.Deleted {
		return nil, err
	}
	return e, nil
}

// ListEntities returns every live row of table ordered by id.
func (s *EntityStore) ListEntities(table string) ([]*Entity, error) {
	if !models.IsSyncTable(table) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	rows, err := s.conn.Query(`SELECT `+entityColumns+` FROM entities WHERE table_name = ? AND deleted = 0 ORDER BY id`, table)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TableCounts returns the number of live rows per table that has any.
func (s *EntityStore) TableCounts() (map[string]int, error) {
	rows, err := s.conn.Query(`SELECT table_name, COUNT(*) FROM entities WHERE deleted = 0 GROUP BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("table counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var table string
		var n int
		if err := rows.Scan(&table, &n); err != nil {
			return nil, fmt.Errorf("scan table count: %w", err)
		}
		counts[table] = n
	}
	return counts, rows.Err()
}
