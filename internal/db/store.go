package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/stockly-app/stockly/internal/models"
)

const timeLayout = models.TimeLayout

var validColumnName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// IntegrityError reports a write rejected by a uniqueness or constraint check.
type IntegrityError struct {
	Table string
	Err   error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation on %s: %v", e.Table, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// IsIntegrityError reports whether err wraps an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// classify turns sqlite constraint failures into IntegrityError.
func classify(table string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed") {
		return &IntegrityError{Table: table, Err: err}
	}
	return err
}

// Where is an equality predicate: every column must equal its value.
type Where map[string]any

// clause renders the predicate with sorted columns and bound values.
func (w Where) clause() (string, []any, error) {
	if len(w) == 0 {
		return "1=1", nil, nil
	}
	keys := make([]string, 0, len(w))
	for k := range w {
		if !validColumnName.MatchString(k) {
			return "", nil, fmt.Errorf("invalid column name: %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		if w[k] == nil {
			parts[i] = k + " IS NULL"
			continue
		}
		parts[i] = k + " = ?"
		args = append(args, w[k])
	}
	return strings.Join(parts, " AND "), args, nil
}

// ByID is shorthand for an id predicate.
func ByID(id int64) Where {
	return Where{models.ColID: id}
}

func validateTable(table string) error {
	if !models.IsSyncTable(table) {
		return fmt.Errorf("unknown table: %q", table)
	}
	return nil
}

// buildInsert sorts fields alphabetically and returns column list, placeholders, and values.
func buildInsert(fields models.Row) (cols string, placeholders string, vals []any, err error) {
	keys, err := sortedColumns(fields)
	if err != nil {
		return "", "", nil, err
	}
	ph := make([]string, len(keys))
	vals = make([]any, len(keys))
	for i, k := range keys {
		ph[i] = "?"
		vals[i] = dbValue(fields[k])
	}
	return strings.Join(keys, ", "), strings.Join(ph, ", "), vals, nil
}

func sortedColumns(fields models.Row) ([]string, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !validColumnName.MatchString(k) {
			return nil, fmt.Errorf("invalid column name: %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// dbValue maps decoded JSON shapes onto values the driver accepts.
func dbValue(v any) any {
	switch val := v.(type) {
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return string(data)
	}
	return v
}

// scanRows reads every row into a models.Row keyed by column name.
func scanRows(rows *sql.Rows) ([]models.Row, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []models.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(models.Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func insertRow(q querier, table string, data models.Row, now string) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}
	fields := data.Clone()
	for _, col := range []string{models.ColCreatedAt, models.ColUpdatedAt, models.ColLastModified} {
		if _, ok := fields[col]; !ok {
			fields[col] = now
		}
	}
	cols, ph, vals, err := buildInsert(fields)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	res, err := q.Exec(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, cols, ph), vals...)
	if err != nil {
		return 0, classify(table, fmt.Errorf("insert %s: %w", table, err))
	}
	if id := fields.ID(); id != 0 {
		return id, nil
	}
	return res.LastInsertId()
}

// updateRows applies a local partial update: bumps the local version and
// clears the synced flag on every matched row.
func updateRows(q querier, table string, data models.Row, where Where, now string) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}
	if len(where) == 0 {
		return 0, fmt.Errorf("update %s: empty predicate", table)
	}
	fields := data.Clone()
	delete(fields, models.ColID)
	delete(fields, models.ColVersion)
	delete(fields, models.ColIsSynced)
	fields[models.ColUpdatedAt] = now
	fields[models.ColLastModified] = now

	keys, err := sortedColumns(fields)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	sets := make([]string, 0, len(keys)+2)
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		sets = append(sets, k+" = ?")
		args = append(args, dbValue(fields[k]))
	}
	sets = append(sets, "version = version + 1", "is_synced = 0")

	cond, condArgs, err := where.clause()
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), cond)
	res, err := q.Exec(query, append(args, condArgs...)...)
	if err != nil {
		return 0, classify(table, fmt.Errorf("update %s: %w", table, err))
	}
	return res.RowsAffected()
}

func deleteRows(q querier, table string, where Where) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}
	if len(where) == 0 {
		return 0, fmt.Errorf("delete %s: empty predicate", table)
	}
	cond, args, err := where.clause()
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	res, err := q.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s", table, cond), args...)
	if err != nil {
		return 0, classify(table, fmt.Errorf("delete %s: %w", table, err))
	}
	return res.RowsAffected()
}

func findRows(q querier, table string, where Where) ([]models.Row, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	cond, args, err := where.clause()
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", table, err)
	}
	rows, err := q.Query(fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY id", table, cond), args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", table, err)
	}
	return scanRows(rows)
}

func findByID(q querier, table string, id int64) (models.Row, error) {
	rows, err := findRows(q, table, ByID(id))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// checkReadOnly accepts a single SELECT statement.
func checkReadOnly(query string) error {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")
	if strings.Contains(q, ";") {
		return fmt.Errorf("select: multiple statements not allowed")
	}
	fields := strings.Fields(q)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "SELECT") {
		return fmt.Errorf("select: only read queries are allowed")
	}
	return nil
}

// Insert adds a row and returns its id. A violated uniqueness constraint is
// returned as *IntegrityError.
func (db *DB) Insert(table string, data models.Row) (int64, error) {
	var id int64
	err := db.Transaction(func(tx *Tx) error {
		var err error
		id, err = tx.Insert(table, data)
		return err
	})
	return id, err
}

// Update applies a partial update to rows matching where. Matching nothing is not an error.
func (db *DB) Update(table string, data models.Row, where Where) (int64, error) {
	var n int64
	err := db.Transaction(func(tx *Tx) error {
		var err error
		n, err = tx.Update(table, data, where)
		return err
	})
	return n, err
}

// Delete removes rows matching where. Matching nothing is not an error.
func (db *DB) Delete(table string, where Where) (int64, error) {
	var n int64
	err := db.Transaction(func(tx *Tx) error {
		var err error
		n, err = tx.Delete(table, where)
		return err
	})
	return n, err
}

// InsertMany inserts rows in one transaction and returns their ids.
func (db *DB) InsertMany(table string, rows []models.Row) ([]int64, error) {
	ids := make([]int64, 0, len(rows))
	err := db.Transaction(func(tx *Tx) error {
		for _, r := range rows {
			id, err := tx.Insert(table, r)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Select runs a read-only query with bound parameters.
func (db *DB) Select(query string, args ...any) ([]models.Row, error) {
	if err := checkReadOnly(query); err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	return scanRows(rows)
}

// Find returns rows of a known table matching where, ordered by id.
func (db *DB) Find(table string, where Where) ([]models.Row, error) {
	return findRows(db.conn, table, where)
}

// FindByID returns one row or nil when absent.
func (db *DB) FindByID(table string, id int64) (models.Row, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	return findByID(db.conn, table, id)
}

// Count returns the number of rows in a known table.
func (db *DB) Count(table string) (int, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}
	var n int
	err := db.conn.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n)
	return n, err
}

// Reset clears every mirrored table and all sync bookkeeping.
func (db *DB) Reset() error {
	return db.Transaction(func(tx *Tx) error {
		tables := append(models.SyncTables(), "sync_queue", "sync_conflicts", "sync_state", "sync_history")
		for _, t := range tables {
			if _, err := tx.tx.Exec("DELETE FROM " + t); err != nil {
				return fmt.Errorf("reset %s: %w", t, err)
			}
		}
		return nil
	})
}

// Insert adds a row inside the transaction.
func (tx *Tx) Insert(table string, data models.Row) (int64, error) {
	return insertRow(tx.tx, table, data, tx.db.nowString())
}

// Update applies a partial update inside the transaction.
func (tx *Tx) Update(table string, data models.Row, where Where) (int64, error) {
	return updateRows(tx.tx, table, data, where, tx.db.nowString())
}

// Delete removes matching rows inside the transaction.
func (tx *Tx) Delete(table string, where Where) (int64, error) {
	return deleteRows(tx.tx, table, where)
}

// Find reads rows inside the transaction.
func (tx *Tx) Find(table string, where Where) ([]models.Row, error) {
	return findRows(tx.tx, table, where)
}

// FindByID reads one row inside the transaction, or nil when absent.
func (tx *Tx) FindByID(table string, id int64) (models.Row, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	return findByID(tx.tx, table, id)
}

// Select runs a read-only query inside the transaction.
func (tx *Tx) Select(query string, args ...any) ([]models.Row, error) {
	if err := checkReadOnly(query); err != nil {
		return nil, err
	}
	rows, err := tx.tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	return scanRows(rows)
}
