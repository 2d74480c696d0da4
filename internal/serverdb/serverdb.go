// Package serverdb is the reconciliation server's storage: a control
// database of tenants, API keys and rate limit events, plus one entity
// database per tenant.
package serverdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// ServerDB is the control database.
type ServerDB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the control database at dbPath and brings
// its schema up to ServerSchemaVersion.
func Open(dbPath string) (*ServerDB, error) {
	conn, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(serverSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	db := &ServerDB{conn: conn, path: dbPath}
	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", dbPath, err)
	}
	return db, nil
}

var connPragmas = []struct {
	stmt     string
	required bool
}{
	{"PRAGMA journal_mode=WAL", true},
	{"PRAGMA busy_timeout=5000", true},
	{"PRAGMA synchronous=NORMAL", false},
	{"PRAGMA foreign_keys=ON", false},
}

// openSQLite opens dbPath on a single connection. The control and tenant
// databases share these settings.
func openSQLite(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	conn.SetMaxOpenConns(1)

	for _, p := range connPragmas {
		if _, err := conn.Exec(p.stmt); err != nil && p.required {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", p.stmt, err)
		}
	}
	return conn, nil
}

// Ping checks the database connection is alive.
func (db *ServerDB) Ping() error {
	return db.conn.Ping()
}

// Close checkpoints the WAL and closes the database connection.
func (db *ServerDB) Close() error {
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

// RunMigrations applies every migration newer than the stored user_version,
// each in its own transaction, and reports how many ran.
func (db *ServerDB) RunMigrations() (int, error) {
	current := db.SchemaVersion()
	applied := 0
	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		if err := db.applyMigration(m); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (db *ServerDB) applyMigration(m Migration) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	// PRAGMA takes no bind parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("record version %d: %w", m.Version, err)
	}
	return tx.Commit()
}

// SchemaVersion returns the applied schema version, 0 for a new database.
func (db *ServerDB) SchemaVersion() int {
	var v int
	if err := db.conn.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0
	}
	return v
}

// generateID returns prefix followed by a lowercase ULID, so ids sort by
// creation time.
func generateID(prefix string) string {
	return prefix + strings.ToLower(ulid.Make().String())
}
