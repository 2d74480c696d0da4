package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const dbFile = "stockly.db"

// DB wraps the local store connection
type DB struct {
	conn        *sql.DB
	baseDir     string
	medium      Medium
	deviceID    string
	lockTimeout time.Duration
	now         func() time.Time

	flushMu sync.Mutex
}

// Option configures a DB at open time.
type Option func(*DB)

// WithMedium mirrors the full store image to m after every committed mutation.
func WithMedium(m Medium) Option {
	return func(db *DB) { db.medium = m }
}

// WithClock overrides the clock used for change timestamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// WithDeviceID tags sync history rows with the local device id.
func WithDeviceID(id string) Option {
	return func(db *DB) { db.deviceID = id }
}

// WithLockTimeout sets how long a writer waits for the file lock.
func WithLockTimeout(d time.Duration) Option {
	return func(db *DB) { db.lockTimeout = d }
}

// Path returns the database file location under baseDir.
func Path(baseDir string) string {
	return filepath.Join(baseDir, dbFile)
}

// Open opens an existing store
func Open(baseDir string, opts ...Option) (*DB, error) {
	if _, err := os.Stat(Path(baseDir)); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: run 'stockly init' first")
	}
	return open(baseDir, opts...)
}

// Initialize creates the store directory and schema if missing, then opens it
func Initialize(baseDir string, opts ...Option) (*DB, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open(baseDir, opts...)
}

func open(baseDir string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", Path(baseDir))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Busy timeout as fallback behind the file lock
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	conn.Exec("PRAGMA synchronous=NORMAL")

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if _, err := conn.Exec(`INSERT OR IGNORE INTO schema_info (key, value) VALUES ('version', ?)`, fmt.Sprint(SchemaVersion)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set schema version: %w", err)
	}

	db := &DB{
		conn:        conn,
		baseDir:     baseDir,
		lockTimeout: defaultTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Close closes the database
func (db *DB) Close() error {
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

// BaseDir returns the directory holding the store files
func (db *DB) BaseDir() string {
	return db.baseDir
}

// DeviceID returns the device id recorded in sync history.
func (db *DB) DeviceID() string {
	return db.deviceID
}

// GetSchemaVersion returns the current schema version from the database
func (db *DB) GetSchemaVersion() (int, error) {
	var version string
	err := db.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v int
	fmt.Sscanf(version, "%d", &v)
	return v, nil
}

// nowString returns the store clock formatted for persistence.
func (db *DB) nowString() string {
	return db.now().UTC().Format(timeLayout)
}

// withWriteLock executes fn while holding an exclusive write lock.
// This serializes writers across goroutines and processes.
func (db *DB) withWriteLock(fn func() error) error {
	l := newFileLock(db.baseDir, writeLockName)
	if err := l.acquire(db.lockTimeout); err != nil {
		return err
	}
	defer l.release()
	return fn()
}

// Transaction runs fn inside BEGIN/COMMIT. Any error or panic from fn rolls
// the transaction back and is returned (or re-raised) to the caller. After a
// successful commit the full image is flushed to the configured medium.
func (db *DB) Transaction(fn func(tx *Tx) error) error {
	err := db.withWriteLock(func() (err error) {
		sqlTx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() {
			if p := recover(); p != nil {
				sqlTx.Rollback()
				panic(p)
			}
		}()

		if err := fn(&Tx{tx: sqlTx, db: db}); err != nil {
			sqlTx.Rollback()
			return err
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return db.flush()
}

// Tx is a store transaction handed to Transaction callbacks
type Tx struct {
	tx *sql.Tx
	db *DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}
