package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stockly-app/stockly/internal/models"
)

var sqliteHeader = []byte("SQLite format 3\x00")

// Medium receives full store images and hands back the latest one.
type Medium interface {
	Save(image []byte) error
	Load() ([]byte, error)
}

// FileMedium keeps the image in a single file, replaced atomically.
type FileMedium struct {
	Path string
}

// Save writes the image to a temp file beside Path and renames it into place.
func (m FileMedium) Save(image []byte) error {
	dir := filepath.Dir(m.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create medium dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".stockly-image-*")
	if err != nil {
		return fmt.Errorf("create temp image: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, m.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace image: %w", err)
	}
	return nil
}

// Load returns the stored image, or nil when none has been saved.
func (m FileMedium) Load() ([]byte, error) {
	data, err := os.ReadFile(m.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// flush pushes the full image to the configured medium.
func (db *DB) flush() error {
	if db.medium == nil {
		return nil
	}
	db.flushMu.Lock()
	defer db.flushMu.Unlock()

	image, err := db.Export()
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := db.medium.Save(image); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Export returns a consistent image of the whole store as sqlite file bytes.
func (db *DB) Export() ([]byte, error) {
	dir, err := os.MkdirTemp("", "stockly-export-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "image.db")
	if _, err := db.conn.Exec(`VACUUM INTO ?`, path); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return os.ReadFile(path)
}

// Import replaces every mirrored table and all sync bookkeeping with the
// contents of image, as produced by Export.
func (db *DB) Import(image []byte) error {
	if !bytes.HasPrefix(image, sqliteHeader) {
		return fmt.Errorf("import: not a store image")
	}
	dir, err := os.MkdirTemp("", "stockly-import-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "image.db")
	if err := os.WriteFile(path, image, 0600); err != nil {
		return err
	}

	err = db.withWriteLock(func() error {
		ctx := context.Background()
		conn, err := db.conn.Conn(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		if _, err := conn.ExecContext(ctx, `ATTACH DATABASE ? AS src`, path); err != nil {
			return fmt.Errorf("import: attach: %w", err)
		}
		defer conn.ExecContext(ctx, `DETACH DATABASE src`)

		var version string
		if err := conn.QueryRowContext(ctx, `SELECT value FROM src.schema_info WHERE key = 'version'`).Scan(&version); err != nil {
			return fmt.Errorf("import: read image version: %w", err)
		}
		if version != fmt.Sprint(SchemaVersion) {
			return fmt.Errorf("import: image schema version %s, want %d", version, SchemaVersion)
		}

		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, t := range importTables() {
			cols, err := tableColumns(tx, t)
			if err != nil {
				tx.Rollback()
				return err
			}
			names := make([]string, 0, len(cols))
			for c := range cols {
				names = append(names, c)
			}
			sort.Strings(names)
			list := strings.Join(names, ", ")
			if _, err := tx.Exec("DELETE FROM main." + t); err != nil {
				tx.Rollback()
				return fmt.Errorf("import: clear %s: %w", t, err)
			}
			if _, err := tx.Exec(fmt.Sprintf("INSERT INTO main.%s (%s) SELECT %s FROM src.%s", t, list, list, t)); err != nil {
				tx.Rollback()
				return fmt.Errorf("import: copy %s: %w", t, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	return db.flush()
}

// Restore imports the medium's latest image, if it has one.
func (db *DB) Restore() (bool, error) {
	if db.medium == nil {
		return false, nil
	}
	image, err := db.medium.Load()
	if err != nil {
		return false, fmt.Errorf("restore: %w", err)
	}
	if len(image) == 0 {
		return false, nil
	}
	return true, db.Import(image)
}

func importTables() []string {
	return append(models.SyncTables(), "sync_queue", "sync_conflicts", "sync_state", "sync_history")
}
