package db

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stockly-app/stockly/internal/models"
)

// ServerRow is the server's authoritative copy of one entity.
type ServerRow struct {
	ID           int64
	Version      int64
	LastModified time.Time
	Data         models.Row
}

// PullStats summarizes one table pull.
type PullStats struct {
	Applied  int
	Skipped  int
	Deleted  int
	Rejected []RejectedRow `json:",omitempty"`
}

// RejectedRow is a server row the local store refused, usually because a
// local row already holds one of its unique values.
type RejectedRow struct {
	ID      int64
	Version int64
	Err     error `json:"-"`
	Message string
}

// tableColumns returns the column set of a known table.
func tableColumns(q querier, table string) (map[string]bool, error) {
	rows, err := q.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// hasOutstanding reports whether entity has unsynced items other than skipID.
func hasOutstanding(q querier, table string, id, skipID int64) (bool, error) {
	var n int
	err := q.QueryRow(`SELECT COUNT(*) FROM sync_queue
		WHERE entity_type = ? AND entity_id = ? AND id != ? AND status IN ('pending', 'conflict', 'failed')`,
		table, id, skipID).Scan(&n)
	return n > 0, err
}

// upsertServerRow writes the server copy over the local row. Fields unknown to
// the local schema are dropped.
func (tx *Tx) upsertServerRow(table string, cols map[string]bool, sr ServerRow, synced bool) error {
	fields := make(models.Row, len(sr.Data)+4)
	for k, v := range sr.Data {
		if !cols[k] {
			continue
		}
		switch k {
		case models.ColVersion, models.ColServerVersion, models.ColIsSynced:
			continue
		}
		fields[k] = v
	}
	fields[models.ColID] = sr.ID
	fields[models.ColServerVersion] = sr.Version
	if !sr.LastModified.IsZero() {
		fields[models.ColLastModified] = sr.LastModified.UTC().Format(timeLayout)
	}
	fields[models.ColIsSynced] = 0
	if synced {
		fields[models.ColIsSynced] = 1
	}
	now := tx.db.nowString()
	for _, col := range []string{models.ColCreatedAt, models.ColUpdatedAt, models.ColLastModified} {
		if v, ok := fields[col]; !ok || v == "" {
			fields[col] = now
		}
	}

	keys, err := sortedColumns(fields)
	if err != nil {
		return fmt.Errorf("apply %s %d: %w", table, sr.ID, err)
	}
	ph := make([]string, len(keys))
	vals := make([]any, len(keys))
	var sets []string
	for i, k := range keys {
		ph[i] = "?"
		vals[i] = dbValue(fields[k])
		if k != models.ColID && k != models.ColCreatedAt {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", k, k))
		}
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		table, strings.Join(keys, ", "), strings.Join(ph, ", "), strings.Join(sets, ", "))
	if _, err := tx.tx.Exec(query, vals...); err != nil {
		return classify(table, fmt.Errorf("apply %s %d: %w", table, sr.ID, err))
	}
	return nil
}

// ConfirmChange records a successful push: a provisional id is remapped to
// the server's, the item is marked synced, later items for the same entity are
// rebased on the new server version and the row is stamped. Confirming an
// already synced item does nothing.
func (db *DB) ConfirmChange(item models.ChangeItem, ack ServerRow) error {
	return db.Transaction(func(tx *Tx) error {
		current, err := getChange(tx.tx, item.ID)
		if err != nil {
			return err
		}
		if current.Status == models.StatusSynced {
			return nil
		}
		table := current.EntityType
		entityID := current.EntityID
		if current.Operation == models.OpCreate && ack.ID != 0 && ack.ID != entityID {
			if err := tx.remapID(table, entityID, ack.ID); err != nil {
				return err
			}
			entityID = ack.ID
		}
		if err := tx.MarkStatus(current.ID, models.StatusSynced, ack.Version, ""); err != nil {
			return err
		}
		if err := tx.rebase(table, entityID, current.ID, ack.Version); err != nil {
			return err
		}

		if current.Operation != models.OpDelete {
			outstanding, err := hasOutstanding(tx.tx, table, entityID, current.ID)
			if err != nil {
				return err
			}
			synced := 0
			if !outstanding {
				synced = 1
			}
			lastModified := ""
			if !ack.LastModified.IsZero() {
				lastModified = ack.LastModified.UTC().Format(timeLayout)
			}
			_, err = tx.tx.Exec(fmt.Sprintf(`UPDATE %s SET server_version = ?, is_synced = ?,
				last_modified = CASE WHEN ? != '' THEN ? ELSE last_modified END WHERE id = ?`, table),
				ack.Version, synced, lastModified, lastModified, entityID)
			if err != nil {
				return fmt.Errorf("stamp %s %d: %w", table, entityID, err)
			}
		}

		return tx.recordHistory([]SyncHistoryEntry{{
			Direction:     "push",
			Operation:     string(current.Operation),
			EntityType:    table,
			EntityID:      entityID,
			ServerVersion: ack.Version,
		}})
	})
}

// rebase points later pending items of an entity at the given server version.
func (tx *Tx) rebase(table string, entityID, afterID, version int64) error {
	if version <= 0 {
		return nil
	}
	_, err := tx.tx.Exec(`UPDATE sync_queue SET base_version = ?
		WHERE entity_type = ? AND entity_id = ? AND status = 'pending' AND id > ?`,
		version, table, entityID, afterID)
	return err
}

// AcceptServerCopy settles a conflicting item in the server's favour: the
// local row is overwritten with server (or removed when server is nil), the
// item is marked synced and the conflict is journaled.
func (db *DB) AcceptServerCopy(item models.ChangeItem, server *ServerRow, strategy models.Strategy) error {
	return db.Transaction(func(tx *Tx) error {
		current, err := getChange(tx.tx, item.ID)
		if err != nil {
			return err
		}
		if current.Status == models.StatusSynced {
			return nil
		}
		table := current.EntityType
		var version int64
		var serverData json.RawMessage
		if server == nil {
			if _, err := deleteRows(tx.tx, table, ByID(current.EntityID)); err != nil {
				return err
			}
		} else {
			cols, err := tableColumns(tx.tx, table)
			if err != nil {
				return err
			}
			if server.ID == 0 {
				server.ID = current.EntityID
			}
			outstanding, err := hasOutstanding(tx.tx, table, server.ID, current.ID)
			if err != nil {
				return err
			}
			if err := tx.upsertServerRow(table, cols, *server, !outstanding); err != nil {
				return err
			}
			version = server.Version
			if serverData, err = json.Marshal(server.Data); err != nil {
				return err
			}
		}
		if err := tx.MarkStatus(current.ID, models.StatusSynced, version, ""); err != nil {
			return err
		}
		if err := tx.rebase(table, current.EntityID, current.ID, version); err != nil {
			return err
		}
		return tx.recordConflict(SyncConflict{
			ChangeID:      current.ID,
			EntityType:    table,
			EntityID:      current.EntityID,
			Strategy:      strategy,
			Resolution:    models.ResolutionServerWins,
			ServerVersion: version,
			LocalData:     current.Data,
			ServerData:    serverData,
		})
	})
}

// ConvergeChange marks an item synced because the server already reflects it,
// such as a delete of an entity the server no longer has.
func (db *DB) ConvergeChange(item models.ChangeItem, strategy models.Strategy) error {
	return db.Transaction(func(tx *Tx) error {
		if err := tx.MarkStatus(item.ID, models.StatusSynced, 0, ""); err != nil {
			return err
		}
		return tx.recordConflict(SyncConflict{
			ChangeID:   item.ID,
			EntityType: item.EntityType,
			EntityID:   item.EntityID,
			Strategy:   strategy,
			Resolution: models.ResolutionConverged,
			LocalData:  item.Data,
		})
	})
}

// DeferConflict parks an item in conflict status for a person to resolve.
// The server copy, when known, is journaled next to the local data.
func (db *DB) DeferConflict(item models.ChangeItem, server *ServerRow, strategy models.Strategy, reason string) error {
	return db.Transaction(func(tx *Tx) error {
		var version int64
		var serverData json.RawMessage
		if server != nil {
			version = server.Version
			var err error
			if serverData, err = json.Marshal(server.Data); err != nil {
				return err
			}
		}
		if err := tx.MarkStatus(item.ID, models.StatusConflict, version, reason); err != nil {
			return err
		}
		return tx.recordConflict(SyncConflict{
			ChangeID:      item.ID,
			EntityType:    item.EntityType,
			EntityID:      item.EntityID,
			Strategy:      strategy,
			Resolution:    models.ResolutionDeferred,
			ServerVersion: version,
			LocalData:     item.Data,
			ServerData:    serverData,
		})
	})
}

// Rebase sets the base version of a pending item before it is resubmitted.
func (db *DB) Rebase(id, version int64) error {
	return db.Transaction(func(tx *Tx) error {
		_, err := tx.tx.Exec(`UPDATE sync_queue SET base_version = ? WHERE id = ? AND status = 'pending'`, version, id)
		return err
	})
}

// RewriteAsCreate turns a pending item into a create carrying the full local
// row, for entities the server no longer has.
func (db *DB) RewriteAsCreate(id int64) error {
	return db.Transaction(func(tx *Tx) error {
		c, err := getChange(tx.tx, id)
		if err != nil {
			return err
		}
		data := c.Data
		row, err := findByID(tx.tx, c.EntityType, c.EntityID)
		if err != nil {
			return err
		}
		if row != nil {
			if data, err = json.Marshal(row.Payload()); err != nil {
				return err
			}
		}
		_, err = tx.tx.Exec(`UPDATE sync_queue SET operation = 'create', base_version = 0, change_data = ? WHERE id = ?`, string(data), id)
		return err
	})
}

// ApplyPull mirrors a full server snapshot of table. Rows with unsynced items
// are left alone. Server-known rows missing from the snapshot are removed.
// A row that violates a local constraint is reported in Rejected and the
// rest of the snapshot is still applied.
func (db *DB) ApplyPull(table string, rows []ServerRow) (PullStats, error) {
	var stats PullStats
	if err := validateTable(table); err != nil {
		return stats, err
	}
	err := db.Transaction(func(tx *Tx) error {
		outstanding, err := outstandingIDs(tx.tx, table)
		if err != nil {
			return err
		}
		cols, err := tableColumns(tx.tx, table)
		if err != nil {
			return err
		}
		local, err := syncedVersions(tx.tx, table)
		if err != nil {
			return err
		}

		var history []SyncHistoryEntry
		seen := make(map[int64]bool, len(rows))
		for _, sr := range rows {
			seen[sr.ID] = true
			if outstanding[sr.ID] {
				stats.Skipped++
				continue
			}
			if v, ok := local[sr.ID]; ok && v == sr.Version {
				continue
			}
			if err := tx.upsertServerRow(table, cols, sr, true); err != nil {
				if !IsIntegrityError(err) {
					return err
				}
				stats.Rejected = append(stats.Rejected, RejectedRow{ID: sr.ID, Version: sr.Version, Err: err, Message: err.Error()})
				continue
			}
			stats.Applied++
			op := models.OpUpdate
			if _, ok := local[sr.ID]; !ok {
				op = models.OpCreate
			}
			history = append(history, SyncHistoryEntry{
				Direction: "pull", Operation: string(op), EntityType: table,
				EntityID: sr.ID, ServerVersion: sr.Version,
			})
		}

		var gone []int64
		for id := range local {
			if id > 0 && !seen[id] && !outstanding[id] {
				gone = append(gone, id)
			}
		}
		sort.Slice(gone, func(i, j int) bool { return gone[i] < gone[j] })
		for _, id := range gone {
			if _, err := deleteRows(tx.tx, table, ByID(id)); err != nil {
				return err
			}
			stats.Deleted++
			history = append(history, SyncHistoryEntry{
				Direction: "pull", Operation: string(models.OpDelete), EntityType: table, EntityID: id,
			})
		}

		if err := tx.markPulled(table, len(rows)); err != nil {
			return err
		}
		return tx.recordHistory(history)
	})
	return stats, err
}

// syncedVersions maps the id of every row marked synced to its server version.
// Rows with local edits are reported with version -1 so they always refresh.
func syncedVersions(q querier, table string) (map[int64]int64, error) {
	rows, err := q.Query(fmt.Sprintf("SELECT id, server_version, is_synced FROM %s", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]int64)
	for rows.Next() {
		var id, v int64
		var synced int
		if err := rows.Scan(&id, &v, &synced); err != nil {
			return nil, err
		}
		if synced == 0 {
			v = -1
		}
		out[id] = v
	}
	return out, rows.Err()
}
