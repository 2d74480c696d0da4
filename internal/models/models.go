package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the kind of mutation recorded in the change log
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// SyncStatus is the lifecycle state of a change log item
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusSynced   SyncStatus = "synced"
	StatusConflict SyncStatus = "conflict"
	StatusFailed   SyncStatus = "failed"
)

// Strategy selects how the engine resolves a conflicting push
type Strategy string

const (
	StrategyLastWriteWins  Strategy = "last-write-wins"
	StrategyServerPriority Strategy = "server-priority"
	StrategyManual         Strategy = "manual"
)

// Resolution records how a conflict was settled
type Resolution string

const (
	ResolutionLocalWins  Resolution = "local_wins"
	ResolutionServerWins Resolution = "server_wins"
	ResolutionConverged  Resolution = "converged"
	ResolutionDeferred   Resolution = "deferred"
	ResolutionRetry      Resolution = "retry"
)

// Bookkeeping columns every mirrored table carries next to its business fields.
const (
	ColID            = "id"
	ColVersion       = "version"
	ColServerVersion = "server_version"
	ColLastModified  = "last_modified"
	ColIsSynced      = "is_synced"
	ColCreatedAt     = "created_at"
	ColUpdatedAt     = "updated_at"
)

// TimeLayout is the text encoding used for every stored timestamp. The fixed
// width keeps lexical and chronological order identical.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Row is an entity payload keyed by column name
type Row map[string]any

// ID returns the row's integer id, or 0 when absent.
func (r Row) ID() int64 {
	id, _ := AsInt64(r[ColID])
	return id
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Payload returns a copy without local sync bookkeeping, suitable for the wire.
func (r Row) Payload() Row {
	out := make(Row, len(r))
	for k, v := range r {
		switch k {
		case ColVersion, ColServerVersion, ColIsSynced:
			continue
		}
		out[k] = v
	}
	return out
}

// ChangeItem is one queued local mutation
type ChangeItem struct {
	ID             int64           `json:"id"`
	EntityType     string          `json:"entity_type"`
	EntityID       int64           `json:"entity_id"`
	Operation      Operation       `json:"operation"`
	Data           json.RawMessage `json:"data"`
	OldData        json.RawMessage `json:"old_data,omitempty"`
	Status         SyncStatus      `json:"status"`
	Error          string          `json:"error,omitempty"`
	Attempts       int             `json:"attempts"`
	BaseVersion    int64           `json:"base_version"`
	ServerVersion  int64           `json:"server_version"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
	SyncedAt       *time.Time      `json:"synced_at,omitempty"`
}

// Row decodes the item's data snapshot.
func (c *ChangeItem) Row() (Row, error) {
	return DecodeRow(c.Data)
}

// DecodeRow parses a JSON object into a Row, keeping integers as int64.
func DecodeRow(data []byte) (Row, error) {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Row{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	row := make(Row, len(raw))
	for k, v := range raw {
		row[k] = normalizeValue(v)
	}
	return row, nil
}

func normalizeValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// AsInt64 converts the numeric shapes produced by sqlite and JSON decoding.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), n == float64(int64(n))
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// AsFloat64 converts numeric values to float64.
func AsFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// IsValidOperation checks if an operation is valid
func IsValidOperation(op Operation) bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// IsValidStatus checks if a sync status is valid
func IsValidStatus(s SyncStatus) bool {
	switch s {
	case StatusPending, StatusSynced, StatusConflict, StatusFailed:
		return true
	}
	return false
}

// IsValidStrategy checks if a strategy is valid
func IsValidStrategy(s Strategy) bool {
	switch s {
	case StrategyLastWriteWins, StrategyServerPriority, StrategyManual:
		return true
	}
	return false
}

// NormalizeStrategy accepts short aliases: "lww", "server", "manual".
func NormalizeStrategy(s string) Strategy {
	switch s {
	case "lww", "last_write_wins":
		return StrategyLastWriteWins
	case "server", "server_priority":
		return StrategyServerPriority
	default:
		return Strategy(s)
	}
}

// Outstanding reports whether a status still needs attention from the engine or a user.
func (s SyncStatus) Outstanding() bool {
	return s == StatusPending || s == StatusConflict || s == StatusFailed
}
