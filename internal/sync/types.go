package sync

import (
	"errors"
	"fmt"
	"time"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/models"
)

// ErrAlreadySyncing is returned when a session is started while another runs.
var ErrAlreadySyncing = errors.New("sync already in progress")

// Config holds per-session tuning. It is not persisted.
type Config struct {
	BatchSize      int
	MaxRetries     int // total send attempts per item
	RetryDelay     time.Duration
	Strategy       models.Strategy
	RequestTimeout time.Duration
	Tables         []string
	BatchPush      bool
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:      50,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		Strategy:       models.StrategyLastWriteWins,
		RequestTimeout: 15 * time.Second,
		Tables:         models.SyncTables(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.Strategy == "" {
		c.Strategy = d.Strategy
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if len(c.Tables) == 0 {
		c.Tables = d.Tables
	}
	return c
}

// Error kinds reported in SyncResult.Errors.
const (
	KindFailed   = "failed"
	KindConflict = "conflict"
	KindPending  = "pending"
	KindPull     = "pull"
)

// ItemError is one per-item or per-table problem from a session.
type ItemError struct {
	ChangeID  int64            `json:"change_id,omitempty"`
	Table     string           `json:"table"`
	EntityID  int64            `json:"entity_id,omitempty"`
	Operation models.Operation `json:"operation,omitempty"`
	Kind      string           `json:"kind"`
	Message   string           `json:"message"`
	Err       error            `json:"-"`
}

// SyncResult aggregates the outcome of one session.
type SyncResult struct {
	TotalItems        int                     `json:"total_items"`
	SuccessCount      int                     `json:"success_count"`
	FailureCount      int                     `json:"failure_count"`
	ConflictCount     int                     `json:"conflict_count"`
	ResolvedConflicts int                     `json:"resolved_conflicts"`
	PendingCount      int                     `json:"pending_count"`
	Pulled            map[string]db.PullStats `json:"pulled,omitempty"`
	Duration          time.Duration           `json:"duration"`
	Errors            []ItemError             `json:"errors,omitempty"`
}

func newResult() *SyncResult {
	return &SyncResult{Pulled: make(map[string]db.PullStats)}
}

func (r *SyncResult) addItemError(item models.ChangeItem, kind string, err error) {
	r.Errors = append(r.Errors, ItemError{
		ChangeID:  item.ID,
		Table:     item.EntityType,
		EntityID:  item.EntityID,
		Operation: item.Operation,
		Kind:      kind,
		Message:   err.Error(),
		Err:       err,
	})
}

// PulledRows totals rows written by the pull phase.
func (r *SyncResult) PulledRows() int {
	n := 0
	for _, s := range r.Pulled {
		n += s.Applied + s.Deleted
	}
	return n
}

// PersistentSyncFailure is recorded for an item whose retries ran out or
// whose change the server rejected outright.
type PersistentSyncFailure struct {
	ChangeID int64
	Attempts int
	Err      error
}

func (e *PersistentSyncFailure) Error() string {
	return fmt.Sprintf("change %d failed after %d attempt(s): %v", e.ChangeID, e.Attempts, e.Err)
}

func (e *PersistentSyncFailure) Unwrap() error { return e.Err }

// Phase names the part of a session in progress.
type Phase string

const (
	PhaseIdle Phase = "idle"
	PhasePush Phase = "push"
	PhasePull Phase = "pull"
)

// Status is the observable engine state.
type Status struct {
	Syncing    bool       `json:"syncing"`
	Phase      Phase      `json:"phase"`
	Processed  int        `json:"processed"`
	Total      int        `json:"total"`
	Message    string     `json:"message,omitempty"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Progress returns the fraction of the current phase done, 0 to 1.
func (s Status) Progress() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Processed) / float64(s.Total)
}
