package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/models"
	stocksync "github.com/stockly-app/stockly/internal/sync"
)

const (
	outstandingLimit = 200
	historyLimit     = 50
)

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Counts      map[models.SyncStatus]int
	Outstanding []models.ChangeItem
	History     []db.SyncHistoryEntry
	Tables      []db.TableSyncState
	LastSync    *time.Time
	Engine      *stocksync.Status
	Timestamp   time.Time
	// Err means the queue itself could not be read. HistoryErr covers the
	// secondary reads; the queue is still shown when only it is set.
	Err        error
	HistoryErr error
}

// FetchData retrieves all data needed for the monitor display
func FetchData(database *db.DB, engine Syncer) RefreshDataMsg {
	msg := RefreshDataMsg{Timestamp: time.Now()}
	if engine != nil {
		st := engine.Status()
		msg.Engine = &st
	}

	counts, err := database.CountByStatus()
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Counts = counts

	msg.Outstanding, err = database.ListChanges(outstandingLimit,
		models.StatusPending, models.StatusConflict, models.StatusFailed)
	if err != nil {
		msg.Err = err
		return msg
	}

	var errs []error
	if msg.History, err = database.GetSyncHistoryTail(historyLimit); err != nil {
		errs = append(errs, fmt.Errorf("history: %w", err))
	}
	if msg.Tables, err = database.GetTableSyncStates(); err != nil {
		errs = append(errs, fmt.Errorf("table states: %w", err))
	}
	if msg.LastSync, err = database.LastSyncAt(); err != nil {
		errs = append(errs, fmt.Errorf("last sync: %w", err))
	}
	msg.HistoryErr = errors.Join(errs...)
	return msg
}
