package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/models"
	"github.com/stockly-app/stockly/internal/syncclient"
)

// pull mirrors every configured table. A table that cannot be fetched is
// recorded and skipped.
func (e *Engine) pull(ctx context.Context, res *SyncResult) error {
	tables := e.cfg.Tables
	e.update(func(s *Status) {
		s.Phase = PhasePull
		s.Processed, s.Total = 0, len(tables)
		s.Message = fmt.Sprintf("pulling %d table(s)", len(tables))
	})

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats, err := e.pullTable(ctx, table)
		if errors.Is(err, syncclient.ErrUnauthorized) {
			res.Errors = append(res.Errors, ItemError{Table: table, Kind: KindPull, Message: err.Error(), Err: err})
			return err
		}
		if err != nil {
			e.logger.Warn("pull table failed", "table", table, "err", err)
			res.Errors = append(res.Errors, ItemError{Table: table, Kind: KindPull, Message: err.Error(), Err: err})
			if serr := e.store.SetPullError(table, err.Error()); serr != nil {
				e.logger.Warn("record pull error", "table", table, "err", serr)
			}
		} else {
			res.Pulled[table] = stats
			for _, rr := range stats.Rejected {
				e.logger.Warn("pulled row rejected", "table", table, "id", rr.ID, "err", rr.Err)
				res.Errors = append(res.Errors, ItemError{
					Table: table, EntityID: rr.ID, Kind: KindPull, Message: rr.Message, Err: rr.Err,
				})
			}
			e.logger.Debug("pulled table", "table", table, "applied", stats.Applied, "skipped", stats.Skipped, "deleted", stats.Deleted)
		}
		e.advance()
	}
	return nil
}

func (e *Engine) pullTable(ctx context.Context, table string) (db.PullStats, error) {
	var resp *syncclient.TableResponse
	_, err := e.retry(ctx, func(ctx context.Context) error {
		var err error
		resp, err = e.remote.PullTable(ctx, table)
		return err
	}, nil)
	if err != nil {
		return db.PullStats{}, err
	}

	rows := make([]db.ServerRow, 0, len(resp.Rows))
	for i := range resp.Rows {
		sr, err := serverRow(&resp.Rows[i])
		if err != nil {
			return db.PullStats{}, fmt.Errorf("%s row %d: %w", table, resp.Rows[i].ID, err)
		}
		rows = append(rows, *sr)
	}
	return e.store.ApplyPull(table, rows)
}

func serverRow(ev *syncclient.EntityVersion) (*db.ServerRow, error) {
	data, err := models.DecodeRow(ev.Data)
	if err != nil {
		return nil, err
	}
	return &db.ServerRow{
		ID:           ev.ID,
		Version:      ev.Version,
		LastModified: ev.Modified(),
		Data:         data,
	}, nil
}

func parseServerTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
