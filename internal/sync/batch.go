package sync

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stockly-app/stockly/internal/models"
	"github.com/stockly-app/stockly/internal/syncclient"
)

type entityKey struct {
	table string
	id    int64
}

// pushBatch sends runs of items in single batch requests. Items that carry
// provisional ids go one at a time so each confirmation can remap the ids
// used by the items after it. A run never holds two items for one entity.
func (e *Engine) pushBatch(ctx context.Context, items []models.ChangeItem, res *SyncResult) error {
	var group []models.ChangeItem
	seen := make(map[entityKey]bool)
	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		err := e.sendGroup(ctx, group, res)
		group = nil
		clear(seen)
		return err
	}

	for i, snap := range items {
		if err := ctx.Err(); err != nil {
			e.leavePending(append(group, items[i:]...), res, err)
			return err
		}
		if seen[entityKey{snap.EntityType, snap.EntityID}] {
			if err := flush(); err != nil {
				return err
			}
		}
		item, ok, err := e.reload(snap.ID, res)
		if err != nil {
			return err
		}
		if !ok {
			e.advance()
			continue
		}
		if usesProvisionalIDs(item) {
			if err := flush(); err != nil {
				return err
			}
			if err := e.pushItem(ctx, item, res); err != nil {
				return err
			}
			e.advance()
			continue
		}
		group = append(group, item)
		seen[entityKey{item.EntityType, item.EntityID}] = true
	}
	return flush()
}

func (e *Engine) sendGroup(ctx context.Context, group []models.ChangeItem, res *SyncResult) error {
	req := &syncclient.BatchRequest{Changes: make([]syncclient.BatchChange, len(group))}
	for i, item := range group {
		req.Changes[i] = syncclient.BatchChange{
			Table:           item.EntityType,
			Operation:       string(item.Operation),
			RecordID:        item.EntityID,
			Data:            item.Data,
			BaseVersion:     item.BaseVersion,
			ClientTimestamp: item.CreatedAt.UTC().Format(time.RFC3339Nano),
			IdempotencyKey:  item.IdempotencyKey,
		}
	}

	rctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	resp, err := e.remote.PushBatch(rctx, req)
	cancel()
	if errors.Is(err, syncclient.ErrUnauthorized) {
		e.leavePending(group, res, err)
		return err
	}
	if err != nil {
		e.logger.Warn("batch push failed, sending items one at a time", "size", len(group), "err", err)
		for _, item := range group {
			if err := e.pushAgain(ctx, item, res); err != nil {
				return err
			}
			e.advance()
		}
		return nil
	}

	for i, r := range resp.Results {
		item := group[i]
		var err error
		switch {
		case r.Success:
			ack := ackRow(item, &syncclient.ChangeResponse{Success: true, ID: r.ID, Version: r.Version, LastModified: r.LastModified})
			err = e.settle(ctx, item, ack, 1, nil, res, true)
		case r.Code == syncclient.CodeConflict:
			ce := &syncclient.ConflictError{Table: item.EntityType, ID: item.EntityID, Server: r.Server, Exists: r.Exists, Message: r.Error}
			err = e.settle(ctx, item, nil, 1, ce, res, true)
		case r.Code == syncclient.CodeRejected:
			rej := &syncclient.RejectedError{Status: http.StatusUnprocessableEntity, Code: r.Code, Message: r.Error}
			err = e.settle(ctx, item, nil, 1, rej, res, true)
		default:
			e.logger.Debug("batch item failed, retrying alone", "change", item.ID, "code", r.Code, "err", r.Error)
			err = e.pushAgain(ctx, item, res)
		}
		if err != nil {
			return err
		}
		e.advance()
	}
	return nil
}

// pushAgain sends a batch member on the single-item path.
func (e *Engine) pushAgain(ctx context.Context, item models.ChangeItem, res *SyncResult) error {
	item, ok, err := e.reload(item.ID, res)
	if err != nil || !ok {
		return err
	}
	return e.pushItem(ctx, item, res)
}

// usesProvisionalIDs reports whether item names a row the server has not
// assigned an id to yet.
func usesProvisionalIDs(item models.ChangeItem) bool {
	if item.EntityID < 0 {
		return true
	}
	row, err := item.Row()
	if err != nil {
		return true
	}
	for _, ref := range models.ReferencesFrom(item.EntityType) {
		if v, ok := models.AsInt64(row[ref.Column]); ok && v < 0 {
			return true
		}
	}
	if item.EntityType == models.TableActivities {
		if v, ok := models.AsInt64(row["entity_id"]); ok && v < 0 {
			return true
		}
	}
	return false
}
