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

// push sends the pending queue in creation order, BatchSize items at a time.
func (e *Engine) push(ctx context.Context, res *SyncResult) error {
	items, err := e.store.GetPending()
	if err != nil {
		return fmt.Errorf("read queue: %w", err)
	}
	res.TotalItems = len(items)
	e.update(func(s *Status) {
		s.Phase = PhasePush
		s.Processed, s.Total = 0, len(items)
		s.Message = fmt.Sprintf("pushing %d change(s)", len(items))
	})

	for start := 0; start < len(items); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			e.leavePending(items[start:], res, err)
			return err
		}
		batch := items[start:min(start+e.cfg.BatchSize, len(items))]
		e.logger.Debug("push batch", "offset", start, "size", len(batch))

		if e.cfg.BatchPush {
			err = e.pushBatch(ctx, batch, res)
		} else {
			err = e.pushEach(ctx, batch, res)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) pushEach(ctx context.Context, batch []models.ChangeItem, res *SyncResult) error {
	for i, snap := range batch {
		if err := ctx.Err(); err != nil {
			e.leavePending(batch[i:], res, err)
			return err
		}
		item, ok, err := e.reload(snap.ID, res)
		if err != nil {
			return err
		}
		if ok {
			if err := e.pushItem(ctx, item, res); err != nil {
				return err
			}
		}
		e.advance()
	}
	return nil
}

// reload re-reads an item right before it is sent; earlier confirmations may
// have remapped its ids or rebased it. ok is false when the item no longer
// needs sending.
func (e *Engine) reload(id int64, res *SyncResult) (models.ChangeItem, bool, error) {
	item, err := e.store.GetChange(id)
	if errors.Is(err, db.ErrChangeNotFound) {
		return item, false, nil
	}
	if err != nil {
		return item, false, fmt.Errorf("read change %d: %w", id, err)
	}
	switch item.Status {
	case models.StatusPending:
		return item, true, nil
	case models.StatusSynced:
		res.SuccessCount++
	}
	return item, false, nil
}

func (e *Engine) pushItem(ctx context.Context, item models.ChangeItem, res *SyncResult) error {
	ack, attempts, err := e.send(ctx, item)
	return e.settle(ctx, item, ack, attempts, err, res, true)
}

// send pushes one item, retrying transient failures with exponential backoff.
func (e *Engine) send(ctx context.Context, item models.ChangeItem) (*db.ServerRow, int, error) {
	var resp *syncclient.ChangeResponse
	attempts, err := e.retry(ctx, func(ctx context.Context) error {
		var err error
		resp, err = e.remote.Push(ctx, item.EntityType, changeRequest(item))
		if err == nil && !resp.Success {
			err = &syncclient.RejectedError{Message: "server did not apply the change"}
		}
		return err
	}, func(err error) {
		if rerr := e.store.RecordAttempt(item.ID, err.Error()); rerr != nil {
			e.logger.Warn("record attempt", "change", item.ID, "err", rerr)
		}
	})
	if err != nil {
		return nil, attempts, err
	}
	return ackRow(item, resp), attempts, nil
}

// retry runs fn up to MaxRetries times. Only transient errors are retried;
// the delay before attempt n+1 is RetryDelay * 2^n.
func (e *Engine) retry(ctx context.Context, fn func(context.Context) error, onTransient func(error)) (int, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		rctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		err := fn(rctx)
		cancel()
		if err == nil {
			return attempt + 1, nil
		}
		if !syncclient.IsTransient(err) {
			return attempt + 1, err
		}
		lastErr = err
		if onTransient != nil {
			onTransient(err)
		}
		if attempt < e.cfg.MaxRetries-1 {
			delay := e.cfg.RetryDelay * time.Duration(1<<attempt)
			e.logger.Debug("retrying after transient failure", "attempt", attempt+1, "delay", delay, "err", err)
			if serr := e.sleep(ctx, delay); serr != nil {
				return attempt + 1, serr
			}
		}
	}
	return e.cfg.MaxRetries, lastErr
}

// settle records the outcome of sending item. When resolve is false a
// conflict is parked rather than handed to the resolver again.
func (e *Engine) settle(ctx context.Context, item models.ChangeItem, ack *db.ServerRow, attempts int, sendErr error, res *SyncResult, resolve bool) error {
	logger := e.logger.With("change", item.ID, "table", item.EntityType, "entity", item.EntityID, "op", item.Operation)

	if sendErr == nil {
		if err := e.store.ConfirmChange(item, *ack); err != nil {
			return fmt.Errorf("confirm change %d: %w", item.ID, err)
		}
		logger.Debug("change synced", "version", ack.Version, "server_id", ack.ID)
		res.SuccessCount++
		return nil
	}

	if errors.Is(sendErr, syncclient.ErrUnauthorized) {
		res.PendingCount++
		res.addItemError(item, KindPending, sendErr)
		return sendErr
	}

	if ce, ok := syncclient.AsConflict(sendErr); ok {
		if !resolve {
			return e.park(item, ce, "conflict persisted after resubmission", res)
		}
		return e.handleConflict(ctx, item, ce, res)
	}

	if ctx.Err() != nil {
		res.PendingCount++
		res.addItemError(item, KindPending, sendErr)
		return nil
	}

	failure := &PersistentSyncFailure{ChangeID: item.ID, Attempts: attempts, Err: sendErr}
	if err := e.store.MarkStatus(item.ID, models.StatusFailed, 0, sendErr.Error()); err != nil {
		return fmt.Errorf("mark change %d failed: %w", item.ID, err)
	}
	logger.Warn("change failed", "attempts", attempts, "err", sendErr)
	res.FailureCount++
	res.addItemError(item, KindFailed, failure)
	return nil
}

func (e *Engine) handleConflict(ctx context.Context, item models.ChangeItem, ce *syncclient.ConflictError, res *SyncResult) error {
	strategy := e.resolver.Strategy()
	logger := e.logger.With("change", item.ID, "table", item.EntityType, "entity", item.EntityID, "strategy", strategy)

	rctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	r, err := e.resolver.Resolve(rctx, item, ce)
	cancel()
	if err != nil {
		// The item keeps its status and is tried again next session.
		logger.Warn("conflict resolution failed", "err", err)
		res.PendingCount++
		res.addItemError(item, KindPending, fmt.Errorf("resolve conflict: %w", err))
		return nil
	}

	switch r.Action {
	case ActionAcceptServer:
		if err := e.store.AcceptServerCopy(item, r.Server, strategy); err != nil {
			return fmt.Errorf("accept server copy for change %d: %w", item.ID, err)
		}
		logger.Info("conflict resolved", "winner", "server")
		res.SuccessCount++
		res.ResolvedConflicts++
		return nil

	case ActionConverge:
		if err := e.store.ConvergeChange(item, strategy); err != nil {
			return fmt.Errorf("converge change %d: %w", item.ID, err)
		}
		logger.Info("conflict resolved", "winner", "none")
		res.SuccessCount++
		res.ResolvedConflicts++
		return nil

	case ActionResubmit, ActionResubmitAsCreate:
		if r.Action == ActionResubmitAsCreate {
			err = e.store.RewriteAsCreate(item.ID)
		} else if r.Server != nil {
			err = e.store.Rebase(item.ID, r.Server.Version)
		}
		if err != nil {
			return fmt.Errorf("prepare resubmission of change %d: %w", item.ID, err)
		}
		again, ok, err := e.reload(item.ID, res)
		if err != nil || !ok {
			return err
		}
		logger.Info("conflict resolved", "winner", "local")
		before := res.SuccessCount
		ack, attempts, sendErr := e.send(ctx, again)
		if err := e.settle(ctx, again, ack, attempts, sendErr, res, false); err != nil {
			return err
		}
		if res.SuccessCount > before {
			res.ResolvedConflicts++
			if err := e.store.RecordConflict(db.SyncConflict{
				ChangeID:      item.ID,
				EntityType:    item.EntityType,
				EntityID:      again.EntityID,
				Strategy:      strategy,
				Resolution:    models.ResolutionLocalWins,
				ServerVersion: ack.Version,
				LocalData:     again.Data,
			}); err != nil {
				logger.Warn("journal conflict", "err", err)
			}
		}
		return nil

	default:
		return e.park(item, ce, r.Reason, res)
	}
}

// park leaves item in conflict status for manual resolution.
func (e *Engine) park(item models.ChangeItem, ce *syncclient.ConflictError, reason string, res *SyncResult) error {
	if reason == "" {
		reason = "awaiting manual resolution"
	}
	var server *db.ServerRow
	if ce != nil && ce.Server != nil {
		if sr, err := serverRow(ce.Server); err == nil {
			server = sr
		}
	}
	if err := e.store.DeferConflict(item, server, e.resolver.Strategy(), reason); err != nil {
		return fmt.Errorf("defer change %d: %w", item.ID, err)
	}
	e.logger.Info("conflict deferred", "change", item.ID, "table", item.EntityType, "entity", item.EntityID, "reason", reason)
	res.ConflictCount++
	res.addItemError(item, KindConflict, ce)
	return nil
}

func (e *Engine) leavePending(items []models.ChangeItem, res *SyncResult, cause error) {
	for _, item := range items {
		res.PendingCount++
		res.addItemError(item, KindPending, cause)
	}
}

func (e *Engine) advance() {
	e.update(func(s *Status) { s.Processed++ })
}

func changeRequest(item models.ChangeItem) *syncclient.ChangeRequest {
	return &syncclient.ChangeRequest{
		Operation:       string(item.Operation),
		ID:              item.EntityID,
		Data:            item.Data,
		BaseVersion:     item.BaseVersion,
		ClientTimestamp: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		IdempotencyKey:  item.IdempotencyKey,
	}
}

func ackRow(item models.ChangeItem, resp *syncclient.ChangeResponse) *db.ServerRow {
	id := resp.ID
	if id == 0 {
		id = item.EntityID
	}
	return &db.ServerRow{ID: id, Version: resp.Version, LastModified: parseServerTime(resp.LastModified)}
}
