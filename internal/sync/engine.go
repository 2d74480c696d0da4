// Package sync pushes queued local changes to the reconciliation endpoint and
// mirrors the server's tables back into the local store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/syncclient"
)

// Remote is the server side of a session.
type Remote interface {
	Push(ctx context.Context, table string, req *syncclient.ChangeRequest) (*syncclient.ChangeResponse, error)
	PushBatch(ctx context.Context, req *syncclient.BatchRequest) (*syncclient.BatchResponse, error)
	PullTable(ctx context.Context, table string) (*syncclient.TableResponse, error)
	FetchEntity(ctx context.Context, table string, id int64) (*syncclient.EntityVersion, error)
}

// Engine runs sync sessions against one store. At most one session runs at
// a time per data directory, across processes.
type Engine struct {
	store    *db.DB
	remote   Remote
	cfg      Config
	resolver ConflictResolver
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	syncing atomic.Bool

	mu          gosync.Mutex
	status      Status
	subscribers map[int]func(Status)
	nextSub     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithResolver replaces the resolver picked from Config.Strategy.
func WithResolver(r ConflictResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithClock sets the time source used for durations and status.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine. An unknown strategy is an error.
func New(store *db.DB, remote Remote, cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:       store,
		remote:      remote,
		cfg:         cfg.withDefaults(),
		logger:      slog.Default(),
		sleep:       sleepContext,
		now:         time.Now,
		subscribers: make(map[int]func(Status)),
	}
	for _, o := range opts {
		o(e)
	}
	if e.resolver == nil {
		r, err := NewResolver(e.cfg.Strategy, remote)
		if err != nil {
			return nil, err
		}
		e.resolver = r
	}
	e.status.Phase = PhaseIdle
	if last, err := store.LastSyncAt(); err == nil {
		e.status.LastSyncAt = last
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// IsSyncing reports whether a session is running.
func (e *Engine) IsSyncing() bool { return e.syncing.Load() }

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Subscribe registers fn for status changes and returns a function that
// removes it. fn runs on the syncing goroutine and must not block.
func (e *Engine) Subscribe(fn func(Status)) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

func (e *Engine) update(fn func(*Status)) {
	e.mu.Lock()
	fn(&e.status)
	s := e.status
	subs := make([]func(Status), 0, len(e.subscribers))
	for _, f := range e.subscribers {
		subs = append(subs, f)
	}
	e.mu.Unlock()
	for _, f := range subs {
		f(s)
	}
}

// SyncAll pushes every pending change, then pulls every table. Per-item
// problems are reported in the result; the error is reserved for a session
// that could not run at all.
func (e *Engine) SyncAll(ctx context.Context) (*SyncResult, error) {
	return e.session(ctx, true, true)
}

// Push runs only the push phase.
func (e *Engine) Push(ctx context.Context) (*SyncResult, error) {
	return e.session(ctx, true, false)
}

// Pull runs only the pull phase.
func (e *Engine) Pull(ctx context.Context) (*SyncResult, error) {
	return e.session(ctx, false, true)
}

func (e *Engine) session(ctx context.Context, push, pull bool) (*SyncResult, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return nil, ErrAlreadySyncing
	}
	defer e.syncing.Store(false)

	unlock, err := e.store.LockSession()
	if errors.Is(err, db.ErrSessionLocked) {
		e.logger.Debug("sync session skipped", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrAlreadySyncing, err)
	}
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	defer unlock()

	start := e.now()
	res := newResult()
	e.update(func(s *Status) {
		s.Syncing = true
		s.Phase = PhasePush
		s.Processed, s.Total = 0, 0
		s.Message = "starting"
		s.LastError = ""
	})

	if push {
		err = e.push(ctx, res)
	}
	if err == nil && pull {
		err = e.pull(ctx, res)
	}
	res.Duration = e.now().Sub(start)

	logger := e.logger.With("duration", res.Duration)
	if err != nil {
		logger.Error("sync session aborted", "err", err)
	} else {
		logger.Info("sync session finished",
			"items", res.TotalItems,
			"synced", res.SuccessCount,
			"failed", res.FailureCount,
			"conflicts", res.ConflictCount,
			"pending", res.PendingCount,
			"pulled", res.PulledRows(),
		)
	}

	last, lerr := e.store.LastSyncAt()
	e.update(func(s *Status) {
		s.Syncing = false
		s.Phase = PhaseIdle
		s.Message = summary(res)
		if lerr == nil {
			s.LastSyncAt = last
		}
		if err != nil {
			s.LastError = err.Error()
		} else if len(res.Errors) > 0 {
			s.LastError = res.Errors[len(res.Errors)-1].Message
		}
	})
	if err != nil {
		return res, fmt.Errorf("sync: %w", err)
	}
	return res, nil
}

func summary(res *SyncResult) string {
	return fmt.Sprintf("%d synced, %d failed, %d conflicts, %d rows pulled",
		res.SuccessCount, res.FailureCount, res.ConflictCount, res.PulledRows())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
