// Package autosync runs sync sessions in the background: on a fixed interval,
// shortly after the local store changes, and when the server becomes
// reachable again.
package autosync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	stocksync "github.com/stockly-app/stockly/internal/sync"
)

// Trigger names why a session started.
type Trigger string

const (
	TriggerStart     Trigger = "start"
	TriggerInterval  Trigger = "interval"
	TriggerChange    Trigger = "change"
	TriggerReconnect Trigger = "reconnect"
)

// Syncer runs sessions. *sync.Engine satisfies it.
type Syncer interface {
	SyncAll(ctx context.Context) (*stocksync.SyncResult, error)
	Push(ctx context.Context) (*stocksync.SyncResult, error)
}

// PendingCounter reports queued work. *db.DB satisfies it.
type PendingCounter interface {
	CountPending() (int, error)
}

// Config tunes the daemon. Zero durations disable the matching trigger.
type Config struct {
	Interval      time.Duration
	Debounce      time.Duration
	ProbeInterval time.Duration
	OnStart       bool
	// Pull includes the pull phase; otherwise sessions only push.
	Pull bool
	// WatchDir is the store directory; files starting with WatchPrefix
	// count as store changes.
	WatchDir    string
	WatchPrefix string
}

// Daemon owns the trigger loop.
type Daemon struct {
	cfg     Config
	syncer  Syncer
	pending PendingCounter
	probe   func(ctx context.Context) error
	logger  *slog.Logger

	// OnResult, when set, is called after every session.
	OnResult func(trigger Trigger, res *stocksync.SyncResult, err error)

	mu     sync.Mutex
	online bool
	runs   int
	// settled is the pending count a finished session left behind. A
	// session's own writes re-arm the debounce; only growth past settled
	// means new local work.
	settled int
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the daemon's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// WithProbe sets the connectivity check; nil error means reachable.
func WithProbe(fn func(ctx context.Context) error) Option {
	return func(d *Daemon) { d.probe = fn }
}

// New creates a daemon.
func New(cfg Config, syncer Syncer, pending PendingCounter, opts ...Option) *Daemon {
	d := &Daemon{
		cfg:     cfg,
		syncer:  syncer,
		pending: pending,
		logger:  slog.Default(),
		online:  true,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Online reports the last observed connectivity.
func (d *Daemon) Online() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online
}

// Runs returns how many sessions the daemon has started.
func (d *Daemon) Runs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}

// Run blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	var changes <-chan fsnotify.Event
	var watchErrs <-chan error
	if d.cfg.WatchDir != "" && d.cfg.Debounce > 0 {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer w.Close()
		if err := w.Add(d.cfg.WatchDir); err != nil {
			return fmt.Errorf("watch %s: %w", d.cfg.WatchDir, err)
		}
		changes, watchErrs = w.Events, w.Errors
	}

	interval := tickerChan(d.cfg.Interval)
	defer interval.stop()
	var probe ticker
	if d.probe != nil {
		probe = tickerChan(d.cfg.ProbeInterval)
	}
	defer probe.stop()

	// debounce is nil until a store change arms it
	var debounce <-chan time.Time
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	d.logger.Info("autosync started", "interval", d.cfg.Interval, "debounce", d.cfg.Debounce,
		"probe_interval", d.cfg.ProbeInterval, "pull", d.cfg.Pull)

	if d.cfg.OnStart {
		d.run(ctx, TriggerStart)
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("autosync stopped", "runs", d.Runs())
			return nil

		case <-interval.c:
			d.run(ctx, TriggerInterval)

		case ev, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if !d.isStoreChange(ev) {
				continue
			}
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(d.cfg.Debounce)
			} else {
				if !debounceTimer.Stop() {
					select {
					case <-debounceTimer.C:
					default:
					}
				}
				debounceTimer.Reset(d.cfg.Debounce)
			}
			debounce = debounceTimer.C

		case <-debounce:
			debounce = nil
			if !d.Online() {
				continue
			}
			if n, err := d.pending.CountPending(); err != nil {
				d.logger.Warn("count pending", "err", err)
			} else if n > d.settledPending() {
				d.run(ctx, TriggerChange)
			} else {
				d.logger.Debug("store change without new work", "pending", n)
			}

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			d.logger.Warn("watch error", "err", err)

		case <-probe.c:
			if d.checkConnectivity(ctx) {
				d.run(ctx, TriggerReconnect)
			}
		}
	}
}

// checkConnectivity probes the server and reports an offline to online
// transition.
func (d *Daemon) checkConnectivity(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := d.probe(pctx)
	cancel()

	d.mu.Lock()
	was := d.online
	d.online = err == nil
	d.mu.Unlock()

	switch {
	case was && err != nil:
		d.logger.Info("server unreachable", "err", err)
	case !was && err == nil:
		d.logger.Info("server reachable again")
		return true
	}
	return false
}

func (d *Daemon) run(ctx context.Context, trigger Trigger) {
	d.mu.Lock()
	d.runs++
	d.mu.Unlock()

	var res *stocksync.SyncResult
	var err error
	if d.cfg.Pull {
		res, err = d.syncer.SyncAll(ctx)
	} else {
		res, err = d.syncer.Push(ctx)
	}

	skipped := errors.Is(err, stocksync.ErrAlreadySyncing)
	if !skipped {
		if n, cerr := d.pending.CountPending(); cerr == nil {
			d.mu.Lock()
			d.settled = n
			d.mu.Unlock()
		}
	}

	switch {
	case skipped:
		d.logger.Debug("sync skipped, already running", "trigger", trigger)
	case err != nil:
		d.logger.Warn("sync failed", "trigger", trigger, "err", err)
	case res != nil:
		d.logger.Info("sync done", "trigger", trigger, "success", res.SuccessCount, "failed", res.FailureCount,
			"conflicts", res.ConflictCount, "pending", res.PendingCount, "pulled", res.PulledRows(),
			"duration", res.Duration)
	}
	if d.OnResult != nil {
		d.OnResult(trigger, res, err)
	}
}

func (d *Daemon) settledPending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}

func (d *Daemon) isStoreChange(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	return d.cfg.WatchPrefix == "" || strings.HasPrefix(filepath.Base(ev.Name), d.cfg.WatchPrefix)
}

type ticker struct {
	t *time.Ticker
	c <-chan time.Time
}

// tickerChan returns a ticker whose channel never fires when d is zero.
func tickerChan(d time.Duration) ticker {
	if d <= 0 {
		return ticker{}
	}
	t := time.NewTicker(d)
	return ticker{t: t, c: t.C}
}

func (t ticker) stop() {
	if t.t != nil {
		t.t.Stop()
	}
}
