// Package hooks runs side effects after a business mutation has committed.
// A failing hook is logged and never undoes the mutation.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stockly-app/stockly/internal/models"
)

// Event kinds fired by the inventory package.
const (
	KindEntityCreated    = "entity.created"
	KindEntityUpdated    = "entity.updated"
	KindEntityDeleted    = "entity.deleted"
	KindSaleRecorded     = "sale.recorded"
	KindPurchaseRecorded = "purchase.recorded"
	KindLowStock         = "stock.low"
)

// Event describes one committed mutation.
type Event struct {
	Kind     string
	Table    string
	EntityID int64
	Data     models.Row
	// StockChanged lists products whose quantity_on_hand moved.
	StockChanged []int64
	At           time.Time
}

// Hook is one post-commit side effect.
type Hook interface {
	Name() string
	Run(ctx context.Context, ev Event) error
}

// Func adapts a function to Hook.
type Func struct {
	HookName string
	Fn       func(ctx context.Context, ev Event) error
}

func (f Func) Name() string                            { return f.HookName }
func (f Func) Run(ctx context.Context, ev Event) error { return f.Fn(ctx, ev) }

// Failure is a hook that still failed after its retries.
type Failure struct {
	Hook     string
	Attempts int
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("hook %s failed after %d attempt(s): %v", f.Hook, f.Attempts, f.Err)
}

// Runner invokes hooks in registration order.
type Runner struct {
	hooks    []Hook
	logger   *slog.Logger
	attempts int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithRetry sets attempts per hook and the delay between them.
func WithRetry(attempts int, delay time.Duration) RunnerOption {
	return func(r *Runner) {
		if attempts > 0 {
			r.attempts = attempts
		}
		r.delay = delay
	}
}

// WithSleep replaces the retry sleep, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RunnerOption {
	return func(r *Runner) { r.sleep = fn }
}

// NewRunner creates a runner with the given hooks.
func NewRunner(hooks []Hook, opts ...RunnerOption) *Runner {
	r := &Runner{
		hooks:    hooks,
		logger:   slog.Default(),
		attempts: 2,
		delay:    250 * time.Millisecond,
		sleep:    sleepContext,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Add appends a hook.
func (r *Runner) Add(h Hook) {
	r.hooks = append(r.hooks, h)
}

// Len returns the number of registered hooks.
func (r *Runner) Len() int {
	if r == nil {
		return 0
	}
	return len(r.hooks)
}

// Fire runs every hook for ev and returns the ones that failed. A nil
// runner does nothing.
func (r *Runner) Fire(ctx context.Context, ev Event) []Failure {
	if r == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	var failures []Failure
	for _, h := range r.hooks {
		attempts, err := r.run(ctx, h, ev)
		if err == nil {
			continue
		}
		r.logger.Warn("hook failed", "hook", h.Name(), "kind", ev.Kind, "table", ev.Table,
			"entity_id", ev.EntityID, "attempts", attempts, "err", err)
		failures = append(failures, Failure{Hook: h.Name(), Attempts: attempts, Err: err})
	}
	return failures
}

func (r *Runner) run(ctx context.Context, h Hook, ev Event) (int, error) {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err = h.Run(ctx, ev); err == nil {
			return attempt, nil
		}
		if attempt == r.attempts {
			return attempt, err
		}
		r.logger.Debug("hook retry", "hook", h.Name(), "attempt", attempt, "err", err)
		if serr := r.sleep(ctx, r.delay); serr != nil {
			return attempt, err
		}
	}
	return r.attempts, err
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
