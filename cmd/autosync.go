package cmd

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// mutatingCommands lists commands that modify local data and should trigger auto-sync.
var mutatingCommands = map[string]bool{
	"create":   true,
	"update":   true,
	"delete":   true,
	"sale":     true,
	"purchase": true,
	"import":   true,
}

// isMutatingCommand checks if the given command name triggers auto-sync.
func isMutatingCommand(name string) bool {
	return mutatingCommands[name]
}

// autoSyncEnabled checks STOCKLY_AUTO_SYNC, then the config. The variable
// wins so scripts can turn the post-write push off.
func autoSyncEnabled(configured bool) bool {
	if v := os.Getenv("STOCKLY_AUTO_SYNC"); v != "" {
		return v == "1" || v == "true"
	}
	return configured
}

// autoSyncAfterMutation runs a quick push after a mutating command completes.
// Runs synchronously but with a short timeout. Errors are logged, not returned.
func autoSyncAfterMutation() {
	a, err := openApp()
	if err != nil {
		slog.Debug("autosync: open", "err", err)
		return
	}
	defer a.Close()

	if !autoSyncEnabled(a.cfg.Auto.Enabled) || !a.cfg.IsAuthenticated() {
		return
	}
	pending, err := a.store.CountPending()
	if err != nil || pending == 0 {
		return
	}

	// One short attempt; anything left stays queued for the next sync.
	a.cfg.MaxRetries = 1
	a.cfg.RequestTimeout = 5 * time.Second
	engine, err := a.engine()
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Push only; pull happens on the next explicit sync or daemon tick.
	res, err := engine.Push(ctx)
	if err != nil {
		a.logger.Debug("autosync: push", "err", err)
		return
	}
	a.logger.Debug("autosync: pushed", "ok", res.SuccessCount, "failed", res.FailureCount, "pending", res.PendingCount)
}
