package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stockly-app/stockly/internal/autosync"
	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/logging"
	"github.com/stockly-app/stockly/internal/output"
	stocksync "github.com/stockly-app/stockly/internal/sync"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sync in the background on a timer, on local writes and on reconnect",
	Long: `Runs until interrupted. A session starts:
  - at startup (auto.on_start)
  - every auto.interval
  - auto.debounce after the last local write
  - when the server becomes reachable again (checked every auto.probe_interval)

Logs go to log.file, rotated by size.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		foreground, _ := cmd.Flags().GetBool("foreground")

		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		if !a.cfg.Auto.Enabled {
			output.Warning("auto.enabled is false; running anyway because the daemon was started by hand")
		}

		var also io.Writer
		if foreground {
			also = os.Stderr
		}
		logger, closer, err := logging.NewFile(logging.FileOptions{
			Path:       a.cfg.Log.File,
			Level:      a.cfg.Log.Level,
			MaxSizeMB:  a.cfg.Log.MaxSizeMB,
			MaxBackups: a.cfg.Log.MaxBackups,
			MaxAgeDays: a.cfg.Log.MaxAgeDays,
			Also:       also,
		})
		if err != nil {
			return fail(err)
		}
		defer closer.Close()
		a.logger = logger

		engine, err := a.engine()
		if err != nil {
			return fail(err)
		}
		client := a.client()

		d := autosync.New(autosync.Config{
			Interval:      a.cfg.Auto.Interval,
			Debounce:      a.cfg.Auto.Debounce,
			ProbeInterval: a.cfg.Auto.ProbeInterval,
			OnStart:       a.cfg.Auto.OnStart,
			Pull:          a.cfg.Auto.Pull,
			WatchDir:      a.cfg.DataDir,
			WatchPrefix:   filepath.Base(db.Path(a.cfg.DataDir)),
		}, engine, a.store,
			autosync.WithLogger(logger),
			autosync.WithProbe(func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
				defer cancel()
				_, err := client.HealthCheck(ctx)
				return err
			}),
		)
		d.OnResult = func(trigger autosync.Trigger, res *stocksync.SyncResult, err error) {
			if err != nil || res == nil {
				return
			}
			for _, e := range res.Errors {
				logger.Warn("sync problem", "trigger", trigger, "kind", e.Kind, "change", e.ChangeID,
					"table", e.Table, "entity", e.EntityID, "msg", e.Message)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("daemon starting", "server", a.cfg.ServerURL, "device", a.cfg.DeviceID,
			"interval", a.cfg.Auto.Interval, "debounce", a.cfg.Auto.Debounce)
		if !jsonOutput {
			output.Info("stockly daemon running (logs: %s), Ctrl+C to stop", a.cfg.Log.File)
		}

		err = d.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("daemon stopped", "err", err)
			return fail(err)
		}
		logger.Info("daemon stopped", "sessions", d.Runs())
		return nil
	},
}

func init() {
	daemonCmd.Flags().Bool("foreground", false, "Also write logs to stderr")
	rootCmd.AddCommand(daemonCmd)
}
