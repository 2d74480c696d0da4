package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/models"
	"github.com/stockly-app/stockly/internal/output"
	stocksync "github.com/stockly-app/stockly/internal/sync"
	"github.com/stockly-app/stockly/internal/syncclient"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync local data with the server",
	Long: `Pushes the change log to the reconciliation server, settles conflicts with the
configured strategy and pulls every table back.

Examples:
  stockly sync            # push then pull
  stockly sync --push     # only send local changes
  stockly sync --report   # print a markdown report afterwards`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		pushOnly, _ := cmd.Flags().GetBool("push")
		pullOnly, _ := cmd.Flags().GetBool("pull")
		report, _ := cmd.Flags().GetBool("report")
		if pushOnly && pullOnly {
			return invalid("--push and --pull are mutually exclusive")
		}

		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		engine, err := a.engine()
		if err != nil {
			return fail(err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !jsonOutput && term.IsTerminal(int(os.Stderr.Fd())) {
			unsubscribe := engine.Subscribe(printProgress)
			defer unsubscribe()
		}

		var res *stocksync.SyncResult
		switch {
		case pushOnly:
			res, err = engine.Push(ctx)
		case pullOnly:
			res, err = engine.Pull(ctx)
		default:
			res, err = engine.SyncAll(ctx)
		}
		if !jsonOutput && term.IsTerminal(int(os.Stderr.Fd())) {
			fmt.Fprint(os.Stderr, "\r\033[K")
		}
		if err != nil {
			if errors.Is(err, syncclient.ErrUnauthorized) {
				return fail(fmt.Errorf("server rejected the API key: %w", err))
			}
			return fail(err)
		}

		if jsonOutput {
			return output.JSON(res)
		}

		output.Success("Sync complete: %s", output.FormatResultSummary(res))
		for _, e := range res.Errors {
			if e.ChangeID != 0 {
				output.Warning("%s: change #%d %s %s %d: %s", e.Kind, e.ChangeID, e.Operation, e.Table, e.EntityID, e.Message)
			} else {
				output.Warning("%s: %s: %s", e.Kind, e.Table, e.Message)
			}
		}
		if res.ConflictCount > res.ResolvedConflicts {
			output.Info("Resolve parked conflicts with: stockly conflicts resolve <change-id>")
		}

		if report {
			r, err := buildReport(a.store, res)
			if err != nil {
				return fail(err)
			}
			rendered, err := output.RenderReport(r)
			if err != nil {
				return fail(err)
			}
			fmt.Print(rendered)
		}
		return nil
	},
}

func printProgress(s stocksync.Status) {
	if !s.Syncing {
		return
	}
	line := string(s.Phase)
	if s.Total > 0 {
		line = fmt.Sprintf("%s %d/%d (%.0f%%)", s.Phase, s.Processed, s.Total, s.Progress()*100)
	}
	if s.Message != "" {
		line += " " + s.Message
	}
	fmt.Fprintf(os.Stderr, "\r\033[K%s", line)
}

// buildReport gathers the store state shown next to a session result.
func buildReport(store *db.DB, res *stocksync.SyncResult) (output.Report, error) {
	r := output.Report{Result: res}
	var err error
	if r.Queue, err = store.CountByStatus(); err != nil {
		return r, err
	}
	if r.Tables, err = store.GetTableSyncStates(); err != nil {
		return r, err
	}
	if r.Conflicts, err = store.ListConflicts(10, time.Time{}); err != nil {
		return r, err
	}
	if r.LastSync, err = store.LastSyncAt(); err != nil {
		return r, err
	}
	return r, nil
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Compare local sync state with the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		counts, err := a.store.CountByStatus()
		if err != nil {
			return fail(err)
		}
		last, err := a.store.LastSyncAt()
		if err != nil {
			return fail(err)
		}

		var server *syncclient.StatusResponse
		var serverErr error
		if a.cfg.IsAuthenticated() {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RequestTimeout)
			server, serverErr = a.client().Status(ctx)
			cancel()
		} else {
			serverErr = errNotConfigured
		}

		if jsonOutput {
			out := map[string]any{"queue": counts, "last_sync_at": last, "server_url": a.cfg.ServerURL}
			if server != nil {
				out["server"] = server
			}
			if serverErr != nil {
				out["server_error"] = serverErr.Error()
			}
			return output.JSON(out)
		}

		fmt.Printf("Device:    %s\n", a.cfg.DeviceID)
		fmt.Printf("Server:    %s\n", a.cfg.ServerURL)
		if last != nil {
			fmt.Printf("Last sync: %s\n", output.FormatTimeAgo(*last))
		} else {
			fmt.Println("Last sync: never")
		}
		fmt.Print(output.SectionHeader("queue"))
		for _, s := range []models.SyncStatus{models.StatusPending, models.StatusConflict, models.StatusFailed, models.StatusSynced} {
			fmt.Printf("  %-22s %d\n", output.StatusBadge(s), counts[s])
		}

		if serverErr != nil {
			output.Warning("server unavailable: %v", serverErr)
			return nil
		}
		fmt.Print(output.SectionHeader("server"))
		fmt.Printf("  tenant %s, status %s\n", server.Tenant, server.Status)
		tables := make([]string, 0, len(server.Tables))
		for t := range server.Tables {
			tables = append(tables, t)
		}
		sort.Strings(tables)
		for _, t := range tables {
			local, _ := a.store.Count(t)
			fmt.Printf("  %-20s server %-6d local %d\n", t, server.Tables[t], local)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("push", false, "Only push local changes")
	syncCmd.Flags().Bool("pull", false, "Only pull server tables")
	syncCmd.Flags().Bool("report", false, "Render a markdown report after the session")
	syncCmd.AddCommand(syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}
