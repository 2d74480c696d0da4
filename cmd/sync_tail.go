package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/output"
)

// Styles for sync log output
var (
	pushArrow = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("→") // green
	pullArrow = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Render("←") // cyan
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var syncTailCmd = &cobra.Command{
	Use:     "log",
	Aliases: []string{"tail"},
	Short:   "Show recent sync activity",
	Long: `Show recent push/pull history. Use -f to follow in real-time.

Examples:
  stockly sync log          # Show last 20 entries
  stockly sync log -f       # Follow new entries in real-time
  stockly sync log -n 50    # Show last 50 entries
  stockly sync log -f -n 0  # Follow only new entries, skip history`,
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		lines, _ := cmd.Flags().GetInt("lines")

		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()
		database := a.store

		var entries []db.SyncHistoryEntry
		if lines > 0 {
			entries, err = database.GetSyncHistoryTail(lines)
			if err != nil {
				return fail(fmt.Errorf("query sync history: %w", err))
			}
		}

		if jsonOutput && !follow {
			if entries == nil {
				entries = []db.SyncHistoryEntry{}
			}
			return output.JSON(entries)
		}

		var maxID int64
		for _, e := range entries {
			printSyncEntry(e)
			if e.ID > maxID {
				maxID = e.ID
			}
		}

		if !follow {
			if len(entries) == 0 {
				fmt.Println("No sync activity recorded.")
			}
			return nil
		}

		// If no initial entries were shown but we're following,
		// get the current max ID to only show new entries
		if maxID == 0 && lines == 0 {
			tail, _ := database.GetSyncHistoryTail(1)
			if len(tail) > 0 {
				maxID = tail[0].ID
			}
		}

		// Follow mode: poll for new entries, handle Ctrl+C gracefully
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-sigCh:
				fmt.Println() // clean line after ^C
				return nil
			case <-ticker.C:
				newEntries, err := database.GetSyncHistory(maxID, 100)
				if err != nil {
					slog.Debug("sync log: poll", "err", err)
					continue
				}
				for _, e := range newEntries {
					printSyncEntry(e)
					if e.ID > maxID {
						maxID = e.ID
					}
				}
			}
		}
	},
}

func printSyncEntry(e db.SyncHistoryEntry) {
	if jsonOutput {
		output.JSON(e)
		return
	}
	fmt.Println(formatSyncEntry(e))
}

func formatSyncEntry(e db.SyncHistoryEntry) string {
	arrow := pullArrow
	if e.Direction == "push" {
		arrow = pushArrow
	}

	ts := dimStyle.Render(e.Timestamp.Local().Format("15:04:05"))
	line := fmt.Sprintf("%s %s %s %s %s/%d v%d",
		ts, arrow, e.Direction, e.Operation, e.EntityType, e.EntityID, e.ServerVersion)

	if e.Direction == "pull" && e.DeviceID != "" {
		line += fmt.Sprintf(" from:%s", truncateID(e.DeviceID, 12))
	}
	return line
}

func truncateID(id string, max int) string {
	if len(id) <= max {
		return id
	}
	return id[:max-3] + "..."
}

func init() {
	syncTailCmd.Flags().BoolP("follow", "f", false, "Follow new entries in real-time")
	syncTailCmd.Flags().IntP("lines", "n", 20, "Number of initial lines to show")
	syncCmd.AddCommand(syncTailCmd)
}
