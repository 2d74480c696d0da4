package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/stockly-app/stockly/internal/logging"
	"github.com/stockly-app/stockly/internal/tui/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI dashboard for the change log and sync history",
	Long: `Launch a live-updating TUI dashboard showing:
- Queue: pending, conflicting and failed changes
- Sync history: recent pushes and pulls
- Engine state: phase and progress of a running session

Key bindings:
  Tab/Shift+Tab  Switch panels
  j/k            Scroll active panel
  s              Sync now
  r              Force refresh
  ?              Toggle help
  q              Quit`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		// Engine logs would tear the alt screen.
		a.logger = logging.Discard()
		var syncer monitor.Syncer
		if engine, err := a.engine(); err == nil {
			syncer = engine
		}

		model := monitor.NewModel(a.store, syncer, interval)

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval (default 2s)")
}
