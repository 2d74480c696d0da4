package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/models"
	"github.com/stockly-app/stockly/internal/output"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show dashboard: queue, tables, last sync and recent conflicts",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		r, err := buildReport(a.store, nil)
		if err != nil {
			return fail(err)
		}
		if jsonOutput {
			return outputStatusJSON(a, r)
		}
		return outputStatusDashboard(a, r)
	},
}

type statusTable struct {
	Table        string `json:"table"`
	Rows         int    `json:"rows"`
	LastPulledAt string `json:"last_pulled_at,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

func outputStatusJSON(a *app, r output.Report) error {
	tables := make([]statusTable, 0, len(r.Tables))
	for _, t := range r.Tables {
		st := statusTable{Table: t.Table, Rows: t.RowCount, LastError: t.LastError}
		if t.LastPulledAt != nil {
			st.LastPulledAt = t.LastPulledAt.UTC().Format(models.TimeLayout)
		}
		tables = append(tables, st)
	}
	return output.JSON(map[string]any{
		"device_id":     a.cfg.DeviceID,
		"server_url":    a.cfg.ServerURL,
		"authenticated": a.cfg.IsAuthenticated(),
		"strategy":      a.cfg.Strategy,
		"data_dir":      a.cfg.DataDir,
		"last_sync_at":  r.LastSync,
		"queue":         r.Queue,
		"tables":        tables,
		"conflicts":     len(r.Conflicts),
	})
}

// outputStatusDashboard renders a dashboard view
func outputStatusDashboard(a *app, r output.Report) error {
	fmt.Printf("DEVICE:   %s\n", a.cfg.DeviceID)
	fmt.Printf("STORE:    %s\n", db.Path(a.cfg.DataDir))
	fmt.Printf("SERVER:   %s\n", a.cfg.ServerURL)
	fmt.Printf("STRATEGY: %s\n", a.cfg.Strategy)
	if !a.cfg.IsAuthenticated() {
		output.Warning("not connected to a server (run: stockly config set api_key <key>)")
	}

	rendered, err := output.RenderReport(r)
	if err != nil {
		return fail(err)
	}
	fmt.Print(rendered)

	if n := r.Queue[models.StatusConflict]; n > 0 {
		output.Info("%d change(s) wait for a decision: stockly conflicts resolve <change-id>", n)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
