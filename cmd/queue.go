package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stockly-app/stockly/internal/models"
	"github.com/stockly-app/stockly/internal/output"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	Short:   "Inspect and repair the change log",
	GroupID: "sync",
}

var queueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List change log items",
	Long: `Lists items waiting for the server by default. Use --status to pick statuses
(pending, conflict, failed, synced) or --all for everything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		statusFlags, _ := cmd.Flags().GetStringSlice("status")
		all, _ := cmd.Flags().GetBool("all")

		var statuses []models.SyncStatus
		switch {
		case all:
		case len(statusFlags) > 0:
			for _, s := range statusFlags {
				status := models.SyncStatus(s)
				if !models.IsValidStatus(status) {
					return invalid("invalid status %q", s)
				}
				statuses = append(statuses, status)
			}
		default:
			statuses = []models.SyncStatus{models.StatusPending, models.StatusConflict, models.StatusFailed}
		}

		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		items, err := a.store.ListChanges(limit, statuses...)
		if err != nil {
			return fail(err)
		}
		if jsonOutput {
			if items == nil {
				items = []models.ChangeItem{}
			}
			return output.JSON(items)
		}
		if len(items) == 0 {
			fmt.Println("Change log is empty.")
			return nil
		}
		for _, item := range items {
			fmt.Println(output.FormatChangeShort(item))
		}
		return nil
	},
}

var queueShowCmd = &cobra.Command{
	Use:   "show <change-id>",
	Short: "Show one change log item with its payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		item, err := a.store.GetChange(id)
		if err != nil {
			return fail(err)
		}
		if jsonOutput {
			return output.JSON(item)
		}
		fmt.Print(output.FormatChangeLong(item))
		return nil
	},
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue <change-id>...",
	Short: "Send failed or conflicting items again",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		requeued := map[int64]int64{}
		for _, arg := range args {
			id, err := parseID(arg)
			if err != nil {
				return err
			}
			newID, err := a.store.Requeue(id)
			if err != nil {
				return fail(err)
			}
			requeued[id] = newID
			if !jsonOutput {
				output.Success("REQUEUED #%d as #%d", id, newID)
			}
		}
		if jsonOutput {
			return output.JSON(requeued)
		}
		return nil
	},
}

var queueDiscardCmd = &cobra.Command{
	Use:   "discard <change-id>...",
	Short: "Drop items, accepting the server's state",
	Long: `Removes items from the change log. Discarding the create of a record the
server never saw also removes the record locally.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		var discarded []int64
		for _, arg := range args {
			id, err := parseID(arg)
			if err != nil {
				return err
			}
			if err := a.store.Discard(id); err != nil {
				return fail(err)
			}
			discarded = append(discarded, id)
			if !jsonOutput {
				output.Success("DISCARDED #%d", id)
			}
		}
		if jsonOutput {
			return output.JSON(map[string]any{"discarded": discarded})
		}
		return nil
	},
}

var queuePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete synced items older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan < 0 {
			return invalid("--older-than must not be negative")
		}
		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		n, err := a.store.PruneSynced(time.Now().Add(-olderThan))
		if err != nil {
			return fail(err)
		}
		if jsonOutput {
			return output.JSON(map[string]int64{"pruned": n})
		}
		output.Success("Pruned %d synced item(s)", n)
		return nil
	},
}

func init() {
	queueListCmd.Flags().Int("limit", 50, "Max items to show (0 = all)")
	queueListCmd.Flags().StringSlice("status", nil, "Statuses to show (comma separated)")
	queueListCmd.Flags().Bool("all", false, "Show items of every status")
	queuePruneCmd.Flags().Duration("older-than", 7*24*time.Hour, "Only prune items confirmed before this long ago")
	queueCmd.AddCommand(queueListCmd, queueShowCmd, queueRequeueCmd, queueDiscardCmd, queuePruneCmd)
	rootCmd.AddCommand(queueCmd)
}
