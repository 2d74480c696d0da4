package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/models"
	"github.com/stockly-app/stockly/internal/output"
	stocksync "github.com/stockly-app/stockly/internal/sync"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	Short:   "Review and settle sync conflicts",
	GroupID: "sync",
}

var conflictsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Show the conflict journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 || limit > 1000 {
			return invalid("limit must be between 1 and 1000")
		}
		sinceStr, _ := cmd.Flags().GetString("since")
		var since time.Time
		if sinceStr != "" {
			d, err := time.ParseDuration(sinceStr)
			if err != nil {
				return invalid("invalid duration %q: %v", sinceStr, err)
			}
			since = time.Now().Add(-d)
		}

		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		conflicts, err := a.store.ListConflicts(limit, since)
		if err != nil {
			return fail(fmt.Errorf("query conflicts: %w", err))
		}
		if jsonOutput {
			if conflicts == nil {
				conflicts = []db.SyncConflict{}
			}
			return output.JSON(conflicts)
		}
		if len(conflicts) == 0 {
			fmt.Println("No sync conflicts found.")
			return nil
		}

		fmt.Println("Recent sync conflicts:")
		fmt.Printf("  %-19s %-8s %-14s %-8s %-16s %-11s %s\n", "TIME", "CHANGE", "TABLE", "ENTITY", "STRATEGY", "RESOLUTION", "SERVER")
		for _, c := range conflicts {
			fmt.Printf("  %-19s #%-7d %-14s %-8d %-16s %-11s v%d\n",
				c.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				c.ChangeID,
				c.EntityType,
				c.EntityID,
				c.Strategy,
				c.Resolution,
				c.ServerVersion,
			)
		}
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <change-id>",
	Short: "Settle a parked conflict or failed change",
	Long: `Settles a conflict or failed change by hand:

  local    resubmit the local change on top of the server's version
  server   overwrite the local record with the server's copy
  discard  drop the local change

Without --choice the command asks interactively.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		choiceStr, _ := cmd.Flags().GetString("choice")

		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		item, err := a.store.GetChange(id)
		if err != nil {
			return fail(err)
		}
		if item.Status != models.StatusConflict && item.Status != models.StatusFailed {
			return invalid("change %d is %s; nothing to resolve", id, item.Status)
		}

		var choice stocksync.Choice
		if choiceStr != "" {
			if choice, err = stocksync.ParseChoice(choiceStr); err != nil {
				return invalid("%v", err)
			}
		} else {
			if jsonOutput || !term.IsTerminal(int(os.Stdin.Fd())) {
				return invalid("--choice is required when not running interactively")
			}
			if choice, err = promptChoice(item); err != nil {
				return fail(err)
			}
		}

		engine, err := a.engine()
		if err != nil && choice == stocksync.ChoiceTakeServer {
			return fail(err)
		}
		var newID int64
		if engine != nil {
			newID, err = engine.ResolveConflict(cmd.Context(), id, choice)
		} else {
			// Local-only choices do not need the server.
			switch choice {
			case stocksync.ChoiceKeepLocal:
				newID, err = a.store.Requeue(id)
			case stocksync.ChoiceDiscard:
				err = a.store.Discard(id)
			}
		}
		if err != nil {
			return fail(err)
		}

		if jsonOutput {
			return output.JSON(map[string]any{"change_id": id, "choice": choice, "requeued_as": newID})
		}
		switch choice {
		case stocksync.ChoiceKeepLocal:
			output.Success("Change #%d requeued as #%d; run 'stockly sync' to send it", id, newID)
		case stocksync.ChoiceTakeServer:
			output.Success("Change #%d settled with the server's copy", id)
		case stocksync.ChoiceDiscard:
			output.Success("Change #%d discarded", id)
		}
		return nil
	},
}

func promptChoice(item models.ChangeItem) (stocksync.Choice, error) {
	var picked string
	desc := output.FormatChangeShort(item)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(fmt.Sprintf("Change #%d", item.ID)).
				Description(desc),
			huh.NewSelect[string]().
				Title("How should this be settled?").
				Options(
					huh.NewOption("Keep mine (resubmit over the server version)", string(stocksync.ChoiceKeepLocal)),
					huh.NewOption("Take the server's copy", string(stocksync.ChoiceTakeServer)),
					huh.NewOption("Discard my change", string(stocksync.ChoiceDiscard)),
				).
				Value(&picked),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return stocksync.ParseChoice(picked)
}

func init() {
	conflictsListCmd.Flags().Int("limit", 20, "Max conflicts to show")
	conflictsListCmd.Flags().String("since", "", "Show conflicts from the last duration (e.g. 24h, 1h30m)")
	conflictsResolveCmd.Flags().String("choice", "", "local, server or discard")
	conflictsCmd.AddCommand(conflictsListCmd, conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
