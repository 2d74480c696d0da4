package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/models"
	"github.com/stockly-app/stockly/internal/output"
)

// parseFields turns field=value arguments into a row. Values that look like
// numbers, booleans or null are converted; wrap a value in double quotes to
// keep it a string.
func parseFields(args []string) (models.Row, error) {
	row := models.Row{}
	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		row[key] = parseFieldValue(val)
	}
	return row, nil
}

func parseFieldValue(s string) any {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	switch s {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func checkTable(table string) error {
	if !models.IsSyncTable(table) {
		names := models.SyncTables()
		sort.Strings(names)
		return invalid("unknown table %q (one of: %s)", table, strings.Join(names, ", "))
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, invalid("invalid id %q", s)
	}
	return id, nil
}

var createCmd = &cobra.Command{
	Use:   "create <table> field=value...",
	Short: "Create a record",
	Long: `Creates a record locally and queues it for sync. Until the server confirms
it, the record carries a negative provisional id.`,
	Example: `  stockly create categories name=Tools
  stockly create products sku='"0042"' name=Hammer category_id=-1 selling_price=12.5`,
	Aliases: []string{"add", "new"},
	GroupID: "core",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]
		if err := checkTable(table); err != nil {
			return err
		}
		fields, err := parseFields(args[1:])
		if err != nil {
			return invalid("%v", err)
		}

		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		id, err := a.inventory().Create(cmd.Context(), table, fields)
		if err != nil {
			return fail(err)
		}
		if jsonOutput {
			return output.JSON(map[string]any{"table": table, "id": id})
		}
		output.Success("CREATED %s %d", table, id)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <table> <id> field=value...",
	Short: "Update fields of a record",
	Example: `  stockly update products 12 selling_price=13.75
  stockly update products -- -2 name="Claw hammer"   # provisional ids follow --`,
	Aliases: []string{"set", "edit"},
	GroupID: "core",
	Args:    cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]
		if err := checkTable(table); err != nil {
			return err
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		changes, err := parseFields(args[2:])
		if err != nil {
			return invalid("%v", err)
		}

		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		if err := a.inventory().Update(cmd.Context(), table, id, changes); err != nil {
			return fail(err)
		}
		if jsonOutput {
			return output.JSON(map[string]any{"table": table, "id": id, "updated": len(changes)})
		}
		output.Success("UPDATED %s %d", table, id)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <table> <id>",
	Short:   "Delete a record",
	Aliases: []string{"rm"},
	GroupID: "core",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]
		if err := checkTable(table); err != nil {
			return err
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		if err := a.inventory().Delete(cmd.Context(), table, id); err != nil {
			return fail(err)
		}
		if jsonOutput {
			return output.JSON(map[string]any{"table": table, "id": id, "deleted": true})
		}
		output.Success("DELETED %s %d", table, id)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list <table>",
	Short:   "List records of a table",
	Example: `  stockly list products --where category_id=3`,
	Aliases: []string{"ls"},
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]
		if err := checkTable(table); err != nil {
			return err
		}
		filters, _ := cmd.Flags().GetStringArray("where")
		where, err := parseFields(filters)
		if err != nil {
			return invalid("%v", err)
		}
		unsynced, _ := cmd.Flags().GetBool("unsynced")
		if unsynced {
			where[models.ColIsSynced] = int64(0)
		}
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		rows, err := a.store.Find(table, db.Where(where))
		if err != nil {
			return fail(err)
		}
		if limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}
		if jsonOutput {
			if rows == nil {
				rows = []models.Row{}
			}
			return output.JSON(rows)
		}
		if len(rows) == 0 {
			fmt.Printf("No %s found.\n", table)
			return nil
		}
		for _, r := range rows {
			fmt.Println(output.FormatRow(r))
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <table> <id>",
	Short:   "Show one record with its pending changes",
	GroupID: "core",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]
		if err := checkTable(table); err != nil {
			return err
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		row, err := a.store.FindByID(table, id)
		if err != nil {
			return fail(err)
		}
		if row == nil {
			return fail(fmt.Errorf("%s %d: %w", table, id, db.ErrRowNotFound))
		}

		var changes []models.ChangeItem
		outstanding, err := a.store.ListChanges(0, models.StatusPending, models.StatusConflict, models.StatusFailed)
		if err != nil {
			return fail(err)
		}
		for _, c := range outstanding {
			if c.EntityType == table && c.EntityID == id {
				changes = append(changes, c)
			}
		}

		if jsonOutput {
			return output.JSON(map[string]any{"row": row, "changes": changes})
		}
		fmt.Printf("%s %d\n", strings.ToUpper(table), id)
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-20s %v\n", k, row[k])
		}
		if len(changes) > 0 {
			fmt.Print(output.SectionHeader("pending changes"))
			for _, c := range changes {
				fmt.Println(output.IndentString(output.FormatChangeShort(c), 2))
			}
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringArray("where", nil, "Filter by field=value (repeatable)")
	listCmd.Flags().Bool("unsynced", false, "Only rows with local changes not yet confirmed")
	listCmd.Flags().Int("limit", 0, "Max rows to show (0 = all)")
	rootCmd.AddCommand(createCmd, updateCmd, deleteCmd, listCmd, showCmd)
}
