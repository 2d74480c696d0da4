package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stockly-app/stockly/internal/output"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write a full image of the store",
	Long: `Writes a consistent SQLite image of every table and the sync bookkeeping.
Without a file argument the image goes to stdout.`,
	GroupID: "system",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		image, err := a.store.Export()
		if err != nil {
			return fail(err)
		}
		if len(args) == 0 {
			_, err := os.Stdout.Write(image)
			return err
		}
		if err := os.WriteFile(args[0], image, 0600); err != nil {
			return fail(fmt.Errorf("write image: %w", err))
		}
		if jsonOutput {
			return output.JSON(map[string]any{"file": args[0], "bytes": len(image)})
		}
		output.Success("Exported %d bytes to %s", len(image), args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Replace the store with an exported image",
	Long: `Replaces every table and all sync bookkeeping with the contents of an image
written by 'stockly export'. Local changes not in the image are lost.`,
	GroupID: "system",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var image []byte
		var err error
		if args[0] == "-" {
			image, err = io.ReadAll(os.Stdin)
		} else {
			image, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fail(fmt.Errorf("read image: %w", err))
		}

		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		if force, _ := cmd.Flags().GetBool("force"); !force {
			pending, err := a.store.CountPending()
			if err != nil {
				return fail(err)
			}
			if pending > 0 {
				return invalid("%d unsynced change(s) would be lost; sync first or pass --force", pending)
			}
		}

		if err := a.store.Import(image); err != nil {
			return fail(err)
		}
		if jsonOutput {
			return output.JSON(map[string]any{"imported": true, "bytes": len(image)})
		}
		output.Success("Imported %d bytes", len(image))
		return nil
	},
}

func init() {
	importCmd.Flags().Bool("force", false, "Import even when local changes are unsynced")
	rootCmd.AddCommand(exportCmd, importCmd)
}
