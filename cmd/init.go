package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/output"
	"github.com/stockly-app/stockly/internal/syncconfig"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the local store and device identity",
	Long: `Creates the data directory and SQLite store, assigns this device an id and
optionally records the server URL and API key.

With --restore the store is loaded from the configured mirror image.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, loader, err := loadConfig()
		if err != nil {
			return fail(err)
		}

		if server, _ := cmd.Flags().GetString("server"); server != "" {
			if err := loader.Set(syncconfig.KeyServerURL, server); err != nil {
				return invalid("%v", err)
			}
		}
		if key, _ := cmd.Flags().GetString("api-key"); key != "" {
			if err := loader.Set(syncconfig.KeyAPIKey, key); err != nil {
				return invalid("%v", err)
			}
		}
		if cfg, err = loader.Load(); err != nil {
			return fail(err)
		}
		deviceID, err := loader.EnsureDeviceID(cfg)
		if err != nil {
			return fail(err)
		}

		existed := fileExists(db.Path(cfg.DataDir))
		store, err := db.Initialize(cfg.DataDir, storeOptions(cfg)...)
		if err != nil {
			return fail(fmt.Errorf("initialize store: %w", err))
		}
		defer store.Close()

		restored := false
		if restore, _ := cmd.Flags().GetBool("restore"); restore {
			if cfg.Mirror == "" {
				return invalid("--restore needs a mirror (run: stockly config set mirror <path>)")
			}
			if restored, err = store.Restore(); err != nil {
				return fail(err)
			}
		}

		if jsonOutput {
			return output.JSON(map[string]any{
				"data_dir":      cfg.DataDir,
				"device_id":     deviceID,
				"config":        loader.Path(),
				"server_url":    cfg.ServerURL,
				"authenticated": cfg.IsAuthenticated(),
				"existed":       existed,
				"restored":      restored,
			})
		}

		if existed {
			output.Info("Store already exists at %s", db.Path(cfg.DataDir))
		} else {
			output.Success("INITIALIZED %s", db.Path(cfg.DataDir))
		}
		if restored {
			output.Success("Restored from mirror %s", cfg.Mirror)
		}
		fmt.Printf("Device: %s\n", deviceID)
		fmt.Printf("Server: %s\n", cfg.ServerURL)
		if !cfg.IsAuthenticated() {
			output.Warning("no API key yet (run: stockly config set api_key <key>)")
		}
		return nil
	},
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func init() {
	initCmd.Flags().String("server", "", "Reconciliation server URL")
	initCmd.Flags().String("api-key", "", "API key issued by the server admin")
	initCmd.Flags().Bool("restore", false, "Load the store from the mirror image")
	rootCmd.AddCommand(initCmd)
}
