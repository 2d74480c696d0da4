package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stockly-app/stockly/internal/output"
	"github.com/stockly-app/stockly/internal/syncconfig"
)

func isValidConfigKey(key string) bool {
	for _, k := range syncconfig.Keys() {
		if k == key {
			return true
		}
	}
	return false
}

func unknownKey(key string) error {
	err := invalid("unknown config key: %s", key)
	if !jsonOutput {
		fmt.Println("Valid keys:", strings.Join(syncconfig.Keys(), ", "))
	}
	return err
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage stockly configuration",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		if !isValidConfigKey(key) {
			return unknownKey(key)
		}
		loader := syncconfig.NewLoader(configPath)
		if err := loader.Set(key, val); err != nil {
			return invalid("%v", err)
		}
		if jsonOutput {
			return output.JSON(map[string]string{"key": key, "status": "set"})
		}
		output.Success("%s updated", key)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a value from the config file, restoring its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if !isValidConfigKey(key) {
			return unknownKey(key)
		}
		loader := syncconfig.NewLoader(configPath)
		if err := loader.Unset(key); err != nil {
			return fail(err)
		}
		if jsonOutput {
			return output.JSON(map[string]string{"key": key, "status": "unset"})
		}
		output.Success("%s reset to default", key)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if !isValidConfigKey(key) {
			return unknownKey(key)
		}
		loader := syncconfig.NewLoader(configPath)
		var val string
		if reveal, _ := cmd.Flags().GetBool("reveal"); reveal {
			v, err := loader.Get(key)
			if err != nil {
				return fail(err)
			}
			val = fmt.Sprint(v)
		} else {
			display, err := loader.Display()
			if err != nil {
				return fail(err)
			}
			val = display[key]
		}
		if jsonOutput {
			return output.JSON(map[string]string{key: val})
		}
		fmt.Println(val)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := syncconfig.NewLoader(configPath)
		display, err := loader.Display()
		if err != nil {
			return fail(err)
		}
		if jsonOutput {
			return output.JSON(display)
		}
		keys := make([]string, 0, len(display))
		for k := range display {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Printf("# %s\n", loader.Path())
		for _, k := range keys {
			fmt.Printf("%-26s %s\n", k, display[k])
		}
		return nil
	},
}

func init() {
	configGetCmd.Flags().Bool("reveal", false, "Print secrets unmasked")
	configCmd.AddCommand(configSetCmd, configUnsetCmd, configGetCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}
