package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labsafe/labsync/internal/output"
	"github.com/labsafe/labsync/internal/syncconfig"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage labsync configuration",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]

		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}
		if err := syncconfig.Set(cfg, key, val); err != nil {
			output.Error("%v", err)
			return err
		}
		if err := syncconfig.SaveConfig(cfg); err != nil {
			output.Error("save config: %v", err)
			return err
		}
		if key == "sync.api_key" {
			val = "(hidden)"
		}
		fmt.Printf("Set %s = %s\n", key, val)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}
		val, err := syncconfig.Get(cfg, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Println(val)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all config values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}
		for _, key := range syncconfig.Keys() {
			val, _ := syncconfig.Get(cfg, key)
			if key == "sync.api_key" && val != "" {
				val = "(set)"
			}
			if val == "" {
				val = "(default)"
			}
			fmt.Printf("%-28s %s\n", key, val)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)
}
