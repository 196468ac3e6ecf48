package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pior/mcdump"
	"github.com/pior/mcdump/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with every default",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "mcdump.yaml"
		if len(args) == 1 {
			path = args[0]
		}

		cfg := mcdump.DefaultConfig()
		cfg.RequestID = ""
		cfg.Hosts = []string{"127.0.0.1:11211"}
		if err := config.Save(cfg, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}
