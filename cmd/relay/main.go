package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "relay",
		Short:         "Realtime relay for consultation chats",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configPath != "" {
				_ = os.Setenv("CONFIG_PATH", configPath)
			}
		},
		// без подкоманды: serve
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (overrides CONFIG_PATH)")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newTokenCmd(),
		newStatsCmd(),
	)
	return root
}
