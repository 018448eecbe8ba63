// Package cmd implements the coordinator command-line interface: seeding
// runs, watching progress, sweeping leaked leases, inspecting checkpoints
// and serving the operational API.
package cmd

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug enables debug mode for all commands.
	debug bool

	rootCmd = &cobra.Command{
		Use:   "coordinator",
		Short: "Work queue and checkpoint coordination for scraper runs",
		Long: `coordinator manages the shared state of distributed scraper runs:
the lease-based work queue that workers claim items from, stale-lease
recovery, and the step checkpoints that make pipeline runs resumable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// Load .env early so environment variables are available to config.
	_ = godotenv.Load()

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug mode")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("coordinator version %s\n", version)
		},
	})

	rootCmd.AddCommand(migrateCommand())
	rootCmd.AddCommand(seedCommand())
	rootCmd.AddCommand(statusCommand())
	rootCmd.AddCommand(sweepCommand())
	rootCmd.AddCommand(checkpointCommand())
	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(purgeCommand())
}

const version = "1.0.0"
