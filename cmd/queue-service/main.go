package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "queue-service",
		Short: "Walk-in service queue",
		Long:  `queue-service issues walk-in tickets, drives the staff call workflow and pushes live updates to displays.`,
		// Running the binary without a subcommand starts the server.
		RunE:         runServe,
		Version:      version,
		SilenceUsage: true,
	}
	addServeFlags(rootCmd)

	rootCmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newSeedCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
