package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bridge-relay",
	Short: "Bridge relay: bridge control channels, segment ingestion, HLS serving",
	Long:  `HTTP + WebSocket API. Commands: api, migrate, seed, bridge, command.`,
	RunE:  runAPI, // default: run API (same as "bridge-relay api")
}

func init() {
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

// Execute runs the root command and returns the error (for main to log.Fatal).
func Execute() error {
	return rootCmd.Execute()
}
