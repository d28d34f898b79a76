package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/psds-microservice/bridge-relay/internal/config"
	"github.com/psds-microservice/bridge-relay/internal/database"
	"github.com/spf13/cobra"
)

var commandCmd = &cobra.Command{
	Use:   "command <name> [arg]",
	Short: "Run a one-off maintenance command (migrate, migrate-down [steps], migrate-create <name>)",
	RunE:  runCommand,
}

func init() {
	rootCmd.AddCommand(commandCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "available: migrate, migrate-down [steps], migrate-create <name>")
		return nil
	}
	switch args[0] {
	case "migrate":
		return runMigrateUp(cmd, nil)
	case "migrate-down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("steps: %w", err)
			}
			steps = n
		}
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		if cfg.DB.Driver != config.DriverPostgres {
			return errors.New("migrate-down needs DB_DRIVER=postgres; sqlite schemas come from AutoMigrate")
		}
		return database.MigrateDown(cfg.DatabaseURL(), steps, log)
	case "migrate-create":
		var name string
		if len(args) > 1 {
			name = args[1]
		} else {
			fmt.Fprint(cmd.OutOrStdout(), "Migration name: ")
			_, _ = fmt.Fscanln(cmd.InOrStdin(), &name)
		}
		if name == "" {
			return errors.New("migration name required")
		}
		return database.CreateMigration(name)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
