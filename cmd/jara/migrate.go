package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jara-app/rewards-gateway/internal/repository"
)

var (
	rollbackSteps int

	migrateCmd = &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply or roll back the reference backend schema",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runMigrate,
	}
)

func init() {
	migrateCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "number of migrations to roll back with down")
}

func runMigrate(_ *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required to run migrations")
	}

	direction := "up"
	if len(args) == 1 {
		direction = args[0]
	}

	url := cfg.Database.Postgres.URL()
	switch direction {
	case "up":
		return repository.RunMigrations(url, log)
	case "down":
		if rollbackSteps < 1 {
			return fmt.Errorf("--steps must be positive")
		}
		return repository.RollbackMigrations(url, rollbackSteps, log)
	}
	return fmt.Errorf("unknown direction %q, expected up or down", direction)
}
