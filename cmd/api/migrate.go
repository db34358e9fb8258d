package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pawdirectory/media/internal/config"
	"github.com/pawdirectory/media/internal/db"
)

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply upload ledger migrations, or roll back with --down",
		RunE: func(cmd *cobra.Command, args []string) error {
			if down > 0 {
				if err := db.Rollback(cfg.DatabaseURL, down); err != nil {
					return fmt.Errorf("rollback: %w", err)
				}
				return nil
			}
			return db.Migrate(cfg.DatabaseURL)
		},
	}

	cmd.Flags().IntVar(&down, "down", 0, "number of migrations to roll back")
	return cmd
}
