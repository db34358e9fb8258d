package main

import (
	"github.com/spf13/cobra"

	"github.com/pawdirectory/media/internal/config"
	"github.com/pawdirectory/media/internal/logging"
)

func newRootCmd() *cobra.Command {
	cfg := new(config.Config)

	cmd := &cobra.Command{
		Use:           "media",
		Short:         "PawDirectory image upload service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			*cfg = *loaded
			logging.Setup(cfg.LogLevel, cfg.IsProduction())
			return nil
		},
	}

	cmd.AddCommand(
		newServeCmd(cfg),
		newMigrateCmd(cfg),
		newReconcileCmd(cfg),
		newTokenCmd(cfg),
	)
	return cmd
}
