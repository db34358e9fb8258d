package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/pawdirectory/media/internal/config"
	"github.com/pawdirectory/media/internal/upload"
)

func newReconcileCmd(cfg *config.Config) *cobra.Command {
	var sweep bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconcile pass over stale upload jobs and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			rec := upload.NewReconciler(deps.Service, upload.ReconcilerOptions{
				GracePeriod:  cfg.ReconcileGracePeriod,
				MaxAttempts:  cfg.ReconcileMaxAttempts,
				SweepOrphans: sweep || cfg.ReconcileSweepOrphans,
			})
			report, err := rec.RunOnce(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().BoolVar(&sweep, "sweep-orphans", false, "also delete stored objects no upload job owns")
	return cmd
}
