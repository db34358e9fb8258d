package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pawdirectory/media/internal/auth"
	"github.com/pawdirectory/media/internal/config"
)

func newTokenCmd(cfg *config.Config) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Print a bearer token for user-id signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.IssueToken(cfg.JWTSecret, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")
	return cmd
}
