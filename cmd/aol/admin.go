package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/autonomy-orchestrator/middleware"
)

func newMigrateCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := env.setup(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()

			applied, err := env.Migrate(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "database is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(out, "applied %s\n", name)
			}
			return nil
		},
	}
}

func newTokenCommand(env *Env) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an operator API token with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != middleware.RoleOperator && role != middleware.RoleViewer {
				return fmt.Errorf("role must be %s or %s", middleware.RoleOperator, middleware.RoleViewer)
			}
			cfg, logger, err := env.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync()

			token, err := middleware.SignToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, subject, role, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "operator name carried in the token")
	cmd.Flags().StringVar(&role, "role", middleware.RoleViewer, "operator or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
