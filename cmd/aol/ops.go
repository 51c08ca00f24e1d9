package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/utils"
	"go.uber.org/zap"
)

func newTickCommand(env *Env) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run the tick loop, or a single tick with --once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := env.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if !once {
				return s.deps.Scheduler.Run(ctx)
			}
			entry, err := s.deps.Scheduler.RunOnce(ctx)
			if entry != nil {
				if perr := printJSON(cmd.OutOrStdout(), entry); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single tick and print its ledger entry")
	return cmd
}

func newOrchestrateCommand(env *Env) *cobra.Command {
	var campaign int64

	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Run one orchestration pass over a campaign, or over all active campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := env.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if campaign == 0 {
				if err := s.deps.Runner.RunOnce(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "orchestration pass complete")
				return nil
			}
			if campaign < 0 {
				return fmt.Errorf("--campaign must be a positive integer")
			}

			run, err := s.deps.Orchestrator.RunCampaign(ctx, campaign)
			if run != nil {
				if perr := printJSON(cmd.OutOrStdout(), run); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	cmd.Flags().Int64Var(&campaign, "campaign", 0, "campaign id (0 runs every active campaign)")
	return cmd
}

func newRequeueCommand(env *Env, opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <action-id>",
		Short: "Re-arm a FAILED or DLQ action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := utils.ParseID(args[0], "action id")
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := env.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			action, err := s.deps.Queue.Requeue(ctx, id)
			if err != nil {
				return err
			}
			details := map[string]interface{}{"action_id": id}
			if err := s.deps.Audit.Record(ctx, opts.Actor, models.AuditActionRequeue, details); err != nil {
				s.logger.Warn("failed to record audit entry", zap.Error(err))
			}
			return printJSON(cmd.OutOrStdout(), action)
		},
	}
}

func newStatusCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the status snapshot as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := env.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			snap, err := s.deps.Status.Snapshot(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}
}
