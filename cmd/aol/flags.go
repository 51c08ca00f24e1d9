package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/services/controls"
)

type flagOp func(ctx context.Context, svc *controls.Service, actor string) (*models.ControlFlags, error)

func newFlagsCommand(env *Env, opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Show or change the control flags",
	}

	cmd.AddCommand(newFlagOpCommand(env, opts, "show", "Print the current control flags",
		func(ctx context.Context, svc *controls.Service, _ string) (*models.ControlFlags, error) {
			return svc.Get(ctx)
		}))
	cmd.AddCommand(newFlagOpCommand(env, opts, "pause", "Stop claiming new work",
		func(ctx context.Context, svc *controls.Service, actor string) (*models.ControlFlags, error) {
			return svc.Pause(ctx, actor)
		}))
	cmd.AddCommand(newFlagOpCommand(env, opts, "resume", "Resume claiming work",
		func(ctx context.Context, svc *controls.Service, actor string) (*models.ControlFlags, error) {
			return svc.Resume(ctx, actor)
		}))
	cmd.AddCommand(newFlagOpCommand(env, opts, "kill", "Engage the kill switch",
		func(ctx context.Context, svc *controls.Service, actor string) (*models.ControlFlags, error) {
			return svc.Kill(ctx, actor)
		}))
	cmd.AddCommand(newFlagOpCommand(env, opts, "unkill", "Release the kill switch",
		func(ctx context.Context, svc *controls.Service, actor string) (*models.ControlFlags, error) {
			return svc.Unkill(ctx, actor)
		}))
	cmd.AddCommand(newProofModeCommand(env, opts))

	return cmd
}

func newFlagOpCommand(env *Env, opts *RootOptions, use, short string, op flagOp) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlagOp(cmd, env, opts, op)
		},
	}
}

func newProofModeCommand(env *Env, opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "proof-mode <on|off>",
		Short:     "Record sends instead of performing them",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch args[0] {
			case "on":
				enabled = true
			case "off":
			default:
				return fmt.Errorf("proof-mode takes on or off, got %q", args[0])
			}
			return runFlagOp(cmd, env, opts, func(ctx context.Context, svc *controls.Service, actor string) (*models.ControlFlags, error) {
				return svc.SetProofMode(ctx, actor, enabled)
			})
		},
	}
}

func runFlagOp(cmd *cobra.Command, env *Env, opts *RootOptions, op flagOp) error {
	ctx := cmd.Context()
	s, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	flags, err := op(ctx, s.deps.Controls, opts.Actor)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), flags)
}
