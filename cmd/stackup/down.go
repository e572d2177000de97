package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"stackup/cmd/stackup/ui"
	"stackup/config"
	"stackup/internal/orchestrate"
	"stackup/internal/probe"
	"stackup/internal/provision"
	"stackup/internal/runtime"
	"stackup/internal/state"

	"github.com/spf13/cobra"
)

func downCmd(flags *rootFlags) *cobra.Command {
	var removeVolumes bool

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop and remove the stack's containers and network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			stack, err := loadStack(ctx, flags)
			if err != nil {
				return err
			}

			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.WaitReady(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: %w", runtime.ErrRuntimeUnavailable, err)
			}

			store := state.NewStore(stack.ServiceNames())
			orch := orchestrate.New(rt, probe.NewProber(rt), store, runtime.RealClock{}, nil, orchestrate.Options{
				GracePeriod: cfg.GracePeriod,
			})
			if err := orch.Down(ctx, stack); err != nil {
				return err
			}

			p := &provision.Provisioner{Runtime: rt}
			if err := p.Destroy(ctx, stack, removeVolumes); err != nil {
				return err
			}

			fmt.Println(ui.SuccessMsg("stack %s is down", ui.Bold(stack.Project)))
			if removeVolumes {
				fmt.Println(ui.WarnMsg("named volumes removed"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&removeVolumes, "volumes", false, "Also remove named volumes")
	return cmd
}
