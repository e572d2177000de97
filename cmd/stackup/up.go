package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"stackup/cmd/stackup/ui"
	"stackup/config"
	"stackup/internal/history"
	"stackup/internal/orchestrate"
	"stackup/internal/probe"
	"stackup/internal/runtime"
	"stackup/internal/state"

	"github.com/spf13/cobra"
)

func upCmd(flags *rootFlags) *cobra.Command {
	var (
		mode        string
		maxRestarts int
		gracePeriod time.Duration
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the stack and wait for every service to become ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if mode == "" {
				mode = cfg.StartMode
			}
			startMode, err := orchestrate.ParseStartMode(mode)
			if err != nil {
				return err
			}
			if maxRestarts == 0 {
				maxRestarts = cfg.MaxRestarts
			}
			if gracePeriod == 0 {
				gracePeriod = cfg.GracePeriod
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

			events := make(chan orchestrate.Event, 64)
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				renderEvents(events)
			}()

			store := state.NewStore(stack.ServiceNames())
			orch := orchestrate.New(rt, probe.NewProber(rt), store, runtime.RealClock{}, events, orchestrate.Options{
				Mode:        startMode,
				MaxRestarts: maxRestarts,
				GracePeriod: gracePeriod,
			})

			startedAt := time.Now()
			report, runErr := orch.Up(ctx, stack)
			close(events)
			wg.Wait()

			recordRun(report, startedAt, time.Now())
			printReport(report)
			return runErr
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Start mode: strict or degraded (default: strict)")
	cmd.Flags().IntVar(&maxRestarts, "max-restarts", 0, "Restart budget per service (default: 3)")
	cmd.Flags().DurationVar(&gracePeriod, "grace-period", 0, "Stop grace period (default: 10s)")
	return cmd
}

func renderEvents(events <-chan orchestrate.Event) {
	for e := range events {
		switch e.Type {
		case "service_starting":
			fmt.Println(ui.InfoMsg("%s starting", ui.Bold(e.Service)))
		case "service_ready":
			fmt.Println(ui.SuccessMsg("%s ready", ui.Bold(e.Service)))
		case "service_restarting":
			fmt.Println(ui.WarnMsg("%s not ready yet, %s", ui.Bold(e.Service), e.Message))
		case "service_failed":
			fmt.Println(ui.ErrorMsg("%s failed: %s", ui.Bold(e.Service), e.Message))
		case "service_skipped":
			fmt.Println(ui.WarnMsg("%s skipped: %s", ui.Bold(e.Service), e.Message))
		case "service_degraded":
			fmt.Println(ui.WarnMsg("%s starting degraded: %s", ui.Bold(e.Service), e.Message))
		case "stack_ready":
			fmt.Println(ui.SuccessMsg("stack is ready"))
		}
	}
}

// recordRun is best-effort; a broken history database never fails the run.
func recordRun(report orchestrate.Report, startedAt, finishedAt time.Time) {
	store, err := history.Open(history.DefaultPath())
	if err != nil {
		slog.Warn("open run history", "err", err)
		return
	}
	defer store.Close()

	err = store.Record(history.Run{
		Project:    report.Project,
		Outcome:    report.Outcome.String(),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Services:   report.Services,
	})
	if err != nil {
		slog.Warn("record run history", "err", err)
	}
}

func printReport(report orchestrate.Report) {
	rows := make([][]string, 0, len(report.Services))
	for _, entry := range report.Services {
		detail := entry.State.Err
		if detail == "" && entry.State.Degraded {
			detail = "degraded"
		}
		rows = append(rows, []string{
			entry.Service,
			ui.StatusBadge(entry.State.Status.String()),
			strconv.Itoa(entry.State.RestartCount),
			detail,
		})
	}
	fmt.Println(ui.Table([]string{"SERVICE", "STATUS", "RESTARTS", "DETAIL"}, rows))
}
