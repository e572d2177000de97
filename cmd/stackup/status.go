package main

import (
	"fmt"
	"strconv"
	"time"

	"stackup/cmd/stackup/ui"
	"stackup/internal/history"

	"github.com/spf13/cobra"
)

func statusCmd(flags *rootFlags) *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the most recent run for this stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := loadStack(cmd.Context(), flags)
			if err != nil {
				return err
			}

			store, err := history.Open(history.DefaultPath())
			if err != nil {
				return err
			}
			defer store.Close()

			if runs > 1 {
				return printRunList(store, stack.Project, runs)
			}

			run, ok, err := store.Latest(stack.Project)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println(ui.Muted("no recorded runs for project " + stack.Project))
				return nil
			}

			fmt.Println(ui.KeyValues("",
				ui.KV("Project", run.Project),
				ui.KV("Outcome", ui.StatusBadge(run.Outcome)),
				ui.KV("Started", run.StartedAt.Local().Format("2006-01-02 15:04:05")),
				ui.KV("Duration", run.FinishedAt.Sub(run.StartedAt).Round(10*time.Millisecond).String()),
			))

			rows := make([][]string, 0, len(run.Services))
			for _, entry := range run.Services {
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
			return nil
		},
	}

	cmd.Flags().IntVar(&runs, "runs", 1, "Show the last N runs instead of service detail")
	return cmd
}

func printRunList(store *history.Store, project string, limit int) error {
	list, err := store.List(project, limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println(ui.Muted("no recorded runs for project " + project))
		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, run := range list {
		rows = append(rows, []string{
			strconv.FormatInt(run.ID, 10),
			ui.StatusBadge(run.Outcome),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.FinishedAt.Sub(run.StartedAt).Round(10 * time.Millisecond).String(),
		})
	}
	fmt.Println(ui.Table([]string{"RUN", "OUTCOME", "STARTED", "DURATION"}, rows))
	return nil
}
