package main

import (
	"fmt"
	"strconv"
	"time"

	"stackup/cmd/stackup/ui"
	"stackup/config"
	"stackup/internal/orchestrate"

	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change persistent defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Println(ui.Muted(config.Path()))
			fmt.Println(ui.KeyValues("  ",
				ui.KV("start-mode", orDefault(cfg.StartMode, "strict")),
				ui.KV("grace-period", orDefault(durationValue(cfg.GracePeriod), "10s")),
				ui.KV("max-restarts", orDefault(intValue(cfg.MaxRestarts), "3")),
				ui.KV("docker-host", orDefault(cfg.DockerHost, "from environment")),
			))
			return nil
		},
	}
	cmd.AddCommand(configSetCmd())
	return cmd
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a persistent default",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			key, value := args[0], args[1]
			switch key {
			case "start-mode":
				if _, err := orchestrate.ParseStartMode(value); err != nil {
					return err
				}
				cfg.StartMode = value
			case "grace-period":
				d, err := time.ParseDuration(value)
				if err != nil {
					return fmt.Errorf("grace-period: %w", err)
				}
				cfg.GracePeriod = d
			case "max-restarts":
				n, err := strconv.Atoi(value)
				if err != nil || n < 0 {
					return fmt.Errorf("max-restarts: must be a non-negative integer")
				}
				cfg.MaxRestarts = n
			case "docker-host":
				cfg.DockerHost = value
			default:
				return fmt.Errorf("unknown config key %q", key)
			}

			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("%s = %s", key, value))
			return nil
		},
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return ui.Muted(fallback)
	}
	return value
}

func durationValue(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

func intValue(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}
