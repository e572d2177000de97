package main

import (
	"fmt"
	"os"

	"stackup/cmd/stackup/ui"
	"stackup/internal/logging"

	"github.com/spf13/cobra"
)

func main() {
	var (
		debug   bool
		noColor bool
		flags   rootFlags
	)
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "stackup",
		Short:         "Bring up a container stack in dependency order",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.Configure(noColor)
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().StringVarP(&flags.file, "file", "f", "", "Stack file (default: stackup.yaml)")
	root.PersistentFlags().StringVarP(&flags.project, "project", "p", "", "Project name (default: stack file directory name)")

	root.AddCommand(upCmd(&flags))
	root.AddCommand(downCmd(&flags))
	root.AddCommand(statusCmd(&flags))
	root.AddCommand(configCmd())

	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
	}
	os.Exit(exitCode(err))
}

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	file    string
	project string
}
