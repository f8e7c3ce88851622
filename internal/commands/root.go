// Package commands wires the broker's cobra CLI: serve runs the stdio
// dispatcher, monitor, and dashboard together; version reports the build.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the fleetbroker CLI.
func Execute(version string) error {
	root := &cobra.Command{
		Use:           "fleetbroker",
		Short:         "Coordination broker for a fleet of AI coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	root.AddCommand(NewServeCmd())
	root.AddCommand(NewVersionCmd(version))

	err := root.Execute()
	if err != nil {
		slog.Default().Error("command failed", "error", err.Error())
	}
	return err
}

func newLogger(levelName string) *slog.Logger {
	level := slog.LevelInfo
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
