package commands

import (
	"log/slog"

	"github.com/spf13/cobra"
)

// Global flag names registered on the root command.
const (
	FlagVerbose = "verbose"
	FlagQuiet   = "quiet"
)

func verbose(cmd *cobra.Command) bool {
	v, err := cmd.Flags().GetBool(FlagVerbose)

	return err == nil && v
}

func quiet(cmd *cobra.Command) bool {
	q, err := cmd.Flags().GetBool(FlagQuiet)

	return err == nil && q
}

// logLevel lowers the configured level for --verbose and raises it for --quiet.
func logLevel(cmd *cobra.Command, configured slog.Level) slog.Level {
	switch {
	case quiet(cmd):
		return slog.LevelError
	case verbose(cmd):
		return slog.LevelDebug
	}

	return configured
}
