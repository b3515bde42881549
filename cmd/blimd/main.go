package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Tests build a fresh tree per case so
// flag values never leak between executions.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blimd",
		Short: "Persistent Bluetooth Low Energy connection manager",
		Long: `blimd keeps a fixed set of BLE peripherals connected:

- Scans only while a tracked device is missing, stops once all are connected
- Connects, resolves services and binds them against a GATT schema
- Subscribes to notifications and decodes values through the schema codecs
- Polls health characteristics at a fixed interval
- Reconnects after link loss and recovers from adapter power cycles
- Publishes values and session status to logs, MQTT and InfluxDB

Run 'blimd run --address AA:BB:CC:DD:EE:FF' or point --config at a YAML file.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),

		// main prints clean errors
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newSchemaCmd())

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Shorthand for --log-level debug")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
