// Package main is the entry point for the can-bridge CLI.
//
// Usage:
//
//	can-bridge --env .env            # Run the bridge
//	can-bridge validate --env .env   # Check configuration and signals
//	can-bridge version               # Show version info
package main

import (
	"can-telemetry-bridge/internal/version"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "can-bridge",
	Short: "Forward decoded CAN signals to a telemetry backend",
	Long: `can-bridge reads frames from a CAN adapter (SocketCAN or an SLCAN
serial dongle), decodes the configured signals and publishes them to a
telemetry backend at a throttled rate. Device health is polled on a fixed
interval and published on its own channels.

Configuration is read from a .env file and overridden by the process
environment. See "can-bridge validate" to check a configuration.`,
	SilenceUsage: true,
	RunE:         runBridge,
}

func init() {
	rootCmd.PersistentFlags().String("env", ".env", "path to .env configuration file")
	rootCmd.Version = version.String()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error
		os.Exit(1)
	}
}
