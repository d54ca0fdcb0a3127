package main

import (
	"can-telemetry-bridge/internal/config"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// validateCmd checks the configuration without opening the bus
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and signal set",
	Long: `Load the .env file and environment overrides, validate every setting
and resolve the tracked signals, without opening the CAN adapter or
connecting to a telemetry backend.

Exit codes:
  0 - configuration is valid
  1 - configuration is invalid (details printed to stderr)`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	signals, specs, err := cfg.TrackedSpecs()
	if err != nil {
		return fmt.Errorf("invalid signals: %w", err)
	}

	source := cfg.EnvFile
	if source == "" {
		source = "(environment only)"
	}

	ids := make([]string, 0, len(signals))
	for _, id := range config.Addresses(signals) {
		ids = append(ids, fmt.Sprintf("0x%X", id))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Source:     %s\n", source)
	fmt.Fprintf(out, "  Adapter:    %s\n", cfg.CANAdapter)
	fmt.Fprintf(out, "  Signals:    %s\n", strings.Join(signals.Names(), ", "))
	fmt.Fprintf(out, "  Frame ids:  %s\n", strings.Join(ids, ", "))
	for _, spec := range specs {
		fmt.Fprintf(out, "  Tracked:    %s (0x%X bytes %d-%d) -> channel %d\n",
			spec.Name, spec.Address, spec.ByteOffset, spec.ByteOffset+spec.ByteLength-1, spec.Channel)
	}
	fmt.Fprintf(out, "  Throttle:   %d batch(es), pause %s\n", cfg.PauseThreshold, cfg.PauseDuration)
	if cfg.TelemetryEnabled {
		fmt.Fprintf(out, "  Telemetry:  %s, health every %s\n", strings.Join(cfg.TelemetryBackends, ", "), cfg.HealthInterval)
	} else {
		fmt.Fprintf(out, "  Telemetry:  disabled\n")
	}

	return nil
}
