package can

import (
	"can-telemetry-bridge/internal/models"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	flagsRe    = regexp.MustCompile(`<([^>]+)>`)
	mtuRe      = regexp.MustCompile(`mtu (\d+)`)
	canStateRe = regexp.MustCompile(`can state ([A-Z-]+)`)
	berrRe     = regexp.MustCompile(`berr-counter tx (\d+) rx (\d+)`)
	bitrateRe  = regexp.MustCompile(`bitrate (\d+)`)
)

// collectStats gathers statistics for a SocketCAN interface
func collectStats(ctx context.Context, ifname string) (models.InterfaceStats, error) {
	cmd := exec.CommandContext(ctx, "ip", "-details", "-statistics", "link", "show", ifname)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return models.InterfaceStats{}, fmt.Errorf("failed to execute ip command: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}

	stats := parseIPOutput(string(output))
	stats.Interface = ifname
	stats.Timestamp = time.Now()
	return stats, nil
}

// parseIPOutput parses the text output of 'ip -details -statistics link show'
func parseIPOutput(output string) models.InterfaceStats {
	stats := models.InterfaceStats{}
	lines := strings.Split(output, "\n")

	for i, line := range lines {
		line = strings.TrimSpace(line)

		// Example: "3: can0: <NOARP,UP,LOWER_UP,ECHO> mtu 16 qdisc pfifo_fast state UP mode DEFAULT group default qlen 10"
		if i == 0 {
			stats.State = "DOWN"
			if matches := flagsRe.FindStringSubmatch(line); len(matches) > 1 {
				for _, flag := range strings.Split(matches[1], ",") {
					if flag == "UP" {
						stats.State = "UP"
					}
				}
			}
			if matches := mtuRe.FindStringSubmatch(line); len(matches) > 1 {
				stats.MTU, _ = strconv.Atoi(matches[1])
			}
			continue
		}

		// Example: "can state ERROR-ACTIVE (berr-counter tx 0 rx 0) restart-ms 0"
		if matches := canStateRe.FindStringSubmatch(line); len(matches) > 1 {
			stats.BusState = matches[1]
			if matches := berrRe.FindStringSubmatch(line); len(matches) > 2 {
				stats.TXErrorCounter, _ = strconv.Atoi(matches[1])
				stats.RXErrorCounter, _ = strconv.Atoi(matches[2])
			}
		}

		if matches := bitrateRe.FindStringSubmatch(line); len(matches) > 1 {
			stats.Bitrate, _ = strconv.Atoi(matches[1])
		}

		next := func() []string {
			if i+1 < len(lines) {
				return strings.Fields(lines[i+1])
			}
			return nil
		}

		switch {
		// "re-started bus-errors arbit-lost error-warn error-pass bus-off" followed by the counters
		case strings.HasPrefix(line, "re-started"):
			if fields := next(); len(fields) >= 6 {
				stats.BusOffRestarts, _ = strconv.ParseUint(fields[0], 10, 64)
				stats.BusErrors, _ = strconv.ParseUint(fields[1], 10, 64)
				stats.ArbitrationLost, _ = strconv.ParseUint(fields[2], 10, 64)
				stats.ErrorWarning, _ = strconv.ParseUint(fields[3], 10, 64)
				stats.ErrorPassive, _ = strconv.ParseUint(fields[4], 10, 64)
				stats.BusOff, _ = strconv.ParseUint(fields[5], 10, 64)
			}

		// "RX: bytes  packets  errors  dropped overrun mcast"
		case strings.HasPrefix(line, "RX:"):
			if fields := next(); len(fields) >= 4 {
				stats.RXBytes, _ = strconv.ParseUint(fields[0], 10, 64)
				stats.RXPackets, _ = strconv.ParseUint(fields[1], 10, 64)
				stats.RXErrors, _ = strconv.ParseUint(fields[2], 10, 64)
				stats.RXDropped, _ = strconv.ParseUint(fields[3], 10, 64)
			}

		// "TX: bytes  packets  errors  dropped carrier collsns"
		case strings.HasPrefix(line, "TX:"):
			if fields := next(); len(fields) >= 4 {
				stats.TXBytes, _ = strconv.ParseUint(fields[0], 10, 64)
				stats.TXPackets, _ = strconv.ParseUint(fields[1], 10, 64)
				stats.TXErrors, _ = strconv.ParseUint(fields[2], 10, 64)
				stats.TXDropped, _ = strconv.ParseUint(fields[3], 10, 64)
			}
		}
	}

	return stats
}

// checkInterfaceHealth turns interface statistics into a health verdict
func checkInterfaceHealth(stats models.InterfaceStats) error {
	if stats.State != "UP" {
		return fmt.Errorf("interface %s is %s", stats.Interface, stats.State)
	}
	if stats.BusState == "BUS-OFF" {
		return fmt.Errorf("interface %s: %w", stats.Interface, ErrBusOff)
	}
	return nil
}
