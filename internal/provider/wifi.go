// ABOUTME: Wi-Fi access point scanning through NetworkManager's nmcli
// ABOUTME: Feeds nearby BSSIDs into fused geolocation requests

package provider

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"

	"googlemaps.github.io/maps"
)

// ScanWiFi lists nearby access points using nmcli.
func ScanWiFi(ctx context.Context) ([]maps.WiFiAccessPoint, error) {
	if _, err := exec.LookPath("nmcli"); err != nil {
		return nil, fmt.Errorf("nmcli not found: %w", err)
	}
	out, err := exec.CommandContext(ctx, "nmcli", "-t", "-f", "BSSID,SIGNAL", "dev", "wifi", "list").Output()
	if err != nil {
		return nil, fmt.Errorf("run nmcli: %w", err)
	}
	return parseNMCLI(string(out)), nil
}

// parseNMCLI reads terse nmcli output where colons inside fields are escaped
// as "\:". Signal quality in percent is converted to approximate dBm.
func parseNMCLI(out string) []maps.WiFiAccessPoint {
	var aps []maps.WiFiAccessPoint
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		sep := strings.LastIndex(line, ":")
		if sep < 0 {
			continue
		}
		bssid := strings.ReplaceAll(line[:sep], `\:`, ":")
		if _, err := net.ParseMAC(bssid); err != nil {
			continue
		}
		quality, err := strconv.Atoi(strings.TrimSpace(line[sep+1:]))
		if err != nil {
			continue
		}
		aps = append(aps, maps.WiFiAccessPoint{
			MACAddress:     bssid,
			SignalStrength: float64(quality)/2 - 100,
		})
	}
	return aps
}
