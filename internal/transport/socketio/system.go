package socketio

import (
	"os"
	"strings"

	"github.com/edumarques81/stellar-offline-player/internal/version"
)

// SystemInfo represents basic system information.
type SystemInfo struct {
	ID            string `json:"id"`            // Unique device ID
	Host          string `json:"host"`          // Hostname
	Name          string `json:"name"`          // Display name
	Type          string `json:"type"`          // Device type
	SystemVersion string `json:"systemversion"` // System version
	BuildDate     string `json:"builddate"`     // Build date
	Hardware      string `json:"hardware"`      // Hardware model, empty when unknown
}

// GetSystemInfo returns basic system information.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Type:          "music_player",
		Name:          version.Name,
		SystemVersion: version.GetInfo().Version,
		BuildDate:     version.GetInfo().BuildTime,
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Host = hostname
		info.ID = hostname
	}

	info.Hardware = readHardwareModel("/proc/cpuinfo")
	return info
}

// readHardwareModel returns the "Model" line of a cpuinfo file.
func readHardwareModel(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "Model") {
			if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return ""
}
