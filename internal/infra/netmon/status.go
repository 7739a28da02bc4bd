package netmon

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultSysRoot is where Linux exposes network interfaces.
const DefaultSysRoot = "/sys/class/net"

// NetworkStatus represents the current network connection status.
type NetworkStatus struct {
	Online    bool   `json:"online"`
	Type      string `json:"type"`      // "wifi", "ethernet", "none"
	Interface string `json:"interface"` // e.g. eth0, wlan0
	IP        string `json:"ip"`
	Signal    int    `json:"signal"`   // WiFi signal strength 0-100 (if wifi)
	Strength  int    `json:"strength"` // Signal strength level 0-3 (for icon)
}

// readStatus inspects the interfaces under sysRoot. Wired links win over wireless ones.
func readStatus(sysRoot string) NetworkStatus {
	status := NetworkStatus{Type: "none"}

	entries, err := os.ReadDir(sysRoot)
	if err != nil {
		return status
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name() != "lo" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var wifi string
	for _, iface := range names {
		dir := filepath.Join(sysRoot, iface)
		if _, err := os.Stat(filepath.Join(dir, "wireless")); err == nil {
			if wifi == "" && readTrimmed(filepath.Join(dir, "operstate")) == "up" {
				wifi = iface
			}
			continue
		}
		if readTrimmed(filepath.Join(dir, "carrier")) == "1" {
			status.Online = true
			status.Type = "ethernet"
			status.Interface = iface
			status.IP = ipAddress(iface)
			status.Signal = 100
			status.Strength = 3
			return status
		}
	}

	if wifi != "" {
		status.Online = true
		status.Type = "wifi"
		status.Interface = wifi
		status.IP = ipAddress(wifi)
		status.Signal = wifiSignal(wifi)
		status.Strength = strengthLevel(status.Signal)
	}

	return status
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ipAddress returns the first IPv4 address of the interface.
func ipAddress(iface string) string {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return ""
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return ""
}

// wifiSignal reads link quality (0-100) from /proc/net/wireless.
func wifiSignal(iface string) int {
	file, err := os.Open("/proc/net/wireless")
	if err != nil {
		return 0
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, iface) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return 0
		}
		// Link quality can be 0-70 (iwconfig format) or 0-100 (percentage)
		if q, err := strconv.Atoi(strings.TrimSuffix(fields[2], ".")); err == nil {
			switch {
			case q >= 0 && q <= 70:
				return (q * 100) / 70
			case q > 70 && q <= 100:
				return q
			}
		}
		return 0
	}
	return 0
}

func strengthLevel(signal int) int {
	switch {
	case signal >= 70:
		return 3
	case signal >= 50:
		return 2
	case signal >= 30:
		return 1
	default:
		return 0
	}
}
