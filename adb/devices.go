package adb

import "strings"

const (
	StatusConnected    = "connected"
	StatusOffline      = "offline"
	StatusUnauthorized = "unauthorized"
)

type Device struct {
	Serial string `json:"device_id"`
	IP     string `json:"ip,omitempty"`
	Port   int    `json:"port,omitempty"`
	Status string `json:"status"`
}

// ParseDevices reads the output of `adb devices`. Lines in other states
// (bootloader, recovery...) are skipped.
func ParseDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices attached") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		var status string
		switch parts[1] {
		case "device":
			status = StatusConnected
		case "offline":
			status = StatusOffline
		case "unauthorized":
			status = StatusUnauthorized
		default:
			continue
		}
		devices = append(devices, Device{Serial: parts[0], Status: status})
	}
	return devices
}
