package transport

import (
	"runtime"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo is one serial device as reported by the OS.
type PortInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsUSB       bool   `json:"is_usb"`
	VID         string `json:"vid,omitempty"`
	PID         string `json:"pid,omitempty"`
	Serial      string `json:"serial,omitempty"`
}

var detailedPorts = enumerator.GetDetailedPortsList

// ListPorts enumerates serial devices. Enumeration errors yield whatever
// could be listed, possibly nothing.
func ListPorts() []PortInfo {
	var out []PortInfo
	if details, err := detailedPorts(); err == nil {
		for _, d := range details {
			out = append(out, PortInfo{
				Name:        d.Name,
				Description: d.Product,
				IsUSB:       d.IsUSB,
				VID:         d.VID,
				PID:         d.PID,
				Serial:      d.SerialNumber,
			})
		}
	} else if names, err := serialPorts(); err == nil {
		for _, n := range names {
			out = append(out, PortInfo{Name: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultPort guesses the most likely adapter for this platform, or "".
func DefaultPort() string {
	return pickDefault(runtime.GOOS, ListPorts())
}

func pickDefault(goos string, ports []PortInfo) string {
	if len(ports) == 0 {
		return ""
	}
	for _, p := range ports {
		name := strings.ToLower(p.Name)
		desc := strings.ToLower(p.Description)
		switch goos {
		case "windows":
			for _, hint := range []string{"usb", "ch340", "cp210", "ftdi"} {
				if strings.Contains(desc, hint) {
					return p.Name
				}
			}
		case "linux":
			if strings.HasPrefix(p.Name, "/dev/ttyUSB") || strings.HasPrefix(p.Name, "/dev/ttyACM") {
				return p.Name
			}
		case "darwin":
			if strings.Contains(name, "usb") || strings.HasPrefix(p.Name, "/dev/cu.usb") {
				return p.Name
			}
		}
	}
	return ports[0].Name
}

// CommonBaudRates lists the rates offered by serial UIs.
func CommonBaudRates() []int {
	return []int{300, 1200, 2400, 4800, 9600, 14400, 19200, 28800, 38400, 57600, 115200, 230400, 460800, 921600}
}
