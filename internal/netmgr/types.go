// Package netmgr adapts the OS-level network daemon (spec §4.C): scanning,
// profile management, AP lifecycle, station connection attempts, and
// connectivity-event monitoring.
package netmgr

import "time"

// Security enumerates the WiFi security classes a scan result can report.
type Security string

// The complete set of security classes.
const (
	SecurityOpen Security = "OPEN"
	SecurityWEP  Security = "WEP"
	SecurityWPA  Security = "WPA"
	SecurityWPA2 Security = "WPA2"
	SecurityWPA3 Security = "WPA3"
)

// WiFiNetwork is one scan result (spec §3, transient).
type WiFiNetwork struct {
	SSID          string
	SignalPercent int
	Security      Security
	InUse         bool
}

// ConnectionProfile is an OS-level stored network configuration, referenced
// by name (spec §3). PSK is held only in process memory until handed to the
// network daemon; file-permission invariants on the daemon's on-disk copy
// are owned by the daemon itself, but Adapter.validateProfile defends
// against a profile file that has drifted from those invariants.
type ConnectionProfile struct {
	Name   string
	Hidden bool
}

// EventKind enumerates the NetworkEvent variants spec §4.C names.
type EventKind int

// The complete set of network event kinds.
const (
	EventConnectivityLost EventKind = iota
	EventConnectivityRestored
	EventDeviceDisconnected
	EventConnectionDeactivated
	EventActiveConnectionChanged
)

func (k EventKind) String() string {
	switch k {
	case EventConnectivityLost:
		return "ConnectivityLost"
	case EventConnectivityRestored:
		return "ConnectivityRestored"
	case EventDeviceDisconnected:
		return "DeviceDisconnected"
	case EventConnectionDeactivated:
		return "ConnectionDeactivated"
	case EventActiveConnectionChanged:
		return "ActiveConnectionChanged"
	default:
		return "Unknown"
	}
}

// NetworkEvent is one signal raised by the underlying daemon.
type NetworkEvent struct {
	Kind EventKind
	SSID string // populated for ActiveConnectionChanged
	At   time.Time
}

// Capabilities reports what hardware the Adapter found at Probe time, so
// the orchestrator can fail fast with NO_MAC/NO_DEVICE before its first
// boot transition rather than mid-scan.
type Capabilities struct {
	HasWiFi     bool
	HasEthernet bool
}
