// Package statestore holds the single process-wide SystemState (spec §3,
// §4.B): an in-memory snapshot with atomic file persistence and
// in-registration-order change callbacks, guarded by one write mutex while
// reads remain lock-free over an immutable snapshot.
package statestore

import "time"

// ConnectionState is the sum type over the six states spec §3 allows.
type ConnectionState string

// The complete, closed set of connection states.
const (
	APMode       ConnectionState = "AP_MODE"
	Switching    ConnectionState = "SWITCHING"
	Connecting   ConnectionState = "CONNECTING"
	Connected    ConnectionState = "CONNECTED"
	Failed       ConnectionState = "FAILED"
	Disconnected ConnectionState = "DISCONNECTED"
)

// TunnelProvider identifies which tunnel backend, if any, is in force.
type TunnelProvider string

// The complete set of tunnel providers.
const (
	TunnelNone    TunnelProvider = "NONE"
	TunnelManaged TunnelProvider = "MANAGED"
	TunnelSSH     TunnelProvider = "SSH"
)

// StateError is the short code + message pair spec §3 assigns to
// SystemState.Error.
type StateError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SystemState is the single, process-wide, persisted snapshot described by
// spec §3. ApPassword is filtered out of every persisted copy (invariant 6)
// and is present in the in-memory/wire form only while AP_MODE is active.
type SystemState struct {
	ConnectionState ConnectionState `json:"state"`
	SSID            string          `json:"ssid"`
	IPAddress       string          `json:"ip_address"`
	SignalDBM       *int            `json:"signal_dbm"`
	APPassword      string          `json:"ap_password,omitempty"`
	TunnelURL       *string         `json:"tunnel_url"`
	TunnelProvider  TunnelProvider  `json:"tunnel_provider"`
	Error           *StateError     `json:"error"`
	SessionID       string          `json:"session_id"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Patch describes a partial update to SystemState; nil fields are left
// unchanged. Update merges a Patch onto the current snapshot atomically.
type Patch struct {
	ConnectionState *ConnectionState
	SSID            *string
	IPAddress       *string
	SignalDBM       **int
	APPassword      *string
	TunnelURL       **string
	TunnelProvider  *TunnelProvider
	Error           **StateError
	SessionID       *string
}

func (s SystemState) apply(p Patch) SystemState {
	out := s
	if p.ConnectionState != nil {
		out.ConnectionState = *p.ConnectionState
	}
	if p.SSID != nil {
		out.SSID = *p.SSID
	}
	if p.IPAddress != nil {
		out.IPAddress = *p.IPAddress
	}
	if p.SignalDBM != nil {
		out.SignalDBM = *p.SignalDBM
	}
	if p.APPassword != nil {
		out.APPassword = *p.APPassword
	}
	if p.TunnelURL != nil {
		out.TunnelURL = *p.TunnelURL
	}
	if p.TunnelProvider != nil {
		out.TunnelProvider = *p.TunnelProvider
	}
	if p.Error != nil {
		out.Error = *p.Error
	}
	if p.SessionID != nil {
		out.SessionID = *p.SessionID
	}
	out.UpdatedAt = time.Now()
	return out
}

// Redacted returns a copy of s with every secret field cleared, the shape
// that is ever written to disk or, per spec §4.G, sent over the wire outside
// of AP_MODE.
func (s SystemState) Redacted() SystemState {
	out := s
	out.APPassword = ""
	return out
}
