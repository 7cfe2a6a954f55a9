// Package tunnel implements the dual-provider tunnel supervisor (spec §4.E):
// a managed reverse proxy as the default, an on-demand SSH tunnel as
// fallback, with health-based failover and periodic refresh.
package tunnel

import "time"

// State is the supervisor's internal state machine (spec §4.E).
type State string

// The complete set of supervisor states.
const (
	Idle           State = "Idle"
	StartingManaged State = "StartingManaged"
	Managed        State = "Managed"
	StartingSSH    State = "StartingSsh"
	SSH            State = "Ssh"
	Failed         State = "Failed"
)

// Provider identifies which backend produced the current session.
type Provider string

// The complete set of providers.
const (
	ProviderNone    Provider = "NONE"
	ProviderManaged Provider = "MANAGED"
	ProviderSSH     Provider = "SSH"
)

// Session is the current public tunnel, if any (spec §3 TunnelSession).
type Session struct {
	Provider        Provider
	PublicURL       string
	StartedAt       time.Time
	ExpiresAt       *time.Time
	LastHealthOKAt  time.Time
}
