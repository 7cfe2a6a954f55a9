// Package config binds the daemon's environment-variable configuration
// surface (spec §6, prefix APP_) the way the teacher's daemons bind their
// own B10E_-prefixed settings: a flat struct with explicit envcfg tags,
// validated once at startup.
package config

import (
	"fmt"
	"net"

	"github.com/tomazk/envcfg"
)

// Settings is the full, enumerated environment configuration surface.
// Every field is read exactly once at boot; nothing here is polled.
type Settings struct {
	APSSIDPrefix  string `envcfg:"APP_AP_SSID_PREFIX"`
	APIP          string `envcfg:"APP_AP_IP"`
	APChannel     int    `envcfg:"APP_AP_CHANNEL"`
	WebHost       string `envcfg:"APP_WEB_HOST"`
	WebPort       int    `envcfg:"APP_WEB_PORT"`
	StateDir      string `envcfg:"APP_STATE_DIR"`

	EnableCaptivePortal bool `envcfg:"APP_ENABLE_CAPTIVE_PORTAL"`

	TunnelEnabled           bool   `envcfg:"APP_TUNNEL_ENABLED"`
	TunnelProviderPrimary   string `envcfg:"APP_TUNNEL_PROVIDER_PRIMARY"`
	TunnelSSHHost           string `envcfg:"APP_TUNNEL_SSH_HOST"`
	TunnelSSHPort           int    `envcfg:"APP_TUNNEL_SSH_PORT"`
	TunnelAccessToken       string `envcfg:"APP_TUNNEL_ACCESS_TOKEN"`
	TunnelRefreshIntervalS  int    `envcfg:"APP_TUNNEL_REFRESH_INTERVAL_S"`
	TunnelManagedHealthURL  string `envcfg:"APP_TUNNEL_MANAGED_HEALTH_URL"`

	Debug bool `envcfg:"APP_DEBUG"`
}

// defaults mirrors spec §6's Default column exactly.
func defaults() Settings {
	return Settings{
		APSSIDPrefix:           "Distiller",
		APIP:                   "192.168.4.1",
		APChannel:              6,
		WebHost:                "0.0.0.0",
		WebPort:                8080,
		StateDir:               "/var/lib/distiller-services",
		EnableCaptivePortal:    true,
		TunnelEnabled:          true,
		TunnelProviderPrimary:  "managed",
		TunnelSSHHost:          "a.pinggy.io",
		TunnelSSHPort:          443,
		TunnelRefreshIntervalS: 3300,
		TunnelManagedHealthURL: "http://127.0.0.1:4180/healthz",
		Debug:                  false,
	}
}

// Load reads the environment, falling back to defaults for unset variables,
// and validates the result. An invalid value aborts startup (exit code 1 is
// the caller's responsibility, per spec §6 Exit codes).
func Load() (*Settings, error) {
	s := defaults()
	if err := envcfg.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) validate() error {
	if net.ParseIP(s.APIP) == nil {
		return fmt.Errorf("APP_AP_IP: not an IPv4 address: %q", s.APIP)
	}
	if s.APChannel < 1 || s.APChannel > 11 {
		return fmt.Errorf("APP_AP_CHANNEL: must be 1-11, got %d", s.APChannel)
	}
	if s.WebPort <= 0 || s.WebPort > 65535 {
		return fmt.Errorf("APP_WEB_PORT: out of range: %d", s.WebPort)
	}
	if s.StateDir == "" {
		return fmt.Errorf("APP_STATE_DIR: must not be empty")
	}
	switch s.TunnelProviderPrimary {
	case "managed", "ssh":
	default:
		return fmt.Errorf("APP_TUNNEL_PROVIDER_PRIMARY: must be 'managed' or 'ssh', got %q", s.TunnelProviderPrimary)
	}
	if s.TunnelSSHPort <= 0 || s.TunnelSSHPort > 65535 {
		return fmt.Errorf("APP_TUNNEL_SSH_PORT: out of range: %d", s.TunnelSSHPort)
	}
	return nil
}
