package netmgr

import "context"

// Adapter is the polymorphic interface spec §4.C describes over the
// capability set the OS daemon exposes. A CLI-backed implementation lives in
// cli.go; tests substitute a fake.
type Adapter interface {
	Probe(ctx context.Context) (Capabilities, error)

	Scan(ctx context.Context) ([]WiFiNetwork, error)
	ListProfiles(ctx context.Context) ([]ConnectionProfile, error)
	CreateOrUpdateProfile(ctx context.Context, ssid, psk string, hidden bool) error
	DeleteProfile(ctx context.Context, name string) error
	ActivateProfile(ctx context.Context, name string) error
	DeactivateAllWiFi(ctx context.Context) error

	StartAP(ctx context.Context, ssid, psk string, channel int, ipv4 string) error
	StopAP(ctx context.Context) error

	PrimaryIPv4(ctx context.Context) (string, error)
	CurrentSSID(ctx context.Context) (string, error)

	// WatchEvents returns a channel of NetworkEvent that is closed when
	// ctx is done or Close is called.
	WatchEvents(ctx context.Context) (<-chan NetworkEvent, error)

	Close() error
}
