package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pamir-ai-pkgs/distiller-services/internal/captive"
	"github.com/pamir-ai-pkgs/distiller-services/internal/identity"
	"github.com/pamir-ai-pkgs/distiller-services/internal/netmgr"
	"github.com/pamir-ai-pkgs/distiller-services/internal/statestore"
	"github.com/pamir-ai-pkgs/distiller-services/internal/tunnel"
)

// fakeAdapter is a minimal, goroutine-safe netmgr.Adapter double.
type fakeAdapter struct {
	mu          sync.Mutex
	profiles    []netmgr.ConnectionProfile
	activateErr error
	createErr   error
	currentSSID string
	events      chan netmgr.NetworkEvent
	apStarted   bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{events: make(chan netmgr.NetworkEvent, 8)}
}

func (f *fakeAdapter) Probe(ctx context.Context) (netmgr.Capabilities, error) {
	return netmgr.Capabilities{HasWiFi: true}, nil
}
func (f *fakeAdapter) Scan(ctx context.Context) ([]netmgr.WiFiNetwork, error) { return nil, nil }
func (f *fakeAdapter) ListProfiles(ctx context.Context) ([]netmgr.ConnectionProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles, nil
}
func (f *fakeAdapter) CreateOrUpdateProfile(ctx context.Context, ssid, psk string, hidden bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.profiles = append(f.profiles, netmgr.ConnectionProfile{Name: ssid, Hidden: hidden})
	return nil
}
func (f *fakeAdapter) DeleteProfile(ctx context.Context, name string) error { return nil }
func (f *fakeAdapter) ActivateProfile(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activateErr != nil {
		return f.activateErr
	}
	f.currentSSID = name
	return nil
}
func (f *fakeAdapter) DeactivateAllWiFi(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentSSID = ""
	return nil
}
func (f *fakeAdapter) StartAP(ctx context.Context, ssid, psk string, channel int, ipv4 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apStarted = true
	return nil
}
func (f *fakeAdapter) StopAP(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apStarted = false
	return nil
}
func (f *fakeAdapter) PrimaryIPv4(ctx context.Context) (string, error) { return "192.168.1.50", nil }
func (f *fakeAdapter) CurrentSSID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentSSID, nil
}
func (f *fakeAdapter) WatchEvents(ctx context.Context) (<-chan netmgr.NetworkEvent, error) {
	return f.events, nil
}
func (f *fakeAdapter) Close() error { return nil }

func testOrchestrator(t *testing.T) (*Orchestrator, *fakeAdapter, *statestore.Store) {
	t.Helper()
	slog := zap.NewNop().Sugar()

	store, err := statestore.New("/state", slog, statestore.WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)

	net := newFakeAdapter()
	cc := captive.New("wlan0", 8080, slog)
	ts := tunnel.New(tunnel.Config{ManagedTokenFile: "/nonexistent"}, slog)

	id := &identity.Identity{DeviceID: "ab12", Hostname: "distiller-ab12", APSSID: "Distiller-ab12"}
	cfg := Config{APIP: "192.168.4.1", APChannel: 6, CaptiveOn: false, TunnelOn: false}

	return New(id, store, net, cc, ts, cfg, slog), net, store
}

func TestBootNoSavedProfileEntersAPMode(t *testing.T) {
	o, net, store := testOrchestrator(t)
	require.NoError(t, o.boot(context.Background()))

	st := store.Get()
	assert.Equal(t, statestore.APMode, st.ConnectionState)
	assert.NotEmpty(t, st.APPassword)
	assert.True(t, net.apStarted)
}

func TestBootWithSavedProfileConnects(t *testing.T) {
	o, net, store := testOrchestrator(t)
	net.profiles = []netmgr.ConnectionProfile{{Name: "home-wifi"}}
	_, err := store.Update(statestore.Patch{SSID: strPtr("home-wifi")})
	require.NoError(t, err)

	require.NoError(t, o.boot(context.Background()))

	st := store.Get()
	assert.Equal(t, statestore.Connected, st.ConnectionState)
	assert.Equal(t, "home-wifi", st.SSID)
}

func TestConnectRejectsInvalidSSID(t *testing.T) {
	o, _, _ := testOrchestrator(t)
	_, err := o.Connect(context.Background(), "", "password123", false)
	assert.Error(t, err)
}

func TestConnectHappyPath(t *testing.T) {
	o, _, store := testOrchestrator(t)
	sessionID, err := o.Connect(context.Background(), "cafe-wifi", "hunter222", false)
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)

	st := store.Get()
	assert.Equal(t, statestore.Connected, st.ConnectionState)
	assert.Equal(t, "cafe-wifi", st.SSID)
	assert.Equal(t, sessionID, st.SessionID)
}

func TestConnectFailureFallsBackToAPMode(t *testing.T) {
	o, net, store := testOrchestrator(t)
	net.activateErr = assertError{"auth rejected"}

	_, err := o.Connect(context.Background(), "cafe-wifi", "hunter222", false)
	assert.Error(t, err)

	st := store.Get()
	assert.Equal(t, statestore.Failed, st.ConnectionState)

	require.Eventually(t, func() bool {
		return store.Get().ConnectionState == statestore.APMode
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectReturnsToAPMode(t *testing.T) {
	o, _, store := testOrchestrator(t)
	_, err := o.Connect(context.Background(), "cafe-wifi", "hunter222", false)
	require.NoError(t, err)

	require.NoError(t, o.Disconnect(context.Background()))
	assert.Equal(t, statestore.APMode, store.Get().ConnectionState)
}

func strPtr(s string) *string { return &s }

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
