package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pamir-ai-pkgs/distiller-services/internal/captive"
	"github.com/pamir-ai-pkgs/distiller-services/internal/identity"
	"github.com/pamir-ai-pkgs/distiller-services/internal/netmgr"
	"github.com/pamir-ai-pkgs/distiller-services/internal/orchestrator"
	"github.com/pamir-ai-pkgs/distiller-services/internal/statestore"
	"github.com/pamir-ai-pkgs/distiller-services/internal/tunnel"
)

// stubAdapter is the smallest netmgr.Adapter double this package's tests
// need; the orchestrator package has its own, more thorough fake.
type stubAdapter struct{}

func (stubAdapter) Probe(ctx context.Context) (netmgr.Capabilities, error) {
	return netmgr.Capabilities{HasWiFi: true}, nil
}
func (stubAdapter) Scan(ctx context.Context) ([]netmgr.WiFiNetwork, error) {
	return []netmgr.WiFiNetwork{{SSID: "cafe", SignalPercent: 80}}, nil
}
func (stubAdapter) ListProfiles(ctx context.Context) ([]netmgr.ConnectionProfile, error) {
	return nil, nil
}
func (stubAdapter) CreateOrUpdateProfile(ctx context.Context, ssid, psk string, hidden bool) error {
	return nil
}
func (stubAdapter) DeleteProfile(ctx context.Context, name string) error { return nil }
func (stubAdapter) ActivateProfile(ctx context.Context, name string) error {
	return nil
}
func (stubAdapter) DeactivateAllWiFi(ctx context.Context) error { return nil }
func (stubAdapter) StartAP(ctx context.Context, ssid, psk string, channel int, ipv4 string) error {
	return nil
}
func (stubAdapter) StopAP(ctx context.Context) error                  { return nil }
func (stubAdapter) PrimaryIPv4(ctx context.Context) (string, error)   { return "192.168.1.50", nil }
func (stubAdapter) CurrentSSID(ctx context.Context) (string, error)   { return "", nil }
func (stubAdapter) WatchEvents(ctx context.Context) (<-chan netmgr.NetworkEvent, error) {
	return make(chan netmgr.NetworkEvent), nil
}
func (stubAdapter) Close() error { return nil }

func testServer(t *testing.T) *Server {
	t.Helper()
	slog := zap.NewNop().Sugar()

	store, err := statestore.New("/state", slog, statestore.WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)

	net := stubAdapter{}
	cc := captive.New("wlan0", 8080, slog)
	ts := tunnel.New(tunnel.Config{ManagedTokenFile: "/nonexistent"}, slog)
	id := &identity.Identity{DeviceID: "ab12", Hostname: "distiller-ab12", APSSID: "Distiller-ab12"}
	cfg := orchestrator.Config{APIP: "192.168.4.1", APChannel: 6}

	orch := orchestrator.New(id, store, net, cc, ts, cfg, slog)
	require.NoError(t, orch.Run(canceledBootOnlyContext(t)))

	return New("127.0.0.1:0", "192.168.4.1", 8080, orch, store, net, slog)
}

// canceledBootOnlyContext lets Run() perform the boot transition and then
// return immediately, since these tests don't exercise the event loop.
func canceledBootOnlyContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestHandleStatusReturnsSnapshot(t *testing.T) {
	s := testServer(t)
	router := newTestRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "AP_MODE", body["state"])
	assert.NotEmpty(t, body["ap_password"])
}

func TestHandleConnectRejectsBadInput(t *testing.T) {
	s := testServer(t)
	router := newTestRouter(s)

	req := httptest.NewRequest(http.MethodPost, "/api/connect", strings.NewReader(`{"ssid":"","password":"x"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleConnectAccepted(t *testing.T) {
	s := testServer(t)
	router := newTestRouter(s)

	req := httptest.NewRequest(http.MethodPost, "/api/connect", strings.NewReader(`{"ssid":"cafe-wifi","password":"hunter222"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["session_id"])
}

func TestCaptiveProbeRedirectsInAPMode(t *testing.T) {
	s := testServer(t)
	router := newTestRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/generate_204", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "192.168.4.1:8080")
}

func newTestRouter(s *Server) http.Handler {
	return s.httpSrv.Handler
}
