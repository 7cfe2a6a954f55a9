package netmgr

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pamir-ai-pkgs/distiller-services/internal/apperror"
	"github.com/pamir-ai-pkgs/distiller-services/internal/aputil"
)

const (
	nmcliBinary = "nmcli"

	scanTimeout     = 10 * time.Second
	activateTimeout = 30 * time.Second
	apStartTimeout  = 15 * time.Second

	profileDir = "/etc/NetworkManager/system-connections"

	failureLogStart = 5 * time.Second
	failureLogMax   = 5 * time.Minute
)

// CLIAdapter implements Adapter by shelling out to the OS network daemon's
// command-line control surface with argv arrays built field-by-field — never
// by concatenating untrusted strings into a shell command line. All writes
// serialize through writeMu so no two activation attempts race (spec §5).
type CLIAdapter struct {
	iface string
	slog  *zap.SugaredLogger

	writeMu   sync.Mutex
	apProfile string // name of the AP-mode profile StartAP created, if any

	scanFailLog     *aputil.ThrottledLogger
	activateFailLog *aputil.ThrottledLogger

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// NewCLIAdapter builds an Adapter bound to the given WiFi interface name.
func NewCLIAdapter(iface string, slog *zap.SugaredLogger) *CLIAdapter {
	return &CLIAdapter{
		iface:           iface,
		slog:            slog,
		scanFailLog:     aputil.GetThrottledLogger(slog, failureLogStart, failureLogMax),
		activateFailLog: aputil.GetThrottledLogger(slog, failureLogStart, failureLogMax),
	}
}

func run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, nmcliBinary, args...)
	out, err := cmd.Output()
	return string(out), err
}

// Probe reports whether the host has a WiFi device and any ethernet device,
// per SPEC_FULL.md's §C addition.
func (a *CLIAdapter) Probe(ctx context.Context) (Capabilities, error) {
	out, err := run(ctx, "-t", "-f", "DEVICE,TYPE", "device")
	if err != nil {
		return Capabilities{}, apperror.Wrap(apperror.NoDevice, "probing network devices", err)
	}

	var caps Capabilities
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.SplitN(line, ":", 2)
		if len(fields) != 2 {
			continue
		}
		switch fields[1] {
		case "wifi":
			caps.HasWiFi = true
		case "ethernet":
			caps.HasEthernet = true
		}
	}
	if !caps.HasWiFi {
		return caps, apperror.New(apperror.NoDevice, "no WiFi interface present")
	}
	return caps, nil
}

// Scan triggers a scan and returns the deduplicated, non-hidden result list.
func (a *CLIAdapter) Scan(ctx context.Context) ([]WiFiNetwork, error) {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	out, err := run(ctx, "-t", "-f", "SSID,SIGNAL,SECURITY,IN-USE", "device", "wifi", "list",
		"ifname", a.iface, "--rescan", "yes")
	if err != nil {
		if isBusy(err) {
			a.scanFailLog.Warnf("scan busy: %v", err)
			return nil, apperror.New(apperror.ScanBusy, "a scan is already in progress")
		}
		a.scanFailLog.Errorf("scan failed: %v", err)
		return nil, apperror.Wrap(apperror.NoDevice, "scanning for networks", err)
	}
	a.scanFailLog.Clear()

	var found []WiFiNetwork
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 4 {
			continue
		}
		signal, _ := strconv.Atoi(fields[1])
		found = append(found, WiFiNetwork{
			SSID:          fields[0],
			SignalPercent: signal,
			Security:      parseSecurity(fields[2]),
			InUse:         fields[3] == "*",
		})
	}

	return dedupeBySSID(found), nil
}

func isBusy(err error) bool {
	return err != nil && strings.Contains(err.Error(), "scanning not allowed")
}

// ListProfiles enumerates stored connection profiles.
func (a *CLIAdapter) ListProfiles(ctx context.Context) ([]ConnectionProfile, error) {
	out, err := run(ctx, "-t", "-f", "NAME", "connection", "show")
	if err != nil {
		return nil, apperror.Wrap(apperror.NoDevice, "listing profiles", err)
	}

	var profiles []ConnectionProfile
	for _, name := range strings.Split(strings.TrimSpace(out), "\n") {
		if name == "" {
			continue
		}
		profiles = append(profiles, ConnectionProfile{Name: name})
	}
	return profiles, nil
}

// validateProfile checks the on-disk profile file's owner (root) and mode
// (0600). A profile that fails this check is never trusted: the caller
// deletes and recreates it (spec §4.C).
func (a *CLIAdapter) validateProfile(name string) bool {
	path := filepath.Join(profileDir, name+".nmconnection")
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.Mode().Perm() != 0o600 {
		return false
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return stat.Uid == 0
}

// CreateOrUpdateProfile creates or refreshes a profile, first purging any
// instance that fails the ownership/mode check.
func (a *CLIAdapter) CreateOrUpdateProfile(ctx context.Context, ssid, psk string, hidden bool) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if !a.validateProfile(ssid) {
		_, _ = run(ctx, "connection", "delete", "id", ssid)
	}

	args := []string{
		"connection", "add",
		"type", "wifi",
		"con-name", ssid,
		"ifname", a.iface,
		"ssid", ssid,
	}
	if hidden {
		args = append(args, "802-11-wireless.hidden", "yes")
	}
	if psk != "" {
		args = append(args, "wifi-sec.key-mgmt", "wpa-psk", "wifi-sec.psk", psk)
	}

	if _, err := run(ctx, args...); err != nil {
		return apperror.Wrap(apperror.AuthFail, fmt.Sprintf("creating profile %q", ssid), err)
	}
	return nil
}

// DeleteProfile removes a stored profile.
func (a *CLIAdapter) DeleteProfile(ctx context.Context, name string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if _, err := run(ctx, "connection", "delete", "id", name); err != nil {
		return apperror.Wrap(apperror.NoDevice, fmt.Sprintf("deleting profile %q", name), err)
	}
	return nil
}

// ActivateProfile attempts a station connection, bounded by a 30s wall-clock
// timeout, translating the daemon's intermediate signals into the typed
// errors spec §4.C names. ASSOC_FAIL is retried once within the same
// attempt; AUTH_FAIL and DHCP_FAIL are terminal for this attempt.
func (a *CLIAdapter) ActivateProfile(ctx context.Context, name string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, activateTimeout)
	defer cancel()

	err := a.tryActivate(ctx, name)
	if isAssocFail(err) {
		a.slog.Infow("association rejected, retrying once", "profile", name)
		err = a.tryActivate(ctx, name)
	}

	if ctx.Err() == context.DeadlineExceeded {
		a.activateFailLog.Errorf("activate_profile %q exceeded 30s", name)
		return apperror.New(apperror.ConnectTimeout, "activate_profile exceeded 30s")
	}
	if err != nil {
		a.activateFailLog.Warnf("activate_profile %q failed: %v", name, err)
		return err
	}
	a.activateFailLog.Clear()
	return nil
}

func (a *CLIAdapter) tryActivate(ctx context.Context, name string) error {
	out, err := run(ctx, "connection", "up", "id", name)
	if err == nil {
		return nil
	}
	lower := strings.ToLower(out + err.Error())
	switch {
	case strings.Contains(lower, "802-1x") || strings.Contains(lower, "secrets") || strings.Contains(lower, "auth"):
		return apperror.Wrap(apperror.AuthFail, "authentication failed", err)
	case strings.Contains(lower, "association") || strings.Contains(lower, "no network with ssid"):
		return apperror.Wrap(apperror.AssocFail, "association rejected", err)
	case strings.Contains(lower, "dhcp") || strings.Contains(lower, "ip configuration"):
		return apperror.Wrap(apperror.DHCPFail, "DHCP timed out", err)
	default:
		return apperror.Wrap(apperror.AuthFail, "connection attempt failed", err)
	}
}

func isAssocFail(err error) bool {
	var ae *apperror.Error
	return err != nil && asAppError(err, &ae) && ae.Kind == apperror.AssocFail
}

func asAppError(err error, target **apperror.Error) bool {
	if ae, ok := err.(*apperror.Error); ok {
		*target = ae
		return true
	}
	return false
}

// DeactivateAllWiFi tears down any active station connection, leaving the
// profile itself intact.
func (a *CLIAdapter) DeactivateAllWiFi(ctx context.Context) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	_, err := run(ctx, "device", "disconnect", a.iface)
	if err != nil {
		return apperror.Wrap(apperror.NoDevice, "deactivating station connection", err)
	}
	return nil
}

// StartAP creates (or refreshes) an AP-mode profile with WPA2-PSK, assigns
// ipv4 to the interface, and returns once the daemon reports the AP active
// or after 15s elapses (AP_START_FAIL).
func (a *CLIAdapter) StartAP(ctx context.Context, ssid, psk string, channel int, ipv4 string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, apStartTimeout)
	defer cancel()

	_, _ = run(ctx, "connection", "delete", "id", ssid+"-ap")

	args := []string{
		"connection", "add",
		"type", "wifi",
		"con-name", ssid + "-ap",
		"ifname", a.iface,
		"ssid", ssid,
		"802-11-wireless.mode", "ap",
		"802-11-wireless.band", "bg",
		"802-11-wireless.channel", strconv.Itoa(channel),
		"wifi-sec.key-mgmt", "wpa-psk",
		"wifi-sec.psk", psk,
		"ipv4.method", "manual",
		"ipv4.addresses", ipv4 + "/24",
	}
	if _, err := run(ctx, args...); err != nil {
		return apperror.Wrap(apperror.APStartFail, "creating AP profile", err)
	}

	if _, err := run(ctx, "connection", "up", "id", ssid+"-ap"); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return apperror.New(apperror.APStartFail, "AP did not come up within 15s")
		}
		return apperror.Wrap(apperror.APStartFail, "activating AP profile", err)
	}
	a.apProfile = ssid + "-ap"
	return nil
}

// StopAP disconnects the AP interface and deletes the AP-mode profile
// StartAP created (spec §4.C). AP and any station profile must never be
// simultaneously active; the orchestrator is responsible for sequencing
// calls so that holds.
func (a *CLIAdapter) StopAP(ctx context.Context) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	_, _ = run(ctx, "device", "disconnect", a.iface)

	if a.apProfile != "" {
		_, _ = run(ctx, "connection", "delete", "id", a.apProfile)
		a.apProfile = ""
	}
	return nil
}

// PrimaryIPv4 returns the interface's current IPv4 address, or "" if none.
func (a *CLIAdapter) PrimaryIPv4(ctx context.Context) (string, error) {
	out, err := run(ctx, "-t", "-f", "IP4.ADDRESS", "device", "show", a.iface)
	if err != nil {
		return "", apperror.Wrap(apperror.NoDevice, "reading interface address", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.HasPrefix(line, "IP4.ADDRESS") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				addr := strings.SplitN(parts[1], "/", 2)[0]
				return addr, nil
			}
		}
	}
	return "", nil
}

// CurrentSSID returns the SSID the interface is currently associated with,
// or "" if none.
func (a *CLIAdapter) CurrentSSID(ctx context.Context) (string, error) {
	out, err := run(ctx, "-t", "-f", "active,ssid", "device", "wifi", "list", "ifname", a.iface)
	if err != nil {
		return "", apperror.Wrap(apperror.NoDevice, "reading current SSID", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.SplitN(line, ":", 2)
		if len(fields) == 2 && fields[0] == "yes" {
			return fields[1], nil
		}
	}
	return "", nil
}

// WatchEvents tails the daemon's event log and translates lines into
// NetworkEvent values, coalescing duplicates within a 500ms window.
func (a *CLIAdapter) WatchEvents(ctx context.Context) (<-chan NetworkEvent, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel

	cmd := exec.CommandContext(watchCtx, nmcliBinary, "monitor")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, apperror.Wrap(apperror.NoDevice, "opening event monitor", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, apperror.Wrap(apperror.NoDevice, "starting event monitor", err)
	}

	out := make(chan NetworkEvent, 16)
	done := make(chan struct{})
	a.watchDone = done

	go func() {
		defer close(out)
		defer close(done)
		defer cmd.Wait()

		c := newCoalescer()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if ev, ok := translateMonitorLine(scanner.Text()); ok {
				if c.admit(ev) {
					select {
					case out <- ev:
					case <-watchCtx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

func translateMonitorLine(line string) (NetworkEvent, bool) {
	lower := strings.ToLower(line)
	now := time.Now()
	switch {
	case strings.Contains(lower, "connectivity") && strings.Contains(lower, "none"):
		return NetworkEvent{Kind: EventConnectivityLost, At: now}, true
	case strings.Contains(lower, "connectivity") && strings.Contains(lower, "full"):
		return NetworkEvent{Kind: EventConnectivityRestored, At: now}, true
	case strings.Contains(lower, "disconnected"):
		return NetworkEvent{Kind: EventDeviceDisconnected, At: now}, true
	case strings.Contains(lower, "deactivat"):
		return NetworkEvent{Kind: EventConnectionDeactivated, At: now}, true
	case strings.Contains(lower, "connection activated"):
		fields := strings.Fields(line)
		ssid := ""
		if len(fields) > 0 {
			ssid = fields[len(fields)-1]
		}
		return NetworkEvent{Kind: EventActiveConnectionChanged, SSID: ssid, At: now}, true
	}
	return NetworkEvent{}, false
}

// Close stops the event-watch goroutine.
func (a *CLIAdapter) Close() error {
	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.watchDone != nil {
		<-a.watchDone
	}
	return nil
}
