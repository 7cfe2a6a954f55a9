// Package identity derives and persists the device's stable identity
// (spec §3 DeviceIdentity, §4.A): a 4-hex-char device ID taken from the
// primary MAC, plus the hostname and AP SSID built from it.
package identity

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/oui"
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"

	"github.com/pamir-ai-pkgs/distiller-services/internal/apperror"
)

// Identity is immutable once generated; see spec §3.
type Identity struct {
	DeviceID  string    `json:"device_id"`
	Hostname  string    `json:"hostname"`
	APSSID    string    `json:"ap_ssid"`
	CreatedAt time.Time `json:"created_at"`
}

// Describe returns a one-line summary for startup logs.
func (i Identity) Describe() string {
	return fmt.Sprintf("%s (%s) id=%s", i.Hostname, i.APSSID, i.DeviceID)
}

// priority interface name prefixes, ethernet first, wireless second, as
// spec §4.A orders MAC discovery.
var priorityPrefixes = []string{"eth", "enp", "eno", "wlan", "wlp"}

var virtualPrefixes = []string{"lo", "docker", "br-", "veth", "virbr", "tun", "tap", "cni", "flannel"}

func isVirtual(name string) bool {
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// pickMAC walks the host's interfaces in the priority order spec §4.A
// describes: named physical interfaces first (ethernet, then wireless), then
// any remaining non-virtual interface, skipping the all-zeros address.
func pickMAC(links []netlink.Link) (net.HardwareAddr, string, error) {
	byName := make(map[string]netlink.Link, len(links))
	for _, l := range links {
		byName[l.Attrs().Name] = l
	}

	tryMAC := func(l netlink.Link) (net.HardwareAddr, bool) {
		mac := l.Attrs().HardwareAddr
		if len(mac) == 0 || mac.String() == "00:00:00:00:00:00" {
			return nil, false
		}
		return mac, true
	}

	for _, prefix := range priorityPrefixes {
		for name, l := range byName {
			if strings.HasPrefix(name, prefix) {
				if mac, ok := tryMAC(l); ok {
					return mac, name, nil
				}
			}
		}
	}

	for _, l := range links {
		name := l.Attrs().Name
		if isVirtual(name) {
			continue
		}
		if mac, ok := tryMAC(l); ok {
			return mac, name, nil
		}
	}

	return nil, "", apperror.New(apperror.NoMAC, "no suitable network interface with a usable MAC address")
}

// deviceIDFromMAC takes the last 4 hex nibbles of mac, lowercased.
func deviceIDFromMAC(mac net.HardwareAddr) string {
	hex := strings.ReplaceAll(mac.String(), ":", "")
	hex = strings.ToLower(hex)
	if len(hex) < 4 {
		return hex
	}
	return hex[len(hex)-4:]
}

// Load reads a previously persisted identity from stateDir, or generates and
// persists a new one on first boot. ouiDB may be nil; it is used only for a
// cosmetic vendor-name log line.
func Load(stateDir, prefix string, ouiDB oui.StaticDB, slog *zap.SugaredLogger) (*Identity, error) {
	path := filepath.Join(stateDir, "device.json")

	if data, err := os.ReadFile(path); err == nil {
		var id Identity
		if err := json.Unmarshal(data, &id); err == nil {
			return &id, nil
		}
		slog.Warnw("device.json is corrupt; regenerating identity", "path", path)
	}

	links, err := netlink.LinkList()
	if err != nil {
		return nil, apperror.Wrap(apperror.NoMAC, "enumerating network interfaces", err)
	}

	mac, ifname, err := pickMAC(links)
	if err != nil {
		return nil, err
	}

	if ouiDB != nil {
		if entry, err := ouiDB.Query(mac.String()); err == nil {
			slog.Infow("derived device identity from MAC", "interface", ifname, "mac", mac.String(), "vendor", entry.Organization)
		}
	}

	deviceID := deviceIDFromMAC(mac)
	id := &Identity{
		DeviceID:  deviceID,
		Hostname:  fmt.Sprintf("%s-%s", strings.ToLower(prefix), deviceID),
		APSSID:    fmt.Sprintf("%s-%s", prefix, strings.ToUpper(deviceID)),
		CreatedAt: time.Now(),
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating state directory")
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshaling identity")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, errors.Wrap(err, "persisting device.json")
	}

	return id, nil
}
