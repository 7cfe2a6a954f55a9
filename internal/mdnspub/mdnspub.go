// Package mdnspub implements the mDNS Publisher (spec §4.I): a
// fire-and-forget subscriber that re-announces the device's hostname/address
// whenever the State Store's hostname or IP changes. It is contract-only —
// a thin wrapper that must never block the Orchestrator's write path, so it
// subscribes via Store.OnChange and does its network I/O on a goroutine.
package mdnspub

import (
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/pamir-ai-pkgs/distiller-services/internal/statestore"
)

const (
	mdnsAddr = "224.0.0.251:5353"
	mdnsTTL  = 120
)

// Publisher announces an A record for hostname+".local" pointing at the
// current IP address, using the same miekg/dns message-building style as
// the captive-portal resolver.
type Publisher struct {
	hostname string
	slog     *zap.SugaredLogger

	mu       sync.Mutex
	lastIP   string
	unsub    func()
	conn     net.PacketConn
}

// New builds a Publisher for the given stable hostname (without ".local").
func New(hostname string, slog *zap.SugaredLogger) *Publisher {
	return &Publisher{hostname: hostname, slog: slog}
}

// Start subscribes to store and publishes once immediately for the current
// state.
func (p *Publisher) Start(store *statestore.Store) {
	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		p.slog.Warnw("mdns publisher could not open socket", "error", err)
		return
	}
	p.conn = conn

	token := store.OnChange(func(old, new statestore.SystemState) {
		if new.IPAddress != old.IPAddress && new.IPAddress != "" {
			p.publish(new.IPAddress)
		}
	})
	p.unsub = func() { store.OffChange(token) }

	if st := store.Get(); st.IPAddress != "" {
		p.publish(st.IPAddress)
	}
}

// Stop unregisters from the store and closes the publisher's socket.
func (p *Publisher) Stop() {
	if p.unsub != nil {
		p.unsub()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

func (p *Publisher) publish(ip string) {
	p.mu.Lock()
	if ip == p.lastIP {
		p.mu.Unlock()
		return
	}
	p.lastIP = ip
	p.mu.Unlock()

	addr4 := net.ParseIP(ip).To4()
	if addr4 == nil {
		return
	}

	msg := new(dns.Msg)
	msg.Response = true
	msg.Authoritative = true
	msg.Answer = append(msg.Answer, &dns.A{
		Hdr: dns.RR_Header{
			Name:   p.hostname + ".local.",
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    mdnsTTL,
		},
		A: addr4,
	})

	packed, err := msg.Pack()
	if err != nil {
		p.slog.Warnw("mdns publisher failed packing announcement", "error", err)
		return
	}

	dst, err := net.ResolveUDPAddr("udp4", mdnsAddr)
	if err != nil {
		return
	}

	conn := p.conn
	if conn == nil {
		return
	}
	if _, err := conn.WriteTo(packed, dst); err != nil {
		p.slog.Debugw("mdns announcement send failed", "error", err)
	}

	p.slog.Infow("mdns announcement published", "hostname", p.hostname, "ip", ip, "at", time.Now())
}
