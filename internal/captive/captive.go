// Package captive implements the captive-portal fabric (spec §4.D): a
// wildcard-DNS responder on the AP interface plus an HTTP-redirect firewall
// rule, so that unmodified mobile OSes auto-open the setup page.
package captive

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/pamir-ai-pkgs/distiller-services/internal/apperror"
)

// Controller owns both side effects, scoped to AP_MODE. Entry and exit are
// each idempotent: a fresh Start always purges any rules left behind by an
// abnormal prior exit before reapplying them (spec §4.D).
type Controller struct {
	iface   string
	webPort int
	slog    *zap.SugaredLogger

	mu      sync.Mutex
	active  bool
	dnsSrv  *dns.Server
	apIPv4  string
}

// New builds a Controller bound to the AP interface and the local web
// server's port (the redirect target).
func New(iface string, webPort int, slog *zap.SugaredLogger) *Controller {
	return &Controller{iface: iface, webPort: webPort, slog: slog}
}

// Start applies wildcard DNS and the HTTP redirect for apIPv4. If either
// step fails, any partially-applied state is undone before returning
// CAPTIVE_FAIL (spec §4.D).
func (c *Controller) Start(ctx context.Context, apIPv4 string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-entry is idempotent: purge first, exactly as spec §4.D requires.
	c.teardownLocked(ctx)

	if err := c.startDNSLocked(apIPv4); err != nil {
		return apperror.Wrap(apperror.CaptiveFail, "starting wildcard DNS", err)
	}

	if err := c.installRedirectLocked(ctx); err != nil {
		c.stopDNSLocked()
		return apperror.Wrap(apperror.CaptiveFail, "installing HTTP redirect", err)
	}

	c.apIPv4 = apIPv4
	c.active = true
	return nil
}

// Stop releases both side effects. It is always safe to call, including
// after an abnormal AP teardown, because it never assumes prior state.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked(ctx)
	c.active = false
	return nil
}

func (c *Controller) teardownLocked(ctx context.Context) {
	c.stopDNSLocked()
	c.removeRedirectLocked(ctx)
}

// startDNSLocked answers every A query received on the AP interface with
// apIPv4, grounded in the teacher's miekg/dns-based ap.dns4d.
func (c *Controller) startDNSLocked(apIPv4 string) error {
	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Authoritative = true

		for _, q := range r.Question {
			if q.Qtype != dns.TypeA {
				continue
			}
			rr, err := dns.NewRR(fmt.Sprintf("%s A %s", q.Name, apIPv4))
			if err == nil {
				m.Answer = append(m.Answer, rr)
			}
		}
		_ = w.WriteMsg(m)
	})

	srv := &dns.Server{
		Addr:    net.JoinHostPort(apIPv4, "53"),
		Net:     "udp",
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	default:
		c.dnsSrv = srv
		return nil
	}
}

func (c *Controller) stopDNSLocked() {
	if c.dnsSrv != nil {
		_ = c.dnsSrv.Shutdown()
		c.dnsSrv = nil
	}
}

// installRedirectLocked installs a NAT rule redirecting TCP port 80 on the
// AP interface to the local web server.
func (c *Controller) installRedirectLocked(ctx context.Context) error {
	return c.iptables(ctx, "-t", "nat", "-A", "PREROUTING",
		"-i", c.iface, "-p", "tcp", "--dport", "80",
		"-j", "REDIRECT", "--to-port", strconv.Itoa(c.webPort))
}

func (c *Controller) removeRedirectLocked(ctx context.Context) {
	_ = c.iptables(ctx, "-t", "nat", "-D", "PREROUTING",
		"-i", c.iface, "-p", "tcp", "--dport", "80",
		"-j", "REDIRECT", "--to-port", strconv.Itoa(c.webPort))
}

func (c *Controller) iptables(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "iptables", args...)
	return cmd.Run()
}

// Active reports whether the captive portal is currently applied.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
