package tunnel

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	healthPollInterval  = 60 * time.Second
	healthFailThreshold = 3
	healthCheckTimeout  = 5 * time.Second
	urlParseTimeout     = 20 * time.Second
)

// Config configures a Supervisor; see spec §6 for the matching env vars.
type Config struct {
	ManagedHealthURL string
	ManagedTokenFile string // a known environment file; its presence gates StartingManaged
	ProviderPrimary  string // "managed" or "ssh"; "ssh" forces StartingSSH regardless of ManagedTokenFile
	SSHHost          string
	SSHPort          int
	AccessToken      string
	RefreshInterval  time.Duration
}

// SessionChangeFunc is invoked, in registration order, whenever the
// supervisor's session changes.
type SessionChangeFunc func(Session)

// Supervisor runs the dual-provider state machine described in spec §4.E.
// It never blocks its caller: Start/Stop only arrange for the background
// loop to run or exit; failures stay internal and are reflected only via
// Status().
type Supervisor struct {
	cfg  Config
	slog *zap.SugaredLogger

	mu      sync.Mutex
	state   State
	session Session

	subsMu sync.Mutex
	subs   []SessionChangeFunc

	cancel context.CancelFunc
	done   chan struct{}

	sshProc *sshTunnel
}

// New builds a Supervisor from cfg.
func New(cfg Config, slog *zap.SugaredLogger) *Supervisor {
	return &Supervisor{cfg: cfg, slog: slog, state: Idle}
}

// Status returns a snapshot of the current tunnel session.
func (s *Supervisor) Status() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) setSession(sess Session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	s.notifySession(sess)
}

// OnSessionChange registers a callback fired after every session update,
// so collaborators (the orchestrator bridging into the state store) don't
// have to poll Status.
func (s *Supervisor) OnSessionChange(cb SessionChangeFunc) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs = append(s.subs, cb)
}

func (s *Supervisor) notifySession(sess Session) {
	s.subsMu.Lock()
	subs := make([]SessionChangeFunc, len(s.subs))
	copy(subs, s.subs)
	s.subsMu.Unlock()

	for _, cb := range subs {
		cb(sess)
	}
}

// Start begins the supervisor loop. It is safe to call once per CONNECTED
// entry (spec §3: TunnelSession is bound to CONNECTED).
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return // already running
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(loopCtx)
}

// Stop tears down any running tunnel and returns the supervisor to Idle,
// per spec §4.E's "on exit from CONNECTED" rule.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.setState(Idle)
	s.setSession(Session{Provider: ProviderNone})
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	st := s.pickInitialState()
	for {
		select {
		case <-ctx.Done():
			s.teardownSSH()
			return
		default:
		}

		switch st {
		case StartingManaged:
			s.setState(StartingManaged)
			if s.checkManagedHealth(ctx) {
				s.setState(Managed)
				s.setSession(Session{Provider: ProviderManaged, StartedAt: time.Now(), LastHealthOKAt: time.Now()})
				st = Managed
			} else {
				st = StartingSSH
			}

		case Managed:
			st = s.runManaged(ctx)

		case StartingSSH:
			s.setState(StartingSSH)
			if sess, err := s.startSSH(ctx); err != nil {
				s.slog.Warnw("ssh tunnel failed to start", "error", err)
				s.setState(Failed)
				s.setSession(Session{Provider: ProviderNone})
				st = s.waitThenRetry(ctx)
			} else {
				s.setSession(sess)
				s.setState(SSH)
				st = SSH
			}

		case SSH:
			st = s.runSSH(ctx)

		case Failed:
			st = s.waitThenRetry(ctx)

		default:
			return
		}
	}
}

func (s *Supervisor) pickInitialState() State {
	if s.cfg.ProviderPrimary == "ssh" {
		return StartingSSH
	}
	if s.cfg.ManagedTokenFile != "" {
		if _, err := os.Stat(s.cfg.ManagedTokenFile); err == nil {
			return StartingManaged
		}
	}
	return StartingSSH
}

func (s *Supervisor) waitThenRetry(ctx context.Context) State {
	select {
	case <-ctx.Done():
		return Idle
	case <-time.After(healthPollInterval):
		return StartingSSH
	}
}

// runManaged polls health every 60s; three consecutive failures demote to
// StartingSsh (spec §4.E).
func (s *Supervisor) runManaged(ctx context.Context) State {
	failures := 0
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Idle
		case <-ticker.C:
			if s.checkManagedHealth(ctx) {
				failures = 0
				s.mu.Lock()
				s.session.LastHealthOKAt = time.Now()
				s.mu.Unlock()
			} else {
				failures++
				if failures >= healthFailThreshold {
					s.slog.Warnw("managed tunnel failed health checks, falling back to ssh", "failures", failures)
					return StartingSSH
				}
			}
		}
	}
}

// runSSH re-checks the managed provider every 60s while the ssh tunnel is
// active; a healthy managed provider wins back the slot (spec §4.E).
func (s *Supervisor) runSSH(ctx context.Context) State {
	defer s.teardownSSH()

	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	var refresh <-chan time.Time
	if exp := s.Status().ExpiresAt; exp != nil {
		d := time.Until(exp.Add(-5 * time.Minute))
		if d < 0 {
			d = 0
		}
		t := time.NewTimer(d)
		defer t.Stop()
		refresh = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return Idle
		case <-ticker.C:
			if s.cfg.ManagedTokenFile != "" && s.checkManagedHealth(ctx) {
				s.slog.Infow("managed tunnel recovered, switching back")
				return StartingManaged
			}
		case <-refresh:
			s.slog.Infow("refreshing ssh tunnel ahead of expiry")
			return StartingSSH
		}
	}
}

func (s *Supervisor) checkManagedHealth(ctx context.Context) bool {
	if s.cfg.ManagedHealthURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.ManagedHealthURL, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (s *Supervisor) teardownSSH() {
	s.mu.Lock()
	proc := s.sshProc
	s.sshProc = nil
	s.mu.Unlock()

	if proc != nil {
		proc.stop()
	}
}
