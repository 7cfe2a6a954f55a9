// Package orchestrator implements the provisioning state machine (spec
// §4.F): it owns the connection lock, routes network events, and schedules
// recovery, coordinating the Network Adapter, Captive-Portal Controller, and
// Tunnel Supervisor.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/satori/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pamir-ai-pkgs/distiller-services/internal/apperror"
	"github.com/pamir-ai-pkgs/distiller-services/internal/aputil"
	"github.com/pamir-ai-pkgs/distiller-services/internal/captive"
	"github.com/pamir-ai-pkgs/distiller-services/internal/identity"
	"github.com/pamir-ai-pkgs/distiller-services/internal/netmgr"
	"github.com/pamir-ai-pkgs/distiller-services/internal/statestore"
	"github.com/pamir-ai-pkgs/distiller-services/internal/tunnel"
)

const (
	failedToAPDelay    = 3 * time.Second
	recoveryJitterWait = 3 * time.Second

	failureLogStart = 5 * time.Second
	failureLogMax   = 5 * time.Minute
)

// Config gathers what the Orchestrator needs beyond its component
// collaborators.
type Config struct {
	APIP      string
	APChannel int
	CaptiveOn bool
	TunnelOn  bool
}

// Orchestrator is the single state-machine owner described by spec §4.F.
type Orchestrator struct {
	id      *identity.Identity
	store   *statestore.Store
	net     netmgr.Adapter
	captive *captive.Controller
	tun     *tunnel.Supervisor
	cfg     Config
	slog    *zap.SugaredLogger

	lock *connLock

	failLog *aputil.ThrottledLogger

	mu              sync.Mutex
	lastKnownSSID   string
	recoveryRunning bool
}

// New builds an Orchestrator. captiveCtl and tun may implement no-ops when
// disabled via config, so the orchestrator never needs to branch on
// CaptiveOn/TunnelOn beyond the initial wiring in cmd/provisiond.
func New(id *identity.Identity, store *statestore.Store, net netmgr.Adapter,
	captiveCtl *captive.Controller, tun *tunnel.Supervisor, cfg Config, slog *zap.SugaredLogger) *Orchestrator {

	o := &Orchestrator{
		id:      id,
		store:   store,
		net:     net,
		captive: captiveCtl,
		tun:     tun,
		cfg:     cfg,
		slog:    slog,
		lock:    newConnLock(),
		failLog: aputil.GetThrottledLogger(slog, failureLogStart, failureLogMax),
	}
	tun.OnSessionChange(o.bridgeTunnelStatus)
	return o
}

// Run is the component's main loop entry: it performs the boot transition,
// then consumes network events until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.boot(ctx); err != nil {
		return err
	}

	events, err := o.net.WatchEvents(ctx)
	if err != nil {
		o.slog.Errorw("failed to start event watcher", "error", err)
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				o.handleEvent(ctx, ev)
			}
		}
	})

	return g.Wait()
}

// boot implements spec §4.F's "any (start) boot" row: resume a saved
// profile if one exists, else enter AP_MODE.
func (o *Orchestrator) boot(ctx context.Context) error {
	st := o.store.Get()

	if st.SSID != "" {
		if profiles, err := o.net.ListProfiles(ctx); err == nil {
			for _, p := range profiles {
				if p.Name == st.SSID {
					o.mu.Lock()
					o.lastKnownSSID = st.SSID
					o.mu.Unlock()
					return o.connectSavedProfile(ctx, st.SSID)
				}
			}
		}
	}

	return o.enterAP(ctx)
}

func (o *Orchestrator) connectSavedProfile(ctx context.Context, ssid string) error {
	connecting := statestore.Connecting
	if _, err := o.store.Update(statestore.Patch{ConnectionState: &connecting, SSID: &ssid}); err != nil {
		o.slog.Errorw("failed persisting CONNECTING state", "error", err)
	}

	if err := o.net.ActivateProfile(ctx, ssid); err != nil {
		o.recordFailure(ctx, err)
		return nil
	}
	o.onConnected(ctx, ssid)
	return nil
}

// enterAP is idempotent per spec §4.F: every entry regenerates the AP
// password, re-applies the captive portal, and (re-)starts the AP profile.
func (o *Orchestrator) enterAP(ctx context.Context) error {
	password, err := generateAPPassword()
	if err != nil {
		return apperror.Wrap(apperror.APStartFail, "generating AP password", err)
	}

	if err := o.net.StartAP(ctx, o.id.APSSID, password, o.cfg.APChannel, o.cfg.APIP); err != nil {
		o.slog.Errorw("AP failed to start", "error", err)
	}

	if o.cfg.CaptiveOn {
		if err := o.captive.Start(ctx, o.cfg.APIP); err != nil {
			o.slog.Errorw("captive portal failed to start", "error", err)
		}
	}

	apMode := statestore.APMode
	emptySSID := ""
	emptyIP := ""
	_, err = o.store.Update(statestore.Patch{
		ConnectionState: &apMode,
		SSID:            &emptySSID,
		IPAddress:       &emptyIP,
		APPassword:      &password,
	})
	return err
}

func (o *Orchestrator) exitAP(ctx context.Context) {
	if o.cfg.CaptiveOn {
		if err := o.captive.Stop(ctx); err != nil {
			o.slog.Warnw("captive portal teardown failed", "error", err)
		}
	}
	if err := o.net.StopAP(ctx); err != nil {
		o.slog.Warnw("AP teardown failed", "error", err)
	}
}

func (o *Orchestrator) onConnected(ctx context.Context, ssid string) {
	ip, _ := o.net.PrimaryIPv4(ctx)

	o.mu.Lock()
	o.lastKnownSSID = ssid
	o.mu.Unlock()

	connected := statestore.Connected
	noErr := (*statestore.StateError)(nil)
	_, err := o.store.Update(statestore.Patch{
		ConnectionState: &connected,
		SSID:            &ssid,
		IPAddress:       &ip,
		Error:           &noErr,
	})
	if err != nil {
		o.slog.Errorw("failed persisting CONNECTED state", "error", err)
	}

	if o.cfg.TunnelOn {
		o.tun.Start(ctx)
	}
}

// bridgeTunnelStatus copies the supervisor's session into the state store
// every time it changes; the supervisor itself never touches the store
// (spec §4.E: it never blocks the orchestrator and keeps failures internal).
// It is registered once, in New, via tunnel.Supervisor.OnSessionChange, so
// the store stays current for the session's whole lifetime rather than only
// at the instant Start returns.
func (o *Orchestrator) bridgeTunnelStatus(sess tunnel.Session) {
	var url *string
	if sess.PublicURL != "" {
		u := sess.PublicURL
		url = &u
	}
	provider := statestore.TunnelNone
	switch sess.Provider {
	case tunnel.ProviderManaged:
		provider = statestore.TunnelManaged
	case tunnel.ProviderSSH:
		provider = statestore.TunnelSSH
	}
	_, _ = o.store.Update(statestore.Patch{TunnelURL: &url, TunnelProvider: &provider})
}

func (o *Orchestrator) recordFailure(ctx context.Context, cause error) {
	code := apperror.AuthFail
	msg := cause.Error()
	if ae, ok := cause.(*apperror.Error); ok {
		code = ae.Kind
		msg = ae.Message
	}

	failed := statestore.Failed
	stateErr := &statestore.StateError{Code: string(code), Message: msg}
	_, err := o.store.Update(statestore.Patch{ConnectionState: &failed, Error: &stateErr})
	if err != nil {
		o.slog.Errorw("failed persisting FAILED state", "error", err)
	}

	o.failLog.Warnf("connection attempt failed: code=%s message=%s", code, msg)

	go func() {
		time.Sleep(failedToAPDelay)
		if err := o.enterAP(context.Background()); err != nil {
			o.slog.Errorw("failed to enter AP_MODE after FAILED", "error", err)
		}
	}()
}

// Status returns the current state-store snapshot (used by the HTTP layer).
func (o *Orchestrator) Status() statestore.SystemState {
	return o.store.Get()
}

// NewSessionID mints a fresh session identifier, as spec §3 requires on
// every user-initiated connect.
func NewSessionID() string {
	return uuid.NewV4().String()
}
