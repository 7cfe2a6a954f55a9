package orchestrator

import (
	"context"
	"time"

	"github.com/pamir-ai-pkgs/distiller-services/internal/netmgr"
	"github.com/pamir-ai-pkgs/distiller-services/internal/statestore"
)

// handleEvent dispatches a coalesced NetworkEvent from the adapter's watcher.
// Only connectivity loss while CONNECTED triggers recovery; every other
// event is logged and otherwise ignored, matching spec §4.F's closed
// transition table.
func (o *Orchestrator) handleEvent(ctx context.Context, ev netmgr.NetworkEvent) {
	o.slog.Debugw("network event", "kind", ev.Kind.String(), "ssid", ev.SSID)

	switch ev.Kind {
	case netmgr.EventConnectivityLost, netmgr.EventDeviceDisconnected:
		if o.store.Get().ConnectionState == statestore.Connected {
			o.startRecovery(ctx)
		}
	}
}

// startRecovery runs spec §4.F's recovery row: try_acquire → wait 3s →
// re-check connectivity → one ActivateProfile retry → CONNECTED, else fall
// back to AP_MODE with a fresh password. It never blocks the event loop and
// yields promptly if a user connect preempts it.
func (o *Orchestrator) startRecovery(ctx context.Context) {
	o.mu.Lock()
	if o.recoveryRunning {
		o.mu.Unlock()
		return
	}
	o.recoveryRunning = true
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			o.recoveryRunning = false
			o.mu.Unlock()
		}()
		o.runRecovery(ctx)
	}()
}

func (o *Orchestrator) runRecovery(ctx context.Context) {
	if !o.lock.TryAcquire() {
		return
	}
	defer o.lock.Release()

	select {
	case <-time.After(recoveryJitterWait):
	case <-ctx.Done():
		return
	}

	if o.lock.PreemptRequested() {
		return
	}

	if ssid, err := o.net.CurrentSSID(ctx); err == nil && ssid != "" {
		o.onConnected(ctx, ssid)
		return
	}

	o.mu.Lock()
	ssid := o.lastKnownSSID
	o.mu.Unlock()
	if ssid == "" {
		return
	}

	switching := statestore.Switching
	_, _ = o.store.Update(statestore.Patch{ConnectionState: &switching})

	if o.lock.PreemptRequested() {
		return
	}

	if err := o.net.ActivateProfile(ctx, ssid); err != nil {
		o.slog.Warnw("recovery reconnect failed, entering AP_MODE", "ssid", ssid, "error", err)
		if err := o.enterAP(ctx); err != nil {
			o.slog.Errorw("failed to enter AP_MODE after recovery failure", "error", err)
		}
		return
	}

	o.onConnected(ctx, ssid)
}
