package orchestrator

import (
	"context"
	"time"

	"github.com/pamir-ai-pkgs/distiller-services/internal/apperror"
	"github.com/pamir-ai-pkgs/distiller-services/internal/statestore"
)

// lockAcquireTimeout bounds how long a user connect waits for the
// connection lock once it has raised the preempt flag; spec §4.F's recovery
// row checks that flag at every await point, so this should resolve almost
// immediately in practice.
const lockAcquireTimeout = 10 * time.Second

// Connect implements spec §4.F's "user_connect" transition: validate,
// preempt any in-flight recovery, move to SWITCHING, tear down the AP, then
// create-or-update and activate the requested profile. It returns a fresh
// session ID on success and an *apperror.Error on every rejection path so
// the HTTP layer can map it to the right status code.
func (o *Orchestrator) Connect(ctx context.Context, ssid, psk string, hidden bool) (string, error) {
	if err := validateConnectInput(ssid, psk); err != nil {
		return "", err
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()
	if err := o.lock.Acquire(lockCtx); err != nil {
		return "", apperror.New(apperror.ScanBusy, "connection attempt already in progress")
	}
	defer o.lock.Release()

	sessionID := NewSessionID()
	switching := statestore.Switching
	if _, err := o.store.Update(statestore.Patch{ConnectionState: &switching, SessionID: &sessionID}); err != nil {
		o.slog.Errorw("failed persisting SWITCHING state", "error", err)
	}

	o.exitAP(ctx)

	if err := o.net.CreateOrUpdateProfile(ctx, ssid, psk, hidden); err != nil {
		o.recordFailure(ctx, err)
		return "", err
	}
	if err := o.net.ActivateProfile(ctx, ssid); err != nil {
		o.recordFailure(ctx, err)
		return "", err
	}

	o.onConnected(ctx, ssid)
	return sessionID, nil
}

// Disconnect implements spec §4.F's user-initiated disconnect: deactivate
// the active WiFi connection and return to AP_MODE. The saved profile is
// left on disk (Open Question, decided in DESIGN.md) so the device can
// retry it on the next boot.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	if err := o.lock.Acquire(ctx); err != nil {
		return apperror.New(apperror.ScanBusy, "connection attempt already in progress")
	}
	defer o.lock.Release()

	if err := o.net.DeactivateAllWiFi(ctx); err != nil {
		o.slog.Warnw("deactivating WiFi during disconnect", "error", err)
	}

	disconnected := statestore.Disconnected
	_, _ = o.store.Update(statestore.Patch{ConnectionState: &disconnected})

	return o.enterAP(ctx)
}
