// Package display implements the Display Sink (spec §4.H): a pull-based
// renderer that polls the State Store at a slow, bounded cadence and emits
// a frame only when the snapshot actually changed. It is a contract-only
// component — deliberately ignorant of the actual panel driver — so the
// Renderer it depends on can be swapped for hardware or a no-op in tests.
package display

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pamir-ai-pkgs/distiller-services/internal/statestore"
)

// minRenderPeriod is spec §4.H's floor: the sink never renders more often
// than this even if the store changes faster.
const minRenderPeriod = 2 * time.Second

// Frame is the minimal projection of SystemState a renderer needs; it
// excludes fields (like ap_password) a display should never show.
type Frame struct {
	State     statestore.ConnectionState
	SSID      string
	IPAddress string
	SignalDBM *int
}

func frameFrom(st statestore.SystemState) Frame {
	return Frame{State: st.ConnectionState, SSID: st.SSID, IPAddress: st.IPAddress, SignalDBM: st.SignalDBM}
}

// Renderer draws one frame. Implementations must not block longer than a
// display refresh reasonably takes; the Sink does not enforce a timeout on
// its behalf; it enforces the poll period.
type Renderer interface {
	Render(Frame)
}

// Sink is the pull-based subscriber. It never registers a Store callback —
// polling, not pushing, is what keeps it from ever blocking the
// Orchestrator's write path (spec §4.H invariant).
type Sink struct {
	store    *statestore.Store
	renderer Renderer
	slog     *zap.SugaredLogger
	period   time.Duration
}

// New builds a Sink. period is clamped up to minRenderPeriod.
func New(store *statestore.Store, renderer Renderer, slog *zap.SugaredLogger, period time.Duration) *Sink {
	if period < minRenderPeriod {
		period = minRenderPeriod
	}
	return &Sink{store: store, renderer: renderer, slog: slog, period: period}
}

// Run polls until ctx is cancelled, rendering only when the projected Frame
// differs from the last one shown.
func (s *Sink) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	last := frameFrom(s.store.Get())
	s.renderer.Render(last)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next := frameFrom(s.store.Get())
			if next != last {
				s.renderer.Render(next)
				last = next
			}
		}
	}
}
