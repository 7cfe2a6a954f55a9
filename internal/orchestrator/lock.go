package orchestrator

import (
	"context"

	"github.com/tevino/abool"
)

// connLock is the single process-wide, non-reentrant connection lock spec
// §4.F and §5 describe. Auto-recovery holds it via TryAcquire and must
// release promptly once preempt() reports true; a user connect calls
// Acquire, which first raises the preempt flag so any recovery holder yields
// at its next check, then blocks for the lock.
type connLock struct {
	ch      chan struct{}
	preempt *abool.AtomicBool
}

func newConnLock() *connLock {
	l := &connLock{
		ch:      make(chan struct{}, 1),
		preempt: abool.New(),
	}
	l.ch <- struct{}{}
	return l
}

// TryAcquire attempts a non-blocking acquire, for auto-recovery.
func (l *connLock) TryAcquire() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// Acquire publishes the preempt flag (so any recovery holder yields at its
// next await point) and then blocks until the lock is free or ctx is done.
func (l *connLock) Acquire(ctx context.Context) error {
	l.preempt.Set()
	defer l.preempt.UnSet()

	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns the lock to the free state.
func (l *connLock) Release() {
	select {
	case l.ch <- struct{}{}:
	default:
		// already free; Release called without a matching acquire is a
		// caller bug, but we never want to panic the orchestrator loop.
	}
}

// PreemptRequested reports whether a user connect is waiting for the lock.
// Auto-recovery checks this at every await point and yields promptly.
func (l *connLock) PreemptRequested() bool {
	return l.preempt.IsSet()
}
