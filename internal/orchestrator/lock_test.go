package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnLockTryAcquireExclusive(t *testing.T) {
	l := newConnLock()
	require.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}

func TestConnLockAcquireSetsPreemptUntilHeld(t *testing.T) {
	l := newConnLock()
	require.True(t, l.TryAcquire()) // simulate recovery holding the lock
	assert.False(t, l.PreemptRequested())

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Acquire(ctx)
		close(done)
	}()

	require.Eventually(t, l.PreemptRequested, time.Second, time.Millisecond)

	l.Release() // recovery yields
	<-done
	assert.False(t, l.PreemptRequested())
}

func TestConnLockAcquireTimesOut(t *testing.T) {
	l := newConnLock()
	require.True(t, l.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	assert.Error(t, err)
}
