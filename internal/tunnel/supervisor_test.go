package tunnel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPickInitialStateWithoutTokenFileGoesStraightToSSH(t *testing.T) {
	s := New(Config{ManagedTokenFile: "/does/not/exist"}, zap.NewNop().Sugar())
	assert.Equal(t, StartingSSH, s.pickInitialState())
}

func TestCheckManagedHealthOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(Config{ManagedHealthURL: srv.URL}, zap.NewNop().Sugar())
	assert.True(t, s.checkManagedHealth(context.Background()))
}

func TestCheckManagedHealthFailsOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := New(Config{ManagedHealthURL: srv.URL}, zap.NewNop().Sugar())
	assert.False(t, s.checkManagedHealth(context.Background()))
}

func TestCheckManagedHealthFailsWithoutURL(t *testing.T) {
	s := New(Config{}, zap.NewNop().Sugar())
	assert.False(t, s.checkManagedHealth(context.Background()))
}

func TestStatusDefaultsToNoProvider(t *testing.T) {
	s := New(Config{}, zap.NewNop().Sugar())
	assert.Equal(t, ProviderNone, s.Status().Provider)
}

func TestStopIsSafeWithoutStart(t *testing.T) {
	s := New(Config{}, zap.NewNop().Sugar())
	require.NotPanics(t, s.Stop)
	assert.Equal(t, ProviderNone, s.Status().Provider)
}

func TestStartThenStopReturnsToIdle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(Config{ManagedHealthURL: srv.URL, ManagedTokenFile: "/does/not/exist"}, zap.NewNop().Sugar())
	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	assert.Equal(t, ProviderNone, s.Status().Provider)
}
