package statestore

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store, err := New("/state", zap.NewNop().Sugar(), WithFs(fs))
	require.NoError(t, err)
	return store, fs
}

func TestNewStartsDisconnected(t *testing.T) {
	store, _ := newTestStore(t)
	st := store.Get()
	assert.Equal(t, Disconnected, st.ConnectionState)
	assert.Equal(t, TunnelNone, st.TunnelProvider)
}

func TestUpdateMergesAndPersists(t *testing.T) {
	store, fs := newTestStore(t)

	apMode := APMode
	ssid := ""
	password := "abc123XYZ!@#"
	_, err := store.Update(Patch{ConnectionState: &apMode, SSID: &ssid, APPassword: &password})
	require.NoError(t, err)

	assert.Equal(t, APMode, store.Get().ConnectionState)
	assert.Equal(t, password, store.Get().APPassword)

	data, err := afero.ReadFile(fs, "/state/state.json")
	require.NoError(t, err)

	var onDisk SystemState
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Empty(t, onDisk.APPassword, "ap_password must never be persisted to disk")
	assert.Equal(t, APMode, onDisk.ConnectionState)
}

func TestLoadStripsPasswordFromExistingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	seed := SystemState{ConnectionState: APMode, APPassword: "leftover-secret"}
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/state/state.json", data, 0o644))

	store, err := New("/state", zap.NewNop().Sugar(), WithFs(fs))
	require.NoError(t, err)

	assert.Empty(t, store.Get().APPassword)
	assert.Equal(t, APMode, store.Get().ConnectionState)
}

func TestOnChangeReceivesOldAndNew(t *testing.T) {
	store, _ := newTestStore(t)

	var gotOld, gotNew SystemState
	calls := 0
	store.OnChange(func(old, new SystemState) {
		gotOld, gotNew = old, new
		calls++
	})

	connecting := Connecting
	_, err := store.Update(Patch{ConnectionState: &connecting})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, Disconnected, gotOld.ConnectionState)
	assert.Equal(t, Connecting, gotNew.ConnectionState)
}

func TestOnChangeSurvivesPanickingCallback(t *testing.T) {
	store, _ := newTestStore(t)

	store.OnChange(func(old, new SystemState) { panic("boom") })

	secondCalled := false
	store.OnChange(func(old, new SystemState) { secondCalled = true })

	connecting := Connecting
	assert.NotPanics(t, func() {
		_, err := store.Update(Patch{ConnectionState: &connecting})
		require.NoError(t, err)
	})
	assert.True(t, secondCalled)
}

func TestOffChangeStopsDelivery(t *testing.T) {
	store, _ := newTestStore(t)

	calls := 0
	token := store.OnChange(func(old, new SystemState) { calls++ })
	store.OffChange(token)

	connecting := Connecting
	_, err := store.Update(Patch{ConnectionState: &connecting})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

// TestConcurrentUpdatesDoNotInterleaveCallbackPasses locks in spec §5: all
// callbacks for a given update must finish before the next update's
// callback pass begins, even when two writers race.
func TestConcurrentUpdatesDoNotInterleaveCallbackPasses(t *testing.T) {
	store, _ := newTestStore(t)

	var mu sync.Mutex
	inProgress := false
	overlapDetected := false

	store.OnChange(func(old, new SystemState) {
		mu.Lock()
		if inProgress {
			overlapDetected = true
		}
		inProgress = true
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		inProgress = false
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			connecting := Connecting
			_, err := store.Update(Patch{ConnectionState: &connecting})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, overlapDetected, "a second update's callback pass began before the first one finished")
}
