package statestore

import (
	"encoding/json"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ChangeFunc is a registered callback, invoked with the pre- and
// post-update snapshots after a successful persist. Callbacks run serially,
// in registration order; a panic/error in one must not block the rest, nor
// roll back the state (spec §4.B).
type ChangeFunc func(old, new SystemState)

// Store is the single, process-wide state store (spec §4.B). Get takes only
// the state mutex, so it never waits on a callback. Update holds a separate
// updateMu across the whole write-then-dispatch sequence, so a second
// Update cannot begin mutating state until the first update's entire
// callback pass has finished, per spec §5's ordering guarantee.
type Store struct {
	fs   afero.Fs
	path string
	slog *zap.SugaredLogger

	updateMu sync.Mutex // serializes Update end-to-end, including dispatch

	mu      sync.Mutex // guards current
	current SystemState

	callbacks []ChangeFunc
	cbMu      sync.Mutex // guards callbacks slice independent of Update
}

// Option configures New.
type Option func(*Store)

// WithFs overrides the filesystem backing persistence, for tests.
func WithFs(fs afero.Fs) Option {
	return func(s *Store) { s.fs = fs }
}

// New creates a Store rooted at stateDir/state.json, loading any existing
// snapshot (sans ap_password, which is never persisted and is left unset on
// load per spec §4.B).
func New(stateDir string, slog *zap.SugaredLogger, opts ...Option) (*Store, error) {
	s := &Store{
		fs:   afero.NewOsFs(),
		path: filepath.Join(stateDir, "state.json"),
		slog: slog,
		current: SystemState{
			ConnectionState: Disconnected,
			TunnelProvider:  TunnelNone,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.fs.MkdirAll(stateDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating state directory")
	}

	if data, err := afero.ReadFile(s.fs, s.path); err == nil {
		var loaded SystemState
		if err := json.Unmarshal(data, &loaded); err != nil {
			slog.Warnw("state.json is corrupt; starting from defaults", "error", err)
		} else {
			loaded.APPassword = ""
			s.current = loaded
		}
	}

	return s, nil
}

// Get returns the current snapshot. It never blocks on Update.
func (s *Store) Get() SystemState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// OnChange registers a callback, returning a token usable with OffChange.
func (s *Store) OnChange(cb ChangeFunc) int {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, cb)
	return len(s.callbacks) - 1
}

// OffChange removes a previously registered callback by its token.
func (s *Store) OffChange(token int) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if token < 0 || token >= len(s.callbacks) {
		return
	}
	s.callbacks[token] = nil
}

// Update atomically merges patch onto the current state, persists it, and
// then invokes every registered callback in order before returning. All
// callbacks for this Update complete before the next Update's callback pass
// begins, per spec §5's ordering guarantee.
func (s *Store) Update(patch Patch) (SystemState, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.Lock()
	old := s.current
	next := old.apply(patch)
	s.mu.Unlock()

	if err := s.persist(next); err != nil {
		return old, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	s.dispatch(old, next)
	return next, nil
}

// persist writes the redacted snapshot to a temp file on the same
// filesystem and renames it into place, which is atomic on POSIX.
func (s *Store) persist(state SystemState) error {
	data, err := json.MarshalIndent(state.Redacted(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling state")
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "writing temp state file")
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "renaming state file into place")
	}
	return nil
}

func (s *Store) dispatch(old, new SystemState) {
	s.cbMu.Lock()
	cbs := make([]ChangeFunc, len(s.callbacks))
	copy(cbs, s.callbacks)
	s.cbMu.Unlock()

	for _, cb := range cbs {
		if cb == nil {
			continue
		}
		s.safeInvoke(cb, old, new)
	}
}

func (s *Store) safeInvoke(cb ChangeFunc, old, new SystemState) {
	defer func() {
		if r := recover(); r != nil {
			s.slog.Errorw("state-change callback panicked", "panic", r)
		}
	}()
	cb(old, new)
}
