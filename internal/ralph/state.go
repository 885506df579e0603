package ralph

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/agentswarm/swarm/internal/atomicio"
	"github.com/agentswarm/swarm/internal/swarmerr"
)

// StateStore persists one worker's RalphState under the same lock-then-
// atomic-write discipline as the main registry (spec §5: "same locking
// discipline as the main registry, one lock per worker").
type StateStore struct {
	dir string // ralph/<name>
}

// NewStateStore returns a store rooted at a worker's ralph state directory.
func NewStateStore(dir string) *StateStore { return &StateStore{dir: dir} }

func (s *StateStore) path() string     { return filepath.Join(s.dir, "state.json") }
func (s *StateStore) lockPath() string { return filepath.Join(s.dir, "state.json.lock") }
func (s *StateStore) corruptPath() string {
	return filepath.Join(s.dir, "state.json.corrupted")
}

// IterationLogPath returns the append-only event log path for this worker.
func (s *StateStore) IterationLogPath() string {
	return filepath.Join(s.dir, "iterations.log")
}

func (s *StateStore) lock() (func(), error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindTransient, "creating ralph state directory", err)
	}
	fl := flock.New(s.lockPath())
	if err := fl.Lock(); err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindTransient, "acquiring ralph state lock", err)
	}
	return func() { _ = fl.Unlock() }, nil
}

func (s *StateStore) loadLocked() (*State, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, swarmerr.Wrap(swarmerr.KindTransient, "reading ralph state", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		if renameErr := os.Rename(s.path(), s.corruptPath()); renameErr != nil {
			return nil, swarmerr.Wrap(swarmerr.KindStateCorruption, "recovering corrupted ralph state", renameErr)
		}
		swarmerr.PrintWarning("ralph state corrupted, recovered: %s", s.corruptPath())
		return nil, nil
	}
	return &st, nil
}

// Load returns a snapshot of the state, or nil if none exists yet.
func (s *StateStore) Load() (*State, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.loadLocked()
}

// Save persists st atomically under lock.
func (s *StateStore) Save(st *State) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	if err := atomicio.WriteJSON(s.path(), st); err != nil {
		return swarmerr.Wrap(swarmerr.KindTransient, "writing ralph state", err)
	}
	return nil
}

// Mutate loads the state (nil if absent), runs fn, and persists the result
// under one lock acquisition.
func (s *StateStore) Mutate(fn func(*State) (*State, error)) (*State, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	st, err = fn(st)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}
	if err := atomicio.WriteJSON(s.path(), st); err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindTransient, "writing ralph state", err)
	}
	return st, nil
}

// Clear removes the state file, its lock, and the iteration log, for
// `ralph clean --clean-state`.
func (s *StateStore) Clear() error {
	_ = os.Remove(s.lockPath())
	_ = os.Remove(s.corruptPath())
	_ = os.Remove(s.IterationLogPath())
	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		return swarmerr.Wrap(swarmerr.KindTransient, "removing ralph state", err)
	}
	return nil
}
