// Package store implements the crash-safe, lock-serialized worker registry
// described in spec §4.1: a sibling lock file guards the full read-modify-
// write window, writes are atomic (temp + rename), and a corrupt file is
// recovered by renaming it aside and substituting an empty registry.
//
// Grounded on the teacher's internal/quota.Manager, which persists a small
// JSON document under an identical flock-guarded, atomic-write discipline.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/agentswarm/swarm/internal/atomicio"
	"github.com/agentswarm/swarm/internal/swarmerr"
)

// Store is the worker registry for one state directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is created lazily on
// first write; New itself never touches disk.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the state directory this store is rooted at, used by callers
// that need to derive a stable value from it (e.g. the default tmux session
// name digest).
func (s *Store) Dir() string { return s.dir }

func (s *Store) statePath() string { return filepath.Join(s.dir, "state.json") }
func (s *Store) lockPath() string  { return filepath.Join(s.dir, "state.json.lock") }
func (s *Store) corruptPath() string {
	return filepath.Join(s.dir, "state.json.corrupted")
}

// lock acquires the exclusive advisory lock for the full read-modify-write
// window. Callers must defer the returned unlock.
func (s *Store) lock() (func(), error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindTransient, "creating state directory", err)
	}
	fl := flock.New(s.lockPath())
	if err := fl.Lock(); err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindTransient, "acquiring state lock", err)
	}
	return func() { _ = fl.Unlock() }, nil
}

// loadLocked reads the registry file. Caller must hold the lock. A missing
// file yields an empty registry; a non-parseable file is recovered per
// spec §4.1 (renamed aside, warning printed, empty registry substituted).
func (s *Store) loadLocked() (*Registry, error) {
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{}, nil
		}
		return nil, swarmerr.Wrap(swarmerr.KindTransient, "reading state file", err)
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		if renameErr := os.Rename(s.statePath(), s.corruptPath()); renameErr != nil {
			return nil, swarmerr.Wrap(swarmerr.KindStateCorruption, "recovering corrupted state file", renameErr)
		}
		swarmerr.PrintWarning("state store corrupted, recovered: %s", s.corruptPath())
		return &Registry{}, nil
	}
	return &reg, nil
}

func (s *Store) saveLocked(reg *Registry) error {
	if err := atomicio.WriteJSON(s.statePath(), reg); err != nil {
		return swarmerr.Wrap(swarmerr.KindTransient, "writing state file", err)
	}
	return nil
}

// Snapshot returns a point-in-time copy of the registry under lock.
func (s *Store) Snapshot() (*Registry, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.loadLocked()
}

// Mutate loads the registry, runs fn (which may mutate it in place and/or
// return a replacement), and persists the result — all under one lock
// acquisition, so the read-modify-write window is atomic across processes.
func (s *Store) Mutate(fn func(*Registry) (*Registry, error)) (*Registry, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	reg, err := s.loadLocked()
	if err != nil {
		return nil, err
	}

	reg, err = fn(reg)
	if err != nil {
		return nil, err
	}

	if err := s.saveLocked(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Add inserts a new worker record, failing with a Conflict error if the
// name is already taken (spec §3 invariant: name is unique).
func (s *Store) Add(w *WorkerRecord) error {
	_, err := s.Mutate(func(reg *Registry) (*Registry, error) {
		if reg.Find(w.Name) != nil {
			return nil, swarmerr.New(swarmerr.KindConflict, fmt.Sprintf("worker %q already exists", w.Name))
		}
		reg.Workers = append(reg.Workers, w)
		return reg, nil
	})
	return err
}

// Remove deletes a worker record by name. Not found is not an error —
// callers that need existence checks should Get first.
func (s *Store) Remove(name string) error {
	_, err := s.Mutate(func(reg *Registry) (*Registry, error) {
		out := reg.Workers[:0]
		for _, w := range reg.Workers {
			if w.Name != name {
				out = append(out, w)
			}
		}
		reg.Workers = out
		return reg, nil
	})
	return err
}

// Update applies changes to an existing record under lock. changes receives
// the stored record and mutates it in place. Fails with NotFound if the
// worker doesn't exist.
func (s *Store) Update(name string, changes func(*WorkerRecord)) error {
	_, err := s.Mutate(func(reg *Registry) (*Registry, error) {
		w := reg.Find(name)
		if w == nil {
			return nil, swarmerr.New(swarmerr.KindNotFound, fmt.Sprintf("worker %q not found", name))
		}
		changes(w)
		return reg, nil
	})
	return err
}

// Get returns a copy of the named worker record, or nil if absent. This is
// a read path and never persists (spec §8 "Refresh purity" — callers that
// additionally refresh liveness must not feed the refreshed value back
// through Update).
func (s *Store) Get(name string) (*WorkerRecord, error) {
	reg, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	w := reg.Find(name)
	if w == nil {
		return nil, nil
	}
	return w.Clone(), nil
}
