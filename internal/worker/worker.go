// Package worker is the lifecycle façade composing internal/store,
// internal/tmux, internal/process, and internal/worktree behind the verbs
// the CLI exposes: spawn, kill, wait, clean, respawn, status (refresh),
// send, interrupt, eof, logs, attach, peek.
//
// Spawn transactionality follows the teacher's own rollback-on-spawn-
// failure discipline for worktree-backed sessions: each side effect pushes
// an undo closure, popped LIFO on any later failure, so a partially built
// worker never becomes visible in the registry.
package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentswarm/swarm/internal/process"
	"github.com/agentswarm/swarm/internal/readiness"
	"github.com/agentswarm/swarm/internal/store"
	"github.com/agentswarm/swarm/internal/swarmerr"
	"github.com/agentswarm/swarm/internal/tmux"
	"github.com/agentswarm/swarm/internal/worktree"
)

// Manager wires the store and external facades together for one state
// directory.
type Manager struct {
	Store   *store.Store
	Tmux    *tmux.Tmux
	LogDir  string
	WorkDir string // root under which per-worker worktrees are created
}

// NewManager builds a Manager. tmuxSocket may be empty to use the default
// tmux server.
func NewManager(st *store.Store, tmuxSocket, logDir, workDir string) *Manager {
	return &Manager{
		Store:   st,
		Tmux:    tmux.WithSocket(tmuxSocket),
		LogDir:  logDir,
		WorkDir: workDir,
	}
}

// SpawnOptions configures one spawn call.
type SpawnOptions struct {
	Name        string
	Cmd         []string
	Cwd         string
	Env         map[string]string
	Tags        []string
	UseTmux     bool
	UseWorktree bool
	BaseRepo    string
	Branch      string
	ReadyWait   bool
	Metadata    map[string]any
}

// Spawn creates a new worker per spec §4.5: worktree create (if requested),
// then window or process create, then registry add — in that order, with a
// rollback stack unwound on any failure so no partial worker becomes
// visible.
func (m *Manager) Spawn(opts SpawnOptions) (*store.WorkerRecord, error) {
	if opts.Name == "" {
		return nil, swarmerr.New(swarmerr.KindInvalidArgument, "worker name is required")
	}
	if len(opts.Cmd) == 0 {
		return nil, swarmerr.New(swarmerr.KindInvalidArgument, "command is required")
	}
	if existing, err := m.Store.Get(opts.Name); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, swarmerr.New(swarmerr.KindConflict, fmt.Sprintf("worker %q already exists", opts.Name))
	}

	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}

	cwd := opts.Cwd
	var wtRef *store.WorktreeRef
	if opts.UseWorktree {
		if opts.BaseRepo == "" {
			return nil, swarmerr.New(swarmerr.KindInvalidArgument, "base repo is required for worktree mode")
		}
		branch := opts.Branch
		if branch == "" {
			branch = "swarm/" + opts.Name
		}
		wtPath := filepath.Join(m.WorkDir, opts.Name)
		if err := worktree.Create(wtPath, branch, opts.BaseRepo); err != nil {
			return nil, err
		}
		undo = append(undo, func() { _ = worktree.Remove(wtPath, opts.BaseRepo, true) })
		cwd = wtPath
		wtRef = &store.WorktreeRef{Path: wtPath, Branch: branch, BaseRepo: opts.BaseRepo}
	}

	rec := &store.WorkerRecord{
		Name:      opts.Name,
		Status:    store.StatusRunning,
		Cmd:       opts.Cmd,
		StartedAt: time.Now().UTC(),
		Cwd:       cwd,
		Env:       opts.Env,
		Tags:      opts.Tags,
		Worktree:  wtRef,
		Metadata:  opts.Metadata,
	}

	if opts.UseTmux {
		session := tmux.DefaultSessionName(m.Store.Dir())
		window := opts.Name
		if err := m.Tmux.EnsureSession(session, cwd); err != nil {
			rollback()
			return nil, swarmerr.Wrap(swarmerr.KindMultiplexerError, "ensuring tmux session", err)
		}
		exists, err := m.Tmux.WindowExists(session, window)
		if err != nil {
			rollback()
			return nil, swarmerr.Wrap(swarmerr.KindMultiplexerError, "checking window", err)
		}
		if exists {
			rollback()
			return nil, swarmerr.New(swarmerr.KindConflict, fmt.Sprintf("tmux window %s:%s already exists", session, window))
		}
		if err := m.Tmux.NewWindow(session, window, cwd); err != nil {
			rollback()
			return nil, swarmerr.Wrap(swarmerr.KindMultiplexerError, "creating tmux window", err)
		}
		undo = append(undo, func() { _ = m.Tmux.KillWindow(session, window) })

		commandLine := shellJoin(opts.Cmd, opts.Env)
		if err := m.Tmux.SendKeys(session, window, commandLine, true, false); err != nil {
			rollback()
			return nil, swarmerr.Wrap(swarmerr.KindMultiplexerError, "sending spawn command", err)
		}

		rec.Tmux = &store.TmuxRef{Session: session, Window: window, Socket: m.Tmux.Socket}

		if opts.ReadyWait {
			poller := readiness.NewPoller(m.Tmux, m.Tmux)
			state, reason, err := poller.Wait(session, window)
			if err != nil {
				rollback()
				return nil, swarmerr.Wrap(swarmerr.KindMultiplexerError, "waiting for readiness", err)
			}
			if state != readiness.Ready {
				rollback()
				return nil, swarmerr.New(swarmerr.KindMultiplexerError, fmt.Sprintf("worker did not become ready: %s", reason))
			}
		}
	} else {
		pid, err := process.Spawn(opts.Name, opts.Cmd, cwd, opts.Env, m.LogDir)
		if err != nil {
			rollback()
			return nil, err
		}
		undo = append(undo, func() { _ = process.Kill(pid) })
		rec.PID = pid
		// Best-effort: an empty PIDStart just degrades SameProcess to
		// trusting the bare PID, the same fallback process.SameProcess
		// takes when ps itself is unavailable later.
		rec.PIDStart, _ = process.StartTime(pid)
	}

	if err := m.Store.Add(rec); err != nil {
		rollback()
		return nil, err
	}
	return rec, nil
}

// shellJoin quotes argv into a single command line, prefixed with any
// env-var assignments, suitable for tmux send-keys. No third-party
// shell-quoting library appears anywhere in the corpus, so this applies the
// one portable POSIX rule (wrap in single quotes, escaping embedded quotes
// as '\'') rather than reaching for an out-of-pack dependency.
func shellJoin(argv []string, env map[string]string) string {
	var parts []string
	for k, v := range env {
		parts = append(parts, fmt.Sprintf("%s=%s", k, shellQuote(v)))
	}
	for _, a := range argv {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}()<>|&;~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// RefreshStatus recomputes a record's liveness per spec §4.5 and persists
// the result. Returns the refreshed copy.
func (m *Manager) RefreshStatus(name string) (*store.WorkerRecord, error) {
	var refreshed *store.WorkerRecord
	_, err := m.Store.Mutate(func(reg *store.Registry) (*store.Registry, error) {
		w := reg.Find(name)
		if w == nil {
			return nil, swarmerr.New(swarmerr.KindNotFound, fmt.Sprintf("worker %q not found", name))
		}
		w.Status = m.computeStatus(w)
		refreshed = w.Clone()
		return reg, nil
	})
	if err != nil {
		return nil, err
	}
	return refreshed, nil
}

func (m *Manager) computeStatus(w *store.WorkerRecord) store.Status {
	if w.Tmux != nil {
		tm := m.Tmux
		if w.Tmux.Socket != tm.Socket {
			tm = tmux.WithSocket(w.Tmux.Socket)
		}
		exists, err := tm.WindowExists(w.Tmux.Session, w.Tmux.Window)
		if err != nil || !exists {
			return store.StatusStopped
		}
		return store.StatusRunning
	}
	if w.PID != 0 {
		if process.IsAlive(w.PID) && process.SameProcess(w.PID, w.PIDStart) {
			return store.StatusRunning
		}
		return store.StatusStopped
	}
	return store.StatusUnknown
}

// List returns a snapshot of all workers, each with status refreshed but
// not persisted (a pure read, per spec §8 "Refresh purity").
func (m *Manager) List() ([]*store.WorkerRecord, error) {
	reg, err := m.Store.Snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]*store.WorkerRecord, 0, len(reg.Workers))
	for _, w := range reg.Workers {
		cp := w.Clone()
		cp.Status = m.computeStatus(cp)
		out = append(out, cp)
	}
	return out, nil
}

// Get returns one worker with status refreshed but not persisted.
func (m *Manager) Get(name string) (*store.WorkerRecord, error) {
	w, err := m.Store.Get(name)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, swarmerr.New(swarmerr.KindNotFound, fmt.Sprintf("worker %q not found", name))
	}
	w.Status = m.computeStatus(w)
	return w, nil
}

// Send delivers text to a tmux-backed worker's pane. preClear selects the
// user-facing `send` semantics (escape + clear-line before the text);
// internal callers (ralph prompt injection, heartbeats) must pass false.
func (m *Manager) Send(name, text string, appendEnter, preClear bool) error {
	w, err := m.Get(name)
	if err != nil {
		return err
	}
	if w.Tmux == nil {
		return swarmerr.New(swarmerr.KindInvalidArgument, fmt.Sprintf("worker %q is not tmux-backed", name))
	}
	return m.Tmux.SendKeys(w.Tmux.Session, w.Tmux.Window, text, appendEnter, preClear)
}

// Interrupt sends Ctrl-C to a tmux-backed worker.
func (m *Manager) Interrupt(name string) error {
	w, err := m.Get(name)
	if err != nil {
		return err
	}
	if w.Tmux == nil {
		return swarmerr.New(swarmerr.KindInvalidArgument, fmt.Sprintf("worker %q is not tmux-backed", name))
	}
	return m.Tmux.SendRawKey(w.Tmux.Session, w.Tmux.Window, "C-c")
}

// EOF sends Ctrl-D to a tmux-backed worker.
func (m *Manager) EOF(name string) error {
	w, err := m.Get(name)
	if err != nil {
		return err
	}
	if w.Tmux == nil {
		return swarmerr.New(swarmerr.KindInvalidArgument, fmt.Sprintf("worker %q is not tmux-backed", name))
	}
	return m.Tmux.SendRawKey(w.Tmux.Session, w.Tmux.Window, "C-d")
}

// Peek captures the worker's current pane/log content without side effects.
func (m *Manager) Peek(name string, historyLines int) (string, error) {
	w, err := m.Get(name)
	if err != nil {
		return "", err
	}
	if w.Tmux != nil {
		return m.Tmux.CapturePane(w.Tmux.Session, w.Tmux.Window, historyLines)
	}
	data, readErr := os.ReadFile(filepath.Join(m.LogDir, name+".stdout"))
	if readErr != nil {
		return "", swarmerr.Wrap(swarmerr.KindTransient, "reading log", readErr)
	}
	return string(data), nil
}

// LogPaths returns the stdout/stderr log file paths for a worker. Only
// bare-process workers write these files; a tmux-backed worker's output
// lives in its pane scrollback instead.
func (m *Manager) LogPaths(name string) (stdout, stderr string) {
	return filepath.Join(m.LogDir, name+".stdout"), filepath.Join(m.LogDir, name+".stderr")
}

// AttachArgs returns the tmux argv to exec for an interactive attach.
func (m *Manager) AttachArgs(name string) ([]string, error) {
	w, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	if w.Tmux == nil {
		return nil, swarmerr.New(swarmerr.KindInvalidArgument, fmt.Sprintf("worker %q is not tmux-backed", name))
	}
	tm := m.Tmux
	if w.Tmux.Socket != tm.Socket {
		tm = tmux.WithSocket(w.Tmux.Socket)
	}
	return tm.AttachArgs(w.Tmux.Session, w.Tmux.Window), nil
}

// Wait polls until the worker is no longer running, or timeout elapses.
// Returns true if it exited within the timeout. A timeout <= 0 means no
// limit.
func (m *Manager) Wait(name string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = time.Duration(1<<63 - 1)
	}
	w, err := m.Get(name)
	if err != nil {
		return false, err
	}
	if w.Tmux != nil {
		tm := m.Tmux
		if w.Tmux.Socket != tm.Socket {
			tm = tmux.WithSocket(w.Tmux.Socket)
		}
		return tm.WaitForWindowGone(w.Tmux.Session, w.Tmux.Window, timeout)
	}
	if w.PID != 0 {
		deadline := time.Now().Add(timeout)
		for time.Now().Before(deadline) {
			if !process.IsAlive(w.PID) {
				return true, nil
			}
			time.Sleep(500 * time.Millisecond)
		}
		return !process.IsAlive(w.PID), nil
	}
	return true, nil
}

// Kill escalates per spec §4.5: SIGTERM/SIGKILL for bare processes; kill the
// window for tmux workers, tearing down the session if it was the last
// window in it.
func (m *Manager) Kill(name string) error {
	w, err := m.Get(name)
	if err != nil {
		return err
	}

	if w.Tmux != nil {
		tm := m.Tmux
		if w.Tmux.Socket != tm.Socket {
			tm = tmux.WithSocket(w.Tmux.Socket)
		}
		hasOthers, err := tm.SessionHasOtherWindows(w.Tmux.Session, w.Tmux.Window)
		if err != nil {
			return swarmerr.Wrap(swarmerr.KindMultiplexerError, "checking session occupancy", err)
		}
		if err := tm.KillWindow(w.Tmux.Session, w.Tmux.Window); err != nil {
			return swarmerr.Wrap(swarmerr.KindMultiplexerError, "killing window", err)
		}
		if !hasOthers {
			if err := tm.KillSession(w.Tmux.Session); err != nil {
				return swarmerr.Wrap(swarmerr.KindMultiplexerError, "killing empty session", err)
			}
		}
	} else if w.PID != 0 {
		if err := process.Kill(w.PID); err != nil {
			return err
		}
	}

	return m.Store.Update(name, func(rec *store.WorkerRecord) {
		rec.Status = store.StatusStopped
	})
}

// Clean removes a stopped worker's worktree and log files and erases its
// record. Requires status=stopped (refreshed first); refuses if the worker
// has become running again in the meantime.
func (m *Manager) Clean(name string) error {
	w, err := m.RefreshStatus(name)
	if err != nil {
		return err
	}
	if w.Status == store.StatusRunning {
		return swarmerr.New(swarmerr.KindConflict, fmt.Sprintf("worker %q is still running", name))
	}

	if w.Worktree != nil {
		if err := worktree.Remove(w.Worktree.Path, w.Worktree.BaseRepo, true); err != nil {
			return err
		}
	}
	stdout, stderr := m.LogPaths(name)
	_ = os.Remove(stdout)
	_ = os.Remove(stderr)

	return m.Store.Remove(name)
}

// CleanBatch refreshes each candidate and cleans only those still stopped,
// skipping (with a caller-visible warning list) any that became running
// again, per spec §4.5.
func (m *Manager) CleanBatch(names []string) (cleaned, skipped []string, err error) {
	for _, name := range names {
		w, rerr := m.RefreshStatus(name)
		if rerr != nil {
			return cleaned, skipped, rerr
		}
		if w.Status == store.StatusRunning {
			skipped = append(skipped, name)
			continue
		}
		if cerr := m.Clean(name); cerr != nil {
			return cleaned, skipped, cerr
		}
		cleaned = append(cleaned, name)
	}
	return cleaned, skipped, nil
}

// Respawn reads the saved record and spawns it again, preserving cmd, cwd,
// env, tags, tmux/worktree mode, branch, and metadata (so the ralph flag
// round-trips). cleanFirst removes the existing worktree before recreating;
// otherwise the existing worktree is reused in place.
func (m *Manager) Respawn(name string, cleanFirst bool) (*store.WorkerRecord, error) {
	w, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	if w.Status == store.StatusRunning {
		return nil, swarmerr.New(swarmerr.KindConflict, fmt.Sprintf("worker %q is still running", name))
	}

	opts := SpawnOptions{
		Name:     name,
		Cmd:      w.Cmd,
		Cwd:      w.Cwd,
		Env:      w.Env,
		Tags:     w.Tags,
		UseTmux:  w.Tmux != nil,
		Metadata: w.Metadata,
	}
	var keptWorktree *store.WorktreeRef
	if w.Worktree != nil && !cleanFirst {
		// Cwd already points into the worktree; recreating it would fail
		// with ErrPathExists.
		keptWorktree = w.Worktree
	} else if w.Worktree != nil {
		opts.UseWorktree = true
		opts.BaseRepo = w.Worktree.BaseRepo
		opts.Branch = w.Worktree.Branch
		if cleanFirst {
			if err := worktree.Remove(w.Worktree.Path, w.Worktree.BaseRepo, true); err != nil {
				return nil, err
			}
			// Spawn recreates the same branch name via `worktree add -b`,
			// which fails ErrBranchExists against a branch whose worktree
			// was just removed but that git still remembers.
			if err := worktree.DeleteBranch(w.Worktree.BaseRepo, w.Worktree.Branch); err != nil {
				return nil, err
			}
		}
	}

	if err := m.Store.Remove(name); err != nil {
		return nil, err
	}
	rec, err := m.Spawn(opts)
	if err != nil {
		return nil, err
	}
	if keptWorktree != nil {
		rec.Worktree = keptWorktree
		if err := m.Store.Update(name, func(r *store.WorkerRecord) { r.Worktree = keptWorktree }); err != nil {
			return nil, err
		}
	}
	return rec, nil
}
