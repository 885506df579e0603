package ralph

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/agentswarm/swarm/internal/process"
	"github.com/agentswarm/swarm/internal/swarmerr"
	"github.com/agentswarm/swarm/internal/worker"
)

// Controller is the ralph control surface the CLI's `ralph` subtree drives:
// spawn, run, status, pause, resume, list, logs, clean, stop (spec §4.8).
type Controller struct {
	Manager  *worker.Manager
	RalphDir string // $SWARM_HOME/ralph
}

// NewController builds a Controller rooted at ralphDir.
func NewController(mgr *worker.Manager, ralphDir string) *Controller {
	return &Controller{Manager: mgr, RalphDir: ralphDir}
}

func (c *Controller) workerDir(name string) string { return filepath.Join(c.RalphDir, name) }

// StoreFor returns the per-worker state store, creating no files yet.
func (c *Controller) StoreFor(name string) *StateStore {
	return NewStateStore(c.workerDir(name))
}

// SpawnOptions configures `ralph spawn` (spec §4.8 / §6 flags).
type SpawnOptions struct {
	Name        string
	Cmd         []string
	Cwd         string
	BaseRepo    string
	Branch      string
	Tags        []string
	Env         map[string]string
	UseWorktree bool

	PromptFile          string
	MaxIterations       int
	InactivityTimeout   int
	InactivityMode      InactivityMode
	DonePattern         string
	CheckDoneContinuous *bool // nil means "default to donePattern != """
	MaxContext          int

	Replace    bool
	CleanState bool
	NoRun      bool
	Foreground bool
}

// Spawn creates the underlying tmux-backed worker and its RalphState, per
// the ordering in spec §4.5/§4.8: worker first, then state. It does not
// start the monitor; callers follow up with RunForeground or
// StartBackground unless NoRun is set.
func (c *Controller) Spawn(opts SpawnOptions) (*State, error) {
	if opts.Name == "" {
		return nil, swarmerr.New(swarmerr.KindInvalidArgument, "worker name is required")
	}
	if opts.PromptFile == "" {
		return nil, swarmerr.New(swarmerr.KindInvalidArgument, "--prompt-file is required")
	}
	if _, err := os.Stat(opts.PromptFile); err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInvalidArgument, "reading prompt file", err)
	}

	if opts.Replace {
		if existing, _ := c.Manager.Get(opts.Name); existing != nil {
			if err := c.Manager.Kill(opts.Name); err != nil {
				swarmerr.PrintWarning("kill before replace: %v", err)
			}
			if err := c.Manager.Clean(opts.Name); err != nil {
				swarmerr.PrintWarning("clean before replace: %v", err)
			}
		}
	}
	if opts.CleanState {
		if err := c.StoreFor(opts.Name).Clear(); err != nil {
			return nil, err
		}
	}

	metadata := map[string]any{"ralph": true, "ralph_iteration": 1}
	_, err := c.Manager.Spawn(worker.SpawnOptions{
		Name:        opts.Name,
		Cmd:         opts.Cmd,
		Cwd:         opts.Cwd,
		Env:         opts.Env,
		Tags:        opts.Tags,
		UseTmux:     true,
		UseWorktree: opts.UseWorktree,
		BaseRepo:    opts.BaseRepo,
		Branch:      opts.Branch,
		ReadyWait:   true,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}

	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 50
	}
	inactivityTimeout := opts.InactivityTimeout
	if inactivityTimeout <= 0 {
		inactivityTimeout = 60
	}
	mode := opts.InactivityMode
	if mode == "" {
		mode = InactivityOutput
	}

	st := NewState(opts.Name, opts.PromptFile, maxIterations, inactivityTimeout, mode, opts.DonePattern, opts.MaxContext)
	if opts.CheckDoneContinuous != nil {
		st.CheckDoneContinuous = *opts.CheckDoneContinuous
	}

	store := c.StoreFor(opts.Name)
	if err := store.Save(st); err != nil {
		_ = c.Manager.Kill(opts.Name)
		_ = c.Manager.Clean(opts.Name)
		return nil, err
	}
	_ = AppendEvent(store.IterationLogPath(), EventStart, st.Iteration, "spawned")
	return st, nil
}

// RunForeground drives the monitor loop to completion in the calling
// process, recording its own PID as the monitor (spec §4.8 `--foreground`).
// It installs the signal handling spec §4.6 requires of the monitor
// process: SIGTERM pauses the loop (the current iteration keeps running;
// the next outer-loop pass sees status=paused and stops advancing),
// SIGINT stops it outright (for a foreground run killed from its own
// terminal with Ctrl-C).
func (c *Controller) RunForeground(name string) error {
	store := c.StoreFor(name)
	if _, err := store.Mutate(func(s *State) (*State, error) {
		if s == nil {
			return nil, swarmerr.New(swarmerr.KindNotFound, fmt.Sprintf("no ralph state for %q", name))
		}
		s.MonitorPID = os.Getpid()
		return s, nil
	}); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go handleMonitorSignals(sigCh, store)

	mon := NewMonitor(name, c.Manager, store, func() error {
		return c.respawnWorkerWindow(name)
	})
	return mon.Run()
}

// handleMonitorSignals runs for the lifetime of the monitor process,
// translating external signals into RalphState transitions the outer loop
// (Monitor.Run) observes on its next pass.
func handleMonitorSignals(sigCh <-chan os.Signal, store *StateStore) {
	for sig := range sigCh {
		switch sig {
		case syscall.SIGTERM:
			st, err := store.Mutate(func(s *State) (*State, error) {
				if s == nil {
					return nil, nil
				}
				if s.Status == StatusRunning {
					s.Status = StatusPaused
				}
				return s, nil
			})
			if err == nil && st != nil {
				_ = AppendEvent(store.IterationLogPath(), EventPause, st.Iteration, "sigterm")
			}
		case syscall.SIGINT:
			st, err := store.Mutate(func(s *State) (*State, error) {
				if s == nil {
					return nil, nil
				}
				s.Status = StatusStopped
				s.ExitReason = ExitSigterm
				return s, nil
			})
			if err == nil && st != nil {
				_ = AppendEvent(store.IterationLogPath(), EventEnd, st.Iteration, "sigint")
			}
			return
		}
	}
}

// StartBackground re-execs swarmBinary as `ralph run --internal <name>`,
// detached, recording its PID as the monitor (spec §4.8 default mode).
func (c *Controller) StartBackground(name, swarmBinary string) (int, error) {
	store := c.StoreFor(name)
	pid, err := process.Spawn(name+"-ralph-monitor", []string{swarmBinary, "ralph", "run", "--internal", name}, "", nil, c.Manager.LogDir)
	if err != nil {
		return 0, err
	}
	_, err = store.Mutate(func(s *State) (*State, error) {
		if s == nil {
			return nil, swarmerr.New(swarmerr.KindNotFound, fmt.Sprintf("no ralph state for %q", name))
		}
		s.MonitorPID = pid
		return s, nil
	})
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// respawnWorkerWindow re-spawns the underlying tmux worker after its window
// has vanished, preserving cmd/cwd/env/tags (same shape as Manager.Respawn
// but without touching RalphState).
func (c *Controller) respawnWorkerWindow(name string) error {
	_, err := c.Manager.Respawn(name, false)
	return err
}

// Status returns the current RalphState, or nil if the worker has never run
// under ralph.
func (c *Controller) Status(name string) (*State, error) {
	return c.StoreFor(name).Load()
}

// Pause transitions a running worker to paused; the monitor observes this
// on its next outer-loop poll (spec §4.8, §5 cooperative cancellation).
func (c *Controller) Pause(name string) error {
	store := c.StoreFor(name)
	st, err := store.Mutate(func(s *State) (*State, error) {
		if s == nil {
			return nil, swarmerr.New(swarmerr.KindNotFound, fmt.Sprintf("no ralph state for %q", name))
		}
		if s.Status != StatusRunning {
			return nil, swarmerr.New(swarmerr.KindConflict, fmt.Sprintf("worker %q is not running", name))
		}
		s.Status = StatusPaused
		return s, nil
	})
	if err != nil {
		return err
	}
	return AppendEvent(store.IterationLogPath(), EventPause, st.Iteration, "paused")
}

// Resume transitions a paused worker back to running.
func (c *Controller) Resume(name string) error {
	store := c.StoreFor(name)
	_, err := store.Mutate(func(s *State) (*State, error) {
		if s == nil {
			return nil, swarmerr.New(swarmerr.KindNotFound, fmt.Sprintf("no ralph state for %q", name))
		}
		if s.Status != StatusPaused {
			return nil, swarmerr.New(swarmerr.KindConflict, fmt.Sprintf("worker %q is not paused", name))
		}
		s.Status = StatusRunning
		return s, nil
	})
	return err
}

// Stop requests the monitor to exit: marks the state stopped and sends
// SIGTERM to the recorded monitor PID if it's alive (spec §4.8, §5).
func (c *Controller) Stop(name string) error {
	store := c.StoreFor(name)
	st, err := store.Mutate(func(s *State) (*State, error) {
		if s == nil {
			return nil, swarmerr.New(swarmerr.KindNotFound, fmt.Sprintf("no ralph state for %q", name))
		}
		s.Status = StatusStopped
		s.ExitReason = ExitSigterm
		return s, nil
	})
	if err != nil {
		return err
	}
	if st.MonitorPID > 0 && process.IsAlive(st.MonitorPID) {
		_ = syscall.Kill(st.MonitorPID, syscall.SIGTERM)
	}
	return nil
}

// List returns every ralph worker's state, sorted by name, for `ralph list`.
func (c *Controller) List() ([]*State, error) {
	entries, err := os.ReadDir(c.RalphDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, swarmerr.Wrap(swarmerr.KindTransient, "reading ralph directory", err)
	}
	var out []*State
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st, err := c.StoreFor(e.Name()).Load()
		if err != nil {
			swarmerr.PrintWarning("skipping %s: %v", e.Name(), err)
			continue
		}
		if st != nil {
			out = append(out, st)
		}
	}
	return out, nil
}

// Logs returns the full iteration log for `ralph logs`.
func (c *Controller) Logs(name string) ([]string, error) {
	return ReadLog(c.StoreFor(name).IterationLogPath())
}

// Clean removes the ralph worker: the underlying registry entry via
// internal/worker, and (if cleanState) the saved RalphState and iteration
// log too.
func (c *Controller) Clean(name string, cleanState bool) error {
	if err := c.Manager.Clean(name); err != nil {
		if kind, ok := swarmerr.As(err); !ok || kind != swarmerr.KindNotFound {
			return err
		}
	}
	if cleanState {
		return c.StoreFor(name).Clear()
	}
	return nil
}

// templatePrompt is the built-in text seeded by `ralph init`/`ralph
// template` (spec §4.8 expansion) when the caller has no prompt file yet.
const templatePrompt = `You are working autonomously in a loop. Each time you
are invoked you start with a fresh context window; nothing from a previous
iteration is remembered except what you have written to the repository.

Read the task state, make one concrete unit of forward progress, and commit
it. When the task is completely finished, say /done on its own line.
`

// Init seeds dir/prompt.md with the built-in template if it doesn't already
// exist, returning the path.
func (c *Controller) Init(name string) (string, error) {
	dir := c.workerDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", swarmerr.Wrap(swarmerr.KindTransient, "creating ralph directory", err)
	}
	path := filepath.Join(dir, "prompt.md")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", swarmerr.Wrap(swarmerr.KindTransient, "checking prompt file", err)
	}
	if err := os.WriteFile(path, []byte(templatePrompt), 0o644); err != nil {
		return "", swarmerr.Wrap(swarmerr.KindTransient, "writing prompt template", err)
	}
	return path, nil
}
