package ralph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentswarm/swarm/internal/store"
	"github.com/agentswarm/swarm/internal/worker"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	dir := t.TempDir()
	st := store.New(filepath.Join(dir, "state"))
	mgr := worker.NewManager(st, "swarm-ralph-test-"+t.Name(), filepath.Join(dir, "logs"), filepath.Join(dir, "work"))
	return NewController(mgr, filepath.Join(dir, "ralph"))
}

func seedState(t *testing.T, c *Controller, name string, status Status) *State {
	t.Helper()
	st := NewState(name, "/dev/null", 50, 60, InactivityOutput, "", 0)
	st.Status = status
	if err := c.StoreFor(name).Save(st); err != nil {
		t.Fatalf("seeding state: %v", err)
	}
	return st
}

func TestInitWritesTemplateOnceAndIsIdempotent(t *testing.T) {
	c := newTestController(t)

	path, err := c.Init("r1")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading template: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty prompt template")
	}

	if err := os.WriteFile(path, []byte("custom prompt"), 0o644); err != nil {
		t.Fatalf("overwriting: %v", err)
	}

	path2, err := c.Init("r1")
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if path2 != path {
		t.Fatalf("expected same path, got %s vs %s", path2, path)
	}
	data2, err := os.ReadFile(path2)
	if err != nil {
		t.Fatalf("reading after second init: %v", err)
	}
	if string(data2) != "custom prompt" {
		t.Fatal("Init must not overwrite an existing prompt file")
	}
}

func TestPauseResumeLifecycle(t *testing.T) {
	c := newTestController(t)
	seedState(t, c, "r1", StatusRunning)

	if err := c.Pause("r1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	st, err := c.Status("r1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != StatusPaused {
		t.Fatalf("expected paused, got %v", st.Status)
	}

	if err := c.Pause("r1"); err == nil {
		t.Fatal("expected error pausing an already-paused worker")
	}

	if err := c.Resume("r1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	st, err = c.Status("r1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != StatusRunning {
		t.Fatalf("expected running, got %v", st.Status)
	}
}

func TestResumeRequiresPaused(t *testing.T) {
	c := newTestController(t)
	seedState(t, c, "r1", StatusRunning)

	if err := c.Resume("r1"); err == nil {
		t.Fatal("expected error resuming a non-paused worker")
	}
}

func TestStopMarksStateStopped(t *testing.T) {
	c := newTestController(t)
	seedState(t, c, "r1", StatusRunning)

	if err := c.Stop("r1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st, err := c.Status("r1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != StatusStopped {
		t.Fatalf("expected stopped, got %v", st.Status)
	}
	if st.ExitReason != ExitSigterm {
		t.Fatalf("expected sigterm exit reason, got %v", st.ExitReason)
	}
}

func TestListReturnsAllSeededWorkers(t *testing.T) {
	c := newTestController(t)
	seedState(t, c, "r1", StatusRunning)
	seedState(t, c, "r2", StatusDone)

	states, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}
}

func TestListOnEmptyRalphDirReturnsNil(t *testing.T) {
	c := newTestController(t)
	states, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if states != nil {
		t.Fatalf("expected nil, got %v", states)
	}
}

func TestLogsReflectsAppendedEvents(t *testing.T) {
	c := newTestController(t)
	seedState(t, c, "r1", StatusRunning)

	if err := AppendEvent(c.StoreFor("r1").IterationLogPath(), EventStart, 1, "spawned"); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	lines, err := c.Logs("r1")
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
}

func TestCleanStateRemovesRalphState(t *testing.T) {
	c := newTestController(t)
	seedState(t, c, "r1", StatusDone)

	if err := c.Clean("r1", true); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	st, err := c.Status("r1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st != nil {
		t.Fatal("expected state to be cleared")
	}
}
