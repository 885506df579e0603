package worker

import (
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentswarm/swarm/internal/store"
)

func hasTmux() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	st := store.New(filepath.Join(dir, "state"))
	logDir := filepath.Join(dir, "logs")
	return NewManager(st, "swarm-worker-test-"+t.Name(), logDir, filepath.Join(dir, "work"))
}

func TestSpawnBareProcessAndLifecycle(t *testing.T) {
	m := newTestManager(t)

	rec, err := m.Spawn(SpawnOptions{
		Name: "w1",
		Cmd:  []string{"sleep", "5"},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if rec.PID == 0 {
		t.Fatal("expected non-zero PID for bare-process spawn")
	}

	refreshed, err := m.RefreshStatus("w1")
	if err != nil {
		t.Fatalf("RefreshStatus: %v", err)
	}
	if refreshed.Status != store.StatusRunning {
		t.Fatalf("expected running status, got %v", refreshed.Status)
	}

	if err := m.Kill("w1"); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	refreshed, err = m.RefreshStatus("w1")
	if err != nil {
		t.Fatalf("RefreshStatus after kill: %v", err)
	}
	if refreshed.Status != store.StatusStopped {
		t.Fatalf("expected stopped status after kill, got %v", refreshed.Status)
	}

	if err := m.Clean("w1"); err != nil {
		t.Fatalf("Clean: %v", err)
	}

	if _, err := m.Get("w1"); err == nil {
		t.Fatal("expected error getting a cleaned worker")
	}
}

func TestSpawnRejectsDuplicateName(t *testing.T) {
	m := newTestManager(t)
	opts := SpawnOptions{Name: "dup", Cmd: []string{"sleep", "5"}}

	if _, err := m.Spawn(opts); err != nil {
		t.Fatalf("first Spawn: %v", err)
	}
	defer m.Kill("dup")

	if _, err := m.Spawn(opts); err == nil {
		t.Fatal("expected error spawning a worker with a duplicate name")
	}
}

func TestSpawnRejectsEmptyCommand(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Spawn(SpawnOptions{Name: "empty"}); err == nil {
		t.Fatal("expected error spawning with an empty command")
	}
}

func TestCleanRequiresStopped(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Spawn(SpawnOptions{Name: "running", Cmd: []string{"sleep", "5"}}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer m.Kill("running")

	if err := m.Clean("running"); err == nil {
		t.Fatal("expected Clean to refuse a still-running worker")
	}
}

func TestWaitReturnsTrueOnceProcessExits(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Spawn(SpawnOptions{Name: "quick", Cmd: []string{"sh", "-c", "sleep 0.2"}}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	done, err := m.Wait("quick", 3*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !done {
		t.Fatal("expected Wait to report the process as done")
	}
}

func TestShellJoinQuotesSpecialCharacters(t *testing.T) {
	out := shellJoin([]string{"echo", "hello world"}, map[string]string{"FOO": "bar baz"})
	if out == "" {
		t.Fatal("expected non-empty command line")
	}
	if !containsAll(out, []string{"FOO=", "echo", "'hello world'"}) {
		t.Fatalf("unexpected shellJoin output: %q", out)
	}
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !contains(s, sub) {
			return false
		}
	}
	return true
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}

func TestSpawnTmuxBacked(t *testing.T) {
	if !hasTmux() {
		t.Skip("tmux not installed")
	}
	m := newTestManager(t)

	rec, err := m.Spawn(SpawnOptions{
		Name:    "tw1",
		Cmd:     []string{"sleep", "5"},
		UseTmux: true,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if rec.Tmux == nil {
		t.Fatal("expected tmux ref on tmux-backed spawn")
	}
	defer m.Tmux.KillSession(rec.Tmux.Session)

	if err := m.Interrupt("tw1"); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if err := m.Kill("tw1"); err != nil {
		t.Fatalf("Kill: %v", err)
	}
}
