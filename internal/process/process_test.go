package process

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestSpawnAndIsAlive(t *testing.T) {
	logDir := t.TempDir()
	pid, err := Spawn("sleeper", []string{"sleep", "5"}, "", nil, logDir)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer func() {
		p, _ := os.FindProcess(pid)
		_ = p.Signal(syscall.SIGKILL)
	}()

	if !IsAlive(pid) {
		t.Fatal("expected freshly spawned process to be alive")
	}
}

func TestSpawnRedirectsOutput(t *testing.T) {
	logDir := t.TempDir()
	pid, err := Spawn("echoer", []string{"sh", "-c", "echo hello-swarm"}, "", nil, logDir)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer func() {
		p, _ := os.FindProcess(pid)
		_ = p.Signal(syscall.SIGKILL)
	}()

	deadline := time.Now().Add(2 * time.Second)
	var data []byte
	for time.Now().Before(deadline) {
		data, err = os.ReadFile(filepath.Join(logDir, "echoer.stdout"))
		if err == nil && len(data) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("reading stdout log: %v", err)
	}
	if string(data) != "hello-swarm\n" {
		t.Fatalf("unexpected stdout log content: %q", data)
	}
}

func TestIsAliveFalseForExitedProcess(t *testing.T) {
	logDir := t.TempDir()
	pid, err := Spawn("quick", []string{"true"}, "", nil, logDir)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for IsAlive(pid) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if IsAlive(pid) {
		t.Fatal("expected quickly-exiting process to no longer be alive")
	}
}

func TestKillEscalation(t *testing.T) {
	logDir := t.TempDir()
	pid, err := Spawn("stubborn", []string{"sh", "-c", "trap '' TERM; sleep 30"}, "", nil, logDir)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- Kill(pid) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Kill: %v", err)
		}
	case <-time.After(KillGrace + 5*time.Second):
		t.Fatal("Kill did not escalate to SIGKILL within expected window")
	}

	if IsAlive(pid) {
		t.Fatal("expected process to be dead after Kill escalation")
	}
}

func TestKillOnAlreadyDeadProcessIsNoop(t *testing.T) {
	logDir := t.TempDir()
	pid, err := Spawn("quick2", []string{"true"}, "", nil, logDir)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for IsAlive(pid) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	if err := Kill(pid); err != nil {
		t.Fatalf("Kill on dead process should be a no-op, got: %v", err)
	}
}

func TestSameProcessEmptyStartTimeAlwaysTrue(t *testing.T) {
	if !SameProcess(12345, "") {
		t.Fatal("expected SameProcess to return true when no start time was recorded")
	}
}
