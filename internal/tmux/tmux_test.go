package tmux

import (
	"os/exec"
	"testing"
	"time"
)

func hasTmux() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// testTmux returns a Tmux wrapper on a private, per-test server so tests
// never collide with a developer's interactive tmux session.
func testTmux(t *testing.T) *Tmux {
	t.Helper()
	return WithSocket("swarm-test-" + t.Name())
}

func TestDefaultSessionNameStable(t *testing.T) {
	a := DefaultSessionName("/home/user/.swarm")
	b := DefaultSessionName("/home/user/.swarm")
	if a != b {
		t.Fatalf("DefaultSessionName not stable: %s != %s", a, b)
	}
	c := DefaultSessionName("/home/user/.swarm-other")
	if a == c {
		t.Fatalf("DefaultSessionName collided for distinct inputs")
	}
}

func TestListSessionsNoServer(t *testing.T) {
	if !hasTmux() {
		t.Skip("tmux not installed")
	}
	tm := testTmux(t)
	sessions, err := tm.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	_ = sessions
}

func TestHasSessionNoServer(t *testing.T) {
	if !hasTmux() {
		t.Skip("tmux not installed")
	}
	tm := testTmux(t)
	has, err := tm.HasSession("nonexistent-session-xyz")
	if err != nil {
		t.Fatalf("HasSession: %v", err)
	}
	if has {
		t.Error("expected session to not exist")
	}
}

func TestSessionAndWindowLifecycle(t *testing.T) {
	if !hasTmux() {
		t.Skip("tmux not installed")
	}
	tm := testTmux(t)
	session := "swarm-test-session"
	defer func() { _ = tm.KillSession(session) }()

	if err := tm.EnsureSession(session, ""); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	// Idempotent: calling again must not error.
	if err := tm.EnsureSession(session, ""); err != nil {
		t.Fatalf("EnsureSession (second call): %v", err)
	}

	has, err := tm.HasSession(session)
	if err != nil {
		t.Fatalf("HasSession: %v", err)
	}
	if !has {
		t.Fatal("expected session to exist after EnsureSession")
	}

	if err := tm.NewWindow(session, "worker1", ""); err != nil {
		t.Fatalf("NewWindow: %v", err)
	}

	exists, err := tm.WindowExists(session, "worker1")
	if err != nil {
		t.Fatalf("WindowExists: %v", err)
	}
	if !exists {
		t.Fatal("expected window to exist after NewWindow")
	}

	if err := tm.KillWindow(session, "worker1"); err != nil {
		t.Fatalf("KillWindow: %v", err)
	}
	// Idempotent: killing an already-gone window is not an error.
	if err := tm.KillWindow(session, "worker1"); err != nil {
		t.Fatalf("KillWindow (second call): %v", err)
	}
}

func TestSendKeysAndCapturePane(t *testing.T) {
	if !hasTmux() {
		t.Skip("tmux not installed")
	}
	tm := testTmux(t)
	session := "swarm-test-sendkeys"
	defer func() { _ = tm.KillSession(session) }()

	if err := tm.EnsureSession(session, ""); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}

	if err := tm.SendKeys(session, "", "echo hello-swarm", true, false); err != nil {
		t.Fatalf("SendKeys: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	var out string
	for time.Now().Before(deadline) {
		var err error
		out, err = tm.CapturePane(session, "", 0)
		if err != nil {
			t.Fatalf("CapturePane: %v", err)
		}
		if len(out) > 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if out == "" {
		t.Fatal("expected non-empty pane capture after SendKeys")
	}
}

func TestWaitForWindowGone(t *testing.T) {
	if !hasTmux() {
		t.Skip("tmux not installed")
	}
	tm := testTmux(t)
	session := "swarm-test-waitgone"
	defer func() { _ = tm.KillSession(session) }()

	if err := tm.EnsureSession(session, ""); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if err := tm.NewWindow(session, "w1", ""); err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	if err := tm.KillWindow(session, "w1"); err != nil {
		t.Fatalf("KillWindow: %v", err)
	}

	gone, err := tm.WaitForWindowGone(session, "w1", time.Second)
	if err != nil {
		t.Fatalf("WaitForWindowGone: %v", err)
	}
	if !gone {
		t.Fatal("expected window to already be gone")
	}
}
