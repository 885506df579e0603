package ralph

import (
	"testing"
	"time"
)

func TestBackoffSecondsFormula(t *testing.T) {
	cases := []struct {
		failures int
		want     int
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{4, 8},
		{10, 300},
		{20, 300},
	}
	for _, c := range cases {
		if got := backoffSeconds(c.failures); got != c.want {
			t.Errorf("backoffSeconds(%d) = %d, want %d", c.failures, got, c.want)
		}
	}
}

func TestIsInactiveOutputMode(t *testing.T) {
	m := &Monitor{}
	st := &State{InactivityTimeout: 1, InactivityMode: InactivityOutput}

	recent := time.Now()
	if m.isInactive(st, recent, time.Time{}) {
		t.Fatal("expected active immediately after a screen change")
	}

	stale := time.Now().Add(-2 * time.Second)
	if !m.isInactive(st, stale, time.Time{}) {
		t.Fatal("expected inactive after the timeout elapses")
	}
}

func TestIsInactiveReadyMode(t *testing.T) {
	m := &Monitor{}
	st := &State{InactivityTimeout: 1, InactivityMode: InactivityReady}

	staleOutput := time.Now().Add(-5 * time.Second)
	if m.isInactive(st, staleOutput, time.Time{}) {
		t.Fatal("ready mode must not key off output staleness alone")
	}

	staleReady := time.Now().Add(-2 * time.Second)
	if !m.isInactive(st, staleOutput, staleReady) {
		t.Fatal("expected inactive once ready-since exceeds the timeout")
	}
}

func TestIsInactiveBothMode(t *testing.T) {
	m := &Monitor{}
	st := &State{InactivityTimeout: 1, InactivityMode: InactivityBoth}

	staleOutput := time.Now().Add(-2 * time.Second)
	if !m.isInactive(st, staleOutput, time.Time{}) {
		t.Fatal("both mode should trigger on output staleness alone")
	}
}

func TestMonitorPollIntervalDefault(t *testing.T) {
	m := &Monitor{}
	if m.pollInterval() != 2*time.Second {
		t.Fatalf("expected default 2s poll interval, got %v", m.pollInterval())
	}
	m.PollEvery = 10 * time.Millisecond
	if m.pollInterval() != 10*time.Millisecond {
		t.Fatal("expected configured poll interval to take effect")
	}
}
