package readiness

import (
	"errors"
	"testing"
	"time"
)

func TestStripANSI(t *testing.T) {
	raw := "\x1b[1;32m> \x1b[0mready for input"
	got := StripANSI(raw)
	want := "> ready for input"
	if got != want {
		t.Fatalf("StripANSI got %q, want %q", got, want)
	}
}

func TestClassifyPaneReady(t *testing.T) {
	c := ClassifyPane("some banner\n\x1b[32m> \x1b[0m")
	if c.State != Ready {
		t.Fatalf("expected Ready, got %v (%s)", c.State, c.Reason)
	}
}

func TestClassifyPaneThemePicker(t *testing.T) {
	c := ClassifyPane("Choose the text style that looks best with your terminal")
	if c.State != NotReady || !c.DismissEnter {
		t.Fatalf("expected NotReady+DismissEnter, got %v dismiss=%v", c.State, c.DismissEnter)
	}
}

func TestClassifyPaneLoginPicker(t *testing.T) {
	c := ClassifyPane("Select login method:\n1) OAuth\n2) Paste code here")
	if c.State != NotReady || c.DismissEnter {
		t.Fatalf("expected stuck NotReady without dismissal, got %v dismiss=%v", c.State, c.DismissEnter)
	}
}

func TestClassifyPaneStillBooting(t *testing.T) {
	c := ClassifyPane("Loading assets...")
	if c.State != NotReady {
		t.Fatalf("expected NotReady, got %v", c.State)
	}
}

type fakeCapturer struct {
	outputs []string
	calls   int
}

func (f *fakeCapturer) CapturePane(session, window string, historyLines int) (string, error) {
	idx := f.calls
	if idx >= len(f.outputs) {
		idx = len(f.outputs) - 1
	}
	f.calls++
	return f.outputs[idx], nil
}

type fakeSender struct {
	sent []string
}

func (f *fakeSender) SendKeys(session, window, text string, appendEnter, preClear bool) error {
	f.sent = append(f.sent, text)
	return nil
}

func TestPollerWaitBecomesReady(t *testing.T) {
	cap := &fakeCapturer{outputs: []string{"Loading...", "Loading...", "> "}}
	p := &Poller{Capture: cap, PollInterval: time.Millisecond, Timeout: time.Second}

	state, _, err := p.Wait("s", "w")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if state != Ready {
		t.Fatalf("expected Ready, got %v", state)
	}
}

func TestPollerWaitDismissesThemePicker(t *testing.T) {
	cap := &fakeCapturer{outputs: []string{"Choose the text style", "> "}}
	sender := &fakeSender{}
	p := &Poller{Capture: cap, Sender: sender, PollInterval: time.Millisecond, Timeout: time.Second}

	state, _, err := p.Wait("s", "w")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if state != Ready {
		t.Fatalf("expected Ready after dismissing theme picker, got %v", state)
	}
	if len(sender.sent) == 0 {
		t.Fatal("expected SendKeys to be called to dismiss theme picker")
	}
}

func TestPollerWaitTimesOutOnLoginPicker(t *testing.T) {
	cap := &fakeCapturer{outputs: []string{"Select login method:"}}
	p := &Poller{Capture: cap, PollInterval: time.Millisecond, Timeout: 5 * time.Millisecond}

	state, reason, err := p.Wait("s", "w")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if state != Timeout {
		t.Fatalf("expected Timeout, got %v", state)
	}
	if reason == "" {
		t.Fatal("expected a non-empty stuck reason")
	}
}

type erroringCapturer struct{}

func (erroringCapturer) CapturePane(session, window string, historyLines int) (string, error) {
	return "", errors.New("boom")
}

func TestPollerWaitPropagatesCaptureError(t *testing.T) {
	p := &Poller{Capture: erroringCapturer{}, PollInterval: time.Millisecond, Timeout: time.Second}
	if _, _, err := p.Wait("s", "w"); err == nil {
		t.Fatal("expected error from CapturePane to propagate")
	}
}
