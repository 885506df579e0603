// Package readiness polls a tmux pane and classifies whether the agent
// command it runs is ready for input, still booting, or stuck on an
// interstitial prompt it cannot get past on its own.
//
// ANSI stripping and line-anchored matching generalize the teacher's own
// regex-based prompt detection in internal/tmux.Tmux.WaitForRuntimeReady,
// whose doc comment explicitly flags that regex-matching terminal chrome is
// an acceptable "bootstrap-only" escape hatch — the same reasoning applies
// here: readiness detection recognizes literal CLI chrome, not agent intent.
package readiness

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// State classifies one poll of a pane's content.
type State int

const (
	NotReady State = iota
	Ready
	Timeout
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Timeout:
		return "timeout"
	default:
		return "not-ready"
	}
}

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultTimeout      = 60 * time.Second
)

var ansiCSI = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes CSI escape sequences so pattern matching can treat
// colorized, cursor-positioned output as plain text.
func StripANSI(s string) string {
	return ansiCSI.ReplaceAllString(s, "")
}

// readyPatterns match literal CLI chrome that indicates the agent is
// waiting for input: an input prompt marker, a versioned banner, a mode/
// permission status line, or a generic shell/REPL prompt.
var readyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^>\s`),
	regexp.MustCompile(`(?m)^\s*›\s`),
	regexp.MustCompile(`\bv?\d+\.\d+\.\d+\b.*\b(ready|claude|agent)\b`),
	regexp.MustCompile(`(?i)(bypass permissions|plan mode|accept edits)`),
	regexp.MustCompile(`(?m)^[%$#]\s*$`),
}

// themePickerPattern matches the first-run theme-selection interstitial,
// dismissed automatically by sending a bare Enter to accept the default.
var themePickerPattern = regexp.MustCompile(`(?i)(choose the text style|looks best with your terminal)`)

// loginPickerPattern matches an OAuth/login interstitial the detector
// cannot safely dismiss; it must report a stuck timeout instead.
var loginPickerPattern = regexp.MustCompile(`(?i)(select login method|paste code here)`)

// Classification is the verdict on one captured pane snapshot (ANSI escapes
// included): its readiness state, an optional dismiss action for the caller
// to perform (e.g. "send Enter"), and a human-readable reason.
type Classification struct {
	State        State
	DismissEnter bool
	Reason       string
}

// ClassifyPane inspects raw pane content (as returned by the tmux facade's
// capture_pane, ANSI intact) and classifies it.
func ClassifyPane(raw string) Classification {
	clean := StripANSI(raw)

	if loginPickerPattern.MatchString(clean) {
		return Classification{State: NotReady, Reason: "stuck on login/OAuth picker"}
	}
	if themePickerPattern.MatchString(clean) {
		return Classification{State: NotReady, DismissEnter: true, Reason: "theme picker, dismissing with Enter"}
	}
	for _, p := range readyPatterns {
		if p.MatchString(clean) {
			return Classification{State: Ready, Reason: "matched ready pattern"}
		}
	}
	return Classification{State: NotReady, Reason: "no ready pattern matched yet"}
}

// PaneCapturer is the minimal tmux dependency the poller needs, satisfied by
// *tmux.Tmux.
type PaneCapturer interface {
	CapturePane(session, window string, historyLines int) (string, error)
}

// KeySender is the minimal tmux dependency needed to dismiss benign
// interstitials, satisfied by *tmux.Tmux.
type KeySender interface {
	SendKeys(session, window, text string, appendEnter, preClear bool) error
}

// Poller drives the ready/not-ready/timeout state machine against one pane.
type Poller struct {
	Capture      PaneCapturer
	Sender       KeySender
	PollInterval time.Duration
	Timeout      time.Duration
}

// NewPoller builds a Poller with spec defaults, overridable on the struct.
func NewPoller(capture PaneCapturer, sender KeySender) *Poller {
	return &Poller{
		Capture:      capture,
		Sender:       sender,
		PollInterval: DefaultPollInterval,
		Timeout:      DefaultTimeout,
	}
}

// Wait polls session:window until the pane reports Ready or the timeout
// elapses (returning Timeout). A login/OAuth picker does not end the wait
// early: it keeps the pane not-ready until the timeout, and the returned
// reason then starts with "stuck:".
func (p *Poller) Wait(session, window string) (State, string, error) {
	interval := p.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	deadline := time.Now().Add(timeout)
	var lastReason string
	for {
		raw, err := p.Capture.CapturePane(session, window, 0)
		if err != nil {
			return Timeout, "", fmt.Errorf("capturing pane: %w", err)
		}

		c := ClassifyPane(raw)
		lastReason = c.Reason

		if c.State == Ready {
			return Ready, c.Reason, nil
		}
		if c.DismissEnter && p.Sender != nil {
			if err := p.Sender.SendKeys(session, window, "", true, false); err != nil {
				return Timeout, "", fmt.Errorf("dismissing interstitial: %w", err)
			}
		}

		if time.Now().After(deadline) {
			reason := lastReason
			if strings.Contains(reason, "login") {
				return Timeout, fmt.Sprintf("stuck: %s", reason), nil
			}
			return Timeout, reason, nil
		}
		time.Sleep(interval)
	}
}
