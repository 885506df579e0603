package ralph

import (
	"crypto/sha256"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/agentswarm/swarm/internal/readiness"
	"github.com/agentswarm/swarm/internal/swarmerr"
	"github.com/agentswarm/swarm/internal/tmux"
	"github.com/agentswarm/swarm/internal/worker"
)

// MaxConsecutiveFailures is the fail-stop threshold from spec §4.6.
const MaxConsecutiveFailures = 5

// PreflightStuckWindow bounds how long a first-iteration stuck pattern must
// persist before it's treated as a fail-fast broken-auth condition.
const PreflightStuckWindow = 10 * time.Second

// innerResult is the outcome of one inner-monitor poll pass.
type innerResult struct {
	kind   string // done, compaction, context_threshold, context_nudge, exited, inactivity, preflight_stuck
	reason string
	exitOK bool // valid when kind == "exited": true iff the process/window exit looked clean
}

// Monitor drives one worker's outer/inner loop.
type Monitor struct {
	Name       string
	Manager    *worker.Manager
	Store      *StateStore
	LogPath    string
	PollEvery  time.Duration // inner monitor cadence, default 2s
	RespawnFor func() error  // recreates the tmux window when it has vanished
}

// NewMonitor builds a Monitor with spec defaults.
func NewMonitor(name string, mgr *worker.Manager, st *StateStore, respawn func() error) *Monitor {
	return &Monitor{
		Name:       name,
		Manager:    mgr,
		Store:      st,
		LogPath:    st.IterationLogPath(),
		PollEvery:  2 * time.Second,
		RespawnFor: respawn,
	}
}

// Run executes the outer loop described in spec §4.6 until the worker's
// state leaves the running/paused cycle.
func (m *Monitor) Run() error {
	for {
		st, err := m.Store.Load()
		if err != nil {
			return err
		}
		if st == nil {
			return swarmerr.New(swarmerr.KindNotFound, fmt.Sprintf("no ralph state for %q", m.Name))
		}
		if st.Status == StatusPaused {
			time.Sleep(m.pollInterval())
			continue
		}
		if st.Status != StatusRunning {
			return nil
		}
		if st.Iteration > st.MaxIterations {
			_, _ = m.Store.Mutate(func(s *State) (*State, error) {
				s.Status = StatusStopped
				s.ExitReason = ExitMaxIterations
				return s, nil
			})
			_ = AppendEvent(m.LogPath, EventEnd, st.Iteration, string(ExitMaxIterations))
			return nil
		}

		if err := m.runIteration(st); err != nil {
			return err
		}

		// Loop back to the top rather than returning here: a paused state
		// (set mid-iteration by `ralph pause` or a SIGTERM to this process)
		// must keep the monitor alive, polling, so a later resume has a
		// loop to resume into. Only a terminal status (stopped/failed/done)
		// ends Run.
		st2, err := m.Store.Load()
		if err != nil {
			return err
		}
		if st2 == nil {
			return nil
		}
		switch st2.Status {
		case StatusRunning, StatusPaused:
			continue
		default:
			return nil
		}
	}
}

func (m *Monitor) pollInterval() time.Duration {
	if m.PollEvery <= 0 {
		return 2 * time.Second
	}
	return m.PollEvery
}

// runIteration performs one outer-loop pass: refresh prompt, ensure worker
// exists, send the prompt, run the inner monitor, then handle the result.
func (m *Monitor) runIteration(st *State) error {
	promptBytes, err := os.ReadFile(st.PromptFile)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindInvalidArgument, "reading prompt file", err)
	}
	prompt := string(promptBytes)

	w, err := m.Manager.Get(m.Name)
	if err != nil {
		return err
	}
	if w.Tmux == nil {
		return swarmerr.New(swarmerr.KindInvalidArgument, "ralph requires a tmux-backed worker")
	}

	session, window := w.Tmux.Session, w.Tmux.Window
	tm := tmux.WithSocket(w.Tmux.Socket)

	exists, err := tm.WindowExists(session, window)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindMultiplexerError, "checking worker window", err)
	}
	if !exists && m.RespawnFor != nil {
		if err := m.RespawnFor(); err != nil {
			return err
		}
		w, err = m.Manager.Get(m.Name)
		if err != nil {
			return err
		}
		session, window = w.Tmux.Session, w.Tmux.Window
		tm = tmux.WithSocket(w.Tmux.Socket)
	}

	if err := tm.SendKeys(session, window, prompt, true, false); err != nil {
		return swarmerr.Wrap(swarmerr.KindMultiplexerError, "sending prompt", err)
	}
	_ = AppendEvent(m.LogPath, EventStart, st.Iteration, "")

	raw, err := tm.CapturePane(session, window, 0)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindMultiplexerError, "capturing baseline pane", err)
	}
	baseline := countLines(raw)

	result := m.monitorIteration(st, tm, session, window, baseline)
	return m.handleResult(st, tm, session, window, result)
}

// monitorIteration implements the inner-monitor poll loop of spec §4.6.
func (m *Monitor) monitorIteration(st *State, tm *tmux.Tmux, session, window string, baseline int) innerResult {
	iterStart := time.Now()
	var lastHash [32]byte
	var lastChangeAt time.Time
	firstPoll := true
	var readySinceAt time.Time
	warnedStuck := make(map[string]bool)
	stuckAtFirstPoll := false
	var lastClean string

	for {
		raw, err := tm.CapturePane(session, window, 0)
		if err != nil {
			exists, existsErr := tm.WindowExists(session, window)
			if existsErr == nil && !exists {
				if matched, _ := MatchDonePattern(st, lastClean, baseline); matched {
					return innerResult{kind: "done", reason: "done pattern matched after window exit"}
				}
				return innerResult{kind: "exited", reason: "window vanished", exitOK: false}
			}
			time.Sleep(m.pollInterval())
			continue
		}

		clean := readiness.StripANSI(raw)
		lastClean = clean
		hash := sha256.Sum256([]byte(clean))
		if firstPoll {
			lastHash = hash
			lastChangeAt = time.Now()
		} else if hash != lastHash {
			lastHash = hash
			lastChangeAt = time.Now()
			_, _ = m.Store.Mutate(func(s *State) (*State, error) {
				s.LastScreenChangeAt = lastChangeAt
				return s, nil
			})
		}

		if matched, text := MatchFatal(clean); matched {
			return innerResult{kind: "compaction", reason: text}
		}

		if matched, text := MatchStuck(clean); matched {
			if !warnedStuck[text] {
				warnedStuck[text] = true
				_ = AppendEvent(m.LogPath, EventWarn, st.Iteration, "stuck pattern: "+text)
			}
			if firstPoll {
				stuckAtFirstPoll = true
			}
			if st.Iteration == 1 && stuckAtFirstPoll && time.Since(iterStart) >= PreflightStuckWindow {
				return innerResult{kind: "preflight_stuck", reason: text}
			}
		}

		if st.CheckDoneContinuous && st.DonePattern != "" {
			if matched, _ := MatchDonePattern(st, clean, baseline); matched {
				return innerResult{kind: "done", reason: "done pattern matched"}
			}
		}

		if st.MaxContext > 0 {
			tail := lastLines(clean, 3)
			if pct, ok := ExtractContextPercent(tail); ok {
				if pct >= st.MaxContext+15 {
					return innerResult{kind: "context_threshold", reason: fmt.Sprintf("context at %d%%", pct)}
				}
				if pct >= st.MaxContext && !st.ContextNudgeSent {
					st.ContextNudgeSent = true
					_, _ = m.Store.Mutate(func(s *State) (*State, error) {
						s.ContextNudgeSent = true
						return s, nil
					})
					_ = tm.SendKeys(session, window, "please wrap up and summarize your progress", true, false)
					_ = AppendEvent(m.LogPath, EventWarn, st.Iteration, fmt.Sprintf("context nudge sent at %d%%", pct))
					// Keep monitoring this same pane rather than returning to the
					// outer loop, which would re-send the full prompt.
				}
			}
		}

		isReadyNow := readiness.ClassifyPane(raw).State == readiness.Ready
		if isReadyNow {
			if readySinceAt.IsZero() {
				readySinceAt = time.Now()
			}
		} else {
			readySinceAt = time.Time{}
		}

		if m.isInactive(st, lastChangeAt, readySinceAt) {
			return innerResult{kind: "inactivity", reason: "no activity within inactivity_timeout"}
		}

		firstPoll = false
		time.Sleep(m.pollInterval())
	}
}

func (m *Monitor) isInactive(st *State, lastChangeAt, readySinceAt time.Time) bool {
	timeout := time.Duration(st.InactivityTimeout) * time.Second
	outputIdle := !lastChangeAt.IsZero() && time.Since(lastChangeAt) >= timeout
	readyIdle := !readySinceAt.IsZero() && time.Since(readySinceAt) >= timeout

	switch st.InactivityMode {
	case InactivityReady:
		return readyIdle
	case InactivityBoth:
		return outputIdle || readyIdle
	default:
		return outputIdle
	}
}

// handleResult dispatches per the result table in spec §4.6.
func (m *Monitor) handleResult(st *State, tm *tmux.Tmux, session, window string, result innerResult) error {
	switch result.kind {
	case "done":
		_ = AppendEvent(m.LogPath, EventDone, st.Iteration, result.reason)
		_, err := m.Store.Mutate(func(s *State) (*State, error) {
			s.Status = StatusDone
			s.ExitReason = ExitDone
			return s, nil
		})
		return err

	case "compaction":
		// Kill the worker (Manager.Kill removes its tmux window) rather than
		// Ctrl-C it: the next iteration must respawn a fresh window so the
		// agent starts without the compacted context, not re-prompt the same
		// (already-compacting) session. No SIGTERM is sent to the agent
		// process itself; it goes down with the window.
		if w, err := m.Manager.Get(m.Name); err == nil {
			_ = m.Manager.Kill(w.Name)
		}
		_ = AppendEvent(m.LogPath, EventFatal, st.Iteration, "compaction: "+result.reason)
		_, err := m.Store.Mutate(func(s *State) (*State, error) {
			s.Iteration++
			s.LastIterationAt = time.Now().UTC()
			return s, nil
		})
		return err

	case "context_threshold":
		if w, err := m.Manager.Get(m.Name); err == nil {
			_ = m.Manager.Kill(w.Name)
		}
		_ = AppendEvent(m.LogPath, EventFatal, st.Iteration, "context_threshold: "+result.reason)
		_, err := m.Store.Mutate(func(s *State) (*State, error) {
			s.Status = StatusFailed
			s.ExitReason = ExitContextThreshold
			return s, nil
		})
		return err

	case "context_nudge":
		// Continue monitoring this same iteration; nothing to advance.
		return nil

	case "exited":
		if result.exitOK {
			_ = AppendEvent(m.LogPath, EventEnd, st.Iteration, result.reason)
			_, err := m.Store.Mutate(func(s *State) (*State, error) {
				s.Iteration++
				s.LastIterationAt = time.Now().UTC()
				s.ConsecutiveFailures = 0
				return s, nil
			})
			return err
		}
		_ = AppendEvent(m.LogPath, EventFail, st.Iteration, result.reason)
		next, err := m.Store.Mutate(func(s *State) (*State, error) {
			s.ConsecutiveFailures++
			s.TotalFailures++
			if s.ConsecutiveFailures >= MaxConsecutiveFailures {
				s.Status = StatusFailed
				s.ExitReason = ExitConsecutiveFailures
			}
			return s, nil
		})
		if err != nil {
			return err
		}
		if next.Status == StatusFailed {
			return nil
		}
		backoff := backoffSeconds(next.ConsecutiveFailures)
		time.Sleep(time.Duration(backoff) * time.Second)
		_, err = m.Store.Mutate(func(s *State) (*State, error) {
			s.Iteration++
			s.LastIterationAt = time.Now().UTC()
			return s, nil
		})
		return err

	case "inactivity":
		_ = AppendEvent(m.LogPath, EventTimeout, st.Iteration, result.reason)
		if w, err := m.Manager.Get(m.Name); err == nil {
			_ = m.Manager.Kill(w.Name)
		}
		_, err := m.Store.Mutate(func(s *State) (*State, error) {
			s.Iteration++
			s.LastIterationAt = time.Now().UTC()
			return s, nil
		})
		return err

	case "preflight_stuck":
		_ = AppendEvent(m.LogPath, EventFatal, st.Iteration, "preflight stuck: "+result.reason)
		if w, err := m.Manager.Get(m.Name); err == nil {
			_ = m.Manager.Kill(w.Name)
		}
		_, err := m.Store.Mutate(func(s *State) (*State, error) {
			s.Status = StatusFailed
			s.ExitReason = ExitMonitorDisconnected
			return s, nil
		})
		return err

	default:
		return swarmerr.New(swarmerr.KindTransient, fmt.Sprintf("unknown monitor result %q", result.kind))
	}
}

// backoffSeconds implements the spec's exact formula: min(2^(n-1), 300).
func backoffSeconds(consecutiveFailures int) int {
	if consecutiveFailures < 1 {
		consecutiveFailures = 1
	}
	v := math.Pow(2, float64(consecutiveFailures-1))
	if v > 300 {
		return 300
	}
	return int(v)
}

// MatchDonePattern checks the pane content from baseline onward for
// done_pattern, defeating the self-match bug where the prompt text itself
// contains the pattern string (spec §4.7).
func MatchDonePattern(st *State, content string, baseline int) (bool, error) {
	if st.DonePattern == "" {
		return false, nil
	}
	lines := splitLines(content)
	if baseline < 0 {
		baseline = 0
	}
	if baseline > len(lines) {
		baseline = len(lines)
	}
	tail := strings.Join(lines[baseline:], "\n")
	matched, err := regexp.MatchString(st.DonePattern, tail)
	if err != nil {
		return false, swarmerr.Wrap(swarmerr.KindInvalidArgument, "compiling done_pattern", err)
	}
	return matched, nil
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return len(splitLines(s))
}

func lastLines(s string, n int) string {
	lines := splitLines(s)
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
