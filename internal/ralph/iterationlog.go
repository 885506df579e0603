package ralph

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentswarm/swarm/internal/swarmerr"
)

// EventKind classifies one iteration-log line (spec §3 Iteration Log).
type EventKind string

const (
	EventStart   EventKind = "START"
	EventEnd     EventKind = "END"
	EventFail    EventKind = "FAIL"
	EventTimeout EventKind = "TIMEOUT"
	EventDone    EventKind = "DONE"
	EventPause   EventKind = "PAUSE"
	EventFatal   EventKind = "FATAL"
	EventWarn    EventKind = "WARN"
)

// AppendEvent writes one line to path: timestamp, event kind, iteration
// index, and reason. Each line is a single os.OpenFile append-mode write
// of a short line, well under PIPE_BUF, so no additional locking is needed
// for correctness (spec §5).
func AppendEvent(logPath string, kind EventKind, iteration int, reason string) error {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return swarmerr.Wrap(swarmerr.KindTransient, "creating iteration log directory", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindTransient, "opening iteration log", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s [%s] iteration %d", time.Now().UTC().Format(time.RFC3339), kind, iteration)
	if reason != "" {
		line += " -- " + reason
	}
	line += "\n"
	if _, err := f.WriteString(line); err != nil {
		return swarmerr.Wrap(swarmerr.KindTransient, "writing iteration log", err)
	}
	return nil
}

// ReadLog returns the full iteration log as lines, or nil if the log
// doesn't exist yet.
func ReadLog(logPath string) ([]string, error) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, swarmerr.Wrap(swarmerr.KindTransient, "reading iteration log", err)
	}
	return splitLines(string(data)), nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
