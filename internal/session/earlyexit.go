package session

import (
	"strings"
	"time"

	"github.com/drydock-sh/drydock/internal/protocol"
)

// startupProbeDelays is the early-exit detection schedule: after create
// reports the process spawned, the daemon is probed at these offsets. A
// process still running when the budget ends is assumed healthy.
var startupProbeDelays = []time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
}

// earlyExitTailLines bounds the diagnostic output carried by EarlyExitError.
const earlyExitTailLines = 10

// awaitStartup watches a fresh daemon session for an immediate death. On
// early exit it captures the output tail, destroys the dead daemon session,
// and returns EarlyExitError.
func (m *Manager) awaitStartup(daemonID string) error {
	for _, delay := range startupProbeDelays {
		time.Sleep(delay)

		info, err := m.daemon.Status(daemonID)
		if err != nil {
			if protocol.HasCode(err, protocol.CodeNotFound) {
				// Gone before we could even ask.
				return &EarlyExitError{SessionID: daemonID, ExitCode: -1}
			}
			return err
		}
		switch info.State {
		case protocol.StateRunning:
			return nil
		case protocol.StateStopped:
		default:
			// Still creating, probe again.
			continue
		}

		code := -1
		if info.ExitCode != nil {
			code = *info.ExitCode
		}
		var tail []string
		if data, err := m.daemon.Scrollback(daemonID); err == nil {
			tail = lastLines(string(data), earlyExitTailLines)
		}
		// The dead daemon session has served its diagnostic purpose.
		_ = m.daemon.Stop(daemonID)

		return &EarlyExitError{SessionID: daemonID, ExitCode: code, Tail: tail}
	}
	return nil
}

func lastLines(data string, n int) []string {
	data = strings.TrimRight(data, "\r\n")
	if data == "" {
		return nil
	}
	lines := strings.Split(data, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
