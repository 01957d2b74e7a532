package session

import (
	"github.com/drydock-sh/drydock/internal/proc"
	"github.com/drydock-sh/drydock/internal/protocol"
	"github.com/drydock-sh/drydock/internal/store"
	"github.com/drydock-sh/drydock/internal/terminal"
)

// probe result for one tracked process.
type liveness int

const (
	livenessDead liveness = iota
	livenessAlive
	livenessUnknown
)

// probeProcess checks whether one tracked process is still alive.
func (m *Manager) probeProcess(p AgentProcess) liveness {
	switch {
	case p.DaemonID != "":
		if m.daemon == nil {
			// No daemon means no daemon-hosted process survives.
			return livenessDead
		}
		info, err := m.daemon.Status(p.DaemonID)
		if err != nil {
			if protocol.HasCode(err, protocol.CodeNotFound) {
				return livenessDead
			}
			return livenessUnknown
		}
		if info.State == protocol.StateStopped {
			return livenessDead
		}
		return livenessAlive

	case p.Terminal != nil:
		backend, ok := m.backends[p.Terminal.Backend]
		if !ok {
			if p.PID > 0 {
				return pidLiveness(p)
			}
			return livenessUnknown
		}
		switch backend.IsOpen(terminal.Ref{Backend: p.Terminal.Backend, WindowID: p.Terminal.WindowID}) {
		case terminal.PresenceOpen:
			return livenessAlive
		case terminal.PresenceClosed:
			return livenessDead
		default:
			if p.PID > 0 {
				return pidLiveness(p)
			}
			return livenessUnknown
		}

	case p.PID > 0:
		return pidLiveness(p)

	default:
		return livenessDead
	}
}

func pidLiveness(p AgentProcess) liveness {
	if proc.AliveSince(p.PID, p.StartedAt) {
		return livenessAlive
	}
	return livenessDead
}

// AggregateStatus derives a session's effective status from its tracked
// processes: Running if any is confirmed alive, Stopped if the list is
// empty or every process is confirmed dead, Unknown otherwise.
func (m *Manager) AggregateStatus(sess *Session) Status {
	if len(sess.Processes) == 0 {
		if sess.Status == StatusCreating {
			return StatusCreating
		}
		return StatusStopped
	}
	sawUnknown := false
	for _, p := range sess.Processes {
		switch m.probeProcess(p) {
		case livenessAlive:
			return StatusRunning
		case livenessUnknown:
			sawUnknown = true
		}
	}
	if sawUnknown {
		return StatusUnknown
	}
	return StatusStopped
}

// Reconcile brings a record's persisted status in line with reality before
// anyone trusts it. A Running record whose processes are all confirmed dead
// is patched to Stopped first; the patched record is returned. Records are
// never flipped on Unknown evidence.
func (m *Manager) Reconcile(sess *Session) (*Session, error) {
	if sess.Status != StatusRunning {
		return sess, nil
	}
	if m.AggregateStatus(sess) != StatusStopped {
		return sess, nil
	}

	err := m.store.Update(sess.ID, func(f store.Fields) error {
		// Someone else may have reconciled or restarted it meanwhile.
		if Status(fieldString(f, "status")) != StatusRunning {
			return nil
		}
		f["status"] = string(StatusStopped)
		f["processes"] = []any{}
		return nil
	})
	if err != nil {
		return sess, err
	}
	return Load(m.store, sess.ID)
}
