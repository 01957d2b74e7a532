package session

import (
	"fmt"
	"strings"
)

// AlreadyActiveError means a create or open lost to an existing active
// session (or a concurrent claim) for the same target.
type AlreadyActiveError struct {
	SessionID string
	Worktree  string
	Agent     string
}

func (e *AlreadyActiveError) Error() string {
	if e.Agent != "" {
		return fmt.Sprintf("agent %s is already active in session %s", e.Agent, e.SessionID)
	}
	return fmt.Sprintf("session %s is already active for %s", e.SessionID, e.Worktree)
}

// EarlyExitError means the session's process died within the startup
// window. Tail carries the last lines of output for diagnosis.
type EarlyExitError struct {
	SessionID string
	ExitCode  int
	Tail      []string
}

func (e *EarlyExitError) Error() string {
	msg := fmt.Sprintf("session %s process exited immediately with code %d", e.SessionID, e.ExitCode)
	if len(e.Tail) > 0 {
		msg += ":\n  " + strings.Join(e.Tail, "\n  ")
	}
	return msg
}

// StopError aggregates per-process failures from a stop. The session record
// is left untouched when any process could not be terminated.
type StopError struct {
	SessionID string
	Failures  map[string]error
}

func (e *StopError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for what, err := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", what, err))
	}
	return fmt.Sprintf("stopping session %s: %s", e.SessionID, strings.Join(parts, "; "))
}
