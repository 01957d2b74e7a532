// Package session implements the client-side session model: persisted
// metadata records, the multi-agent process tracker, status aggregation and
// reconciliation against the daemon, early-exit detection, and the
// self-identity guard used by fleet operations.
package session

import (
	"fmt"
	"time"

	"github.com/drydock-sh/drydock/internal/store"
)

// Status is a session's persisted lifecycle state.
type Status string

const (
	// StatusCreating marks a record claimed by an in-flight create/open.
	StatusCreating Status = "creating"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	// StatusUnknown is an aggregation result only, never persisted.
	StatusUnknown Status = "unknown"
)

// Session is one session's metadata record. The JSON document on disk may
// carry additional fields owned by other tools; updates go through field
// patches so those survive.
type Session struct {
	ID           string         `json:"id"`
	Worktree     string         `json:"worktree"`
	Branch       string         `json:"branch,omitempty"`
	Status       Status         `json:"status"`
	Agent        string         `json:"agent,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	Processes    []AgentProcess `json:"processes"`
}

// AgentProcess records one agent opened into a session. The list is
// append-only while the session is active and cleared as a whole on stop.
type AgentProcess struct {
	Agent    string    `json:"agent"`
	Command  string    `json:"command"`
	OpenedAt time.Time `json:"opened_at"`

	// DaemonID links daemon-managed processes to their daemon session.
	DaemonID string `json:"daemon_id,omitempty"`

	// PID and StartedAt identify directly-spawned processes; StartedAt
	// protects liveness checks against pid reuse.
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`

	// Terminal references a terminal window hosting the process, when one
	// was opened through a terminal backend.
	Terminal *TerminalRef `json:"terminal,omitempty"`
}

// TerminalRef identifies a terminal window owned by a terminal backend.
type TerminalRef struct {
	Backend  string `json:"backend"`
	WindowID string `json:"window_id"`
}

// Load reads one session record.
func Load(st *store.Store, id string) (*Session, error) {
	var sess Session
	if err := st.LoadInto(id, &sess); err != nil {
		return nil, err
	}
	if sess.ID == "" {
		sess.ID = id
	}
	return &sess, nil
}

// LoadAll reads every session record, skipping ones that fail to parse.
// A corrupt record must not take down list or stop-all for the rest.
func LoadAll(st *store.Store) ([]*Session, []error) {
	ids, err := st.List()
	if err != nil {
		return nil, []error{err}
	}
	var sessions []*Session
	var errs []error
	for _, id := range ids {
		sess, err := Load(st, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", id, err))
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, errs
}
