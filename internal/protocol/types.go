// Package protocol defines the wire protocol between dock clients and the
// drydock daemon: newline-delimited JSON for requests, responses, and control
// events, plus length-prefixed binary frames for PTY output and stdin.
package protocol

import "time"

// Op names a daemon operation.
type Op string

const (
	OpPing       Op = "ping"
	OpCreate     Op = "create"
	OpAttach     Op = "attach"
	OpDetach     Op = "detach"
	OpStop       Op = "stop"
	OpStatus     Op = "status"
	OpList       Op = "list"
	OpScrollback Op = "scrollback"
	OpResize     Op = "resize"
	OpShutdown   Op = "shutdown"
)

// Request is the client-to-daemon message envelope.
type Request struct {
	Op        Op         `json:"op"`
	SessionID string     `json:"session_id,omitempty"`
	Spec      *SpawnSpec `json:"spec,omitempty"`
	Cols      int        `json:"cols,omitempty"`
	Rows      int        `json:"rows,omitempty"`
}

// SpawnSpec describes the process a new daemon session should run.
type SpawnSpec struct {
	Command  string            `json:"command"`
	Args     []string          `json:"args,omitempty"`
	Dir      string            `json:"dir"`
	Env      map[string]string `json:"env,omitempty"`
	Worktree string            `json:"worktree"`
	Branch   string            `json:"branch,omitempty"`
	Cols     int               `json:"cols,omitempty"`
	Rows     int               `json:"rows,omitempty"`
}

// State is a daemon session's lifecycle state.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
)

// SessionInfo is the daemon's view of one session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Worktree  string    `json:"worktree"`
	Branch    string    `json:"branch,omitempty"`
	Command   string    `json:"command"`
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Clients   int       `json:"clients"`
}

// Daemon-to-client JSON line discriminators.
const (
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Response is the daemon's reply to a request.
type Response struct {
	Type       string        `json:"type"`
	OK         bool          `json:"ok"`
	Code       ErrorCode     `json:"code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Session    *SessionInfo  `json:"session,omitempty"`
	Sessions   []SessionInfo `json:"sessions,omitempty"`
	Scrollback []byte        `json:"scrollback,omitempty"`
}

// Event kinds delivered on an attach stream.
const (
	EventExit     = "exit"
	EventDropped  = "output_dropped"
	EventDetached = "detached"
)

// Event is an asynchronous control message on an attach stream.
type Event struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	ExitCode  *int   `json:"exit_code,omitempty"`
}

// OKResponse builds a success response.
func OKResponse() *Response {
	return &Response{Type: TypeResponse, OK: true}
}

// ErrResponse builds a failure response carrying a taxonomy code.
func ErrResponse(code ErrorCode, msg string) *Response {
	return &Response{Type: TypeResponse, OK: false, Code: code, Error: msg}
}
