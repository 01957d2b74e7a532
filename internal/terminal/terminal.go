// Package terminal abstracts terminal-window hosts for sessions that run
// outside the daemon. Platform window managers implement Backend; the
// built-in process backend just supervises a detached OS process.
package terminal

import "errors"

// ErrUnsupported is returned by backends for operations their host has no
// notion of (e.g. focusing a bare process).
var ErrUnsupported = errors.New("operation not supported by this terminal backend")

// Presence is a three-way liveness answer: some hosts can't always tell.
type Presence int

const (
	PresenceUnknown Presence = iota
	PresenceOpen
	PresenceClosed
)

func (p Presence) String() string {
	switch p {
	case PresenceOpen:
		return "open"
	case PresenceClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Ref identifies one window owned by a backend.
type Ref struct {
	Backend  string
	WindowID string
}

// Spawn describes what to run in a new window.
type Spawn struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // KEY=VALUE, appended to the parent environment
}

// Backend opens and manages terminal windows. Implementations return
// ErrUnsupported for operations they cannot express.
type Backend interface {
	// Name is the backend identifier recorded in session metadata.
	Name() string

	// Open launches a window running the given command. The returned pid
	// is the hosted process when the backend knows it, else 0.
	Open(spec Spawn) (Ref, int, error)

	// Focus brings the window to the foreground.
	Focus(ref Ref) error

	// Hide pushes the window to the background.
	Hide(ref Ref) error

	// IsOpen reports whether the window still exists.
	IsOpen(ref Ref) Presence

	// Close closes the window, terminating the hosted process.
	Close(ref Ref) error
}
