package session

import (
	"os"

	"github.com/drydock-sh/drydock/internal/worktree"
)

// How identity was resolved, for user-facing messages.
const (
	IdentityByEnv = "environment"
	IdentityByCwd = "working directory"
)

// ResolveSelf determines which of the given sessions the calling process is
// running inside, if any. The environment token wins when it names a known
// session; otherwise the working directory is matched against recorded
// worktrees. Returns ("", "") when the caller is in no session.
//
// Identity is resolved per call, never cached: the set of sessions changes
// underneath long-lived processes.
func ResolveSelf(sessions []*Session, getenv func(string) string, cwd string) (id, how string) {
	if token := getenv(EnvSessionID); token != "" {
		for _, s := range sessions {
			if s.ID == token {
				return s.ID, IdentityByEnv
			}
		}
		// A stale token (session destroyed) falls through to cwd.
	}

	if cwd != "" {
		for _, s := range sessions {
			if worktree.ContainsPath(s.Worktree, cwd) {
				return s.ID, IdentityByCwd
			}
		}
	}
	return "", ""
}

// Self is ResolveSelf against the real environment and working directory.
func (m *Manager) Self(sessions []*Session) (id, how string) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}
	return ResolveSelf(sessions, os.Getenv, cwd)
}
