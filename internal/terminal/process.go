package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/drydock-sh/drydock/internal/proc"
)

// ProcessBackend runs commands as detached OS processes with no window at
// all. It is the fallback backend and the reference implementation for the
// Backend contract.
type ProcessBackend struct {
	// StopGrace bounds Close's SIGTERM wait before SIGKILL.
	StopGrace time.Duration
}

// NewProcessBackend returns a process backend with the given stop grace.
func NewProcessBackend(stopGrace time.Duration) *ProcessBackend {
	if stopGrace <= 0 {
		stopGrace = 5 * time.Second
	}
	return &ProcessBackend{StopGrace: stopGrace}
}

func (b *ProcessBackend) Name() string { return "process" }

// Open starts the command detached: own session, null stdio. The window id
// is the pid.
func (b *ProcessBackend) Open(spec Spawn) (Ref, int, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return Ref{}, 0, fmt.Errorf("starting %s: %w", spec.Command, err)
	}
	pid := cmd.Process.Pid

	// Reap in the background so the child never zombies.
	go func() { _ = cmd.Wait() }()

	return Ref{Backend: b.Name(), WindowID: strconv.Itoa(pid)}, pid, nil
}

func (b *ProcessBackend) Focus(Ref) error { return ErrUnsupported }

func (b *ProcessBackend) Hide(Ref) error { return ErrUnsupported }

func (b *ProcessBackend) IsOpen(ref Ref) Presence {
	pid, err := strconv.Atoi(ref.WindowID)
	if err != nil {
		return PresenceUnknown
	}
	if proc.Alive(pid) {
		return PresenceOpen
	}
	return PresenceClosed
}

func (b *ProcessBackend) Close(ref Ref) error {
	pid, err := strconv.Atoi(ref.WindowID)
	if err != nil {
		return fmt.Errorf("bad window id %q: %w", ref.WindowID, err)
	}
	return proc.Terminate(pid, b.StopGrace)
}
