// Package proc provides OS process liveness and termination helpers.
package proc

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Alive reports whether a process with the given pid exists and can still
// run. EPERM counts as alive: the process is there, we just can't signal
// it. A zombie counts as dead: it answers signal probes but is already
// exited, just not yet reaped by its parent.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, 0); err != nil {
		return errors.Is(err, unix.EPERM)
	}
	return !isZombie(pid)
}

// isZombie reads the process state from /proc on Linux. Unreadable state
// (other platforms, proc restrictions) reports false, leaving the signal
// probe's answer in force.
func isZombie(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// The state field follows the parenthesized command name, which may
	// itself contain spaces and parentheses.
	i := bytes.LastIndexByte(data, ')')
	if i < 0 || i+2 >= len(data) {
		return false
	}
	return data[i+2] == 'Z'
}

// AliveSince reports whether the pid is alive AND was started at (or before)
// the recorded time. A process started noticeably later than the record means
// the pid was recycled and the original process is gone.
func AliveSince(pid int, recorded time.Time) bool {
	if !Alive(pid) {
		return false
	}
	if recorded.IsZero() {
		return true
	}
	started, err := startTime(pid)
	if err != nil {
		// Can't read the start time; trust the signal probe.
		return true
	}
	// Allow a little slack for clock rounding between the two measurements.
	return started.Before(recorded.Add(2 * time.Second))
}

// Terminate stops a process: SIGTERM, wait up to grace, then SIGKILL.
// A process that is already gone at any point is a success.
func Terminate(pid int, grace time.Duration) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if !Alive(pid) {
		return nil
	}

	if err := unix.Kill(pid, syscall.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("sending SIGTERM to %d: %w", pid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := unix.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("sending SIGKILL to %d: %w", pid, err)
	}

	// SIGKILL is not instantaneous; give the kernel a moment.
	for i := 0; i < 20; i++ {
		if !Alive(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("process %d survived SIGKILL", pid)
}

// startTime reads the process start time from /proc on Linux. On other
// platforms it returns an error and callers fall back to the signal probe.
func startTime(pid int) (time.Time, error) {
	fi, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}
