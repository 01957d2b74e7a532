package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/drydock-sh/drydock/internal/proc"
)

// ReadPidFile returns the pid recorded in path, or 0 if the file is missing
// or unreadable.
func ReadPidFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// WritePidFile records the current pid.
func WritePidFile(path string) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("writing pidfile: %w", err)
	}
	return nil
}

// IsRunning reports whether the pidfile names a live process. A stale
// pidfile (dead pid) reports not running.
func IsRunning(pidFile string) (bool, int) {
	pid := ReadPidFile(pidFile)
	if pid == 0 {
		return false, 0
	}
	return proc.Alive(pid), pid
}
