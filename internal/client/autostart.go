package client

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/drydock-sh/drydock/internal/config"
	"github.com/drydock-sh/drydock/internal/protocol"
)

// Autostart polling schedule: first retry after startInitialDelay, doubling
// to startMaxDelay, giving up after startBudget.
const (
	startInitialDelay = 50 * time.Millisecond
	startMaxDelay     = 500 * time.Millisecond
	startBudget       = 5 * time.Second
)

// ErrStartTimeout means the spawned daemon never opened its socket.
var ErrStartTimeout = errors.New("daemon did not start listening in time")

// ErrUnresponsive means the socket exists but the daemon never answered a
// ping: something is listening, but not usefully.
var ErrUnresponsive = errors.New("daemon socket is not responding")

// CrashError means the spawned daemon exited before becoming ready.
type CrashError struct {
	ExitCode int
	LogFile  string
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("daemon exited immediately with code %d (see %s)", e.ExitCode, e.LogFile)
}

// EnsureDaemon returns a connection to the daemon, launching it on demand
// when nothing is listening and autostart is enabled.
func EnsureDaemon(cfg *config.Config) (*Client, error) {
	c, err := Dial(cfg.SocketPath)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, protocol.ErrDaemonNotRunning) {
		return nil, err
	}
	if !cfg.AutostartEnabled() {
		return nil, fmt.Errorf("%w and autostart is disabled (run `dock daemon start`)", protocol.ErrDaemonNotRunning)
	}

	exited, err := spawnDaemon(cfg)
	if err != nil {
		return nil, err
	}
	return awaitDaemon(cfg.SocketPath, exited, cfg.LogFile(), startBudget)
}

// StartDaemon launches the daemon unconditionally, ignoring the autostart
// setting. The caller has already checked nothing is listening.
func StartDaemon(cfg *config.Config) (*Client, error) {
	exited, err := spawnDaemon(cfg)
	if err != nil {
		return nil, err
	}
	return awaitDaemon(cfg.SocketPath, exited, cfg.LogFile(), startBudget)
}

// spawnDaemon launches `dock daemon run` fully detached: own session, no
// stdio, no inherited terminal. The returned channel delivers the child's
// exit code if it dies.
func spawnDaemon(cfg *config.Config) (<-chan int, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving own executable: %w", err)
	}

	cmd := exec.Command(exe, "daemon", "run")
	cmd.Env = append(os.Environ(), config.EnvHome+"="+cfg.HomeDir())
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launching daemon: %w", err)
	}

	exited := make(chan int, 1)
	go func() {
		_ = cmd.Wait()
		exited <- cmd.ProcessState.ExitCode()
	}()
	return exited, nil
}

// awaitDaemon polls the socket until the daemon answers a ping. Every
// iteration first checks whether the child already died: a crash on boot
// fails immediately instead of burning the whole budget.
func awaitDaemon(socketPath string, exited <-chan int, logFile string, budget time.Duration) (*Client, error) {
	deadline := time.Now().Add(budget)
	delay := startInitialDelay
	sawSocket := false

	for {
		select {
		case code := <-exited:
			return nil, &CrashError{ExitCode: code, LogFile: logFile}
		default:
		}

		c, err := Dial(socketPath)
		if err == nil {
			sawSocket = true
			if perr := c.Ping(time.Second); perr == nil {
				return c, nil
			}
			_ = c.Close()
		} else if !errors.Is(err, protocol.ErrDaemonNotRunning) {
			sawSocket = true
		}

		if time.Now().After(deadline) {
			if sawSocket {
				return nil, fmt.Errorf("%w (socket %s; check `dock daemon status`)", ErrUnresponsive, socketPath)
			}
			return nil, fmt.Errorf("%w (no socket at %s after %s; see %s)", ErrStartTimeout, socketPath, budget, logFile)
		}

		time.Sleep(delay)
		delay *= 2
		if delay > startMaxDelay {
			delay = startMaxDelay
		}
	}
}
