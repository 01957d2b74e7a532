// Package daemon implements the drydock background service: a registry of
// PTY-backed sessions served to local clients over a unix socket.
package daemon

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/drydock-sh/drydock/internal/config"
	"github.com/drydock-sh/drydock/internal/logging"
)

// Daemon ties the registry, the socket server, and the singleton lock
// together for one daemon process.
type Daemon struct {
	cfg      *config.Config
	log      *logrus.Entry
	registry *Registry
	server   *Server
	lock     *flock.Flock

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a daemon for the given configuration.
func New(cfg *config.Config, log *logrus.Entry) *Daemon {
	d := &Daemon{
		cfg:     cfg,
		log:     log,
		stopped: make(chan struct{}),
	}
	d.registry = NewRegistry(log, cfg.ScrollbackBytes, cfg.StopGrace())
	d.server = NewServer(log, d.registry, d.requestStop)
	return d
}

// Run starts the daemon and blocks until shutdown: a signal, a client
// shutdown request, or a serve failure.
func (d *Daemon) Run() error {
	if err := d.cfg.EnsureHome(); err != nil {
		return err
	}

	// Singleton: exactly one daemon per home directory.
	d.lock = flock.New(d.cfg.LockFile())
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon is already running (lock %s held)", d.cfg.LockFile())
	}
	defer func() { _ = d.lock.Unlock() }()

	if err := WritePidFile(d.cfg.PidFile()); err != nil {
		return err
	}
	defer func() { _ = os.Remove(d.cfg.PidFile()) }()

	if err := d.server.Listen(d.cfg.SocketPath); err != nil {
		return err
	}
	defer func() { _ = os.Remove(d.cfg.SocketPath) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			d.log.WithField("signal", sig.String()).Info("shutdown signal received")
			d.requestStop()
		case <-d.stopped:
		}
	}()

	d.log.WithFields(logrus.Fields{
		"socket": d.cfg.SocketPath,
		"pid":    os.Getpid(),
	}).Info("daemon listening")

	serveErr := make(chan error, 1)
	go func() { serveErr <- d.server.Serve() }()

	var serveFailure error
	select {
	case <-d.stopped:
	case serveFailure = <-serveErr:
		d.requestStop()
	}

	d.log.Info("daemon shutting down")
	d.server.Close()
	d.registry.StopAll()
	d.log.Info("daemon stopped")
	return serveFailure
}

func (d *Daemon) requestStop() {
	d.stopOnce.Do(func() { close(d.stopped) })
}

// RunForeground is the `dock daemon run` entry: sets up logging and runs
// until shutdown.
func RunForeground(cfg *config.Config) error {
	if err := cfg.EnsureHome(); err != nil {
		return err
	}
	log, closer, err := logging.NewDaemonLogger(cfg.LogFile(), cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	return New(cfg, log).Run()
}

// StopRunning signals a running daemon (via its pidfile) and waits for it
// to exit. Returns nil if no daemon is running.
func StopRunning(cfg *config.Config, timeout time.Duration) error {
	running, pid := IsRunning(cfg.PidFile())
	if !running {
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("signaling daemon pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if alive, _ := IsRunning(cfg.PidFile()); !alive {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon pid %d did not exit within %s", pid, timeout)
}
