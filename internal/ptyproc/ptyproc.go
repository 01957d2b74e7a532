// Package ptyproc runs a single process under a pseudo-terminal.
package ptyproc

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Spec describes the process to launch.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // appended to the parent environment, KEY=VALUE
	Cols    uint16
	Rows    uint16
}

// Proc is a process running under a PTY. Read PTY output via Read; exactly
// one goroutine may call Wait.
type Proc struct {
	cmd       *exec.Cmd
	ptmx      *os.File
	startedAt time.Time

	closeOnce sync.Once
}

// Start launches the process with the given window size.
func Start(spec Spec) (*Proc, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("empty command")
	}
	cols, rows := spec.Cols, spec.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("starting %s under pty: %w", spec.Command, err)
	}

	return &Proc{cmd: cmd, ptmx: ptmx, startedAt: time.Now()}, nil
}

// Read reads PTY output. Returns io.EOF-like errors once the child exits
// and the slave side closes.
func (p *Proc) Read(b []byte) (int, error) { return p.ptmx.Read(b) }

// Write sends bytes to the process's stdin via the PTY master.
func (p *Proc) Write(b []byte) (int, error) { return p.ptmx.Write(b) }

// Resize changes the PTY window size and notifies the process (SIGWINCH).
func (p *Proc) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return fmt.Errorf("invalid window size %dx%d", cols, rows)
	}
	if err := pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("resizing pty: %w", err)
	}
	return nil
}

// Pid returns the child's process id.
func (p *Proc) Pid() int { return p.cmd.Process.Pid }

// StartedAt returns when the process was launched.
func (p *Proc) StartedAt() time.Time { return p.startedAt }

// Signal sends a signal to the child. ESRCH (already gone) is not an error.
func (p *Proc) Signal(sig syscall.Signal) error {
	err := p.cmd.Process.Signal(sig)
	if err == nil || err == os.ErrProcessDone {
		return nil
	}
	return fmt.Errorf("signaling pid %d: %w", p.Pid(), err)
}

// Kill force-terminates the child.
func (p *Proc) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
		return fmt.Errorf("killing pid %d: %w", p.Pid(), err)
	}
	return nil
}

// Wait blocks until the child exits and returns its exit code. A child
// killed by a signal reports 128+signal, matching shell convention.
func (p *Proc) Wait() int {
	err := p.cmd.Wait()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return -1
}

// Close releases the PTY master. Safe to call more than once.
func (p *Proc) Close() {
	p.closeOnce.Do(func() { _ = p.ptmx.Close() })
}
