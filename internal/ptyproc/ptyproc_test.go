package ptyproc

import (
	"strings"
	"testing"
	"time"
)

func TestStartEchoAndExit(t *testing.T) {
	p, err := Start(Spec{Command: "sh", Args: []string{"-c", "echo hello-pty"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Close()

	done := make(chan int, 1)
	go func() { done <- p.Wait() }()

	var out strings.Builder
	buf := make([]byte, 1024)
	for {
		n, err := p.Read(buf)
		if n > 0 {
			out.WriteString(string(buf[:n]))
		}
		if err != nil {
			break
		}
	}

	if !strings.Contains(out.String(), "hello-pty") {
		t.Errorf("output = %q, want hello-pty", out.String())
	}

	select {
	case code := <-done:
		if code != 0 {
			t.Errorf("exit code = %d, want 0", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestExitCode(t *testing.T) {
	p, err := Start(Spec{Command: "sh", Args: []string{"-c", "exit 7"}})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	buf := make([]byte, 256)
	for {
		if _, err := p.Read(buf); err != nil {
			break
		}
	}
	if code := p.Wait(); code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}
}

func TestWriteStdin(t *testing.T) {
	p, err := Start(Spec{Command: "cat"})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if _, err := p.Write([]byte("ping\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var out strings.Builder
	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, err := p.Read(buf)
		if n > 0 {
			out.WriteString(string(buf[:n]))
		}
		// cat echoes the tty input plus its own output.
		if strings.Count(out.String(), "ping") >= 2 {
			break
		}
		if err != nil {
			break
		}
	}
	if !strings.Contains(out.String(), "ping") {
		t.Errorf("no echo from cat: %q", out.String())
	}

	_ = p.Kill()
	p.Wait()
}

func TestResize(t *testing.T) {
	p, err := Start(Spec{Command: "sleep", Args: []string{"5"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	defer func() { _ = p.Kill(); p.Wait() }()

	if err := p.Resize(132, 50); err != nil {
		t.Errorf("Resize() error = %v", err)
	}
	if err := p.Resize(0, 50); err == nil {
		t.Error("Resize(0, 50) should fail")
	}
}

func TestStartInvalidCommand(t *testing.T) {
	if _, err := Start(Spec{Command: ""}); err == nil {
		t.Error("Start with empty command should fail")
	}
	if _, err := Start(Spec{Command: "/nonexistent/binary-xyz"}); err == nil {
		t.Error("Start with missing binary should fail")
	}
}
