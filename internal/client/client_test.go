package client

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drydock-sh/drydock/internal/daemon"
	"github.com/drydock-sh/drydock/internal/logging"
	"github.com/drydock-sh/drydock/internal/protocol"
)

// shortTempDir keeps unix socket paths under the kernel limit; t.TempDir
// can produce paths that are too long.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "dock")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func startTestDaemon(t *testing.T) string {
	t.Helper()
	socket := filepath.Join(shortTempDir(t), "d.sock")

	reg := daemon.NewRegistry(logging.Discard(), 64*1024, 2*time.Second)
	srv := daemon.NewServer(logging.Discard(), reg, func() {})
	require.NoError(t, srv.Listen(socket))
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		srv.Close()
		reg.StopAll()
	})
	return socket
}

func testSpec(t *testing.T, cmd string, args ...string) *protocol.SpawnSpec {
	t.Helper()
	return &protocol.SpawnSpec{Command: cmd, Args: args, Worktree: t.TempDir(), Branch: "main"}
}

func TestDial_NotRunning(t *testing.T) {
	_, err := Dial(filepath.Join(shortTempDir(t), "absent.sock"))
	assert.ErrorIs(t, err, protocol.ErrDaemonNotRunning)
}

func TestPingAndCreateStatusStop(t *testing.T) {
	socket := startTestDaemon(t)
	c, err := Dial(socket)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Ping(time.Second))

	info, err := c.Create(testSpec(t, "sleep", "30"))
	require.NoError(t, err)
	assert.Equal(t, protocol.StateRunning, info.State)

	got, err := c.Status(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)

	list, err := c.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, c.Stop(info.ID))
	_, err = c.Status(info.ID)
	assert.True(t, protocol.HasCode(err, protocol.CodeNotFound))
}

func TestStatus_NotFound(t *testing.T) {
	socket := startTestDaemon(t)
	c, err := Dial(socket)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	_, err = c.Status("no-such-id")
	assert.True(t, protocol.HasCode(err, protocol.CodeNotFound))
}

func TestScrollbackAfterExit(t *testing.T) {
	socket := startTestDaemon(t)
	c, err := Dial(socket)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	info, err := c.Create(testSpec(t, "sh", "-c", "echo exited-output; exit 5"))
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := c.Status(info.ID)
		require.NoError(t, err)
		if got.State == protocol.StateStopped {
			require.NotNil(t, got.ExitCode)
			assert.Equal(t, 5, *got.ExitCode)
			break
		}
		require.True(t, time.Now().Before(deadline), "session never stopped")
		time.Sleep(20 * time.Millisecond)
	}

	data, err := c.Scrollback(info.ID)
	require.NoError(t, err)
	assert.Contains(t, string(data), "exited-output")
}

func TestAttachStream(t *testing.T) {
	socket := startTestDaemon(t)

	ctrl, err := Dial(socket)
	require.NoError(t, err)
	defer func() { _ = ctrl.Close() }()

	info, err := ctrl.Create(testSpec(t, "cat"))
	require.NoError(t, err)
	defer func() { _ = ctrl.Stop(info.ID) }()

	// Attach on its own connection; the control connection stays usable.
	ac, err := Dial(socket)
	require.NoError(t, err)
	stream, err := ac.Attach(info.ID)
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	require.NoError(t, stream.SendInput([]byte("roundtrip\n")))

	var out strings.Builder
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "roundtrip") {
		require.True(t, time.Now().Before(deadline), "no echo: %q", out.String())
		msg, err := stream.Next()
		require.NoError(t, err)
		if msg.Output != nil {
			out.Write(msg.Output)
		}
	}

	require.NoError(t, stream.Detach())
	for {
		msg, err := stream.Next()
		require.NoError(t, err)
		if msg.Detached {
			break
		}
	}
}

func TestAttachSeesExitEvent(t *testing.T) {
	socket := startTestDaemon(t)

	ctrl, err := Dial(socket)
	require.NoError(t, err)
	defer func() { _ = ctrl.Close() }()

	info, err := ctrl.Create(testSpec(t, "sh", "-c", "sleep 0.2; exit 9"))
	require.NoError(t, err)

	ac, err := Dial(socket)
	require.NoError(t, err)
	stream, err := ac.Attach(info.ID)
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	for {
		msg, err := stream.Next()
		require.NoError(t, err)
		if msg.Exited {
			require.NotNil(t, msg.ExitCode)
			assert.Equal(t, 9, *msg.ExitCode)
			return
		}
	}
}

func TestShared_ReusesConnection(t *testing.T) {
	socket := startTestDaemon(t)
	t.Cleanup(InvalidateShared)

	a, err := Shared(socket)
	require.NoError(t, err)
	b, err := Shared(socket)
	require.NoError(t, err)
	assert.Same(t, a, b)

	// A dead cached connection is replaced, not returned.
	_ = a.Close()
	c, err := Shared(socket)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	require.NoError(t, c.Ping(time.Second))
}

func TestAwaitDaemon_CrashFailsFast(t *testing.T) {
	exited := make(chan int, 1)
	exited <- 1

	start := time.Now()
	_, err := awaitDaemon(filepath.Join(shortTempDir(t), "never.sock"), exited, "/tmp/daemon.log", 5*time.Second)
	require.Error(t, err)

	var crash *CrashError
	require.ErrorAs(t, err, &crash)
	assert.Equal(t, 1, crash.ExitCode)
	assert.Less(t, time.Since(start), time.Second, "crash must fail fast, not burn the budget")
}

func TestAwaitDaemon_SocketNeverAppears(t *testing.T) {
	_, err := awaitDaemon(filepath.Join(shortTempDir(t), "never.sock"), make(chan int), "/tmp/daemon.log", 300*time.Millisecond)
	assert.ErrorIs(t, err, ErrStartTimeout)
}

func TestAwaitDaemon_SocketUnresponsive(t *testing.T) {
	socket := filepath.Join(shortTempDir(t), "mute.sock")
	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			// Accept and say nothing.
			_ = conn
		}
	}()

	_, err = awaitDaemon(socket, make(chan int), "/tmp/daemon.log", 300*time.Millisecond)
	assert.ErrorIs(t, err, ErrUnresponsive)
}

func TestAwaitDaemon_Succeeds(t *testing.T) {
	socket := startTestDaemon(t)
	c, err := awaitDaemon(socket, make(chan int), "/tmp/daemon.log", 5*time.Second)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	require.NoError(t, c.Ping(time.Second))
}
