package session

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drydock-sh/drydock/internal/protocol"
	"github.com/drydock-sh/drydock/internal/store"
	"github.com/drydock-sh/drydock/internal/terminal"
)

// fakeDaemon implements DaemonClient in memory.
type fakeDaemon struct {
	mu         sync.Mutex
	nextID     int
	sessions   map[string]*protocol.SessionInfo
	scrollback map[string][]byte
	stopped    []string

	createErr error
	stopErr   error
	statusErr error
	failStop  map[string]error
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{
		sessions:   make(map[string]*protocol.SessionInfo),
		scrollback: make(map[string][]byte),
	}
}

func (d *fakeDaemon) Create(spec *protocol.SpawnSpec) (*protocol.SessionInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return nil, d.createErr
	}
	d.nextID++
	id := fmt.Sprintf("d-%d", d.nextID)
	info := &protocol.SessionInfo{
		ID: id, Worktree: spec.Worktree, Branch: spec.Branch,
		Command: spec.Command, State: protocol.StateRunning, PID: 1000 + d.nextID,
		StartedAt: time.Now(),
	}
	d.sessions[id] = info
	return info, nil
}

func (d *fakeDaemon) Status(id string) (*protocol.SessionInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.statusErr != nil {
		return nil, d.statusErr
	}
	info, ok := d.sessions[id]
	if !ok {
		return nil, &protocol.RemoteError{Code: protocol.CodeNotFound, Message: "no session " + id}
	}
	cp := *info
	return &cp, nil
}

func (d *fakeDaemon) Stop(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopErr != nil {
		return d.stopErr
	}
	if err, ok := d.failStop[id]; ok {
		return err
	}
	if _, ok := d.sessions[id]; !ok {
		return &protocol.RemoteError{Code: protocol.CodeNotFound, Message: "no session " + id}
	}
	delete(d.sessions, id)
	d.stopped = append(d.stopped, id)
	return nil
}

func (d *fakeDaemon) Scrollback(id string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[id]; !ok {
		return nil, &protocol.RemoteError{Code: protocol.CodeNotFound, Message: "no session " + id}
	}
	return d.scrollback[id], nil
}

// markExited flips a fake daemon session to stopped with an exit code.
func (d *fakeDaemon) markExited(id string, code int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info, ok := d.sessions[id]; ok {
		info.State = protocol.StateStopped
		info.ExitCode = &code
		info.PID = 0
	}
}

// fakeBackend implements terminal.Backend in memory.
type fakeBackend struct {
	mu       sync.Mutex
	name     string
	nextID   int
	presence map[string]terminal.Presence
	closed   []string
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{name: name, presence: make(map[string]terminal.Presence)}
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Open(terminal.Spawn) (terminal.Ref, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := fmt.Sprintf("w-%d", b.nextID)
	b.presence[id] = terminal.PresenceOpen
	return terminal.Ref{Backend: b.name, WindowID: id}, 0, nil
}

func (b *fakeBackend) Focus(terminal.Ref) error { return nil }
func (b *fakeBackend) Hide(terminal.Ref) error  { return nil }

func (b *fakeBackend) IsOpen(ref terminal.Ref) terminal.Presence {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.presence[ref.WindowID]; ok {
		return p
	}
	return terminal.PresenceClosed
}

func (b *fakeBackend) Close(ref terminal.Ref) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presence[ref.WindowID] = terminal.PresenceClosed
	b.closed = append(b.closed, ref.WindowID)
	return nil
}

func testManager(t *testing.T) (*Manager, *fakeDaemon, string) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)
	d := newFakeDaemon()
	return NewManager(st, d, time.Second), d, t.TempDir()
}

func TestCreate_PersistsRunningRecord(t *testing.T) {
	m, d, wt := testManager(t)

	sess, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Agent: "claude", Command: "claude"})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, sess.Status)
	require.Len(t, sess.Processes, 1)
	assert.Equal(t, "claude", sess.Processes[0].Agent)
	assert.NotEmpty(t, sess.Processes[0].DaemonID)
	assert.Len(t, d.sessions, 1)
}

func TestCreate_RejectsActiveDuplicate(t *testing.T) {
	m, _, wt := testManager(t)

	_, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Command: "claude"})
	require.NoError(t, err)

	_, err = m.Create(CreateOptions{Worktree: wt, Branch: "main", Command: "claude"})
	var active *AlreadyActiveError
	require.ErrorAs(t, err, &active)

	// A different branch in the same worktree is fine.
	_, err = m.Create(CreateOptions{Worktree: wt, Branch: "feature", Command: "claude"})
	require.NoError(t, err)
}

func TestCreate_EarlyExitCleansUp(t *testing.T) {
	m, d, wt := testManager(t)

	// The process dies right after spawn.
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Wait for the daemon session to appear, then kill it before the
		// first startup probe can possibly pass.
		for {
			d.mu.Lock()
			var id string
			for k := range d.sessions {
				id = k
			}
			d.mu.Unlock()
			if id != "" {
				d.mu.Lock()
				d.scrollback[id] = []byte("fatal: bad flag\nusage: agent [opts]\n")
				d.mu.Unlock()
				d.markExited(id, 2)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	_, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Command: "agent", Args: []string{"--bad"}})
	<-done

	var early *EarlyExitError
	require.ErrorAs(t, err, &early)
	assert.Equal(t, 2, early.ExitCode)
	assert.Contains(t, early.Tail, "fatal: bad flag")

	// The dead daemon session was destroyed and no record survived.
	assert.Empty(t, d.sessions)
	ids, err := m.Store().List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestOpen_RestartsStoppedSession(t *testing.T) {
	m, d, wt := testManager(t)

	sess, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Agent: "claude", Command: "claude"})
	require.NoError(t, err)
	require.NoError(t, m.Stop(sess.ID, StopOptions{}))
	assert.Empty(t, d.sessions)

	reopened, err := m.Open(sess.ID, CreateOptions{Agent: "claude", Command: "claude"})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, reopened.Status)
	require.Len(t, reopened.Processes, 1)
	assert.Len(t, d.sessions, 1)
}

func TestOpen_ConcurrentClaimOneWinner(t *testing.T) {
	m, _, wt := testManager(t)

	sess, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Command: "claude"})
	require.NoError(t, err)
	require.NoError(t, m.Stop(sess.ID, StopOptions{}))

	// Simulate the other opener having claimed the record already.
	require.NoError(t, m.Store().Patch(sess.ID, store.Fields{"status": string(StatusCreating)}))

	_, err = m.Open(sess.ID, CreateOptions{Agent: "claude", Command: "claude"})
	var active *AlreadyActiveError
	require.ErrorAs(t, err, &active)
}

func TestOpen_DaemonModeRejectedWhileRunning(t *testing.T) {
	m, _, wt := testManager(t)

	sess, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Command: "claude"})
	require.NoError(t, err)

	_, err = m.Open(sess.ID, CreateOptions{Agent: "reviewer", Command: "claude"})
	var active *AlreadyActiveError
	require.ErrorAs(t, err, &active)
}

func TestOpen_TerminalModeAppendsAgent(t *testing.T) {
	m, _, wt := testManager(t)
	fb := newFakeBackend("fakewin")
	m.RegisterBackend(fb)

	sess, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Agent: "claude", Command: "claude"})
	require.NoError(t, err)

	got, err := m.Open(sess.ID, CreateOptions{
		Agent: "reviewer", Command: "reviewer-agent",
		Mode: ModeTerminal, Backend: "fakewin",
	})
	require.NoError(t, err)
	require.Len(t, got.Processes, 2, "terminal open must append, not replace")
	assert.Equal(t, "claude", got.Processes[0].Agent)
	assert.Equal(t, "reviewer", got.Processes[1].Agent)
	require.NotNil(t, got.Processes[1].Terminal)
	assert.Equal(t, "fakewin", got.Processes[1].Terminal.Backend)
}

func TestStop_ClearsProcessListAtomically(t *testing.T) {
	m, d, wt := testManager(t)
	fb := newFakeBackend("fakewin")
	m.RegisterBackend(fb)

	sess, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Command: "claude"})
	require.NoError(t, err)
	_, err = m.Open(sess.ID, CreateOptions{Agent: "extra", Command: "x", Mode: ModeTerminal, Backend: "fakewin"})
	require.NoError(t, err)

	require.NoError(t, m.Stop(sess.ID, StopOptions{}))

	got, err := m.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.Empty(t, got.Processes)
	assert.Empty(t, d.sessions, "daemon process terminated")
	assert.Len(t, fb.closed, 1, "terminal window closed")
}

func TestStop_PartialFailureLeavesRecord(t *testing.T) {
	m, d, wt := testManager(t)

	sess, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Command: "claude"})
	require.NoError(t, err)

	d.stopErr = &protocol.RemoteError{Code: protocol.CodeTerminationFailed, Message: "stuck"}
	err = m.Stop(sess.ID, StopOptions{})
	var stopErr *StopError
	require.ErrorAs(t, err, &stopErr)
	assert.Len(t, stopErr.Failures, 1)

	// Record untouched: still running with its process list.
	got, err := m.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Len(t, got.Processes, 1)

	// Force clears it anyway.
	require.NoError(t, m.Stop(sess.ID, StopOptions{Force: true}))
	got, err = m.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
}

func TestStop_DaemonGoneIsSuccess(t *testing.T) {
	m, d, wt := testManager(t)

	sess, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Command: "claude"})
	require.NoError(t, err)

	// Daemon session vanished out from under the record.
	for id := range d.sessions {
		delete(d.sessions, id)
	}

	require.NoError(t, m.Stop(sess.ID, StopOptions{}))
	got, err := m.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
}

func TestDestroy_RemovesRecord(t *testing.T) {
	m, _, wt := testManager(t)

	sess, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Command: "claude"})
	require.NoError(t, err)

	require.NoError(t, m.Destroy(sess.ID, StopOptions{}))
	_, err = m.Get(sess.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPatchPreservesForeignFields(t *testing.T) {
	m, _, wt := testManager(t)

	sess, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Command: "claude"})
	require.NoError(t, err)

	// Another tool annotates the record.
	require.NoError(t, m.Store().Patch(sess.ID, store.Fields{"ui_color": "teal"}))

	require.NoError(t, m.Stop(sess.ID, StopOptions{}))

	fields, err := m.Store().Load(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "teal", fields["ui_color"], "stop must patch fields, not rewrite the document")
	assert.Equal(t, string(StatusStopped), fields["status"])
}
