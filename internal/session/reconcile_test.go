package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drydock-sh/drydock/internal/protocol"
)

func TestReconcile_PatchesStaleRunning(t *testing.T) {
	m, d, wt := testManager(t)

	sess, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Command: "claude"})
	require.NoError(t, err)

	// Daemon restarted: its session is gone, the record still says Running.
	for id := range d.sessions {
		delete(d.sessions, id)
	}

	got, err := m.Reconcile(sess)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.Empty(t, got.Processes)

	// The patch is persisted, not just in memory.
	reloaded, err := m.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, reloaded.Status)
}

func TestReconcile_KeepsRunningWhenAlive(t *testing.T) {
	m, _, wt := testManager(t)

	sess, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Command: "claude"})
	require.NoError(t, err)

	got, err := m.Reconcile(sess)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Len(t, got.Processes, 1)
}

func TestReconcile_NeverFlipsOnUnknown(t *testing.T) {
	m, d, wt := testManager(t)

	sess, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Command: "claude"})
	require.NoError(t, err)

	// Transport trouble, not a definitive answer.
	d.statusErr = errors.New("i/o timeout")

	got, err := m.Reconcile(sess)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status, "unknown evidence must not flip the record")
}

func TestReconcile_StoppedRecordUntouched(t *testing.T) {
	m, _, wt := testManager(t)

	sess, err := m.Create(CreateOptions{Worktree: wt, Branch: "main", Command: "claude"})
	require.NoError(t, err)
	require.NoError(t, m.Stop(sess.ID, StopOptions{}))

	got, err := m.Get(sess.ID)
	require.NoError(t, err)
	reconciled, err := m.Reconcile(got)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, reconciled.Status)
}

func TestAggregateStatus(t *testing.T) {
	m, d, _ := testManager(t)
	fb := newFakeBackend("fakewin")
	m.RegisterBackend(fb)

	// One live daemon process.
	info, err := d.Create(&protocol.SpawnSpec{Command: "cmd", Worktree: "/w"})
	require.NoError(t, err)

	tests := []struct {
		name string
		sess *Session
		want Status
	}{
		{
			"no processes stopped record",
			&Session{Status: StatusStopped},
			StatusStopped,
		},
		{
			"no processes creating record",
			&Session{Status: StatusCreating},
			StatusCreating,
		},
		{
			"live daemon process",
			&Session{Status: StatusRunning, Processes: []AgentProcess{{DaemonID: info.ID}}},
			StatusRunning,
		},
		{
			"dead daemon process",
			&Session{Status: StatusRunning, Processes: []AgentProcess{{DaemonID: "gone"}}},
			StatusStopped,
		},
		{
			"dead pid with ancient start time",
			&Session{Status: StatusRunning, Processes: []AgentProcess{{PID: 1, StartedAt: time.Now().Add(-10 * 365 * 24 * time.Hour)}}},
			StatusStopped,
		},
		{
			"unknown backend no pid",
			&Session{Status: StatusRunning, Processes: []AgentProcess{{Terminal: &TerminalRef{Backend: "vanished-backend", WindowID: "w"}}}},
			StatusUnknown,
		},
		{
			"any alive wins over dead",
			&Session{Status: StatusRunning, Processes: []AgentProcess{
				{DaemonID: "gone"},
				{DaemonID: info.ID},
			}},
			StatusRunning,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.AggregateStatus(tt.sess))
		})
	}
}
