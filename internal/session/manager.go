package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/drydock-sh/drydock/internal/proc"
	"github.com/drydock-sh/drydock/internal/protocol"
	"github.com/drydock-sh/drydock/internal/store"
	"github.com/drydock-sh/drydock/internal/terminal"
	"github.com/drydock-sh/drydock/internal/worktree"
)

// EnvSessionID is set in every spawned process so code running inside a
// session can identify which one it belongs to.
const EnvSessionID = "DRYDOCK_SESSION"

// DaemonClient is the slice of the daemon API the manager needs. Satisfied
// by *client.Client; tests substitute fakes.
type DaemonClient interface {
	Create(spec *protocol.SpawnSpec) (*protocol.SessionInfo, error)
	Status(id string) (*protocol.SessionInfo, error)
	Stop(id string) error
	Scrollback(id string) ([]byte, error)
}

// Manager coordinates session records, the daemon, and terminal backends.
// A nil daemon client means "daemon not running": queries treat daemon
// processes as dead and mutations that need the daemon fail.
type Manager struct {
	store    *store.Store
	daemon   DaemonClient
	backends map[string]terminal.Backend
	grace    time.Duration
	now      func() time.Time
}

// NewManager creates a manager. The process terminal backend is always
// registered.
func NewManager(st *store.Store, daemon DaemonClient, stopGrace time.Duration) *Manager {
	m := &Manager{
		store:    st,
		daemon:   daemon,
		backends: make(map[string]terminal.Backend),
		grace:    stopGrace,
		now:      time.Now,
	}
	pb := terminal.NewProcessBackend(stopGrace)
	m.backends[pb.Name()] = pb
	return m
}

// RegisterBackend adds a terminal backend, replacing any with the same name.
func (m *Manager) RegisterBackend(b terminal.Backend) {
	m.backends[b.Name()] = b
}

// Store exposes the underlying record store.
func (m *Manager) Store() *store.Store { return m.store }

// Mode selects how an agent process is hosted.
type Mode string

const (
	// ModeDaemon runs the agent under the drydock daemon's PTY supervisor.
	ModeDaemon Mode = "daemon"
	// ModeTerminal runs the agent in a terminal backend window.
	ModeTerminal Mode = "terminal"
)

// CreateOptions parameterize Create and Open.
type CreateOptions struct {
	Worktree string
	Branch   string
	Agent    string
	Command  string
	Args     []string
	Env      map[string]string
	Cols     int
	Rows     int
	Mode     Mode   // defaults to ModeDaemon
	Backend  string // terminal backend name, defaults to "process"
}

// Create allocates a new session for a worktree and starts its first agent
// process. An active session for the same worktree/branch (after
// reconciliation) rejects the create.
func (m *Manager) Create(opts CreateOptions) (*Session, error) {
	wt, err := worktree.Validate(opts.Worktree)
	if err != nil {
		return nil, err
	}
	if opts.Command == "" {
		return nil, fmt.Errorf("create requires a command")
	}

	sessions, _ := LoadAll(m.store)
	for _, s := range sessions {
		if s.Worktree != wt || s.Branch != opts.Branch {
			continue
		}
		cur, err := m.Reconcile(s)
		if err != nil {
			cur = s
		}
		if cur.Status == StatusRunning || cur.Status == StatusCreating {
			return nil, &AlreadyActiveError{SessionID: cur.ID, Worktree: wt}
		}
	}

	id := uuid.NewString()
	now := m.now()
	sess := &Session{
		ID:           id,
		Worktree:     wt,
		Branch:       opts.Branch,
		Status:       StatusCreating,
		Agent:        opts.Agent,
		CreatedAt:    now,
		LastActivity: now,
		Processes:    []AgentProcess{},
	}
	if err := m.store.Create(id, sess); err != nil {
		return nil, err
	}

	if err := m.startProcess(sess, opts); err != nil {
		// The session never ran; don't leave a corpse record behind.
		_ = m.store.Delete(id)
		return nil, err
	}
	return Load(m.store, id)
}

// Open starts an agent process in an existing session. Daemon-mode opens
// claim the record first, so two concurrent opens on a stopped session
// resolve to exactly one winner. Terminal-mode opens append alongside a
// running daemon process.
func (m *Manager) Open(id string, opts CreateOptions) (*Session, error) {
	sess, err := Load(m.store, id)
	if err != nil {
		return nil, err
	}
	// Stale Running records would wrongly reject the open.
	if sess, err = m.Reconcile(sess); err != nil {
		return nil, err
	}

	opts.Worktree = sess.Worktree
	opts.Branch = sess.Branch
	if opts.Command == "" {
		return nil, fmt.Errorf("open requires a command")
	}

	if mode(opts) == ModeDaemon {
		// Claim under the record lock: the loser of a concurrent open
		// sees creating or running and backs off.
		prior := sess.Status
		err := m.store.Update(id, func(f store.Fields) error {
			switch Status(fieldString(f, "status")) {
			case StatusCreating:
				return &AlreadyActiveError{SessionID: id, Agent: opts.Agent}
			case StatusRunning:
				if hasDaemonProcess(f) {
					return &AlreadyActiveError{SessionID: id, Agent: opts.Agent}
				}
			}
			f["status"] = string(StatusCreating)
			return nil
		})
		if err != nil {
			return nil, err
		}

		if err := m.startProcess(sess, opts); err != nil {
			_ = m.store.Patch(id, store.Fields{"status": string(prior)})
			return nil, err
		}
	} else {
		if err := m.startProcess(sess, opts); err != nil {
			return nil, err
		}
	}
	return Load(m.store, id)
}

// startProcess launches the agent per the requested mode and records the
// AgentProcess entry with status Running.
func (m *Manager) startProcess(sess *Session, opts CreateOptions) error {
	var entry AgentProcess
	var err error
	switch mode(opts) {
	case ModeDaemon:
		entry, err = m.startDaemonProcess(sess, opts)
	case ModeTerminal:
		entry, err = m.startTerminalProcess(sess, opts)
	default:
		err = fmt.Errorf("unknown mode %q", opts.Mode)
	}
	if err != nil {
		return err
	}

	entryMap, err := toJSONMap(entry)
	if err != nil {
		return err
	}
	return m.store.Update(sess.ID, func(f store.Fields) error {
		list, _ := f["processes"].([]any)
		f["processes"] = append(list, entryMap)
		f["status"] = string(StatusRunning)
		f["last_activity"] = m.now().Format(time.RFC3339Nano)
		return nil
	})
}

func (m *Manager) startDaemonProcess(sess *Session, opts CreateOptions) (AgentProcess, error) {
	if m.daemon == nil {
		return AgentProcess{}, protocol.ErrDaemonNotRunning
	}

	env := make(map[string]string, len(opts.Env)+1)
	for k, v := range opts.Env {
		env[k] = v
	}
	env[EnvSessionID] = sess.ID

	info, err := m.daemon.Create(&protocol.SpawnSpec{
		Command:  opts.Command,
		Args:     opts.Args,
		Dir:      sess.Worktree,
		Env:      env,
		Worktree: sess.Worktree,
		Branch:   sess.Branch,
		Cols:     opts.Cols,
		Rows:     opts.Rows,
	})
	if err != nil {
		return AgentProcess{}, err
	}

	if err := m.awaitStartup(info.ID); err != nil {
		return AgentProcess{}, err
	}

	return AgentProcess{
		Agent:    opts.Agent,
		Command:  opts.Command,
		OpenedAt: m.now(),
		DaemonID: info.ID,
	}, nil
}

func (m *Manager) startTerminalProcess(sess *Session, opts CreateOptions) (AgentProcess, error) {
	name := opts.Backend
	if name == "" {
		name = "process"
	}
	backend, ok := m.backends[name]
	if !ok {
		return AgentProcess{}, fmt.Errorf("unknown terminal backend %q", name)
	}

	env := []string{EnvSessionID + "=" + sess.ID}
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	ref, pid, err := backend.Open(terminal.Spawn{
		Command: opts.Command,
		Args:    opts.Args,
		Dir:     sess.Worktree,
		Env:     env,
	})
	if err != nil {
		return AgentProcess{}, err
	}

	entry := AgentProcess{
		Agent:    opts.Agent,
		Command:  opts.Command,
		OpenedAt: m.now(),
		Terminal: &TerminalRef{Backend: ref.Backend, WindowID: ref.WindowID},
	}
	if pid > 0 {
		entry.PID = pid
		entry.StartedAt = m.now()
	}
	return entry, nil
}

// StopOptions parameterize Stop and Destroy.
type StopOptions struct {
	// Force clears the record even when some processes could not be
	// confirmed terminated.
	Force bool
}

// Stop terminates every tracked process independently and, when all
// succeed, patches the record to Stopped with an empty process list in one
// atomic update. Per-process failures are collected, not short-circuited.
func (m *Manager) Stop(id string, opts StopOptions) error {
	sess, err := Load(m.store, id)
	if err != nil {
		return err
	}

	failures := make(map[string]error)
	for i, p := range sess.Processes {
		if err := m.stopProcess(p); err != nil {
			failures[describeProcess(i, p)] = err
		}
	}

	if len(failures) > 0 && !opts.Force {
		return &StopError{SessionID: id, Failures: failures}
	}

	return m.store.Update(id, func(f store.Fields) error {
		f["status"] = string(StatusStopped)
		f["processes"] = []any{}
		f["last_activity"] = m.now().Format(time.RFC3339Nano)
		return nil
	})
}

// Destroy stops the session and removes its record.
func (m *Manager) Destroy(id string, opts StopOptions) error {
	if err := m.Stop(id, opts); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		if !opts.Force {
			return err
		}
	}
	return m.store.Delete(id)
}

// stopProcess terminates one tracked process. "Already gone" is success.
func (m *Manager) stopProcess(p AgentProcess) error {
	switch {
	case p.DaemonID != "":
		if m.daemon == nil {
			// No daemon, no daemon sessions: already gone.
			return nil
		}
		err := m.daemon.Stop(p.DaemonID)
		if err == nil || protocol.HasCode(err, protocol.CodeNotFound) {
			return nil
		}
		return err

	case p.Terminal != nil:
		backend, ok := m.backends[p.Terminal.Backend]
		if !ok {
			if p.PID > 0 {
				return m.terminatePID(p)
			}
			return fmt.Errorf("unknown terminal backend %q", p.Terminal.Backend)
		}
		if err := backend.Close(terminal.Ref{Backend: p.Terminal.Backend, WindowID: p.Terminal.WindowID}); err != nil {
			if errors.Is(err, terminal.ErrUnsupported) && p.PID > 0 {
				return m.terminatePID(p)
			}
			return err
		}
		return nil

	case p.PID > 0:
		return m.terminatePID(p)

	default:
		return nil
	}
}

func (m *Manager) terminatePID(p AgentProcess) error {
	if !proc.AliveSince(p.PID, p.StartedAt) {
		return nil
	}
	return proc.Terminate(p.PID, m.grace)
}

// Get loads one record without reconciling.
func (m *Manager) Get(id string) (*Session, error) {
	return Load(m.store, id)
}

// List returns every record, reconciled.
func (m *Manager) List() ([]*Session, []error) {
	sessions, errs := LoadAll(m.store)
	out := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		cur, err := m.Reconcile(s)
		if err != nil {
			errs = append(errs, err)
			cur = s
		}
		out = append(out, cur)
	}
	return out, errs
}

func mode(opts CreateOptions) Mode {
	if opts.Mode == "" {
		return ModeDaemon
	}
	return opts.Mode
}

func describeProcess(i int, p AgentProcess) string {
	switch {
	case p.DaemonID != "":
		return fmt.Sprintf("daemon %s", p.DaemonID)
	case p.Terminal != nil:
		return fmt.Sprintf("%s window %s", p.Terminal.Backend, p.Terminal.WindowID)
	case p.PID > 0:
		return fmt.Sprintf("pid %d", p.PID)
	default:
		return fmt.Sprintf("process[%d]", i)
	}
}

func fieldString(f store.Fields, key string) string {
	s, _ := f[key].(string)
	return s
}

func hasDaemonProcess(f store.Fields) bool {
	list, _ := f["processes"].([]any)
	for _, item := range list {
		if entry, ok := item.(map[string]any); ok {
			if id, _ := entry["daemon_id"].(string); id != "" {
				return true
			}
		}
	}
	return false
}

func toJSONMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding process entry: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding process entry: %w", err)
	}
	return out, nil
}
