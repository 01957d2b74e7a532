package daemon

import (
	"fmt"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/drydock-sh/drydock/internal/protocol"
	"github.com/drydock-sh/drydock/internal/ptyproc"
	"github.com/drydock-sh/drydock/internal/ringbuf"
)

// liveSession is one daemon-resident session: the PTY process, its
// scrollback, and its subscriber hub.
type liveSession struct {
	id       string
	worktree string
	branch   string
	command  string
	proc     *ptyproc.Proc
	buf      *ringbuf.Buffer
	hub      *hub
	pumpDone chan struct{}

	mu       sync.Mutex
	state    protocol.State
	exitCode *int
}

func (s *liveSession) setExited(code int) {
	s.mu.Lock()
	s.state = protocol.StateStopped
	s.exitCode = &code
	s.mu.Unlock()
}

func (s *liveSession) info() protocol.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := protocol.SessionInfo{
		ID:        s.id,
		Worktree:  s.worktree,
		Branch:    s.branch,
		Command:   s.command,
		State:     s.state,
		StartedAt: s.proc.StartedAt(),
		Clients:   s.hub.count(),
	}
	if s.state != protocol.StateStopped {
		info.PID = s.proc.Pid()
	}
	if s.exitCode != nil {
		c := *s.exitCode
		info.ExitCode = &c
	}
	return info
}

// Registry owns every live session in the daemon. All cross-session
// bookkeeping happens under one mutex; per-session output flows through
// the session's own hub without touching it.
type Registry struct {
	log        *logrus.Entry
	scrollback int
	grace      time.Duration

	mu       sync.Mutex
	sessions map[string]*liveSession
	byKey    map[string]string // worktree|branch -> session id
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logrus.Entry, scrollbackBytes int, stopGrace time.Duration) *Registry {
	return &Registry{
		log:        log,
		scrollback: scrollbackBytes,
		grace:      stopGrace,
		sessions:   make(map[string]*liveSession),
		byKey:      make(map[string]string),
	}
}

func sessionKey(worktree, branch string) string {
	return worktree + "\x00" + branch
}

// Create spawns a new session. The duplicate-key check and the registration
// happen under one lock, so two concurrent creates for the same
// worktree/branch cannot both win.
func (r *Registry) Create(spec *protocol.SpawnSpec) (*protocol.SessionInfo, error) {
	if spec == nil || spec.Command == "" {
		return nil, &protocol.RemoteError{Code: protocol.CodeProtocol, Message: "create requires a spawn spec with a command"}
	}
	if spec.Worktree == "" {
		return nil, &protocol.RemoteError{Code: protocol.CodeProtocol, Message: "create requires a worktree path"}
	}

	key := sessionKey(spec.Worktree, spec.Branch)
	id := uuid.NewString()

	// Reserve the key before spawning so a racing create fails fast
	// instead of double-spawning.
	r.mu.Lock()
	if existing, ok := r.byKey[key]; ok {
		r.mu.Unlock()
		return nil, &protocol.RemoteError{
			Code:    protocol.CodeAlreadyActive,
			Message: fmt.Sprintf("session %s already active for %s", existing, spec.Worktree),
		}
	}
	r.byKey[key] = id
	r.mu.Unlock()

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	dir := spec.Dir
	if dir == "" {
		dir = spec.Worktree
	}

	proc, err := ptyproc.Start(ptyproc.Spec{
		Command: spec.Command,
		Args:    spec.Args,
		Dir:     dir,
		Env:     env,
		Cols:    uint16(spec.Cols),
		Rows:    uint16(spec.Rows),
	})
	if err != nil {
		r.mu.Lock()
		delete(r.byKey, key)
		r.mu.Unlock()
		return nil, &protocol.RemoteError{Code: protocol.CodeInternal, Message: err.Error()}
	}

	sess := &liveSession{
		id:       id,
		worktree: spec.Worktree,
		branch:   spec.Branch,
		command:  spec.Command,
		proc:     proc,
		buf:      ringbuf.New(r.scrollback),
		hub:      newHub(),
		pumpDone: make(chan struct{}),
		state:    protocol.StateRunning,
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	go r.pump(sess)
	go r.watch(sess)

	r.log.WithFields(logrus.Fields{
		"session": id,
		"pid":     proc.Pid(),
		"command": spec.Command,
		"dir":     dir,
	}).Info("session created")

	info := sess.info()
	return &info, nil
}

// pump copies PTY output into the scrollback buffer and the hub until the
// PTY master reports EOF.
func (r *Registry) pump(sess *liveSession) {
	defer close(sess.pumpDone)
	buf := make([]byte, 4096)
	for {
		n, err := sess.proc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sess.hub.publish(chunk, func(c []byte) { _, _ = sess.buf.Write(c) })
		}
		if err != nil {
			return
		}
	}
}

// watch reaps the child and flips the session to Stopped. The entry stays
// in the registry so clients can read the exit code and scrollback until
// an explicit stop removes it.
func (r *Registry) watch(sess *liveSession) {
	code := sess.proc.Wait()

	// A fast-exiting process can die before the pump has read its buffered
	// output; closing the master here would discard it. Wait for the pump
	// to hit EOF first, but bounded: a grandchild holding the slave open
	// must not wedge exit handling.
	select {
	case <-sess.pumpDone:
	case <-time.After(time.Second):
	}

	sess.setExited(code)
	sess.proc.Close()
	sess.hub.close()

	r.log.WithFields(logrus.Fields{
		"session": sess.id,
		"exit":    code,
	}).Info("session process exited")
}

func (r *Registry) get(id string) (*liveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, &protocol.RemoteError{Code: protocol.CodeNotFound, Message: fmt.Sprintf("no session %s", id)}
	}
	return sess, nil
}

// Attach subscribes to a session's output. Snapshot and subscription are
// atomic with respect to output delivery: the live stream begins exactly
// where the snapshot ends, no gap and no replay.
func (r *Registry) Attach(id string) ([]byte, *Subscriber, error) {
	sess, err := r.get(id)
	if err != nil {
		return nil, nil, err
	}
	sub := newSubscriber()
	snapshot := sess.hub.subscribeWithSnapshot(sub, sess.buf.Bytes)
	return snapshot, sub, nil
}

// Detach removes a subscriber.
func (r *Registry) Detach(id string, sub *Subscriber) {
	if sess, err := r.get(id); err == nil {
		sess.hub.unsubscribe(sub)
	}
}

// WriteStdin forwards bytes to the session's PTY.
func (r *Registry) WriteStdin(id string, data []byte) error {
	sess, err := r.get(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	stopped := sess.state == protocol.StateStopped
	sess.mu.Unlock()
	if stopped {
		return &protocol.RemoteError{Code: protocol.CodeNotFound, Message: fmt.Sprintf("session %s has exited", id)}
	}
	if _, err := sess.proc.Write(data); err != nil {
		return &protocol.RemoteError{Code: protocol.CodeInternal, Message: err.Error()}
	}
	return nil
}

// Resize changes a session's PTY window size.
func (r *Registry) Resize(id string, cols, rows int) error {
	sess, err := r.get(id)
	if err != nil {
		return err
	}
	if err := sess.proc.Resize(uint16(cols), uint16(rows)); err != nil {
		return &protocol.RemoteError{Code: protocol.CodeInternal, Message: err.Error()}
	}
	return nil
}

// Status returns one session's info.
func (r *Registry) Status(id string) (*protocol.SessionInfo, error) {
	sess, err := r.get(id)
	if err != nil {
		return nil, err
	}
	info := sess.info()
	return &info, nil
}

// List returns every session, newest first.
func (r *Registry) List() []protocol.SessionInfo {
	r.mu.Lock()
	sessions := make([]*liveSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]protocol.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.After(infos[j].StartedAt) })
	return infos
}

// Scrollback returns a snapshot of a session's buffered output.
func (r *Registry) Scrollback(id string) ([]byte, error) {
	sess, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return sess.buf.Bytes(), nil
}

// Stop terminates a session's process and removes the session. SIGTERM
// first, SIGKILL after the grace period; a process that is already gone is
// a success. The scrollback is discarded with the entry.
func (r *Registry) Stop(id string) error {
	sess, err := r.get(id)
	if err != nil {
		return err
	}

	if err := r.terminate(sess); err != nil {
		return &protocol.RemoteError{Code: protocol.CodeTerminationFailed, Message: err.Error()}
	}

	r.mu.Lock()
	delete(r.sessions, id)
	delete(r.byKey, sessionKey(sess.worktree, sess.branch))
	r.mu.Unlock()

	r.log.WithField("session", id).Info("session stopped")
	return nil
}

func (r *Registry) terminate(sess *liveSession) error {
	sess.mu.Lock()
	alreadyStopped := sess.state == protocol.StateStopped
	sess.mu.Unlock()
	if alreadyStopped {
		return nil
	}

	// A failed graceful signal is survivable as long as the kill lands.
	if err := sess.proc.Signal(syscall.SIGTERM); err != nil {
		r.log.WithField("session", sess.id).WithError(err).Warn("graceful signal failed, escalating")
	} else {
		select {
		case <-waitDone(sess):
			return nil
		case <-time.After(r.grace):
		}
		r.log.WithField("session", sess.id).Warn("grace period expired, sending SIGKILL")
	}
	if err := sess.proc.Kill(); err != nil {
		return err
	}

	select {
	case <-waitDone(sess):
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("session %s process survived SIGKILL", sess.id)
	}
}

// waitDone adapts the hub's close (driven by the exit watcher) to a channel.
func waitDone(sess *liveSession) <-chan struct{} {
	sub := newSubscriber()
	sess.hub.subscribe(sub)
	return sub.Done
}

// StopAll terminates every session. Used during daemon shutdown; failures
// are logged, not returned, so one stuck process can't wedge the rest.
func (r *Registry) StopAll() {
	for _, info := range r.List() {
		if err := r.Stop(info.ID); err != nil {
			r.log.WithField("session", info.ID).WithError(err).Warn("stop during shutdown failed")
		}
	}
}
