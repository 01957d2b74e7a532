package daemon

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/drydock-sh/drydock/internal/protocol"
)

// Server accepts client connections on the daemon's unix socket and
// dispatches protocol requests against the registry.
type Server struct {
	log      *logrus.Entry
	registry *Registry
	shutdown func() // requests daemon shutdown (OpShutdown)

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewServer creates a server for the given registry. shutdown is invoked
// when a client requests daemon shutdown; it must be safe to call once.
func NewServer(log *logrus.Entry, registry *Registry, shutdown func()) *Server {
	return &Server{log: log, registry: registry, shutdown: shutdown}
}

// Listen binds the unix socket, replacing a stale socket file left by a
// previous daemon. The socket is owner-only.
func (s *Server) Listen(socketPath string) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if _, err := os.Stat(socketPath); err == nil {
		// Bind would fail on the leftover file; a live daemon is excluded
		// by the singleton lock before we get here.
		s.log.WithField("socket", socketPath).Info("removing stale socket")
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("removing stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("restricting socket permissions: %w", err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Serve accepts connections until Close. Each connection gets its own
// goroutine; a protocol error on one connection never affects another.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server not listening")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting and waits for in-flight connections.
func (s *Server) Close() {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.wg.Wait()
}

// conn tracks per-connection attach state so a dropped client always gets
// its subscriptions cleaned up.
type connState struct {
	codec *protocol.Codec

	mu       sync.Mutex
	attached map[string]*attachment
}

type attachment struct {
	sub  *Subscriber
	quit chan struct{}
	done sync.WaitGroup
}

func (s *Server) handleConn(nc net.Conn) {
	defer func() { _ = nc.Close() }()

	c := &connState{
		codec:    protocol.NewCodec(nc),
		attached: make(map[string]*attachment),
	}
	defer s.detachAll(c)

	for {
		msg, err := c.codec.ReadClient()
		if err != nil {
			if !protocol.IsDisconnect(err) {
				s.log.WithError(err).Debug("connection read failed")
				if errors.Is(err, protocol.ErrMalformed) {
					_ = c.codec.WriteResponse(protocol.ErrResponse(protocol.CodeProtocol, err.Error()))
				}
			}
			return
		}

		if msg.Frame != nil {
			if msg.Frame.Kind != protocol.FrameInput {
				s.log.Debug("ignoring non-input frame from client")
				continue
			}
			if err := s.registry.WriteStdin(msg.Frame.SessionID, msg.Frame.Payload); err != nil {
				// Input races process exit; nothing useful to tell the
				// client beyond the exit event it already gets.
				s.log.WithField("session", msg.Frame.SessionID).WithError(err).Debug("stdin write failed")
			}
			continue
		}

		if done := s.handleRequest(c, msg.Request); done {
			return
		}
	}
}

// handleRequest dispatches one request. Returns true when the connection
// should close (daemon shutdown).
func (s *Server) handleRequest(c *connState, req *protocol.Request) bool {
	var resp *protocol.Response

	switch req.Op {
	case protocol.OpPing:
		resp = protocol.OKResponse()

	case protocol.OpCreate:
		info, err := s.registry.Create(req.Spec)
		resp = toResponse(err)
		resp.Session = info

	case protocol.OpStatus:
		info, err := s.registry.Status(req.SessionID)
		resp = toResponse(err)
		resp.Session = info

	case protocol.OpList:
		resp = protocol.OKResponse()
		resp.Sessions = s.registry.List()

	case protocol.OpScrollback:
		data, err := s.registry.Scrollback(req.SessionID)
		resp = toResponse(err)
		resp.Scrollback = data

	case protocol.OpResize:
		resp = toResponse(s.registry.Resize(req.SessionID, req.Cols, req.Rows))

	case protocol.OpStop:
		resp = toResponse(s.registry.Stop(req.SessionID))

	case protocol.OpAttach:
		s.handleAttach(c, req)
		return false

	case protocol.OpDetach:
		s.stopAttachment(c, req.SessionID, true)
		resp = protocol.OKResponse()

	case protocol.OpShutdown:
		_ = c.codec.WriteResponse(protocol.OKResponse())
		s.shutdown()
		return true

	default:
		resp = protocol.ErrResponse(protocol.CodeProtocol, fmt.Sprintf("unknown op %q", req.Op))
	}

	if err := c.codec.WriteResponse(resp); err != nil {
		s.log.WithError(err).Debug("response write failed")
	}
	return false
}

func toResponse(err error) *protocol.Response {
	if err == nil {
		return protocol.OKResponse()
	}
	if re, ok := protocol.AsRemote(err); ok {
		return protocol.ErrResponse(re.Code, re.Message)
	}
	return protocol.ErrResponse(protocol.CodeInternal, err.Error())
}

// handleAttach replies with the scrollback snapshot, then streams output
// frames until the subscriber ends or the client detaches.
func (s *Server) handleAttach(c *connState, req *protocol.Request) {
	id := req.SessionID

	c.mu.Lock()
	_, already := c.attached[id]
	c.mu.Unlock()
	if already {
		_ = c.codec.WriteResponse(protocol.ErrResponse(protocol.CodeProtocol, "already attached to "+id))
		return
	}

	snapshot, sub, err := s.registry.Attach(id)
	if err != nil {
		_ = c.codec.WriteResponse(toResponse(err))
		return
	}

	resp := protocol.OKResponse()
	resp.Scrollback = snapshot
	if info, err := s.registry.Status(id); err == nil {
		resp.Session = info
	}
	if err := c.codec.WriteResponse(resp); err != nil {
		s.registry.Detach(id, sub)
		return
	}

	att := &attachment{sub: sub, quit: make(chan struct{})}
	c.mu.Lock()
	c.attached[id] = att
	c.mu.Unlock()

	att.done.Add(1)
	go func() {
		defer att.done.Done()
		s.stream(c, id, att)
	}()
}

// stream pumps one subscription to the client. Frames are flushed at batch
// boundaries: when the subscriber channel drains, not per chunk.
func (s *Server) stream(c *connState, id string, att *attachment) {
	sub := att.sub
	for {
		select {
		case <-att.quit:
			return

		case chunk := <-sub.Out:
			if sub.TakeDropped() {
				_ = c.codec.WriteEvent(&protocol.Event{Event: protocol.EventDropped, SessionID: id})
			}
			if err := c.codec.WriteFrame(&protocol.Frame{Kind: protocol.FrameOutput, SessionID: id, Payload: chunk}); err != nil {
				return
			}
			if len(sub.Out) == 0 {
				if err := c.codec.Flush(); err != nil {
					return
				}
			}

		case <-sub.Done:
			// Drain anything published before the close.
			for {
				select {
				case chunk := <-sub.Out:
					_ = c.codec.WriteFrame(&protocol.Frame{Kind: protocol.FrameOutput, SessionID: id, Payload: chunk})
					continue
				default:
				}
				break
			}
			_ = c.codec.Flush()

			ev := &protocol.Event{Event: protocol.EventExit, SessionID: id}
			if info, err := s.registry.Status(id); err == nil {
				ev.ExitCode = info.ExitCode
			}
			_ = c.codec.WriteEvent(ev)
			return
		}
	}
}

// stopAttachment tears down one attachment. notify sends the detached event.
func (s *Server) stopAttachment(c *connState, id string, notify bool) {
	c.mu.Lock()
	att, ok := c.attached[id]
	delete(c.attached, id)
	c.mu.Unlock()
	if !ok {
		return
	}

	close(att.quit)
	s.registry.Detach(id, att.sub)
	att.done.Wait()
	if notify {
		_ = c.codec.WriteEvent(&protocol.Event{Event: protocol.EventDetached, SessionID: id})
	}
}

func (s *Server) detachAll(c *connState) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.attached))
	for id := range c.attached {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		s.stopAttachment(c, id, false)
	}
}
