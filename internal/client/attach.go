package client

import (
	"fmt"

	"github.com/drydock-sh/drydock/internal/protocol"
)

// AttachStream is a live view of one session. After Attach succeeds the
// underlying connection belongs to the stream: reads come through Next,
// writes through SendInput/Resize/Detach.
type AttachStream struct {
	c        *Client
	id       string
	Snapshot []byte
	Info     *protocol.SessionInfo
}

// Attach subscribes this connection to a session's output. The returned
// stream carries the scrollback snapshot; live output follows via Next.
func (c *Client) Attach(id string) (*AttachStream, error) {
	resp, err := c.call(&protocol.Request{Op: protocol.OpAttach, SessionID: id}, 0)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.streaming = true
	c.mu.Unlock()

	return &AttachStream{
		c:        c,
		id:       id,
		Snapshot: resp.Scrollback,
		Info:     resp.Session,
	}, nil
}

// StreamMsg is one unit of attach traffic.
type StreamMsg struct {
	// Output is a chunk of PTY output. Nil for control messages.
	Output []byte

	// Dropped is set when the daemon discarded output this client was too
	// slow to receive.
	Dropped bool

	// Exited is set when the session's process ended; ExitCode is then
	// meaningful when non-nil.
	Exited   bool
	ExitCode *int

	// Detached is set when the daemon confirmed our detach request.
	Detached bool
}

// Next blocks for the next output chunk or control event.
func (s *AttachStream) Next() (*StreamMsg, error) {
	for {
		msg, err := s.c.codec.ReadServer()
		if err != nil {
			return nil, err
		}
		switch {
		case msg.Frame != nil:
			if msg.Frame.Kind != protocol.FrameOutput {
				continue
			}
			return &StreamMsg{Output: msg.Frame.Payload}, nil
		case msg.Event != nil:
			switch msg.Event.Event {
			case protocol.EventDropped:
				return &StreamMsg{Dropped: true}, nil
			case protocol.EventExit:
				return &StreamMsg{Exited: true, ExitCode: msg.Event.ExitCode}, nil
			case protocol.EventDetached:
				return &StreamMsg{Detached: true}, nil
			}
		case msg.Response != nil:
			// Ack for an in-stream resize or detach request; detach
			// completion arrives as an event.
			continue
		}
	}
}

// SendInput forwards keystrokes to the session's PTY.
func (s *AttachStream) SendInput(data []byte) error {
	if err := s.c.codec.WriteFrame(&protocol.Frame{
		Kind:      protocol.FrameInput,
		SessionID: s.id,
		Payload:   data,
	}); err != nil {
		return err
	}
	// Keystrokes are latency-sensitive, flush immediately.
	return s.c.codec.Flush()
}

// Resize requests a window size change mid-stream. The ack is absorbed by
// Next.
func (s *AttachStream) Resize(cols, rows int) error {
	return s.c.codec.WriteRequest(&protocol.Request{
		Op:        protocol.OpResize,
		SessionID: s.id,
		Cols:      cols,
		Rows:      rows,
	})
}

// Detach unsubscribes. The stream ends when Next returns a Detached message.
func (s *AttachStream) Detach() error {
	return s.c.codec.WriteRequest(&protocol.Request{
		Op:        protocol.OpDetach,
		SessionID: s.id,
	})
}

// Close releases the underlying connection.
func (s *AttachStream) Close() error {
	s.c.mu.Lock()
	s.c.streaming = false
	s.c.mu.Unlock()
	return s.c.Close()
}

// ID returns the attached session id.
func (s *AttachStream) ID() string { return s.id }

func (s *AttachStream) String() string {
	return fmt.Sprintf("attach(%s)", s.id)
}
