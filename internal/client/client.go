// Package client talks to the drydock daemon: dialing, request/response
// calls, attach streaming, the shared connection cache, and on-demand
// daemon autostart.
package client

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/drydock-sh/drydock/internal/protocol"
)

const defaultCallTimeout = 10 * time.Second

// Client is one connection to the daemon. Request/response calls are
// serialized; Attach takes the connection over for streaming, so callers
// needing both use separate clients.
type Client struct {
	conn  net.Conn
	codec *protocol.Codec

	mu        sync.Mutex
	streaming bool
}

// Dial connects to the daemon socket. A missing socket or a refused
// connection yields protocol.ErrDaemonNotRunning.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, protocol.ClassifyDialError(err)
	}
	return &Client{conn: conn, codec: protocol.NewCodec(conn)}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs one request/response exchange with a deadline.
func (c *Client) call(req *protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming {
		return nil, fmt.Errorf("connection is attached to a session stream")
	}

	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	if err := c.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()

	if err := c.codec.WriteRequest(req); err != nil {
		return nil, fmt.Errorf("sending %s: %w", req.Op, err)
	}

	for {
		msg, err := c.codec.ReadServer()
		if err != nil {
			return nil, fmt.Errorf("reading %s response: %w", req.Op, err)
		}
		// Stray events and frames (late detach traffic) are not replies.
		if msg.Response == nil {
			continue
		}
		resp := msg.Response
		if !resp.OK {
			return resp, &protocol.RemoteError{Code: resp.Code, Message: resp.Error}
		}
		return resp, nil
	}
}

// Ping checks daemon liveness.
func (c *Client) Ping(timeout time.Duration) error {
	_, err := c.call(&protocol.Request{Op: protocol.OpPing}, timeout)
	return err
}

// Create spawns a new daemon session.
func (c *Client) Create(spec *protocol.SpawnSpec) (*protocol.SessionInfo, error) {
	resp, err := c.call(&protocol.Request{Op: protocol.OpCreate, Spec: spec}, 0)
	if err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return nil, fmt.Errorf("%w: create response without session", protocol.ErrMalformed)
	}
	return resp.Session, nil
}

// Status fetches one session's state.
func (c *Client) Status(id string) (*protocol.SessionInfo, error) {
	resp, err := c.call(&protocol.Request{Op: protocol.OpStatus, SessionID: id}, 0)
	if err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return nil, fmt.Errorf("%w: status response without session", protocol.ErrMalformed)
	}
	return resp.Session, nil
}

// List fetches every daemon session.
func (c *Client) List() ([]protocol.SessionInfo, error) {
	resp, err := c.call(&protocol.Request{Op: protocol.OpList}, 0)
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Stop terminates a daemon session and discards it.
func (c *Client) Stop(id string) error {
	// Stop waits through the daemon's kill escalation, so give it room.
	_, err := c.call(&protocol.Request{Op: protocol.OpStop, SessionID: id}, 30*time.Second)
	return err
}

// Scrollback fetches a snapshot of a session's buffered output.
func (c *Client) Scrollback(id string) ([]byte, error) {
	resp, err := c.call(&protocol.Request{Op: protocol.OpScrollback, SessionID: id}, 0)
	if err != nil {
		return nil, err
	}
	return resp.Scrollback, nil
}

// SendInput writes bytes to a session's PTY without attaching. The
// trailing ping is an ordering barrier: frames carry no ack, but the
// daemon processes a connection's traffic in order, so a ping reply
// means the input was consumed (or the write failed server-side).
func (c *Client) SendInput(id string, data []byte) error {
	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return fmt.Errorf("connection is attached to a session stream")
	}
	err := c.codec.WriteFrame(&protocol.Frame{
		Kind:      protocol.FrameInput,
		SessionID: id,
		Payload:   data,
	})
	if err == nil {
		err = c.codec.Flush()
	}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("sending input: %w", err)
	}
	return c.Ping(0)
}

// Resize changes a session's PTY window size.
func (c *Client) Resize(id string, cols, rows int) error {
	_, err := c.call(&protocol.Request{Op: protocol.OpResize, SessionID: id, Cols: cols, Rows: rows}, 0)
	return err
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown() error {
	_, err := c.call(&protocol.Request{Op: protocol.OpShutdown}, 0)
	return err
}
