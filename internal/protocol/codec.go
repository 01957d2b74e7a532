package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Frame kinds. Values stay at or above 0x80 so the first byte of a frame can
// never collide with '{' (0x7B), the first byte of every JSON line.
const (
	FrameOutput byte = 0x81
	FrameInput  byte = 0x82
)

// MaxFramePayload bounds a single frame. Larger writes are split by senders.
const MaxFramePayload = 1 << 20

// MaxIDLen bounds the session id field of a frame header.
const MaxIDLen = 256

// Frame is a binary message carrying PTY bytes.
//
// Layout: kind byte, 2-byte big-endian id length, id, 4-byte big-endian
// payload length, payload.
type Frame struct {
	Kind      byte
	SessionID string
	Payload   []byte
}

// Codec reads and writes protocol messages on one connection. Writes are
// serialized internally so a response writer and a streaming fan-out writer
// can share the connection.
//
// Flush discipline: request, response, and event writers flush per message;
// WriteFrame does not flush, the streaming writer calls Flush at batch
// boundaries.
type Codec struct {
	r *bufio.Reader

	wmu sync.Mutex
	w   *bufio.Writer
}

// NewCodec wraps a connection in buffered protocol I/O.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{
		r: bufio.NewReaderSize(rw, 64*1024),
		w: bufio.NewWriterSize(rw, 64*1024),
	}
}

// ClientMessage is what a daemon reads from a client: a request or an
// input frame. Exactly one field is set.
type ClientMessage struct {
	Request *Request
	Frame   *Frame
}

// ServerMessage is what a client reads from the daemon: a response, a
// control event, or an output frame. Exactly one field is set.
type ServerMessage struct {
	Response *Response
	Event    *Event
	Frame    *Frame
}

// WriteRequest sends a request and flushes.
func (c *Codec) WriteRequest(req *Request) error {
	return c.writeJSON(req)
}

// WriteResponse sends a response and flushes.
func (c *Codec) WriteResponse(resp *Response) error {
	resp.Type = TypeResponse
	return c.writeJSON(resp)
}

// WriteEvent sends a control event and flushes.
func (c *Codec) WriteEvent(ev *Event) error {
	ev.Type = TypeEvent
	return c.writeJSON(ev)
}

func (c *Codec) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	return c.w.Flush()
}

// WriteFrame sends a binary frame without flushing.
func (c *Codec) WriteFrame(f *Frame) error {
	if len(f.SessionID) > MaxIDLen {
		return fmt.Errorf("%w: frame id too long (%d)", ErrMalformed, len(f.SessionID))
	}
	if len(f.Payload) > MaxFramePayload {
		return fmt.Errorf("%w: frame payload too large (%d)", ErrMalformed, len(f.Payload))
	}

	var hdr [7]byte
	hdr[0] = f.Kind
	binary.BigEndian.PutUint16(hdr[1:3], uint16(len(f.SessionID)))
	binary.BigEndian.PutUint32(hdr[3:7], uint32(len(f.Payload)))

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(hdr[:3]); err != nil {
		return err
	}
	if _, err := c.w.WriteString(f.SessionID); err != nil {
		return err
	}
	if _, err := c.w.Write(hdr[3:7]); err != nil {
		return err
	}
	_, err := c.w.Write(f.Payload)
	return err
}

// Flush drains buffered frame writes to the connection.
func (c *Codec) Flush() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.w.Flush()
}

// ReadClient reads the next message a daemon expects from a client.
func (c *Codec) ReadClient() (*ClientMessage, error) {
	isFrame, err := c.peekKind()
	if err != nil {
		return nil, err
	}
	if isFrame {
		f, err := c.readFrame()
		if err != nil {
			return nil, err
		}
		return &ClientMessage{Frame: f}, nil
	}

	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.Op == "" {
		return nil, fmt.Errorf("%w: request without op", ErrMalformed)
	}
	return &ClientMessage{Request: &req}, nil
}

// ReadServer reads the next message a client expects from the daemon.
func (c *Codec) ReadServer() (*ServerMessage, error) {
	isFrame, err := c.peekKind()
	if err != nil {
		return nil, err
	}
	if isFrame {
		f, err := c.readFrame()
		if err != nil {
			return nil, err
		}
		return &ServerMessage{Frame: f}, nil
	}

	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch probe.Type {
	case TypeResponse:
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &ServerMessage{Response: &resp}, nil
	case TypeEvent:
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &ServerMessage{Event: &ev}, nil
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrMalformed, probe.Type)
	}
}

// peekKind reports whether the next message is a binary frame, based on the
// first byte: frame kinds are >= 0x80, JSON lines start with '{'.
func (c *Codec) peekKind() (bool, error) {
	b, err := c.r.Peek(1)
	if err != nil {
		return false, err
	}
	return b[0] >= 0x80, nil
}

func (c *Codec) readLine() ([]byte, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) == 0 || line[0] != '{' {
		return nil, fmt.Errorf("%w: expected JSON object", ErrMalformed)
	}
	return line, nil
}

func (c *Codec) readFrame() (*Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return nil, err
	}
	kind := hdr[0]
	if kind != FrameOutput && kind != FrameInput {
		return nil, fmt.Errorf("%w: unknown frame kind 0x%02x", ErrMalformed, kind)
	}
	idLen := binary.BigEndian.Uint16(hdr[1:3])
	if idLen > MaxIDLen {
		return nil, fmt.Errorf("%w: frame id length %d", ErrMalformed, idLen)
	}

	id := make([]byte, idLen)
	if _, err := io.ReadFull(c.r, id); err != nil {
		return nil, err
	}

	var sz [4]byte
	if _, err := io.ReadFull(c.r, sz[:]); err != nil {
		return nil, err
	}
	payloadLen := binary.BigEndian.Uint32(sz[:])
	if payloadLen > MaxFramePayload {
		return nil, fmt.Errorf("%w: frame payload length %d", ErrMalformed, payloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, err
	}
	return &Frame{Kind: kind, SessionID: string(id), Payload: payload}, nil
}
