package protocol

import (
	"bytes"
	"errors"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeBuf is an in-memory full-duplex pair for codec tests.
type pipeBuf struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipeBuf) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeBuf) Write(b []byte) (int, error) { return p.w.Write(b) }

func codecPair() (*Codec, *Codec) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := NewCodec(&pipeBuf{r: ar, w: aw})
	b := NewCodec(&pipeBuf{r: br, w: bw})
	return a, b
}

func TestRequestRoundTrip(t *testing.T) {
	client, server := codecPair()

	go func() {
		_ = client.WriteRequest(&Request{
			Op: OpCreate,
			Spec: &SpawnSpec{
				Command:  "claude",
				Args:     []string{"--continue"},
				Dir:      "/work/repo",
				Worktree: "/work/repo",
				Branch:   "main",
				Cols:     120,
				Rows:     40,
			},
		})
	}()

	msg, err := server.ReadClient()
	require.NoError(t, err)
	require.NotNil(t, msg.Request)
	assert.Equal(t, OpCreate, msg.Request.Op)
	require.NotNil(t, msg.Request.Spec)
	assert.Equal(t, "claude", msg.Request.Spec.Command)
	assert.Equal(t, 120, msg.Request.Spec.Cols)
}

func TestResponseAndEventDiscrimination(t *testing.T) {
	client, server := codecPair()

	code := 3
	go func() {
		_ = server.WriteResponse(&Response{OK: true, Session: &SessionInfo{ID: "s1", State: StateRunning}})
		_ = server.WriteEvent(&Event{Event: EventExit, SessionID: "s1", ExitCode: &code})
	}()

	msg, err := client.ReadServer()
	require.NoError(t, err)
	require.NotNil(t, msg.Response)
	assert.True(t, msg.Response.OK)
	assert.Equal(t, "s1", msg.Response.Session.ID)

	msg, err = client.ReadServer()
	require.NoError(t, err)
	require.NotNil(t, msg.Event)
	assert.Equal(t, EventExit, msg.Event.Event)
	require.NotNil(t, msg.Event.ExitCode)
	assert.Equal(t, 3, *msg.Event.ExitCode)
}

func TestFrameRoundTrip(t *testing.T) {
	client, server := codecPair()

	payload := bytes.Repeat([]byte{0x00, 0x7B, 0xFF, '\n'}, 1000)
	go func() {
		_ = server.WriteFrame(&Frame{Kind: FrameOutput, SessionID: "sess-abc", Payload: payload})
		_ = server.Flush()
	}()

	msg, err := client.ReadServer()
	require.NoError(t, err)
	require.NotNil(t, msg.Frame)
	assert.Equal(t, FrameOutput, msg.Frame.Kind)
	assert.Equal(t, "sess-abc", msg.Frame.SessionID)
	assert.Equal(t, payload, msg.Frame.Payload)
}

func TestFrameThenJSONInterleaved(t *testing.T) {
	client, server := codecPair()

	go func() {
		_ = server.WriteFrame(&Frame{Kind: FrameOutput, SessionID: "s", Payload: []byte("output")})
		_ = server.Flush()
		_ = server.WriteEvent(&Event{Event: EventDropped, SessionID: "s"})
	}()

	msg, err := client.ReadServer()
	require.NoError(t, err)
	require.NotNil(t, msg.Frame)

	msg, err = client.ReadServer()
	require.NoError(t, err)
	require.NotNil(t, msg.Event)
	assert.Equal(t, EventDropped, msg.Event.Event)
}

func TestEmptyFramePayload(t *testing.T) {
	client, server := codecPair()

	go func() {
		_ = client.WriteFrame(&Frame{Kind: FrameInput, SessionID: "s", Payload: nil})
		_ = client.Flush()
	}()

	msg, err := server.ReadClient()
	require.NoError(t, err)
	require.NotNil(t, msg.Frame)
	assert.Equal(t, FrameInput, msg.Frame.Kind)
	assert.Empty(t, msg.Frame.Payload)
}

func TestMalformed(t *testing.T) {
	t.Run("garbage line", func(t *testing.T) {
		c := NewCodec(bytes.NewBufferString("not json\n"))
		_, err := c.ReadClient()
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("request without op", func(t *testing.T) {
		c := NewCodec(bytes.NewBufferString("{}\n"))
		_, err := c.ReadClient()
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("unknown frame kind", func(t *testing.T) {
		c := NewCodec(bytes.NewBuffer([]byte{0xF0, 0, 0, 0, 0, 0, 0}))
		_, err := c.ReadClient()
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("unknown server type", func(t *testing.T) {
		c := NewCodec(bytes.NewBufferString(`{"type":"mystery"}` + "\n"))
		_, err := c.ReadServer()
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("truncated frame", func(t *testing.T) {
		var buf bytes.Buffer
		buf.Write([]byte{FrameOutput, 0, 1, 'x', 0, 0, 0, 10, 'a', 'b'})
		c := NewCodec(&buf)
		_, err := c.ReadClient()
		assert.Error(t, err)
	})
}

func TestWriteFrameLimits(t *testing.T) {
	c := NewCodec(&bytes.Buffer{})
	err := c.WriteFrame(&Frame{Kind: FrameInput, SessionID: "s", Payload: make([]byte, MaxFramePayload+1)})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestClassifyDialError(t *testing.T) {
	assert.NoError(t, ClassifyDialError(nil))
	assert.ErrorIs(t, ClassifyDialError(syscall.ECONNREFUSED), ErrDaemonNotRunning)
	assert.ErrorIs(t, ClassifyDialError(syscall.ENOENT), ErrDaemonNotRunning)
	assert.NotErrorIs(t, ClassifyDialError(errors.New("weird failure")), ErrDaemonNotRunning)
}

func TestHasCode(t *testing.T) {
	err := &RemoteError{Code: CodeNotFound, Message: "no session abc"}
	assert.True(t, HasCode(err, CodeNotFound))
	assert.False(t, HasCode(err, CodeAlreadyActive))
	assert.False(t, HasCode(errors.New("plain"), CodeNotFound))
}
