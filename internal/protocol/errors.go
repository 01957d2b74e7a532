package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrorCode classifies daemon-side failures on the wire.
type ErrorCode string

const (
	CodeNotFound          ErrorCode = "not_found"
	CodeAlreadyActive     ErrorCode = "already_active"
	CodeTerminationFailed ErrorCode = "termination_failed"
	CodeProtocol          ErrorCode = "protocol_error"
	CodeInternal          ErrorCode = "internal"
)

// ErrDaemonNotRunning means no daemon is listening on the socket: the socket
// file is missing or nothing accepts connections on it.
var ErrDaemonNotRunning = errors.New("daemon not running")

// ErrMalformed means a peer sent bytes that don't parse as a known message.
var ErrMalformed = errors.New("malformed protocol message")

// ClassifyDialError maps a unix-socket dial failure onto the taxonomy.
// ENOENT and ECONNREFUSED both mean "no daemon"; anything else passes
// through wrapped.
func ClassifyDialError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) {
		return fmt.Errorf("%w: %v", ErrDaemonNotRunning, err)
	}
	return fmt.Errorf("connecting to daemon: %w", err)
}

// IsDisconnect reports whether err indicates the peer went away mid-stream.
func IsDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

// RemoteError is a daemon-reported failure surfaced to the client caller.
type RemoteError struct {
	Code    ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// AsRemote extracts a RemoteError from an error chain.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// HasCode reports whether err is a RemoteError with the given code.
func HasCode(err error, code ErrorCode) bool {
	re, ok := AsRemote(err)
	return ok && re.Code == code
}
