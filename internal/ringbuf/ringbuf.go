// Package ringbuf implements a fixed-capacity byte ring buffer used for
// session scrollback. Writes overwrite the oldest data once the buffer is
// full; readers get a point-in-time copy.
package ringbuf

import (
	"strings"
	"sync"
)

// Buffer is a concurrency-safe circular byte buffer.
type Buffer struct {
	mu   sync.Mutex
	buf  []byte
	pos  int
	full bool
}

// New creates a buffer holding at most capacity bytes.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// Write appends p, overwriting the oldest bytes on overflow. It never fails
// and always reports len(p) written.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	// Only the last cap bytes of an oversized write can survive.
	if n >= len(b.buf) {
		copy(b.buf, p[n-len(b.buf):])
		b.pos = 0
		b.full = true
		return n, nil
	}

	tail := copy(b.buf[b.pos:], p)
	if tail < n {
		copy(b.buf, p[tail:])
		b.full = true
	}
	b.pos = (b.pos + n) % len(b.buf)
	if b.pos == 0 && n > 0 {
		b.full = true
	}
	return n, nil
}

// Bytes returns a copy of the buffered data, oldest first.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]byte, b.pos)
		copy(out, b.buf[:b.pos])
		return out
	}
	out := make([]byte, len(b.buf))
	n := copy(out, b.buf[b.pos:])
	copy(out[n:], b.buf[:b.pos])
	return out
}

// Len reports how many bytes are currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.buf)
	}
	return b.pos
}

// Cap reports the buffer capacity.
func (b *Buffer) Cap() int { return len(b.buf) }

// TailLines returns up to n trailing lines of the buffered data, without
// trailing newlines. A partial final line counts as a line.
func (b *Buffer) TailLines(n int) []string {
	if n <= 0 {
		return nil
	}
	data := strings.TrimRight(string(b.Bytes()), "\r\n")
	if data == "" {
		return nil
	}
	lines := strings.Split(data, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
