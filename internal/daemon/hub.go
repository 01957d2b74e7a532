package daemon

import "sync"

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing its oldest pending chunks and is
// flagged so the stream can tell it.
const subscriberBuffer = 64

// Subscriber receives one session's PTY output. Out delivers output chunks;
// Done closes when the session's process exits.
type Subscriber struct {
	Out  chan []byte
	Done chan struct{}

	mu      sync.Mutex
	dropped bool
}

func newSubscriber() *Subscriber {
	return &Subscriber{
		Out:  make(chan []byte, subscriberBuffer),
		Done: make(chan struct{}),
	}
}

// TakeDropped reports and clears the overflow flag.
func (s *Subscriber) TakeDropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dropped
	s.dropped = false
	return d
}

func (s *Subscriber) markDropped() {
	s.mu.Lock()
	s.dropped = true
	s.mu.Unlock()
}

// hub fans one session's output out to its subscribers.
type hub struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[*Subscriber]struct{})}
}

func (h *hub) subscribe(s *Subscriber) {
	h.subscribeWithSnapshot(s, nil)
}

// subscribeWithSnapshot atomically takes a snapshot and registers the
// subscriber. Because publish holds the same lock, no output chunk can land
// between the snapshot and the subscription: the live stream starts exactly
// where the snapshot ends. Subscribing to an ended session closes Done
// immediately.
func (h *hub) subscribeWithSnapshot(s *Subscriber, snapshot func() []byte) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	var snap []byte
	if snapshot != nil {
		snap = snapshot()
	}
	if h.closed {
		close(s.Done)
		return snap
	}
	h.subs[s] = struct{}{}
	return snap
}

func (h *hub) unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// publish records chunk (scrollback write) and delivers it to every
// subscriber, all under the hub lock so snapshots stay aligned with the
// stream. A full subscriber loses its oldest pending chunk and is marked so
// it gets an overflow notice; the reader goroutine never blocks on a slow
// client.
func (h *hub) publish(chunk []byte, record func([]byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if record != nil {
		record(chunk)
	}
	for s := range h.subs {
		select {
		case s.Out <- chunk:
		default:
			select {
			case <-s.Out:
			default:
			}
			s.markDropped()
			select {
			case s.Out <- chunk:
			default:
			}
		}
	}
}

// close signals end-of-session to all subscribers and rejects future ones.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.Done)
	}
}
