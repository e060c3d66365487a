package udp

import (
	"fmt"
	"os"
	"sync"
)

// wakeupSignal is a depth-counted, pollable "message available" notifier.
// Its read end's file descriptor becomes readable whenever the delivery
// queue holds at least one message and unreadable again once it is
// drained, per spec §4.5. Ported from the reference implementation's
// anonymous-pipe notifier (socket_fd.py) rather than an eventfd, since the
// standard library exposes os.Pipe portably and the contract only needs a
// one-byte sentinel, not a counting primitive.
type wakeupSignal struct {
	mu    sync.Mutex
	depth int
	r, w  *os.File
}

// newWakeupSignal opens the backing pipe. The read end is unreadable until
// the first notifyWrite.
func newWakeupSignal() (*wakeupSignal, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("udp: open wakeup pipe: %w", err)
	}
	return &wakeupSignal{r: r, w: w}, nil
}

// notifyWrite records one queued message. On the 0->1 transition it writes
// a single sentinel byte so pollers waiting on fd() wake up.
func (s *wakeupSignal) notifyWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.depth++
	if s.depth == 1 {
		if _, err := s.w.Write([]byte{0}); err != nil {
			return fmt.Errorf("udp: wakeup notify write: %w", err)
		}
	}
	return nil
}

// notifyRead records one dequeued message. On the 1->0 transition it
// drains the sentinel byte, making fd() unreadable again until the next
// notifyWrite. Calling notifyRead with depth already 0 is a programming
// error: it means a dequeue happened without a matching enqueue.
func (s *wakeupSignal) notifyRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.depth <= 0 {
		return fmt.Errorf("udp: wakeup notifyRead with depth %d", s.depth)
	}
	s.depth--
	if s.depth == 0 {
		buf := [1]byte{}
		if _, err := s.r.Read(buf[:]); err != nil {
			return fmt.Errorf("udp: wakeup notify read: %w", err)
		}
	}
	return nil
}

// fd returns the read end's file descriptor for external pollers
// (select/poll/epoll).
func (s *wakeupSignal) fd() int {
	return int(s.r.Fd())
}

// depthValue reports the current queue depth, for tests and diagnostics.
func (s *wakeupSignal) depthValue() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// close releases the backing pipe. Safe to call once.
func (s *wakeupSignal) close() error {
	werr := s.w.Close()
	rerr := s.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
