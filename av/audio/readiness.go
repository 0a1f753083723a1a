package audio

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// readiness is a non-blocking pipe used as a counting semaphore that poll
// can wait on: each byte in the pipe is one available token.
type readiness struct {
	r, w int
}

func newReadiness() (*readiness, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, err
		}
	}
	return &readiness{r: fds[0], w: fds[1]}, nil
}

func (s *readiness) fd() int {
	return s.r
}

// raise adds one token. A full pipe drops it.
func (s *readiness) raise() {
	unix.Write(s.w, []byte{1})
}

// take removes one token, reporting whether one was available.
func (s *readiness) take() bool {
	var b [1]byte
	n, err := unix.Read(s.r, b[:])
	return err == nil && n == 1
}

// drain removes every token.
func (s *readiness) drain() {
	var b [64]byte
	for {
		n, err := unix.Read(s.r, b[:])
		if err != nil || n < len(b) {
			return
		}
	}
}

func (s *readiness) close() error {
	return errors.Join(unix.Close(s.r), unix.Close(s.w))
}

// frameQueue is a bounded FIFO of frames whose length is mirrored by the
// tokens of a readiness pipe.
type frameQueue struct {
	mu     sync.Mutex
	frames [][]int16
	limit  int
	ready  *readiness
}

func newFrameQueue(limit int) (*frameQueue, error) {
	ready, err := newReadiness()
	if err != nil {
		return nil, err
	}
	return &frameQueue{limit: limit, ready: ready}, nil
}

// push appends a copy of frame. When the queue is full the oldest frame is
// dropped and push reports false.
func (q *frameQueue) push(frame []int16) bool {
	f := make([]int16, len(frame))
	copy(f, frame)

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) >= q.limit {
		q.frames = append(q.frames[1:], f)
		return false
	}
	q.frames = append(q.frames, f)
	q.ready.raise()
	return true
}

// pop removes the oldest frame into dst.
func (q *frameQueue) pop(dst []int16) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return false
	}
	q.ready.take()
	copy(dst, q.frames[0])
	q.frames = q.frames[1:]
	return true
}

func (q *frameQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = nil
	q.ready.drain()
}

func (q *frameQueue) close() error {
	return q.ready.close()
}

// slotQueue is a bounded FIFO whose readiness tokens count free slots, so
// poll reports it ready while a frame can be queued.
type slotQueue struct {
	mu     sync.Mutex
	frames [][]int16
	limit  int
	space  *readiness
}

func newSlotQueue(limit int) (*slotQueue, error) {
	space, err := newReadiness()
	if err != nil {
		return nil, err
	}
	q := &slotQueue{limit: limit, space: space}
	q.reset()
	return q, nil
}

// push queues a copy of frame, consuming one free slot.
func (q *slotQueue) push(frame []int16) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.space.take() {
		return false
	}
	f := make([]int16, len(frame))
	copy(f, frame)
	q.frames = append(q.frames, f)
	return true
}

// pop removes the oldest frame into dst and frees its slot.
func (q *slotQueue) pop(dst []int16) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return false
	}
	copy(dst, q.frames[0])
	q.frames = q.frames[1:]
	q.space.raise()
	return true
}

// reset empties the queue and frees every slot.
func (q *slotQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.frames = nil
	q.space.drain()
	for i := 0; i < q.limit; i++ {
		q.space.raise()
	}
}

func (q *slotQueue) close() error {
	return q.space.close()
}
