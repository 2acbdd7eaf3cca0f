package executor

import "sync"

// Executor runs work items for a single owner. Work passed to Submit is
// executed strictly one at a time in submission order; work passed to Go is
// blocking I/O that must not hold up the serial context and is expected to
// re-enter it with Submit when it finishes.
type Executor interface {
	Submit(fn func())
	Go(fn func())
}

// Kind selects an Executor implementation at runtime.
type Kind string

const (
	KindSerial    Kind = "serial"
	KindImmediate Kind = "immediate"
)

// New returns the executor for kind. Unknown kinds fall back to serial.
func New(kind Kind) Executor {
	if kind == KindImmediate {
		return Immediate{}
	}
	return NewSerial()
}

// Immediate runs everything inline on the caller's goroutine. Callers must
// not invoke it concurrently; it exists so tests get deterministic,
// synchronous behavior.
type Immediate struct{}

func (Immediate) Submit(fn func()) { fn() }
func (Immediate) Go(fn func()) { fn() }

// Serial is a queued executor backed by one goroutine. Submit never blocks:
// the queue is unbounded.
type Serial struct {
	mu       sync.Mutex
	idle     *sync.Cond
	queue    []func()
	running  bool
	inflight int
	closed   bool

	wake chan struct{}
	done chan struct{}
}

// NewSerial starts the executor goroutine.
func NewSerial() *Serial {
	s := &Serial{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	s.idle = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

// Submit enqueues fn. Work submitted after Close is dropped.
func (s *Serial) Submit(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	s.signal()
}

// Go runs fn on its own goroutine, tracked so Close can wait for it.
func (s *Serial) Go(fn func()) {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.inflight--
			s.idle.Broadcast()
			s.mu.Unlock()
		}()
		fn()
	}()
}

// Close blocks until the queue is empty and no Go work is in flight, then
// stops the loop. Work that keeps resubmitting itself keeps Close waiting.
func (s *Serial) Close() {
	s.mu.Lock()
	for len(s.queue) > 0 || s.running || s.inflight > 0 {
		s.idle.Wait()
	}
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.signal()
	<-s.done
}

func (s *Serial) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Serial) loop() {
	defer close(s.done)
	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				closed := s.closed
				s.idle.Broadcast()
				s.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.running = true
			s.mu.Unlock()

			fn()

			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}
}
