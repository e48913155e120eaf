package syncutil

import "context"

// Semaphore is a counting semaphore backed by a buffered channel — the same
// "token in a buffered channel" idiom used for worker-pool concurrency
// limiting throughout the Go ecosystem. Acquire blocks until a token is
// available or ctx is cancelled; Release returns a token to the pool.
type Semaphore struct {
	tokens chan struct{}
}

// NewSemaphore returns a Semaphore with the given initial token count; a
// count below 1 is raised to 1. The
// dump-slot semaphore used by the monitor controller is constructed with
// n=1, guaranteeing at most one dump invocation in flight at any instant.
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		n = 1
	}
	s := &Semaphore{tokens: make(chan struct{}, n)}
	for i := 0; i < n; i++ {
		s.tokens <- struct{}{}
	}
	return s
}

// Acquire blocks until a token is available, returning nil once acquired.
// It returns ctx.Err() if ctx is cancelled first, without consuming a token.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case <-s.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a token to the semaphore. Calling Release without a
// matching Acquire grows the available token count beyond its initial
// value; callers must not do this.
func (s *Semaphore) Release() {
	s.tokens <- struct{}{}
}
