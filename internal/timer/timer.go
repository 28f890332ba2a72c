// Package timer schedules one-shot delayed callbacks with best-effort cancellation.
package timer

import (
	"sync"
	"time"
)

// Handle identifies one scheduled callback. The zero Handle is never issued.
type Handle uint64

// Service runs each callback on its own goroutine once its delay elapses.
type Service struct {
	mu      sync.Mutex
	next    Handle
	pending map[Handle]*time.Timer
	stopped bool

	running sync.WaitGroup
}

// New constructs an empty timer service.
func New() *Service {
	return &Service{pending: make(map[Handle]*time.Timer)}
}

// After schedules fn to run once after d. A stopped service returns the zero Handle and never
// runs fn.
func (s *Service) After(d time.Duration, fn func()) Handle {
	if fn == nil {
		return 0
	}
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0
	}

	s.next++
	handle := s.next
	s.pending[handle] = time.AfterFunc(d, func() {
		s.mu.Lock()
		if _, ok := s.pending[handle]; !ok {
			s.mu.Unlock()
			return
		}
		delete(s.pending, handle)
		s.running.Add(1)
		s.mu.Unlock()

		defer s.running.Done()
		fn()
	})
	return handle
}

// Cancel prevents a pending callback from running. It reports false when the callback already
// fired, is running, or was cancelled before.
func (s *Service) Cancel(handle Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pending[handle]
	if !ok {
		return false
	}
	delete(s.pending, handle)
	t.Stop()
	return true
}

// Pending returns the number of armed callbacks.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending callback, refuses new ones, and waits for running callbacks.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	for handle, t := range s.pending {
		t.Stop()
		delete(s.pending, handle)
	}
	s.mu.Unlock()

	s.running.Wait()
}
