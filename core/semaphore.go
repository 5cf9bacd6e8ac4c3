package core

import (
	"fmt"
	"sync"
	"time"
)

// Semaphore is a counting synchronization primitive independent of queues.
//
// The count represents availability units: Signal makes one unit available,
// Wait consumes one, blocking until a unit exists. Unlike a buffered-channel
// semaphore there is no fixed capacity; Signal may run arbitrarily far ahead
// of Wait.
//
// Internally a negative count means waiters are blocked ahead of available
// signals. Waiters are woken in FIFO order, exactly one per Signal.
type Semaphore struct {
	mu      sync.Mutex
	count   int64
	waiters []chan struct{} // FIFO; each is 1-buffered so Signal never blocks
}

// NewSemaphore creates a semaphore with the given starting value.
// A negative value is a programming error and panics.
func NewSemaphore(value int) *Semaphore {
	if value < 0 {
		panic(fmt.Sprintf("Semaphore: starting value must not be negative (got %d)", value))
	}
	return &Semaphore{count: int64(value)}
}

// Signal increments the count and wakes one blocked waiter, if any.
// It reports whether a waiter was woken and never blocks.
func (s *Semaphore) Signal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	if len(s.waiters) == 0 {
		return false
	}

	ch := s.waiters[0]
	s.waiters[0] = nil
	s.waiters = s.waiters[1:]

	// The wake token is delivered under the lock so a timed-out waiter can
	// never miss it: WaitTimeout re-checks its channel while holding mu.
	ch <- struct{}{}
	return true
}

// Wait decrements the count, blocking until a matching Signal when the
// result would be negative.
func (s *Semaphore) Wait() {
	s.mu.Lock()
	s.count--
	if s.count >= 0 {
		s.mu.Unlock()
		return
	}

	ch := make(chan struct{}, 1)
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	<-ch
}

// WaitTimeout is Wait with a deadline. It reports whether a unit was
// acquired; on timeout the count is restored as if the wait never happened.
// A negative timeout is a programming error and panics.
func (s *Semaphore) WaitTimeout(timeout time.Duration) bool {
	if timeout < 0 {
		panic(fmt.Sprintf("Semaphore: timeout must not be negative (got %v)", timeout))
	}

	s.mu.Lock()
	s.count--
	if s.count >= 0 {
		s.mu.Unlock()
		return true
	}

	ch := make(chan struct{}, 1)
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A Signal may have picked this waiter between the timer firing and the
	// lock being taken. Its token is already buffered; consume it and treat
	// the wait as satisfied, otherwise the unit would be lost.
	select {
	case <-ch:
		return true
	default:
	}

	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			break
		}
	}
	s.count++
	return false
}

// value returns the current count. Test hook; negative values mean blocked
// waiters.
func (s *Semaphore) value() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
