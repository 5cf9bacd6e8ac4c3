package core

import (
	"testing"
	"time"
)

// TestSemaphore_CountBookkeeping verifies the internal count across the
// signal/wait/timeout paths
func TestSemaphore_CountBookkeeping(t *testing.T) {
	s := NewSemaphore(2)
	if s.value() != 2 {
		t.Fatalf("value = %d, want 2", s.value())
	}

	s.Wait()
	s.Wait()
	if s.value() != 0 {
		t.Fatalf("value = %d after two waits, want 0", s.value())
	}

	s.Signal()
	if s.value() != 1 {
		t.Fatalf("value = %d after signal, want 1", s.value())
	}

	// The banked signal satisfies a timed wait without blocking.
	if !s.WaitTimeout(10 * time.Millisecond) {
		t.Fatal("WaitTimeout failed with a unit available")
	}

	before := s.value()
	if s.WaitTimeout(10 * time.Millisecond) {
		t.Fatal("WaitTimeout succeeded with count at zero")
	}
	if s.value() != before {
		t.Fatalf("value = %d after timeout, want %d", s.value(), before)
	}
}
