package core

import (
	"errors"
	"fmt"
)

// ErrQueueClosed is returned by blocking submissions on a queue that has
// been shut down (or was shut down while the caller waited).
var ErrQueueClosed = errors.New("dispatch: queue is closed")

// PanicError surfaces a task fault to a blocked submitter. It wraps the
// recovered panic value together with the stack at the point of the panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("dispatch: task panicked: %v", e.Value)
}
