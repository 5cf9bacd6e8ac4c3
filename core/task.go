package core

import (
	"context"
	"time"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// =============================================================================
// QoS: Define how aggressively the pool schedules a task
// =============================================================================

type QoS int

const (
	// QoSBackground: Lowest tier, for work the user never waits on
	QoSBackground QoS = iota

	// QoSDefault: Default tier
	QoSDefault

	// QoSUserInitiated: Highest tier
	// `UserInitiated` means a caller is actively blocked on the outcome,
	// so the pool schedules these ahead of everything else.
	QoSUserInitiated
)

func (q QoS) String() string {
	switch q {
	case QoSBackground:
		return "background"
	case QoSDefault:
		return "default"
	case QoSUserInitiated:
		return "user_initiated"
	default:
		return "unknown"
	}
}

// =============================================================================
// Submitter: Define task submission interface
// =============================================================================

// Submitter is anything that accepts tasks for asynchronous execution.
// *Queue is the canonical implementation.
type Submitter interface {
	PostTask(task Task)
	PostTaskWithQoS(task Task, qos QoS)
	PostDelayedTask(task Task, delay time.Duration)
	PostDelayedTaskWithQoS(task Task, delay time.Duration, qos QoS)
}

// =============================================================================
// ThreadPool: Define task execution interface
// =============================================================================

// ThreadPool is the execution backend a Queue hands its admitted work to.
// PostDelayedInternal must deliver the task back to target (never run it
// directly) once the delay elapses, so delayed work still honors the
// ordering rules of the queue it was submitted to.
type ThreadPool interface {
	PostInternal(task Task, qos QoS)
	PostDelayedInternal(task Task, delay time.Duration, qos QoS, target Submitter)
	WorkerCount() int
	Scheduler() *Scheduler
}

// =============================================================================
// Context Helper
// =============================================================================
type queueKeyType struct{}

var queueKey queueKeyType

// GetCurrentQueue returns the Queue whose worker is executing the calling
// task, or nil when ctx does not come from a queue worker.
func GetCurrentQueue(ctx context.Context) *Queue {
	if v := ctx.Value(queueKey); v != nil {
		return v.(*Queue)
	}
	return nil
}
