package dispatch

import "github.com/Swind/go-dispatch/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the dispatch package for most use cases.

// Task is the unit of work (Closure)
type Task = core.Task

// QoS classifies how aggressively the pool schedules a task
type QoS = core.QoS

// Queue admits tasks and enforces serial/concurrent/barrier ordering
type Queue = core.Queue

// Group tracks outstanding work and notifies on drain-to-zero
type Group = core.Group

// Semaphore is a counting synchronization primitive
type Semaphore = core.Semaphore

// Submitter is the task submission interface implemented by *Queue
type Submitter = core.Submitter

// RepeatingHandle controls the lifecycle of a repeating task
type RepeatingHandle = core.RepeatingHandle

// PanicError surfaces a task fault to a blocked submitter
type PanicError = core.PanicError

// QoS tier constants
const (
	QoSBackground    QoS = core.QoSBackground
	QoSDefault       QoS = core.QoSDefault
	QoSUserInitiated QoS = core.QoSUserInitiated
)

// ErrQueueClosed is returned by blocking submissions on a closed queue
var ErrQueueClosed = core.ErrQueueClosed

// NewGroup creates an empty group.
var NewGroup = core.NewGroup

// NewSemaphore creates a semaphore with the given starting value.
var NewSemaphore = core.NewSemaphore

// GetCurrentQueue retrieves the current Queue from a task's context
var GetCurrentQueue = core.GetCurrentQueue
