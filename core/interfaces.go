package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler receives faults from fire-and-forget tasks. A task fault is
// isolated to that task; the queue keeps processing, so this out-of-band
// channel is the only place a plain PostTask fault surfaces.
//
// Implementations must be safe for concurrent use.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context from the panicked task (carries the current queue)
	// - queueName: The name of the queue the task ran on
	// - workerID: The pool worker ID, or -1 when unknown
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, queueName string, workerID int, panicInfo any, stackTrace []byte)
}

// LoggingPanicHandler reports panics through a Logger.
type LoggingPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic value and stack trace.
func (h *LoggingPanicHandler) HandlePanic(ctx context.Context, queueName string, workerID int, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("task panic",
		F("queue", queueName),
		F("worker", workerID),
		F("panic", panicInfo),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics collects task execution metrics. Implementations can forward to
// monitoring systems (Prometheus, StatsD, etc.).
//
// Methods must be non-blocking and fast; they run on the task execution path.
type Metrics interface {
	// RecordTaskDuration records how long a task took to execute.
	RecordTaskDuration(queueName string, qos QoS, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(queueName string, panicInfo any)

	// RecordQueueDepth records the number of admitted-but-not-started tasks.
	RecordQueueDepth(queueName string, depth int)

	// RecordTaskRejected records that a task was rejected (e.g. shutdown).
	RecordTaskRejected(queueName string, reason string)
}

// NilMetrics is the no-op default when no metrics sink is configured.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(queueName string, qos QoS, duration time.Duration) {}
func (m *NilMetrics) RecordTaskPanic(queueName string, panicInfo any)                      {}
func (m *NilMetrics) RecordQueueDepth(queueName string, depth int)                         {}
func (m *NilMetrics) RecordTaskRejected(queueName string, reason string)                   {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when the scheduler refuses a task, which
// currently only happens during shutdown.
//
// Implementations must be safe for concurrent use.
type RejectedTaskHandler interface {
	HandleRejectedTask(queueName string, reason string)
}

// LoggingRejectedTaskHandler reports rejections through a Logger.
type LoggingRejectedTaskHandler struct {
	Logger Logger
}

// HandleRejectedTask logs the rejection.
func (h *LoggingRejectedTaskHandler) HandleRejectedTask(queueName string, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Warn("task rejected", F("queue", queueName), F("reason", reason))
}

// =============================================================================
// SchedulerConfig: Configuration for Scheduler
// =============================================================================

// SchedulerConfig holds configuration options for a Scheduler.
// All fields are optional; zero values get default implementations.
type SchedulerConfig struct {
	// PanicHandler is called when a task panics. Defaults to LoggingPanicHandler.
	PanicHandler PanicHandler

	// Metrics records task execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when a task is rejected.
	// Defaults to LoggingRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler

	// Logger backs the default handlers above. Defaults to DefaultLogger.
	Logger Logger
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	logger := NewDefaultLogger()
	return &SchedulerConfig{
		PanicHandler:        &LoggingPanicHandler{Logger: logger},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &LoggingRejectedTaskHandler{Logger: logger},
		Logger:              logger,
	}
}
