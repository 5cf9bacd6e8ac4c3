package core

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Scheduler is the work source behind a pool's workers. Admission pushes
// into a QoS-ordered list and nudges an idle worker through the signal
// channel; workers pull with GetWork. Delayed work lives in the DelayManager
// until its deadline, then re-enters through the owning queue.
type Scheduler struct {
	work        *qosList
	signal      chan struct{}
	workerCount int

	delayManager *DelayManager

	metricQueued int32 // admitted, waiting for a worker
	metricActive int32 // executing on a worker

	panicHandler        PanicHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler
	logger              Logger

	shuttingDown int32 // atomic flag
}

// NewScheduler creates a scheduler for workerCount workers with default
// handlers.
func NewScheduler(workerCount int) *Scheduler {
	return NewSchedulerWithConfig(workerCount, DefaultSchedulerConfig())
}

// NewSchedulerWithConfig creates a scheduler with explicit handlers; nil
// config fields fall back to defaults.
func NewSchedulerWithConfig(workerCount int, config *SchedulerConfig) *Scheduler {
	s := &Scheduler{
		work:         newQoSList(),
		signal:       make(chan struct{}, workerCount*2),
		workerCount:  workerCount,
		delayManager: NewDelayManager(),
	}

	if config != nil {
		s.panicHandler = config.PanicHandler
		s.metrics = config.Metrics
		s.rejectedTaskHandler = config.RejectedTaskHandler
		s.logger = config.Logger
	}

	if s.logger == nil {
		s.logger = NewDefaultLogger()
	}
	if s.panicHandler == nil {
		s.panicHandler = &LoggingPanicHandler{Logger: s.logger}
	}
	if s.metrics == nil {
		s.metrics = &NilMetrics{}
	}
	if s.rejectedTaskHandler == nil {
		s.rejectedTaskHandler = &LoggingRejectedTaskHandler{Logger: s.logger}
	}

	return s
}

// Post admits a task for execution at the given QoS.
func (s *Scheduler) Post(task Task, qos QoS) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		s.rejectedTaskHandler.HandleRejectedTask("scheduler", "shutting down")
		s.metrics.RecordTaskRejected("scheduler", "shutting down")
		return
	}

	s.work.push(task, qos)
	atomic.AddInt32(&s.metricQueued, 1)

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full; the task is already queued and some worker
		// will pick it up on its next pass.
	}
}

// PostDelayed schedules task to be posted back to target after delay.
func (s *Scheduler) PostDelayed(task Task, delay time.Duration, qos QoS, target Submitter) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		return
	}
	s.delayManager.Add(task, delay, qos, target)
}

// GetWork blocks until a task is available or stopCh closes.
// Called by pool workers.
func (s *Scheduler) GetWork(stopCh <-chan struct{}) (Task, QoS, bool) {
	for {
		if task, qos, ok := s.work.pop(); ok {
			atomic.AddInt32(&s.metricQueued, -1)
			return task, qos, true
		}

		select {
		case <-s.signal:
			continue
		case <-stopCh:
			return nil, QoSDefault, false
		}
	}
}

// Shutdown stops admission immediately and drops all pending work.
func (s *Scheduler) Shutdown() {
	// 1. Stop accepting new tasks
	atomic.StoreInt32(&s.shuttingDown, 1)

	// 2. Stop the delay manager (no more tasks re-entering)
	s.delayManager.Stop()

	// 3. Clear the work list to release task references
	s.work.clear()
}

// ShutdownGraceful stops admission, then waits for queued and active tasks
// to drain. Returns an error when the timeout expires first; remaining work
// is dropped in that case.
func (s *Scheduler) ShutdownGraceful(timeout time.Duration) error {
	atomic.StoreInt32(&s.shuttingDown, 1)
	s.delayManager.Stop()

	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			s.work.clear()
			return fmt.Errorf("scheduler: graceful shutdown timed out after %v, pending work dropped", timeout)
		case <-ticker.C:
			if s.QueuedTaskCount() == 0 && s.ActiveTaskCount() == 0 {
				return nil
			}
		}
	}
}

// Counters
func (s *Scheduler) WorkerCount() int      { return s.workerCount }
func (s *Scheduler) QueuedTaskCount() int  { return int(atomic.LoadInt32(&s.metricQueued)) }
func (s *Scheduler) ActiveTaskCount() int  { return int(atomic.LoadInt32(&s.metricActive)) }
func (s *Scheduler) DelayedTaskCount() int { return s.delayManager.TaskCount() }

func (s *Scheduler) OnTaskStart() {
	atomic.AddInt32(&s.metricActive, 1)
}

func (s *Scheduler) OnTaskEnd() {
	atomic.AddInt32(&s.metricActive, -1)
}

// PanicHandler returns the configured panic handler.
func (s *Scheduler) PanicHandler() PanicHandler {
	return s.panicHandler
}

// Metrics returns the configured metrics sink.
func (s *Scheduler) Metrics() Metrics {
	return s.metrics
}

// Logger returns the configured logger.
func (s *Scheduler) Logger() Logger {
	return s.logger
}
