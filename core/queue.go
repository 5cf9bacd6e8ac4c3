package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// maxQueueWidth caps the concurrency width of a single queue. Wider
	// queues would only pile goroutines onto the pool without adding
	// parallelism.
	maxQueueWidth = 10000

	// admissionBuffer sizes the admission op channel. Posting blocks briefly
	// when the buffer is full; the admission loop drains it quickly.
	admissionBuffer = 128
)

// Queue is the execution engine: it admits tasks, hands them to its pool's
// workers, and enforces the serial/concurrent/barrier ordering rules.
//
// One implementation covers both disciplines: a queue of width 1 is serial
// (one task in flight, strict admission order), a wider queue is concurrent
// (up to width tasks in flight, no ordering among them except barriers).
//
// All admission and completion bookkeeping runs on a dedicated admission
// goroutine, so the work list, the width accounting, and the barrier fence are
// mutated from exactly one place.
type Queue struct {
	pool  ThreadPool
	width int

	admit        chan func()
	admitStopped chan struct{}
	work         *fifoList

	running        atomic.Int32
	suspendCount   atomic.Int32
	barrierRunning atomic.Bool
	pendingBarrier *workItem // admission goroutine only

	closed       atomic.Bool
	shutdownChan chan struct{}
	shutdownOnce sync.Once

	defaultQoS atomic.Int32

	nameMu sync.Mutex
	name   string

	history executionHistory
}

// NewSerialQueue creates a queue that executes one task at a time in strict
// submission order, backed by pool's workers.
func NewSerialQueue(pool ThreadPool) *Queue {
	return newQueue(pool, 1)
}

// NewConcurrentQueue creates a queue that executes up to width tasks in
// parallel. A width of 0 means "as wide as the pool". Panics when pool is
// nil or width is out of range.
func NewConcurrentQueue(pool ThreadPool, width int) *Queue {
	if pool != nil && width == 0 {
		width = pool.WorkerCount()
	}
	return newQueue(pool, width)
}

func newQueue(pool ThreadPool, width int) *Queue {
	if pool == nil {
		panic("Queue: pool must not be nil")
	}
	if width < 1 {
		panic("Queue: width must be at least 1")
	}
	if width > maxQueueWidth {
		panic(fmt.Sprintf("Queue: width must not exceed %d", maxQueueWidth))
	}

	q := &Queue{
		pool:         pool,
		width:        width,
		admit:        make(chan func(), admissionBuffer),
		admitStopped: make(chan struct{}),
		work:         newFIFOList(),
		shutdownChan: make(chan struct{}),
		history:      newExecutionHistory(defaultHistoryCapacity),
	}
	q.defaultQoS.Store(int32(QoSDefault))

	go q.admitLoop()

	return q
}

// admitLoop serializes every admission/completion bookkeeping op.
func (q *Queue) admitLoop() {
	defer close(q.admitStopped)

	for {
		select {
		case op := <-q.admit:
			op()
		case <-q.shutdownChan:
			return
		}
	}
}

// postAdmission hands op to the admission goroutine. Ops posted after
// shutdown are dropped.
func (q *Queue) postAdmission(op func()) {
	if q.closed.Load() {
		return
	}
	select {
	case q.admit <- op:
	case <-q.shutdownChan:
	}
}

// =============================================================================
// Asynchronous submission
// =============================================================================

// PostTask admits task for asynchronous execution and returns immediately.
// The task runs at the queue's default QoS.
func (q *Queue) PostTask(task Task) {
	q.PostTaskWithQoS(task, q.DefaultQoS())
}

// PostTaskWithQoS admits task at the given QoS.
func (q *Queue) PostTaskWithQoS(task Task, qos QoS) {
	q.enqueue(workItem{task: task, qos: qos})
}

// PostBarrierTask admits task as a barrier: it will not start until every
// previously admitted task has completed, and no later-admitted task starts
// before it completes. On a serial queue a barrier behaves like any task.
// Asynchronous; returns immediately.
func (q *Queue) PostBarrierTask(task Task) {
	q.PostBarrierTaskWithQoS(task, QoSUserInitiated)
}

// PostBarrierTaskWithQoS is PostBarrierTask at an explicit QoS.
func (q *Queue) PostBarrierTaskWithQoS(task Task, qos QoS) {
	q.enqueue(workItem{task: task, qos: qos, barrier: true})
}

func (q *Queue) enqueue(item workItem) {
	if item.task == nil {
		return
	}
	q.postAdmission(func() {
		if q.closed.Load() {
			return
		}
		q.work.push(item)
		q.emitQueueDepth()
		q.trySchedule()
	})
}

// PostDelayedTask schedules task for admission no earlier than delay from
// now. The task is admitted on this queue and then honors the queue's
// ordering rules like any other submission. Best effort, not a hard
// real-time guarantee. Panics on negative delay.
func (q *Queue) PostDelayedTask(task Task, delay time.Duration) {
	q.PostDelayedTaskWithQoS(task, delay, q.DefaultQoS())
}

// PostDelayedTaskWithQoS is PostDelayedTask at an explicit QoS.
func (q *Queue) PostDelayedTaskWithQoS(task Task, delay time.Duration, qos QoS) {
	if delay < 0 {
		panic(fmt.Sprintf("Queue: delay must not be negative (got %v)", delay))
	}
	if task == nil || q.closed.Load() {
		return
	}
	q.pool.PostDelayedInternal(task, delay, qos, q)
}

// =============================================================================
// Group association
// =============================================================================

// PostTaskInGroup admits task and ties it to g: g.Enter happens before
// admission and g.Leave after the task returns or panics, so g drains only
// once every associated task has truly finished.
//
// Tasks dropped by a later Shutdown never ran, so their Leave never happens;
// drain a group before shutting down the queues feeding it.
func (q *Queue) PostTaskInGroup(task Task, g *Group) {
	q.PostTaskInGroupWithQoS(task, g, q.DefaultQoS())
}

// PostTaskInGroupWithQoS is PostTaskInGroup at an explicit QoS.
func (q *Queue) PostTaskInGroupWithQoS(task Task, g *Group, qos QoS) {
	if task == nil || g == nil || q.closed.Load() {
		return
	}
	g.Enter()
	q.PostTaskWithQoS(func(ctx context.Context) {
		defer g.Leave()
		task(ctx)
	}, qos)
}

// NotifyGroup registers task to run on this queue once g drains to zero.
func (q *Queue) NotifyGroup(g *Group, task Task) {
	if task == nil || g == nil {
		return
	}
	g.Notify(q, task)
}

// =============================================================================
// Synchronous submission
// =============================================================================

// PostTaskAndWait admits task and blocks until it completes. A task panic
// surfaces to the caller as *PanicError instead of the pool's PanicHandler.
// Returns ctx.Err() when the caller gives up first (the task may still run
// later) and ErrQueueClosed when the queue shuts down while waiting.
//
// Calling PostTaskAndWait on a serial queue from a task already running on
// that same queue deadlocks: the queued task can never start while the
// caller occupies the queue's only slot. That reentrant use is a usage
// error by contract; ctx is the escape hatch.
func (q *Queue) PostTaskAndWait(ctx context.Context, task Task) error {
	return q.awaitTask(ctx, task, false)
}

// PostBarrierTaskAndWait is PostBarrierTask plus blocking until the barrier
// task completes: exactly the previously admitted tasks (and no later ones)
// have finished when it returns. The same-queue reentrancy hazard of
// PostTaskAndWait applies.
func (q *Queue) PostBarrierTaskAndWait(ctx context.Context, task Task) error {
	return q.awaitTask(ctx, task, true)
}

// WaitIdle blocks until every task admitted before the call has completed.
func (q *Queue) WaitIdle(ctx context.Context) error {
	return q.PostBarrierTaskAndWait(ctx, func(context.Context) {})
}

func (q *Queue) awaitTask(ctx context.Context, task Task, barrier bool) error {
	if task == nil {
		return nil
	}
	if q.closed.Load() {
		return ErrQueueClosed
	}

	done := make(chan struct{})
	var panicErr error

	wrapped := func(taskCtx context.Context) {
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				panicErr = &PanicError{Value: rec, Stack: debug.Stack()}
			}
		}()
		task(taskCtx)
	}

	q.enqueue(workItem{task: wrapped, qos: QoSUserInitiated, barrier: barrier})

	select {
	case <-done:
		return panicErr
	case <-ctx.Done():
		return ctx.Err()
	case <-q.shutdownChan:
		return ErrQueueClosed
	}
}

// Apply runs fn(i) once for every i in [0, n), distributing the n calls
// across the queue's width, and blocks until all of them complete. There is
// no ordering among the n calls. Panicked iterations are collected and
// joined into the returned error; n == 0 is a no-op. Panics on negative n.
func (q *Queue) Apply(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	if n < 0 {
		panic(fmt.Sprintf("Queue: iteration count must not be negative (got %d)", n))
	}
	if n == 0 || fn == nil {
		return nil
	}
	if q.closed.Load() {
		return ErrQueueClosed
	}

	g := NewGroup()
	var errMu sync.Mutex
	var errs []error

	for i := range n {
		g.Enter()
		q.PostTaskWithQoS(func(taskCtx context.Context) {
			defer g.Leave()
			defer func() {
				if rec := recover(); rec != nil {
					errMu.Lock()
					errs = append(errs, &PanicError{Value: rec, Stack: debug.Stack()})
					errMu.Unlock()
				}
			}()
			fn(taskCtx, i)
		}, QoSUserInitiated)
	}

	if err := g.WaitContext(ctx); err != nil {
		return err
	}

	errMu.Lock()
	defer errMu.Unlock()
	return errors.Join(errs...)
}

// =============================================================================
// Task and Reply Pattern
// =============================================================================

// PostTaskAndReply executes task on this queue, then posts reply to
// replyQueue. A panicked task is reported out-of-band and the reply is
// skipped.
func (q *Queue) PostTaskAndReply(task Task, reply Task, replyQueue Submitter) {
	if reply == nil || replyQueue == nil {
		q.PostTask(task)
		return
	}
	q.PostTask(func(ctx context.Context) {
		completed := false
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					q.reportPanic(ctx, rec, debug.Stack())
				}
			}()
			task(ctx)
			completed = true
		}()
		if completed {
			replyQueue.PostTask(reply)
		}
	})
}

// =============================================================================
// Suspension
// =============================================================================

// Suspend pauses admission of pending work to workers. Tasks already
// running continue to completion; pending tasks only have their start
// delayed. Suspends nest: each Suspend needs a matching Resume.
func (q *Queue) Suspend() {
	q.postAdmission(func() {
		q.suspendCount.Add(1)
	})
}

// Resume undoes one Suspend and, once the suspend count reaches zero,
// restarts scheduling of pending work. Resume without a matching Suspend is
// an unbalanced usage error and panics.
func (q *Queue) Resume() {
	q.postAdmission(func() {
		if q.suspendCount.Add(-1) < 0 {
			panic("Queue: Resume without matching Suspend (unbalanced)")
		}
		q.trySchedule()
	})
}

// IsSuspended reports whether the queue is currently holding back pending
// work.
func (q *Queue) IsSuspended() bool {
	return q.suspendCount.Load() > 0
}

// =============================================================================
// Scheduling core (admission goroutine only)
// =============================================================================

// trySchedule starts pending tasks while slots are available, honoring
// suspension and the barrier fence. Admission goroutine only.
func (q *Queue) trySchedule() {
	if q.barrierRunning.Load() || q.suspendCount.Load() > 0 {
		return
	}

	if q.pendingBarrier != nil {
		if q.running.Load() == 0 {
			item := *q.pendingBarrier
			q.pendingBarrier = nil
			q.launchBarrier(item)
		}
		// Still waiting for in-flight tasks ahead of the fence
		return
	}

	for q.running.Load() < int32(q.width) {
		item, ok := q.work.pop()
		if !ok {
			return
		}
		q.emitQueueDepth()

		if item.barrier {
			if q.running.Load() == 0 {
				q.launchBarrier(item)
			} else {
				pending := item
				q.pendingBarrier = &pending
			}
			return
		}

		q.running.Add(1)
		q.pool.PostInternal(q.run(item), item.qos)
	}
}

func (q *Queue) launchBarrier(item workItem) {
	q.barrierRunning.Store(true)
	q.running.Add(1)
	q.pool.PostInternal(q.run(item), item.qos)
}

// run wraps an admitted item with context injection, panic isolation,
// bookkeeping, and completion accounting. Executes on a pool worker.
func (q *Queue) run(item workItem) Task {
	return func(ctx context.Context) {
		runCtx := context.WithValue(ctx, queueKey, q)
		started := time.Now()
		panicked := false

		func() {
			defer func() {
				if rec := recover(); rec != nil {
					panicked = true
					q.reportPanic(runCtx, rec, debug.Stack())
				}
			}()
			item.task(runCtx)
		}()

		finished := time.Now()
		q.history.add(TaskRecord{
			QueueName:  q.observabilityName(),
			QoS:        item.qos,
			Barrier:    item.barrier,
			StartedAt:  started,
			FinishedAt: finished,
			Duration:   finished.Sub(started),
			Panicked:   panicked,
		})
		q.recordDuration(item.qos, finished.Sub(started))

		q.onTaskComplete(item)
	}
}

// onTaskComplete releases the slot and re-enters scheduling. The barrier
// flag is cleared on the admission goroutine so no task can slip past the
// fence between the barrier finishing and the flag clearing.
func (q *Queue) onTaskComplete(item workItem) {
	q.running.Add(-1)
	q.postAdmission(func() {
		if item.barrier {
			q.barrierRunning.Store(false)
		}
		q.trySchedule()
	})
}

// =============================================================================
// Faults and metrics plumbing
// =============================================================================

func (q *Queue) reportPanic(ctx context.Context, panicInfo any, stack []byte) {
	sched := q.pool.Scheduler()
	if sched == nil {
		NewDefaultLogger().Error("task panic",
			F("queue", q.observabilityName()), F("panic", panicInfo))
		return
	}
	if handler := sched.PanicHandler(); handler != nil {
		handler.HandlePanic(ctx, q.observabilityName(), -1, panicInfo, stack)
	}
	if metrics := sched.Metrics(); metrics != nil {
		metrics.RecordTaskPanic(q.observabilityName(), panicInfo)
	}
}

func (q *Queue) emitQueueDepth() {
	if sched := q.pool.Scheduler(); sched != nil {
		if metrics := sched.Metrics(); metrics != nil {
			metrics.RecordQueueDepth(q.observabilityName(), q.work.len())
		}
	}
}

func (q *Queue) recordDuration(qos QoS, d time.Duration) {
	if sched := q.pool.Scheduler(); sched != nil {
		if metrics := sched.Metrics(); metrics != nil {
			metrics.RecordTaskDuration(q.observabilityName(), qos, d)
		}
	}
}

// =============================================================================
// Lifecycle and introspection
// =============================================================================

// Shutdown stops admission and abandons pending work: tasks not yet handed
// to a worker are dropped, in-flight tasks run to completion. Non-blocking
// and safe to call from a task running on this queue.
func (q *Queue) Shutdown() {
	q.shutdownOnce.Do(func() {
		q.closed.Store(true)
		q.work.clear()
		q.emitQueueDepth()
		close(q.shutdownChan)
	})
}

// WaitShutdown blocks until Shutdown is called on this queue.
func (q *Queue) WaitShutdown(ctx context.Context) error {
	select {
	case <-q.shutdownChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsClosed reports whether the queue has been shut down.
func (q *Queue) IsClosed() bool {
	return q.closed.Load()
}

// DefaultQoS returns the QoS used by submissions that don't name one.
func (q *Queue) DefaultQoS() QoS {
	return QoS(q.defaultQoS.Load())
}

// SetDefaultQoS changes the QoS used by submissions that don't name one.
// Already-admitted tasks keep the QoS they were admitted at.
func (q *Queue) SetDefaultQoS(qos QoS) {
	q.defaultQoS.Store(int32(qos))
}

// Width returns the queue's concurrency width (1 for a serial queue).
func (q *Queue) Width() int {
	return q.width
}

// PendingTaskCount returns the number of admitted tasks not yet started.
func (q *Queue) PendingTaskCount() int {
	return q.work.len()
}

// RunningTaskCount returns the number of tasks currently executing.
func (q *Queue) RunningTaskCount() int {
	return int(q.running.Load())
}

// Pool returns the backing thread pool.
func (q *Queue) Pool() ThreadPool {
	return q.pool
}

// Name returns the queue's display name.
func (q *Queue) Name() string {
	q.nameMu.Lock()
	defer q.nameMu.Unlock()
	return q.name
}

// SetName sets the queue's display name (used in logs, metrics, stats).
func (q *Queue) SetName(name string) {
	q.nameMu.Lock()
	defer q.nameMu.Unlock()
	q.name = name
}

func (q *Queue) observabilityName() string {
	if name := q.Name(); name != "" {
		return name
	}
	if q.width == 1 {
		return "serial"
	}
	return "concurrent"
}

// Stats returns current observability data for this queue.
func (q *Queue) Stats() QueueStats {
	stats := QueueStats{
		Name:           q.observabilityName(),
		Width:          q.width,
		Pending:        q.PendingTaskCount(),
		Running:        q.RunningTaskCount(),
		Suspended:      q.IsSuspended(),
		Closed:         q.IsClosed(),
		BarrierPending: q.barrierRunning.Load(),
	}
	if last, ok := q.history.last(); ok {
		stats.LastTaskAt = last.FinishedAt
	}
	return stats
}

// RecentTasks returns completed task execution records, newest first.
func (q *Queue) RecentTasks(limit int) []TaskRecord {
	return q.history.recent(limit)
}

// =============================================================================
// Repeating tasks
// =============================================================================

// RepeatingHandle controls the lifecycle of a repeating task.
type RepeatingHandle interface {
	// Stop prevents further repetitions. An execution already admitted may
	// still run once.
	Stop()

	// IsStopped reports whether Stop has been called.
	IsStopped() bool
}

type repeatingHandle struct {
	queue    *Queue
	task     Task
	interval time.Duration
	qos      QoS
	stopped  atomic.Bool
}

func (h *repeatingHandle) Stop() {
	h.stopped.Store(true)
}

func (h *repeatingHandle) IsStopped() bool {
	return h.stopped.Load()
}

// loopTask wraps the user task so each execution reschedules the next one,
// unless the handle was stopped or the queue shut down.
func (h *repeatingHandle) loopTask() Task {
	return func(ctx context.Context) {
		if h.IsStopped() || h.queue.IsClosed() {
			return
		}

		h.task(ctx)

		if !h.IsStopped() && !h.queue.IsClosed() {
			h.queue.PostDelayedTaskWithQoS(h.loopTask(), h.interval, h.qos)
		}
	}
}

// PostRepeatingTask admits task now and then again every interval until the
// returned handle is stopped or the queue shuts down.
func (q *Queue) PostRepeatingTask(task Task, interval time.Duration) RepeatingHandle {
	return q.PostRepeatingTaskWithQoS(task, interval, q.DefaultQoS())
}

// PostRepeatingTaskWithQoS is PostRepeatingTask at an explicit QoS.
func (q *Queue) PostRepeatingTaskWithQoS(task Task, interval time.Duration, qos QoS) RepeatingHandle {
	handle := &repeatingHandle{
		queue:    q,
		task:     task,
		interval: interval,
		qos:      qos,
	}
	q.PostTaskWithQoS(handle.loopTask(), qos)
	return handle
}
