package core_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	core "github.com/Swind/go-dispatch/core"
)

// TestSerialQueue_FIFOOrder verifies one-at-a-time FIFO execution
// Given: A serial queue on a multi-worker pool
// When: 500 tasks are posted
// Then: They execute in submission order with no overlap
func TestSerialQueue_FIFOOrder(t *testing.T) {
	pool := newTestPool(t, 4)
	q := core.NewSerialQueue(pool)

	const n = 500
	var mu sync.Mutex
	var order []int
	var running atomic.Int32
	var overlapped atomic.Bool

	for i := 0; i < n; i++ {
		id := i
		q.PostTask(func(ctx context.Context) {
			if running.Add(1) > 1 {
				overlapped.Store(true)
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			running.Add(-1)
		})
	}

	if err := q.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle failed: %v", err)
	}

	if overlapped.Load() {
		t.Fatal("serial queue ran two tasks at once")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != n {
		t.Fatalf("executed %d tasks, want %d", len(order), n)
	}
	for i, id := range order {
		if id != i {
			t.Fatalf("order[%d] = %d, want %d", i, id, i)
		}
	}
}

// TestConcurrentQueue_WidthBound verifies the concurrency ceiling
// Given: A concurrent queue with width 3
// When: 50 blocking tasks are posted
// Then: At most 3 run at once, and more than 1 runs at once
func TestConcurrentQueue_WidthBound(t *testing.T) {
	pool := newTestPool(t, 8)
	q := core.NewConcurrentQueue(pool, 3)

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	wg.Add(50)
	for i := 0; i < 50; i++ {
		q.PostTask(func(ctx context.Context) {
			defer wg.Done()
			cur := running.Add(1)
			for {
				prev := maxRunning.Load()
				if cur <= prev || maxRunning.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()

	if got := maxRunning.Load(); got > 3 {
		t.Fatalf("max concurrent tasks = %d, want <= 3", got)
	}
	if got := maxRunning.Load(); got < 2 {
		t.Fatalf("max concurrent tasks = %d, want >= 2", got)
	}
}

// TestConcurrentQueue_DefaultWidthUsesPool verifies width 0 falls back to the
// pool's worker count
func TestConcurrentQueue_DefaultWidthUsesPool(t *testing.T) {
	pool := newTestPool(t, 5)
	q := core.NewConcurrentQueue(pool, 0)
	if q.Width() != 5 {
		t.Fatalf("Width = %d, want 5", q.Width())
	}
}

// TestQueue_GroupIntegration verifies group-tracked posting
// Given: A concurrent queue and a group
// When: 100 tasks are posted via PostTaskInGroup and the group is awaited
// Then: The counter reads exactly 100 after Wait returns
func TestQueue_GroupIntegration(t *testing.T) {
	pool := newTestPool(t, 4)
	q := core.NewConcurrentQueue(pool, 4)
	g := core.NewGroup()

	var counter atomic.Int32
	for i := 0; i < 100; i++ {
		q.PostTaskInGroup(func(ctx context.Context) {
			counter.Add(1)
		}, g)
	}

	if !g.WaitTimeout(5 * time.Second) {
		t.Fatal("group did not drain")
	}
	if counter.Load() != 100 {
		t.Fatalf("counter = %d, want 100", counter.Load())
	}
}

// TestQueue_SuspendResume verifies counted suspension
// Given: A suspended serial queue with a pending task
// When: Resume is called once per Suspend
// Then: The task runs only after the final Resume
func TestQueue_SuspendResume(t *testing.T) {
	pool := newTestPool(t, 2)
	q := core.NewSerialQueue(pool)

	q.Suspend()
	q.Suspend()

	var ran atomic.Int32
	q.PostTask(func(ctx context.Context) {
		ran.Add(1)
	})

	time.Sleep(30 * time.Millisecond)
	if ran.Load() != 0 {
		t.Fatal("task ran while suspended")
	}
	if !q.IsSuspended() {
		t.Fatal("IsSuspended = false after Suspend")
	}

	q.Resume()
	time.Sleep(30 * time.Millisecond)
	if ran.Load() != 0 {
		t.Fatal("task ran with one Suspend still outstanding")
	}

	q.Resume()
	waitUntil(t, time.Second, func() bool { return ran.Load() == 1 })
	if q.IsSuspended() {
		t.Fatal("IsSuspended = true after final Resume")
	}
}

// TestQueue_SuspendDoesNotInterruptRunning verifies running work completes
// Given: A task already executing on the queue
// When: Suspend is called mid-execution
// Then: The running task finishes; only pending work is held back
func TestQueue_SuspendDoesNotInterruptRunning(t *testing.T) {
	pool := newTestPool(t, 2)
	q := core.NewSerialQueue(pool)

	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	q.PostTask(func(ctx context.Context) {
		close(started)
		<-release
		close(finished)
	})
	<-started

	q.Suspend()
	defer q.Resume()

	var pendingRan atomic.Int32
	q.PostTask(func(ctx context.Context) {
		pendingRan.Add(1)
	})

	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("running task did not finish under suspension")
	}

	time.Sleep(30 * time.Millisecond)
	if pendingRan.Load() != 0 {
		t.Fatal("pending task ran while suspended")
	}
}

// TestQueue_DelayedTask verifies delayed submission timing
// Given: A serial queue
// When: A task is posted with a 150ms delay
// Then: It runs no earlier than the delay and within a loose upper bound
func TestQueue_DelayedTask(t *testing.T) {
	pool := newTestPool(t, 2)
	q := core.NewSerialQueue(pool)

	start := time.Now()
	done := make(chan time.Duration, 1)
	q.PostDelayedTask(func(ctx context.Context) {
		done <- time.Since(start)
	}, 150*time.Millisecond)

	select {
	case elapsed := <-done:
		if elapsed < 150*time.Millisecond {
			t.Fatalf("delayed task ran after %v, want >= 150ms", elapsed)
		}
		if elapsed > 600*time.Millisecond {
			t.Fatalf("delayed task ran after %v, want < 600ms", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran")
	}
}

// TestQueue_DelayedTask_NegativeDelayPanics verifies delay validation
func TestQueue_DelayedTask_NegativeDelayPanics(t *testing.T) {
	pool := newTestPool(t, 1)
	q := core.NewSerialQueue(pool)
	defer func() {
		if recover() == nil {
			t.Fatal("negative delay did not panic")
		}
	}()
	q.PostDelayedTask(func(ctx context.Context) {}, -time.Millisecond)
}

// TestQueue_DelayedTask_ZeroDelayRuns verifies zero delay is immediate admission
func TestQueue_DelayedTask_ZeroDelayRuns(t *testing.T) {
	pool := newTestPool(t, 1)
	q := core.NewSerialQueue(pool)

	var ran atomic.Int32
	q.PostDelayedTask(func(ctx context.Context) { ran.Add(1) }, 0)
	waitUntil(t, time.Second, func() bool { return ran.Load() == 1 })
}

// TestQueue_PostTaskAndWait verifies synchronous submission
// Given: A serial queue
// When: PostTaskAndWait is called
// Then: It returns nil only after the task has executed
func TestQueue_PostTaskAndWait(t *testing.T) {
	pool := newTestPool(t, 2)
	q := core.NewSerialQueue(pool)

	var ran atomic.Int32
	err := q.PostTaskAndWait(context.Background(), func(ctx context.Context) {
		time.Sleep(10 * time.Millisecond)
		ran.Add(1)
	})
	if err != nil {
		t.Fatalf("PostTaskAndWait failed: %v", err)
	}
	if ran.Load() != 1 {
		t.Fatal("PostTaskAndWait returned before the task ran")
	}
}

// TestQueue_PostTaskAndWait_PanicSurfaced verifies fault propagation to the
// blocked caller
// Given: A task that panics
// When: It is submitted via PostTaskAndWait
// Then: The caller receives a *PanicError carrying the panic value
func TestQueue_PostTaskAndWait_PanicSurfaced(t *testing.T) {
	pool := newTestPool(t, 2)
	q := core.NewSerialQueue(pool)

	err := q.PostTaskAndWait(context.Background(), func(ctx context.Context) {
		panic("boom")
	})
	var panicErr *core.PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("error = %v, want *PanicError", err)
	}
	if panicErr.Value != "boom" {
		t.Fatalf("panic value = %v, want boom", panicErr.Value)
	}

	// The queue keeps running after a task fault.
	var ran atomic.Int32
	if err := q.PostTaskAndWait(context.Background(), func(ctx context.Context) { ran.Add(1) }); err != nil {
		t.Fatalf("queue unusable after panic: %v", err)
	}
	if ran.Load() != 1 {
		t.Fatal("follow-up task did not run")
	}
}

// TestQueue_PostTaskAndWait_ReentrantEscapesViaContext verifies the documented
// deadlock hazard is recoverable through ctx
// Given: A task running on a serial queue
// When: It calls PostTaskAndWait on the same queue with a short ctx timeout
// Then: The inner call returns context.DeadlineExceeded instead of hanging
func TestQueue_PostTaskAndWait_ReentrantEscapesViaContext(t *testing.T) {
	pool := newTestPool(t, 2)
	q := core.NewSerialQueue(pool)

	errCh := make(chan error, 1)
	q.PostTask(func(ctx context.Context) {
		inner, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		errCh <- q.PostTaskAndWait(inner, func(context.Context) {})
	})

	select {
	case err := <-errCh:
		if err != context.DeadlineExceeded {
			t.Fatalf("inner error = %v, want context.DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant PostTaskAndWait hung past its deadline")
	}
}

// TestQueue_PostTaskAndReply verifies the task/reply chain
// Given: A work queue and a reply queue
// When: PostTaskAndReply is used
// Then: The reply runs on the reply queue strictly after the task
func TestQueue_PostTaskAndReply(t *testing.T) {
	pool := newTestPool(t, 4)
	workQueue := core.NewSerialQueue(pool)
	replyQueue := core.NewSerialQueue(pool)

	var taskDone atomic.Bool
	var orderOK atomic.Bool
	replied := make(chan struct{})
	workQueue.PostTaskAndReply(
		func(ctx context.Context) {
			taskDone.Store(true)
		},
		func(ctx context.Context) {
			orderOK.Store(taskDone.Load())
			close(replied)
		},
		replyQueue,
	)

	select {
	case <-replied:
	case <-time.After(time.Second):
		t.Fatal("reply never ran")
	}
	if !orderOK.Load() {
		t.Fatal("reply ran before the task completed")
	}
}

// TestQueue_PostTaskAndReply_SkippedOnPanic verifies a faulted task suppresses
// its reply
func TestQueue_PostTaskAndReply_SkippedOnPanic(t *testing.T) {
	pool := newTestPool(t, 2)
	workQueue := core.NewSerialQueue(pool)
	replyQueue := core.NewSerialQueue(pool)

	var replied atomic.Int32
	workQueue.PostTaskAndReply(
		func(ctx context.Context) { panic("boom") },
		func(ctx context.Context) { replied.Add(1) },
		replyQueue,
	)

	if err := workQueue.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if replied.Load() != 0 {
		t.Fatal("reply ran despite a panicked task")
	}
}

// TestQueue_Shutdown verifies admission stops and pending work is dropped
// Given: A queue holding a slow task and several pending tasks
// When: Shutdown is called
// Then: New posts are rejected and pending tasks never run
func TestQueue_Shutdown(t *testing.T) {
	pool := newTestPool(t, 2)
	q := core.NewSerialQueue(pool)

	started := make(chan struct{})
	release := make(chan struct{})
	q.PostTask(func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	var pendingRan atomic.Int32
	for i := 0; i < 5; i++ {
		q.PostTask(func(ctx context.Context) { pendingRan.Add(1) })
	}

	q.Shutdown()
	close(release)

	if !q.IsClosed() {
		t.Fatal("IsClosed = false after Shutdown")
	}
	var lateRan atomic.Int32
	q.PostTask(func(ctx context.Context) { lateRan.Add(1) })

	if err := q.PostTaskAndWait(context.Background(), func(context.Context) {}); err != core.ErrQueueClosed {
		t.Fatalf("PostTaskAndWait on closed queue = %v, want ErrQueueClosed", err)
	}

	time.Sleep(50 * time.Millisecond)
	if pendingRan.Load() != 0 {
		t.Fatalf("pending tasks ran after Shutdown: %d", pendingRan.Load())
	}
	if lateRan.Load() != 0 {
		t.Fatal("task posted after Shutdown ran")
	}
}

// TestQueue_WaitShutdown verifies shutdown observation
func TestQueue_WaitShutdown(t *testing.T) {
	pool := newTestPool(t, 1)
	q := core.NewSerialQueue(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := q.WaitShutdown(ctx); err != context.DeadlineExceeded {
		t.Fatalf("WaitShutdown before Shutdown = %v, want context.DeadlineExceeded", err)
	}

	q.Shutdown()
	if err := q.WaitShutdown(context.Background()); err != nil {
		t.Fatalf("WaitShutdown after Shutdown = %v, want nil", err)
	}
}

// TestQueue_PanicHandlerReceivesFireAndForgetFaults verifies out-of-band fault
// reporting
// Given: A pool configured with a recording panic handler
// When: A fire-and-forget task panics
// Then: The handler receives the panic value and the queue keeps serving
func TestQueue_PanicHandlerReceivesFireAndForgetFaults(t *testing.T) {
	handler := &recordingPanicHandler{}
	config := core.DefaultSchedulerConfig()
	config.PanicHandler = handler
	pool := newTestPoolWithConfig(t, 2, config)
	q := core.NewSerialQueue(pool)
	q.SetName("faulty")

	q.PostTask(func(ctx context.Context) { panic("boom") })

	waitUntil(t, time.Second, func() bool { return handler.count() == 1 })
	queueName, panicValue := handler.last()
	if queueName != "faulty" {
		t.Fatalf("handler queue = %q, want faulty", queueName)
	}
	if panicValue != "boom" {
		t.Fatalf("handler panic value = %v, want boom", panicValue)
	}

	var ran atomic.Int32
	q.PostTask(func(ctx context.Context) { ran.Add(1) })
	waitUntil(t, time.Second, func() bool { return ran.Load() == 1 })
}

// TestQueue_GetCurrentQueue verifies the task context carries its queue
func TestQueue_GetCurrentQueue(t *testing.T) {
	pool := newTestPool(t, 2)
	q := core.NewSerialQueue(pool)

	var got *core.Queue
	if err := q.PostTaskAndWait(context.Background(), func(ctx context.Context) {
		got = core.GetCurrentQueue(ctx)
	}); err != nil {
		t.Fatalf("PostTaskAndWait failed: %v", err)
	}
	if got != q {
		t.Fatalf("GetCurrentQueue = %p, want %p", got, q)
	}
	if core.GetCurrentQueue(context.Background()) != nil {
		t.Fatal("GetCurrentQueue outside a task should be nil")
	}
}

// TestQueue_NameAndStats verifies the observability snapshot
func TestQueue_NameAndStats(t *testing.T) {
	pool := newTestPool(t, 2)
	q := core.NewConcurrentQueue(pool, 2)
	q.SetName("stats-queue")

	if err := q.PostTaskAndWait(context.Background(), func(context.Context) {}); err != nil {
		t.Fatalf("PostTaskAndWait failed: %v", err)
	}

	stats := q.Stats()
	if stats.Name != "stats-queue" {
		t.Fatalf("stats name = %q, want stats-queue", stats.Name)
	}
	if stats.Width != 2 {
		t.Fatalf("stats width = %d, want 2", stats.Width)
	}
	if stats.Closed || stats.Suspended {
		t.Fatal("fresh queue reported closed or suspended")
	}

	records := q.RecentTasks(10)
	if len(records) == 0 {
		t.Fatal("RecentTasks returned no records after execution")
	}
	newest := records[0]
	if newest.QueueName != "stats-queue" {
		t.Fatalf("record queue = %q, want stats-queue", newest.QueueName)
	}
	if newest.Duration < 0 {
		t.Fatalf("record duration = %v, want >= 0", newest.Duration)
	}
}

// TestQueue_DefaultQoS verifies per-queue default service class
func TestQueue_DefaultQoS(t *testing.T) {
	pool := newTestPool(t, 1)
	q := core.NewSerialQueue(pool)

	if q.DefaultQoS() != core.QoSDefault {
		t.Fatalf("DefaultQoS = %v, want QoSDefault", q.DefaultQoS())
	}
	q.SetDefaultQoS(core.QoSBackground)
	if q.DefaultQoS() != core.QoSBackground {
		t.Fatalf("DefaultQoS = %v, want QoSBackground", q.DefaultQoS())
	}
}

// recordingPanicHandler captures panic reports for assertions.
type recordingPanicHandler struct {
	mu      sync.Mutex
	queues  []string
	values  []any
	workers []int
}

func (h *recordingPanicHandler) HandlePanic(ctx context.Context, queueName string, workerID int, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queues = append(h.queues, queueName)
	h.values = append(h.values, panicInfo)
	h.workers = append(h.workers, workerID)
}

func (h *recordingPanicHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.values)
}

func (h *recordingPanicHandler) last() (string, any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.values) == 0 {
		return "", nil
	}
	return h.queues[len(h.queues)-1], h.values[len(h.values)-1]
}
