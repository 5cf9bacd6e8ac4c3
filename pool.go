package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Swind/go-dispatch/core"
)

// PoolOptions configures a WorkerPool beyond its size.
type PoolOptions struct {
	// Scheduler configures panic handling, metrics, and logging for work
	// executed on this pool. Nil gets defaults.
	Scheduler *core.SchedulerConfig

	// LockOSThreads pins each worker goroutine to its own OS thread.
	// Used by the main queue's dedicated pool and useful for CGO callers
	// that need thread affinity.
	LockOSThreads bool
}

// WorkerPool manages a set of worker goroutines that pull tasks from a
// core.Scheduler and execute them. Queues hand their admitted work to a
// pool; one pool typically backs many queues.
type WorkerPool struct {
	id            string
	workers       int
	scheduler     *core.Scheduler
	lockOSThreads bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	running       bool
	runningMu     sync.RWMutex
}

// NewWorkerPool creates a pool with the given number of workers and default
// options. Panics when workers < 1.
func NewWorkerPool(id string, workers int) *WorkerPool {
	return NewWorkerPoolWithOptions(id, workers, PoolOptions{})
}

// NewWorkerPoolWithOptions creates a pool with explicit options.
func NewWorkerPoolWithOptions(id string, workers int, opts PoolOptions) *WorkerPool {
	if workers < 1 {
		panic(fmt.Sprintf("WorkerPool: workers must be at least 1 (got %d)", workers))
	}

	config := opts.Scheduler
	if config == nil {
		config = core.DefaultSchedulerConfig()
	}

	return &WorkerPool{
		id:            id,
		workers:       workers,
		scheduler:     core.NewSchedulerWithConfig(workers, config),
		lockOSThreads: opts.LockOSThreads,
	}
}

// Start starts all worker goroutines. Starting a running pool is a no-op.
func (p *WorkerPool) Start(ctx context.Context) {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()

	if p.running {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i, p.ctx)
	}
}

// Stop shuts the pool down immediately: pending work is dropped, workers
// exit once their current task finishes.
func (p *WorkerPool) Stop() {
	// Shut the scheduler down even if the pool never started, so the delay
	// manager and work list release their references.
	p.scheduler.Shutdown()

	p.runningMu.Lock()
	if !p.running {
		p.runningMu.Unlock()
		return
	}
	p.runningMu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.Join()

	p.runningMu.Lock()
	p.running = false
	p.runningMu.Unlock()
}

// StopGraceful waits up to timeout for queued and active work to drain
// before stopping the workers. Returns an error when the timeout is
// exceeded; remaining work is dropped in that case.
func (p *WorkerPool) StopGraceful(timeout time.Duration) error {
	p.runningMu.Lock()
	if !p.running {
		p.runningMu.Unlock()
		return nil
	}
	p.runningMu.Unlock()

	err := p.scheduler.ShutdownGraceful(timeout)

	if p.cancel != nil {
		p.cancel()
	}
	p.Join()

	p.runningMu.Lock()
	p.running = false
	p.runningMu.Unlock()

	return err
}

// Join waits for all worker goroutines to finish.
func (p *WorkerPool) Join() {
	p.wg.Wait()
}

// ID returns the pool's identifier.
func (p *WorkerPool) ID() string {
	return p.id
}

// IsRunning reports whether the pool's workers are active.
func (p *WorkerPool) IsRunning() bool {
	p.runningMu.RLock()
	defer p.runningMu.RUnlock()
	return p.running
}

// workerLoop is the main loop for each worker.
func (p *WorkerPool) workerLoop(id int, ctx context.Context) {
	defer p.wg.Done()

	if p.lockOSThreads {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	stopCh := ctx.Done()

	for {
		task, _, ok := p.scheduler.GetWork(stopCh)
		if !ok {
			return
		}

		p.scheduler.OnTaskStart()

		// Queues isolate their own task panics; this recover is the backstop
		// for work posted to the pool directly.
		func() {
			defer func() {
				p.scheduler.OnTaskEnd()
				if rec := recover(); rec != nil {
					if handler := p.scheduler.PanicHandler(); handler != nil {
						handler.HandlePanic(ctx, p.id, id, rec, debug.Stack())
					}
					if metrics := p.scheduler.Metrics(); metrics != nil {
						metrics.RecordTaskPanic(p.id, rec)
					}
				}
			}()
			task(ctx)
		}()
	}
}

// WorkerCount returns the number of workers.
func (p *WorkerPool) WorkerCount() int {
	return p.workers
}

// QueuedTaskCount returns the number of tasks waiting for a worker.
func (p *WorkerPool) QueuedTaskCount() int {
	return p.scheduler.QueuedTaskCount()
}

// ActiveTaskCount returns the number of tasks executing right now.
func (p *WorkerPool) ActiveTaskCount() int {
	return p.scheduler.ActiveTaskCount()
}

// DelayedTaskCount returns the number of tasks waiting on a delay.
func (p *WorkerPool) DelayedTaskCount() int {
	return p.scheduler.DelayedTaskCount()
}

// Stats returns current observability data for this pool.
func (p *WorkerPool) Stats() core.PoolStats {
	return core.PoolStats{
		ID:      p.id,
		Workers: p.workers,
		Queued:  p.QueuedTaskCount(),
		Active:  p.ActiveTaskCount(),
		Delayed: p.DelayedTaskCount(),
		Running: p.IsRunning(),
	}
}

// PostInternal hands a task to the pool's scheduler. Queues call this;
// direct callers bypass queue ordering.
func (p *WorkerPool) PostInternal(task core.Task, qos core.QoS) {
	p.scheduler.Post(task, qos)
}

// PostDelayedInternal schedules a task to be posted back to target after
// delay.
func (p *WorkerPool) PostDelayedInternal(task core.Task, delay time.Duration, qos core.QoS, target core.Submitter) {
	p.scheduler.PostDelayed(task, delay, qos, target)
}

// Scheduler returns the pool's scheduler.
func (p *WorkerPool) Scheduler() *core.Scheduler {
	return p.scheduler
}
