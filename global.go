package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/Swind/go-dispatch/core"
)

// =============================================================================
// Global Pool and Well-Known Queues (Singletons)
// =============================================================================

var (
	globalMu     sync.Mutex
	globalPool   *WorkerPool
	globalQueues map[core.QoS]*core.Queue

	mainOnce  sync.Once
	mainQueue *core.Queue
)

// InitGlobalPool initializes the process-wide pool with the given number of
// workers (0 means runtime.NumCPU) and starts it immediately, along with one
// shared concurrent queue per QoS tier. Calling it again is a no-op.
func InitGlobalPool(workers int) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalPool != nil {
		return
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	globalPool = NewWorkerPool("global-pool", workers)
	globalPool.Start(context.Background())

	globalQueues = make(map[core.QoS]*core.Queue, 3)
	for _, qos := range []core.QoS{core.QoSBackground, core.QoSDefault, core.QoSUserInitiated} {
		q := core.NewConcurrentQueue(globalPool, 0)
		q.SetName("global." + qos.String())
		q.SetDefaultQoS(qos)
		globalQueues[qos] = q
	}
}

// GetGlobalPool returns the global pool.
// It panics if InitGlobalPool has not been called.
func GetGlobalPool() *WorkerPool {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalPool == nil {
		panic("dispatch: global pool not initialized. Call InitGlobalPool() first.")
	}
	return globalPool
}

// ShutdownGlobalPool stops the global pool and closes the shared queues.
// Mostly useful in tests; production processes normally keep the pool for
// their whole lifetime.
func ShutdownGlobalPool() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalPool == nil {
		return
	}
	for _, q := range globalQueues {
		q.Shutdown()
	}
	globalQueues = nil
	globalPool.Stop()
	globalPool = nil
}

// GlobalQueue returns the process-wide concurrent queue for the given QoS
// tier. Callers obtain a reference, never ownership: the queue lives as long
// as the process and must not be shut down by callers.
// Panics if InitGlobalPool has not been called.
func GlobalQueue(qos core.QoS) *core.Queue {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalQueues == nil {
		panic("dispatch: global pool not initialized. Call InitGlobalPool() first.")
	}
	q, ok := globalQueues[qos]
	if !ok {
		panic(fmt.Sprintf("dispatch: no global queue for QoS %d", qos))
	}
	return q
}

// MainQueue returns the process-wide serial queue standing in for the host
// environment's main execution context. It is permanently serial and backed
// by a dedicated single worker pinned to one OS thread, created lazily on
// first use and never destroyed.
func MainQueue() *core.Queue {
	mainOnce.Do(func() {
		pool := NewWorkerPoolWithOptions("main-pool", 1, PoolOptions{LockOSThreads: true})
		pool.Start(context.Background())

		mainQueue = core.NewSerialQueue(pool)
		mainQueue.SetName("main")
	})
	return mainQueue
}

// NewSerialQueue creates a serial queue backed by the global pool.
// This is the recommended way to get a new queue.
func NewSerialQueue() *core.Queue {
	return core.NewSerialQueue(GetGlobalPool())
}

// NewConcurrentQueue creates a concurrent queue of the given width backed by
// the global pool. A width of 0 means "as wide as the pool".
func NewConcurrentQueue(width int) *core.Queue {
	return core.NewConcurrentQueue(GetGlobalPool(), width)
}
