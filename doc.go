// Package dispatch provides composable concurrency primitives for Go: task
// queues (serial and concurrent), synchronization groups, and counting
// semaphores.
//
// Callers submit closures to virtual queues instead of managing goroutines
// directly. A serial queue runs one task at a time in submission order; a
// concurrent queue fans tasks out across a worker pool, with barrier tasks
// available as exclusive checkpoints inside the stream. Groups track a batch
// of outstanding tasks and signal when it drains; semaphores provide plain
// counted signal/wait.
//
// # Quick Start
//
// Initialize the global pool at application startup:
//
//	dispatch.InitGlobalPool(4) // 4 workers
//	defer dispatch.ShutdownGlobalPool()
//
// Create a serial queue for sequential execution:
//
//	q := dispatch.NewSerialQueue()
//	q.PostTask(func(ctx context.Context) {
//		// Your code here - guaranteed sequential execution
//	})
//
// # Key Concepts
//
// Queue: the execution engine. Width 1 gives serial semantics (strict FIFO,
// one in flight); a wider queue runs tasks in parallel with no ordering
// among them except barriers. Both disciplines share one implementation.
//
// Barrier: a task that never overlaps any other task on its queue. Every
// task submitted before the barrier completes before it starts; every task
// submitted after it waits for it to finish.
//
// Group: a completion tracker over a dynamic set of tasks. Associate tasks
// with PostTaskInGroup, then block in Wait or register a drain callback
// with Notify.
//
// QoS: submission tiers (Background, Default, UserInitiated) deciding how
// the shared pool orders work across queues. QoS never reorders tasks
// within a serial queue.
//
// # Well-Known Queues
//
// GlobalQueue(qos) returns a process-wide concurrent queue per QoS tier.
// MainQueue() returns a process-wide serial queue on a dedicated worker
// pinned to one OS thread.
//
// # Example
//
//	import (
//		"context"
//		"github.com/Swind/go-dispatch"
//	)
//
//	func main() {
//		dispatch.InitGlobalPool(4)
//		defer dispatch.ShutdownGlobalPool()
//
//		q := dispatch.NewConcurrentQueue(4)
//		g := dispatch.NewGroup()
//
//		for i := 0; i < 10; i++ {
//			q.PostTaskInGroup(func(ctx context.Context) {
//				// runs in parallel
//			}, g)
//		}
//
//		g.Notify(dispatch.MainQueue(), func(ctx context.Context) {
//			println("all done")
//		})
//		g.Wait()
//	}
//
// For more details, see https://github.com/Swind/go-dispatch
package dispatch
