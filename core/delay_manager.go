package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// delayedItem is a task scheduled for the future, bound to the queue it was
// originally submitted to.
type delayedItem struct {
	runAt  time.Time
	task   Task
	qos    QoS
	target Submitter
	index  int // for heap interface
}

type delayedHeap []*delayedItem

func (h delayedHeap) Len() int           { return len(h) }
func (h delayedHeap) Less(i, j int) bool { return h[i].runAt.Before(h[j].runAt) }
func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedHeap) Push(x any) {
	n := len(*h)
	item := x.(*delayedItem)
	item.index = n
	*h = append(*h, item)
}

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *delayedHeap) peek() *delayedItem {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// DelayManager owns the timer loop behind every PostDelayedTask. Expired
// tasks are posted back to the queue they were submitted to, so a delayed
// task is admitted under that queue's ordering rules rather than on some
// shared default context.
type DelayManager struct {
	pq     delayedHeap
	mu     sync.Mutex
	wakeup chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDelayManager creates a delay manager and starts its timer loop.
func NewDelayManager() *DelayManager {
	ctx, cancel := context.WithCancel(context.Background())
	dm := &DelayManager{
		pq:     make(delayedHeap, 0),
		wakeup: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	heap.Init(&dm.pq)
	go dm.loop()
	return dm
}

// Add schedules task to be posted to target no earlier than delay from now.
func (dm *DelayManager) Add(task Task, delay time.Duration, qos QoS, target Submitter) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := &delayedItem{
		runAt:  time.Now().Add(delay),
		task:   task,
		qos:    qos,
		target: target,
	}
	heap.Push(&dm.pq, item)

	// Only a new earliest deadline changes what the loop is waiting for
	if item.index == 0 {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
}

func (dm *DelayManager) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		nextRun := dm.nextDeadline()
		if nextRun == 0 {
			// No tasks, wait until woken
			nextRun = 1000 * time.Hour
		}

		timer.Reset(nextRun)

		select {
		case <-dm.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dm.postExpired()
		case <-dm.wakeup:
			// New earliest deadline, recompute the wait
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// nextDeadline returns how long to wait until the earliest task, or 0 when
// there is nothing scheduled (the loop then parks until woken).
func (dm *DelayManager) nextDeadline() time.Duration {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.peek()
	if item == nil {
		return 0
	}

	now := time.Now()
	if item.runAt.Before(now) {
		return time.Nanosecond // already expired, fire immediately
	}
	return item.runAt.Sub(now)
}

// postExpired hands every expired task back to its target queue.
func (dm *DelayManager) postExpired() {
	dm.mu.Lock()

	now := time.Now()
	var expired []*delayedItem

	for dm.pq.Len() > 0 {
		item := dm.pq.peek()
		if item.runAt.After(now) {
			break
		}
		heap.Pop(&dm.pq)
		expired = append(expired, item)
	}

	dm.mu.Unlock()

	// Post outside the lock; targets may call back into the pool
	for _, item := range expired {
		item.target.PostTaskWithQoS(item.task, item.qos)
	}
}

// Stop terminates the timer loop and drops every pending delayed task.
func (dm *DelayManager) Stop() {
	dm.cancel()

	// Clear pq to release task and queue references
	dm.mu.Lock()
	dm.pq = make(delayedHeap, 0)
	heap.Init(&dm.pq)
	dm.mu.Unlock()
}

// TaskCount returns the number of tasks still waiting on their delay.
func (dm *DelayManager) TaskCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}
