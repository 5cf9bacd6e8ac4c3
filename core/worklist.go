package core

import (
	"container/heap"
	"sync"
)

const (
	defaultListCap      = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// workItem is one admitted unit of work on a Queue.
type workItem struct {
	task    Task
	qos     QoS
	barrier bool
}

// =============================================================================
// fifoList: Per-queue work list, strict admission order
// =============================================================================

type fifoList struct {
	mu    sync.Mutex
	items []workItem
}

func newFIFOList() *fifoList {
	return &fifoList{
		items: make([]workItem, 0, defaultListCap),
	}
}

func (l *fifoList) push(item workItem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, item)
}

func (l *fifoList) pop() (workItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.items) == 0 {
		return workItem{}, false
	}

	item := l.items[0]
	// Zero out the slot in the underlying array to release the closure
	l.items[0] = workItem{}
	l.items = l.items[1:]
	l.maybeCompactLocked()

	return item, true
}

// peekBarrier reports whether the next item is a barrier, without popping.
func (l *fifoList) peekBarrier() (bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return false, false
	}
	return l.items[0].barrier, true
}

func (l *fifoList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *fifoList) isEmpty() bool {
	return l.len() == 0
}

// clear drops all pending items and releases their task references.
func (l *fifoList) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = make([]workItem, 0, defaultListCap)
}

// maybeCompactLocked reallocates the backing array once the live window has
// shrunk well below capacity, so a burst of admissions doesn't pin memory.
func (l *fifoList) maybeCompactLocked() {
	n := len(l.items)
	c := cap(l.items)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		l.items = make([]workItem, 0, defaultListCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultListCap), n)

	compacted := make([]workItem, n, newCap)
	copy(compacted, l.items)
	l.items = compacted
}

// =============================================================================
// qosList: Pool-level work list, QoS-ordered with FIFO stability per tier
// =============================================================================

type poolItem struct {
	task     Task
	qos      QoS
	sequence uint64 // for stability within a tier
	index    int    // for heap bookkeeping
}

// poolHeap implements heap.Interface
type poolHeap []*poolItem

func (h poolHeap) Len() int { return len(h) }

// Less orders by tier first (UserInitiated ahead of Background), then by
// admission sequence within a tier (FIFO).
func (h poolHeap) Less(i, j int) bool {
	if h[i].qos != h[j].qos {
		return h[i].qos > h[j].qos
	}
	return h[i].sequence < h[j].sequence
}

func (h poolHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *poolHeap) Push(x any) {
	n := len(*h)
	item := x.(*poolItem)
	item.index = n
	*h = append(*h, item)
}

func (h *poolHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

type qosList struct {
	mu           sync.Mutex
	pq           poolHeap
	nextSequence uint64
}

func newQoSList() *qosList {
	return &qosList{
		pq: make(poolHeap, 0, defaultListCap),
	}
}

func (l *qosList) push(task Task, qos QoS) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item := &poolItem{
		task:     task,
		qos:      qos,
		sequence: l.nextSequence,
	}
	l.nextSequence++

	heap.Push(&l.pq, item)
}

func (l *qosList) pop() (Task, QoS, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pq) == 0 {
		return nil, QoSDefault, false
	}

	item := heap.Pop(&l.pq).(*poolItem)
	return item.task, item.qos, true
}

func (l *qosList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pq)
}

// clear drops all pending items and releases task references.
func (l *qosList) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pq = make(poolHeap, 0, defaultListCap)
	l.nextSequence = 0
}
