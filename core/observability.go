package core

import (
	"sync"
	"time"
)

// TaskRecord captures a completed task execution event.
type TaskRecord struct {
	QueueName  string
	QoS        QoS
	Barrier    bool
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Panicked   bool
}

// QueueStats represents runtime observability state for a queue.
type QueueStats struct {
	Name           string
	Width          int
	Pending        int
	Running        int
	Suspended      bool
	Closed         bool
	BarrierPending bool
	LastTaskAt     time.Time
}

// PoolStats represents runtime observability state for a worker pool.
type PoolStats struct {
	ID      string
	Workers int
	Queued  int
	Active  int
	Delayed int
	Running bool
}

const defaultHistoryCapacity = 100

// executionHistory is a fixed-size ring of recent TaskRecords, one per queue.
type executionHistory struct {
	mu    sync.Mutex
	items []TaskRecord
	head  int
	count int
}

func newExecutionHistory(capacity int) executionHistory {
	if capacity < 1 {
		capacity = defaultHistoryCapacity
	}
	return executionHistory{items: make([]TaskRecord, capacity)}
}

func (h *executionHistory) add(record TaskRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) == 0 {
		return
	}

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// recent returns up to limit records, newest first.
func (h *executionHistory) recent(limit int) []TaskRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]TaskRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

// last returns the most recent record, if any.
func (h *executionHistory) last() (TaskRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return TaskRecord{}, false
	}
	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}
