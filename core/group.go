package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Group tracks a dynamically-sized set of outstanding work items and exposes
// drain-to-zero notification.
//
// Entries are added with Enter (or implicitly by Queue.PostTaskInGroup) and
// removed with Leave. When the outstanding count returns to zero, blocked
// Wait callers unblock and registered Notify callbacks are dispatched, in
// registration order, to the queue each was bound to.
//
// A Group is shared by every queue that has tasks associated with it; it is
// safe for concurrent use.
type Group struct {
	mu       sync.Mutex
	count    int64
	gen      chan struct{} // closed on each drain-to-zero; nil while at zero
	notifies []groupNotify
}

type groupNotify struct {
	target Submitter
	task   Task
	qos    QoS
}

// NewGroup creates an empty group.
func NewGroup() *Group {
	return &Group{}
}

// Enter registers one outstanding work item. Every Enter must be matched by
// exactly one Leave.
func (g *Group) Enter() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.count++
	if g.count == 1 {
		g.gen = make(chan struct{})
	}
}

// Leave removes one outstanding work item. When the count reaches zero it
// unblocks waiters and dispatches pending notifications. Calling Leave on a
// group already at zero is an unbalanced enter/leave and panics.
func (g *Group) Leave() {
	g.mu.Lock()

	if g.count == 0 {
		g.mu.Unlock()
		panic("Group: Leave without matching Enter (unbalanced)")
	}

	g.count--
	if g.count > 0 {
		g.mu.Unlock()
		return
	}

	// Drained. Swap the notification list out under the lock so two racing
	// Leave calls can never both dispatch the same callbacks.
	notifies := g.notifies
	g.notifies = nil
	gen := g.gen
	g.gen = nil
	g.mu.Unlock()

	close(gen)
	for _, n := range notifies {
		n.target.PostTaskWithQoS(n.task, n.qos)
	}
}

// Count returns the number of outstanding entries.
func (g *Group) Count() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Wait blocks the caller until the outstanding count is zero. It returns
// immediately when the group is already drained.
func (g *Group) Wait() {
	if ch := g.waitChan(); ch != nil {
		<-ch
	}
}

// WaitTimeout is Wait with a deadline; it reports whether the group drained
// before the timeout. A timed-out wait leaves the group untouched.
// A negative timeout is a programming error and panics.
func (g *Group) WaitTimeout(timeout time.Duration) bool {
	if timeout < 0 {
		panic(fmt.Sprintf("Group: timeout must not be negative (got %v)", timeout))
	}

	ch := g.waitChan()
	if ch == nil {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

// WaitContext is Wait bounded by ctx. It returns nil once the group drains
// or ctx.Err() when the caller gives up first.
func (g *Group) WaitContext(ctx context.Context) error {
	ch := g.waitChan()
	if ch == nil {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitChan returns the channel closed on the next drain, or nil when the
// group is already at zero.
func (g *Group) waitChan() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count == 0 {
		return nil
	}
	return g.gen
}

// Notify registers task to run on target once the group drains to zero.
// When the group is already at zero the task is scheduled immediately.
// Each registration fires at most once, on the next zero transition, in
// registration order relative to other registrations.
func (g *Group) Notify(target Submitter, task Task) {
	g.NotifyWithQoS(target, task, QoSDefault)
}

// NotifyWithQoS is Notify with an explicit QoS for the callback.
func (g *Group) NotifyWithQoS(target Submitter, task Task, qos QoS) {
	g.mu.Lock()
	if g.count == 0 {
		g.mu.Unlock()
		target.PostTaskWithQoS(task, qos)
		return
	}
	g.notifies = append(g.notifies, groupNotify{target: target, task: task, qos: qos})
	g.mu.Unlock()
}
