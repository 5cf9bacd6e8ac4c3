package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	core "github.com/Swind/go-dispatch/core"
)

// testPool is a real ThreadPool backed by worker goroutines, used by queue
// and group tests that need actual concurrent execution.
type testPool struct {
	scheduler *core.Scheduler
	workers   int
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func newTestPool(t *testing.T, workers int) *testPool {
	t.Helper()
	return newTestPoolWithConfig(t, workers, nil)
}

func newTestPoolWithConfig(t *testing.T, workers int, config *core.SchedulerConfig) *testPool {
	t.Helper()
	p := &testPool{
		scheduler: core.NewSchedulerWithConfig(workers, config),
		workers:   workers,
		stopCh:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
	t.Cleanup(p.stop)
	return p
}

func (p *testPool) workerLoop() {
	defer p.wg.Done()
	ctx := context.Background()
	for {
		task, _, ok := p.scheduler.GetWork(p.stopCh)
		if !ok {
			return
		}
		p.scheduler.OnTaskStart()
		p.runOne(ctx, task)
		p.scheduler.OnTaskEnd()
	}
}

func (p *testPool) runOne(ctx context.Context, task core.Task) {
	defer func() {
		_ = recover()
	}()
	task(ctx)
}

func (p *testPool) stop() {
	p.stopOnce.Do(func() {
		p.scheduler.Shutdown()
		close(p.stopCh)
	})
	p.wg.Wait()
}

func (p *testPool) PostInternal(task core.Task, qos core.QoS) {
	p.scheduler.Post(task, qos)
}

func (p *testPool) PostDelayedInternal(task core.Task, delay time.Duration, qos core.QoS, target core.Submitter) {
	p.scheduler.PostDelayed(task, delay, qos, target)
}

func (p *testPool) WorkerCount() int {
	return p.workers
}

func (p *testPool) Scheduler() *core.Scheduler {
	return p.scheduler
}

// MockSubmitter records posted tasks without executing them.
type MockSubmitter struct {
	mu    sync.Mutex
	tasks []core.Task
	qos   []core.QoS
}

func (m *MockSubmitter) PostTask(task core.Task) {
	m.PostTaskWithQoS(task, core.QoSDefault)
}

func (m *MockSubmitter) PostTaskWithQoS(task core.Task, qos core.QoS) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	m.qos = append(m.qos, qos)
}

func (m *MockSubmitter) PostDelayedTask(task core.Task, delay time.Duration) {
	m.PostTaskWithQoS(task, core.QoSDefault)
}

func (m *MockSubmitter) PostDelayedTaskWithQoS(task core.Task, delay time.Duration, qos core.QoS) {
	m.PostTaskWithQoS(task, qos)
}

func (m *MockSubmitter) taskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func (m *MockSubmitter) runAll(ctx context.Context) {
	m.mu.Lock()
	tasks := m.tasks
	m.tasks = nil
	m.qos = nil
	m.mu.Unlock()
	for _, task := range tasks {
		task(ctx)
	}
}

// waitUntil polls cond until it returns true or the deadline passes.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
