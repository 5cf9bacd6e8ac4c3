package dispatch_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	dispatch "github.com/Swind/go-dispatch"
	core "github.com/Swind/go-dispatch/core"
)

// TestGlobalPool_InitAndQueues verifies the process-wide singletons
// Given: An initialized global pool
// When: GlobalQueue is asked for each QoS tier
// Then: Each tier has a distinct shared queue that executes work
func TestGlobalPool_InitAndQueues(t *testing.T) {
	dispatch.InitGlobalPool(2)
	defer dispatch.ShutdownGlobalPool()

	if dispatch.GetGlobalPool() == nil {
		t.Fatal("GetGlobalPool returned nil after init")
	}

	tiers := []core.QoS{core.QoSBackground, core.QoSDefault, core.QoSUserInitiated}
	seen := make(map[*core.Queue]bool)
	for _, qos := range tiers {
		q := dispatch.GlobalQueue(qos)
		if q == nil {
			t.Fatalf("GlobalQueue(%v) = nil", qos)
		}
		if seen[q] {
			t.Fatalf("GlobalQueue(%v) aliases another tier", qos)
		}
		seen[q] = true
		if q.DefaultQoS() != qos {
			t.Fatalf("GlobalQueue(%v) default QoS = %v", qos, q.DefaultQoS())
		}

		var ran atomic.Int32
		if err := q.PostTaskAndWait(context.Background(), func(ctx context.Context) {
			ran.Add(1)
		}); err != nil {
			t.Fatalf("PostTaskAndWait on %v tier failed: %v", qos, err)
		}
		if ran.Load() != 1 {
			t.Fatalf("task on %v tier did not run", qos)
		}
	}
}

// TestGlobalPool_InitIsIdempotent verifies repeated init keeps the first pool
func TestGlobalPool_InitIsIdempotent(t *testing.T) {
	dispatch.InitGlobalPool(2)
	defer dispatch.ShutdownGlobalPool()

	first := dispatch.GetGlobalPool()
	dispatch.InitGlobalPool(8)
	if dispatch.GetGlobalPool() != first {
		t.Fatal("second InitGlobalPool replaced the pool")
	}
}

// TestGlobalPool_PanicsWhenUninitialized verifies the fail-fast accessors
func TestGlobalPool_PanicsWhenUninitialized(t *testing.T) {
	dispatch.ShutdownGlobalPool()

	assertPanics := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s did not panic without InitGlobalPool", name)
			}
		}()
		fn()
	}

	assertPanics("GetGlobalPool", func() { dispatch.GetGlobalPool() })
	assertPanics("GlobalQueue", func() { dispatch.GlobalQueue(core.QoSDefault) })
	assertPanics("NewSerialQueue", func() { dispatch.NewSerialQueue() })
}

// TestGlobalPool_ConvenienceConstructors verifies queue helpers on the
// global pool
func TestGlobalPool_ConvenienceConstructors(t *testing.T) {
	dispatch.InitGlobalPool(2)
	defer dispatch.ShutdownGlobalPool()

	serial := dispatch.NewSerialQueue()
	if serial.Width() != 1 {
		t.Fatalf("serial width = %d, want 1", serial.Width())
	}

	concurrent := dispatch.NewConcurrentQueue(0)
	if concurrent.Width() != dispatch.GetGlobalPool().WorkerCount() {
		t.Fatalf("concurrent width = %d, want pool worker count %d",
			concurrent.Width(), dispatch.GetGlobalPool().WorkerCount())
	}
}

// TestMainQueue_SerialAndNamed verifies the main queue singleton
// Given: The lazily created main queue
// When: Tasks are posted
// Then: It is a width-1 queue named "main" that runs work, and repeated
//       calls return the same instance
func TestMainQueue_SerialAndNamed(t *testing.T) {
	mq := dispatch.MainQueue()
	if mq != dispatch.MainQueue() {
		t.Fatal("MainQueue returned different instances")
	}
	if mq.Width() != 1 {
		t.Fatalf("main queue width = %d, want 1", mq.Width())
	}
	if mq.Name() != "main" {
		t.Fatalf("main queue name = %q, want main", mq.Name())
	}

	var ran atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mq.PostTaskAndWait(ctx, func(ctx context.Context) {
		ran.Add(1)
	}); err != nil {
		t.Fatalf("PostTaskAndWait on main queue failed: %v", err)
	}
	if ran.Load() != 1 {
		t.Fatal("main queue task did not run")
	}
}

// TestGlobalQueue_TierIsolation verifies work posted to different tiers all
// completes under contention
func TestGlobalQueue_TierIsolation(t *testing.T) {
	dispatch.InitGlobalPool(4)
	defer dispatch.ShutdownGlobalPool()

	g := core.NewGroup()
	var counter atomic.Int32
	for i := 0; i < 30; i++ {
		tier := []core.QoS{core.QoSBackground, core.QoSDefault, core.QoSUserInitiated}[i%3]
		dispatch.GlobalQueue(tier).PostTaskInGroup(func(ctx context.Context) {
			counter.Add(1)
		}, g)
	}

	if !g.WaitTimeout(5 * time.Second) {
		t.Fatal("global queues did not drain")
	}
	if counter.Load() != 30 {
		t.Fatalf("counter = %d, want 30", counter.Load())
	}
}
