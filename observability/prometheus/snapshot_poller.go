package prometheus

import (
	"sync"
	"time"

	"github.com/Swind/go-dispatch/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// QueueSnapshotProvider exposes queue stats for periodic export.
type QueueSnapshotProvider interface {
	Stats() core.QueueStats
}

// PoolSnapshotProvider exposes worker pool stats for periodic export.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// SnapshotPoller periodically exports queue and pool stats as gauges.
type SnapshotPoller struct {
	interval time.Duration

	queuePending   *prom.GaugeVec
	queueRunning   *prom.GaugeVec
	queueSuspended *prom.GaugeVec
	poolQueued     *prom.GaugeVec
	poolActive     *prom.GaugeVec
	poolDelayed    *prom.GaugeVec
	poolWorkers    *prom.GaugeVec

	mu     sync.Mutex
	queues []QueueSnapshotProvider
	pools  []PoolSnapshotProvider

	startOnce sync.Once
	stopCh    chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	started   bool
}

// NewSnapshotPoller creates a poller exporting stats every interval.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "dispatch"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	queuePending := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_pending_tasks",
		Help:      "Tasks admitted but not yet started, per queue.",
	}, []string{"queue"})
	queueRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_running_tasks",
		Help:      "Tasks currently executing, per queue.",
	}, []string{"queue"})
	queueSuspended := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_suspended",
		Help:      "1 when the queue is suspended, 0 otherwise.",
	}, []string{"queue"})
	poolQueued := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_queued_tasks",
		Help:      "Tasks queued in the pool scheduler.",
	}, []string{"pool"})
	poolActive := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_active_tasks",
		Help:      "Tasks currently held by pool workers.",
	}, []string{"pool"})
	poolDelayed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_delayed_tasks",
		Help:      "Tasks waiting on a delay before submission.",
	}, []string{"pool"})
	poolWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_workers",
		Help:      "Configured worker count per pool.",
	}, []string{"pool"})

	var err error
	if queuePending, err = registerCollector(reg, queuePending); err != nil {
		return nil, err
	}
	if queueRunning, err = registerCollector(reg, queueRunning); err != nil {
		return nil, err
	}
	if queueSuspended, err = registerCollector(reg, queueSuspended); err != nil {
		return nil, err
	}
	if poolQueued, err = registerCollector(reg, poolQueued); err != nil {
		return nil, err
	}
	if poolActive, err = registerCollector(reg, poolActive); err != nil {
		return nil, err
	}
	if poolDelayed, err = registerCollector(reg, poolDelayed); err != nil {
		return nil, err
	}
	if poolWorkers, err = registerCollector(reg, poolWorkers); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:       interval,
		queuePending:   queuePending,
		queueRunning:   queueRunning,
		queueSuspended: queueSuspended,
		poolQueued:     poolQueued,
		poolActive:     poolActive,
		poolDelayed:    poolDelayed,
		poolWorkers:    poolWorkers,
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

// WatchQueue adds a queue to the polling set.
func (p *SnapshotPoller) WatchQueue(q QueueSnapshotProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues = append(p.queues, q)
}

// WatchPool adds a worker pool to the polling set.
func (p *SnapshotPoller) WatchPool(pool PoolSnapshotProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pools = append(p.pools, pool)
}

// Start begins periodic export. It returns immediately; calling it again is
// a no-op.
func (p *SnapshotPoller) Start() {
	p.startOnce.Do(func() {
		p.mu.Lock()
		p.started = true
		p.mu.Unlock()
		go p.loop()
	})
}

// Stop halts the export loop and waits for it to finish. Safe to call more
// than once, and before Start.
func (p *SnapshotPoller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if started {
		<-p.done
	}
}

// Collect exports one snapshot immediately.
func (p *SnapshotPoller) Collect() {
	p.mu.Lock()
	queues := make([]QueueSnapshotProvider, len(p.queues))
	copy(queues, p.queues)
	pools := make([]PoolSnapshotProvider, len(p.pools))
	copy(pools, p.pools)
	p.mu.Unlock()

	for _, q := range queues {
		stats := q.Stats()
		name := normalizeLabel(stats.Name, "unknown")
		p.queuePending.WithLabelValues(name).Set(float64(stats.Pending))
		p.queueRunning.WithLabelValues(name).Set(float64(stats.Running))
		suspended := 0.0
		if stats.Suspended {
			suspended = 1.0
		}
		p.queueSuspended.WithLabelValues(name).Set(suspended)
	}
	for _, pool := range pools {
		stats := pool.Stats()
		id := normalizeLabel(stats.ID, "unknown")
		p.poolQueued.WithLabelValues(id).Set(float64(stats.Queued))
		p.poolActive.WithLabelValues(id).Set(float64(stats.Active))
		p.poolDelayed.WithLabelValues(id).Set(float64(stats.Delayed))
		p.poolWorkers.WithLabelValues(id).Set(float64(stats.Workers))
	}
}

func (p *SnapshotPoller) loop() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Collect()
		}
	}
}
