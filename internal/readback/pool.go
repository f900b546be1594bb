package readback

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nmxmxh/collision-readback/pkg/errors"
	"github.com/nmxmxh/collision-readback/pkg/metrics"
)

// copyTask is one queued host copy
type copyTask struct {
	req      *Request
	complete CompleteFunc
}

type copyPoolMetrics struct {
	activeWorkers  prometheus.Gauge
	queuedCopies   prometheus.Gauge
	completed      prometheus.Counter
	processingTime prometheus.Observer
}

func newCopyPoolMetrics(poolName string) *copyPoolMetrics {
	return &copyPoolMetrics{
		activeWorkers:  metrics.CopyPoolGauges.WithLabelValues(poolName, "active_workers"),
		queuedCopies:   metrics.CopyPoolGauges.WithLabelValues(poolName, "queued_copies"),
		completed:      metrics.CopyPoolCounters.WithLabelValues(poolName, "completed_copies"),
		processingTime: metrics.CopyPoolHistograms.WithLabelValues(poolName),
	}
}

// PoolCopier completes copies on a pool of worker goroutines after a
// simulated transfer latency. Completions arrive off the tick goroutine; the
// scheduler serializes them with ticks.
type PoolCopier struct {
	numWorkers int
	latency    time.Duration
	tasks      chan copyTask
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.RWMutex // guards closed against Submit racing Stop
	closed     bool
	metrics    *copyPoolMetrics
	log        *zap.Logger
}

// NewPoolCopier creates a copier with numWorkers workers. Each copy completes
// after latency.
func NewPoolCopier(numWorkers int, latency time.Duration, log *zap.Logger) *PoolCopier {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PoolCopier{
		numWorkers: numWorkers,
		latency:    latency,
		tasks:      make(chan copyTask, numWorkers*2),
		ctx:        ctx,
		cancel:     cancel,
		metrics:    newCopyPoolMetrics("readback"),
		log:        log.With(zap.String("module", "copy_pool")),
	}
}

// Start launches the workers.
func (p *PoolCopier) Start() {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		p.metrics.activeWorkers.Inc()
		go p.worker(i)
	}
}

// Stop cancels in-flight copies and waits for the workers to exit. Copies
// cancelled this way never complete.
func (p *PoolCopier) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cancel()
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.metrics.activeWorkers.Set(0)
}

// Submit queues a copy.
func (p *PoolCopier) Submit(req *Request, complete CompleteFunc) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.ErrCopierClosed
	}
	select {
	case p.tasks <- copyTask{req: req, complete: complete}:
		p.metrics.queuedCopies.Inc()
		return nil
	case <-p.ctx.Done():
		return errors.ErrCopierClosed
	}
}

func (p *PoolCopier) worker(id int) {
	defer func() {
		p.metrics.activeWorkers.Dec()
		p.wg.Done()
	}()

	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.metrics.queuedCopies.Dec()
			start := time.Now()

			if p.latency > 0 {
				timer := time.NewTimer(p.latency)
				select {
				case <-timer.C:
				case <-p.ctx.Done():
					timer.Stop()
					p.log.Debug("copy cancelled", zap.Int("worker", id), zap.String("request_id", task.req.ID))
					return
				}
			}

			task.complete(task.req)
			p.metrics.completed.Inc()
			p.metrics.processingTime.Observe(time.Since(start).Seconds())

		case <-p.ctx.Done():
			return
		}
	}
}
