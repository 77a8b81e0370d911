// Package worker drains the collection queue and runs each request through the
// collection pipeline.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
	"github.com/Mihirgupta25/open-source-tracker/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU(); collection is I/O bound on rate-limited APIs
	metricsUpdateInterval   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Request abstracts what workers read off the queue.
type Request = model.CollectionRequest

// Runner executes one collection cycle.
type Runner interface {
	Run(ctx context.Context, req Request) model.CollectionResult
}

// DoneFunc is called after every processed request, successful or not.
type DoneFunc func(ctx context.Context, req Request, res model.CollectionResult)

// Queue defines how workers receive requests.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Request
}

// Worker processes collection requests.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue is drained.
	Run(ctx context.Context)

	// Shutdown stops the worker after the request in flight, if any.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker on top of a Queue.
type InMemoryWorker struct {
	queue  Queue
	runner Runner
	name   string
	onDone DoneFunc
	busy   *atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, runner Runner, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    queue,
		runner:   runner,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get()
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	requests := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			w.process(ctx, req)
		}
	}
}

// Shutdown stops the worker and waits for its loop to exit.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed once Run has returned.
func (w *InMemoryWorker) Done() <-chan struct{} {
	return w.done
}

// process runs a single request.
func (w *InMemoryWorker) process(ctx context.Context, req Request) { //nolint:gocritic // hugeParam: Request is passed by value over the channel
	if w.busy != nil {
		w.busy.Add(1)
		defer w.busy.Add(-1)
	}
	ctx = logger.ContextWithFields(ctx,
		logger.String("run_id", req.RunID.String()),
		logger.String("series", req.Key().String()),
	)
	start := time.Now()
	res := w.runner.Run(ctx, req)
	metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))

	fields := []logger.Field{
		logger.String("origin", string(req.Origin)),
		logger.Int("written", res.Written),
		logger.Int("skipped", res.Skipped),
		logger.Int("pages", res.PagesFetched),
	}
	if err := res.Err(); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "collection_failed")
		w.logger.Warn(ctx, "collection finished with errors", append(fields, logger.Error(err))...)
	} else {
		w.logger.Info(ctx, "collection finished", fields...)
	}

	if w.onDone != nil {
		w.onDone(ctx, req, res)
	}
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	busy    atomic.Int64

	cancel   context.CancelFunc
	shutdown chan struct{}
	stopOnce sync.Once

	logger logger.Logger
}

// NewPool creates a new worker pool. Options are applied to every worker.
func NewPool(workerCount int, queue Queue, runner Runner, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	probe := &InMemoryWorker{}
	for _, opt := range opts {
		opt(probe)
	}
	base := probe.logger
	if base == nil {
		base = logger.Get()
	}

	pool := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    queue,
		shutdown: make(chan struct{}),
		logger:   base.Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithLogger(base)}, opts...)
		workerOpts = append(workerOpts, WithName("worker-"+strconv.Itoa(i)))
		w := NewInMemoryWorker(queue, runner, workerOpts...)
		w.busy = &pool.busy
		pool.workers[i] = w
	}

	metrics.UpdateWorkerActiveCount(0)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Busy returns how many workers are running a request right now.
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

// Start starts all workers in the pool. Workers stop when ctx is canceled or
// Shutdown drains the queue.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			metrics.UpdateWorkerActiveCount(p.Busy())
		}
	}
}

// Shutdown closes the queue and lets the workers drain what is left. Workers that
// are still busy when ctx or the pool timeout expires are canceled.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	p.stopOnce.Do(func() { close(p.shutdown) })

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut int
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut++
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	if p.cancel != nil {
		p.cancel()
	}
	metrics.UpdateWorkerActiveCount(0)

	if timedOut > 0 {
		return fmt.Errorf("%d workers did not stop: %w", timedOut, shutdownCtx.Err())
	}
	return nil
}
