// Package service composes the collection engine: store, collector, work queue,
// worker pool and scheduler. It implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	eventqueue "github.com/Mihirgupta25/open-source-tracker/internal/adapters/mq/queue"
	workerpool "github.com/Mihirgupta25/open-source-tracker/internal/adapters/mq/worker"
	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/repository"
	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/scheduler"
	"github.com/Mihirgupta25/open-source-tracker/internal/domain/dedupe"
	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
	"github.com/Mihirgupta25/open-source-tracker/pkg/metrics"
)

const stopTimeout = 30 * time.Second

// Service owns the long-running collection machinery.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	collector  *Collector
	deduper    dedupe.Deduper
	queue      eventqueue.Queue
	workerPool *workerpool.Pool
	scheduler  *scheduler.Scheduler

	// Configuration
	workerCount   int
	queueSize     int
	dedupeSize    int
	storeDriver   string
	storeDSN      string
	storeOpts     []repository.Option
	collectorOpts []CollectorOption
	cronExpr      string
	schedOpts     []scheduler.Option

	// State
	started   bool
	cancel    context.CancelFunc
	stopSched context.CancelFunc
	schedDone chan struct{}

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of pending collection requests.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the pending-request cache. Zero means unbounded.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStore selects the store driver and DSN opened on Start.
func WithStore(driver, dsn string, opts ...repository.Option) Option {
	return func(s *Service) {
		s.storeDriver = driver
		s.storeDSN = dsn
		s.storeOpts = opts
	}
}

// WithStoreInstance uses an already opened store. The service closes it on Stop.
func WithStoreInstance(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithCollectorOptions passes options through to the collector.
func WithCollectorOptions(opts ...CollectorOption) Option {
	return func(s *Service) {
		s.collectorOpts = append(s.collectorOpts, opts...)
	}
}

// WithSchedule enables the scheduler with a cron expression. An empty expression
// disables scheduled collection.
func WithSchedule(expr string, opts ...scheduler.Option) Option {
	return func(s *Service) {
		s.cronExpr = expr
		s.schedOpts = opts
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount: runtime.NumCPU() * 2,
		queueSize:   1024,
		dedupeSize:  10_000,
		storeDriver: repository.DriverMemory,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store and starts workers and the scheduler. The components run until
// Stop; ctx only bounds the startup work.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting collection service...")

	if s.store == nil {
		store, err := repository.Open(ctx, s.storeDriver, s.storeDSN,
			append([]repository.Option{repository.WithLogger(s.logger)}, s.storeOpts...)...)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = store
	}
	s.logger.Info(ctx, "store ready", logger.String("driver", s.storeDriver))

	s.collector = NewCollector(s.store, append([]CollectorOption{
		WithCollectorLogger(s.logger.Named("collector")),
		WithStoreDriver(s.storeDriver),
	}, s.collectorOpts...)...)

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueSize),
		eventqueue.WithBufferSize(s.queueSize),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.workerPool = workerpool.NewPool(s.workerCount, s.queue, s.collector,
		workerpool.WithLogger(s.logger),
		workerpool.WithOnDone(s.release),
	)
	s.workerPool.Start(runCtx)

	if s.cronExpr != "" {
		sched, err := scheduler.New(s.cronExpr,
			append([]scheduler.Option{scheduler.WithLogger(s.logger.Named("scheduler"))}, s.schedOpts...)...)
		if err != nil {
			cancel()
			_ = s.workerPool.Shutdown(ctx)
			s.closeStore(ctx)
			return err
		}
		if len(s.collector.Entities()) == 0 {
			s.logger.Warn(ctx, "scheduler enabled but no entities are configured")
		}
		schedCtx, stopSched := context.WithCancel(runCtx)
		done := make(chan struct{})
		s.scheduler, s.stopSched, s.schedDone = sched, stopSched, done
		go func() {
			defer close(done)
			if err := sched.Run(schedCtx, s.enqueueTracked); err != nil {
				s.logger.Error(schedCtx, "scheduler stopped", logger.Error(err))
			}
		}()
	}

	s.started = true
	s.logger.Info(ctx, "collection service started",
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("entities", len(s.collector.Entities())),
		logger.String("cron", s.cronExpr),
	)
	return nil
}

// Stop stops the scheduler, drains the queue and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	// New requests are refused from here on; the scheduler job may still be
	// enqueueing and needs the read lock to notice.
	s.started = false
	stopSched, schedDone := s.stopSched, s.schedDone
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping collection service...")

	if stopSched != nil {
		stopSched()
		<-schedDone
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.workerPool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
	}
	s.cancel()
	s.stopSched, s.schedDone, s.scheduler = nil, nil, nil
	s.closeStore(ctx)
	s.logger.Info(ctx, "collection service stopped")
}

func (s *Service) closeStore(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "closing store failed", logger.Error(err))
	}
	s.store = nil
}

// Enqueue submits a collection request for asynchronous processing. A request for a
// series that already has one pending is rejected with ErrAlreadyPending.
func (s *Service) Enqueue(ctx context.Context, kind model.MetricKind, entityID string, origin model.Origin) (model.CollectionRequest, error) {
	const op = "service.enqueue"
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return model.CollectionRequest{}, fmt.Errorf("%s: %w", op, ErrNotStarted)
	}
	if _, err := s.collector.Resolve(entityID, kind); err != nil {
		return model.CollectionRequest{}, fmt.Errorf("%s: %w", op, err)
	}

	req := model.NewCollectionRequest(kind, entityID, origin, time.Now())
	id := req.Key().String()
	if s.deduper.SeenAndRecord(ctx, id) {
		metrics.RecordQueueDuplicate()
		s.logger.Debug(ctx, "collection already pending, skipping", logger.String("series", id))
		return req, fmt.Errorf("%s: %s: %w", op, id, ErrAlreadyPending)
	}
	if !s.queue.Enqueue(ctx, req) {
		s.deduper.Unrecord(ctx, id)
		return req, fmt.Errorf("%s: %s: %w", op, id, ErrQueueFull)
	}
	s.logger.Debug(ctx, "collection enqueued",
		logger.String("series", id),
		logger.String("run_id", req.RunID.String()),
		logger.String("origin", string(origin)),
	)
	return req, nil
}

// release frees the pending slot once a worker finished the request.
func (s *Service) release(ctx context.Context, req model.CollectionRequest, _ model.CollectionResult) {
	s.deduper.Unrecord(ctx, req.Key().String())
}

// enqueueTracked is the scheduled job: one request per tracked (entity, kind).
func (s *Service) enqueueTracked(ctx context.Context, at time.Time) {
	var queued, pending, rejected int
	for _, e := range s.collector.Entities() {
		for _, kind := range e.TrackedKinds() {
			_, err := s.Enqueue(ctx, kind, e.ID, model.OriginScheduler)
			switch {
			case err == nil:
				queued++
			case errors.Is(err, ErrAlreadyPending):
				pending++
			case errors.Is(err, ErrNotStarted):
				return
			default:
				rejected++
				s.logger.Warn(ctx, "scheduled collection not queued",
					logger.String("entity", e.ID),
					logger.String("kind", string(kind)),
					logger.Error(err),
				)
			}
		}
	}
	s.logger.Info(ctx, "scheduled collections enqueued",
		logger.String("fire_at", at.Format(time.RFC3339)),
		logger.Int("queued", queued),
		logger.Int("pending", pending),
		logger.Int("rejected", rejected),
	)
}

// RunCollectionCycle runs one collection synchronously, bypassing the queue.
func (s *Service) RunCollectionCycle(ctx context.Context, entityID string, kind model.MetricKind) (model.CollectionResult, error) {
	s.mu.RLock()
	c := s.collector
	started := s.started
	s.mu.RUnlock()

	if !started {
		return model.CollectionResult{}, fmt.Errorf("service.run: %w", ErrNotStarted)
	}
	if _, err := c.Resolve(entityID, kind); err != nil {
		return model.CollectionResult{}, fmt.Errorf("service.run: %w", err)
	}
	return c.RunCollectionCycle(ctx, entityID, kind), nil
}

// GetTimeline returns the reduced timeline of one series.
func (s *Service) GetTimeline(ctx context.Context, entityID string, kind model.MetricKind, r repository.Range) ([]model.MetricSample, error) {
	s.mu.RLock()
	c := s.collector
	started := s.started
	s.mu.RUnlock()

	if !started {
		return nil, fmt.Errorf("service.timeline: %w", ErrNotStarted)
	}
	return c.GetTimeline(ctx, entityID, kind, r)
}

// Entities returns the tracked entity registry.
func (s *Service) Entities() []model.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.collector == nil {
		return nil
	}
	return s.collector.Entities()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"storeDriver": s.storeDriver,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["pending"] = s.deduper.Size()
		stats["busyWorkers"] = s.workerPool.Busy()
		stats["entities"] = len(s.collector.Entities())

		if series, err := s.store.Series(ctx); err == nil {
			stats["series"] = len(series)
		}
		if s.scheduler != nil {
			stats["schedulerState"] = string(s.scheduler.State())
			stats["schedulerMissed"] = s.scheduler.Missed()
			if next := s.scheduler.NextFire(); !next.IsZero() {
				stats["nextFire"] = next.Format(time.RFC3339)
			}
		}

		metrics.UpdateQueueSize(queueLen)
	}
	return stats
}

// Size returns the current number of pending requests.
func (s *Service) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}
