package repository

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/pkg/metrics"
)

// MemoryStore is an in-process Store. Rows live in a map per series guarded by a single
// RWMutex; the insertion marker is a process-wide counter.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[model.SeriesKey]map[string]model.MetricSample
	marker atomic.Int64

	metricsUpdateInterval time.Duration

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewMemoryStore creates an empty store and starts its background metrics updater,
// which stops when ctx is done or Close is called.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	cfg := buildSettings(opts)
	s := &MemoryStore{
		series:                make(map[model.SeriesKey]map[string]model.MetricSample),
		metricsUpdateInterval: cfg.metricsUpdateInterval,
		stopCh:                make(chan struct{}),
	}
	s.startMetricsUpdater(ctx)
	return s
}

// Write upserts the sample.
func (s *MemoryStore) Write(_ context.Context, sample model.MetricSample) (model.MetricSample, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreWriteLatency(DriverMemory, float64(time.Since(start).Microseconds())/1000)
	}()

	if s.closed.Load() {
		return model.MetricSample{}, ErrClosed
	}
	if err := validate(sample); err != nil {
		metrics.RecordErrorByComponent("repository", "invalid_sample")
		return model.MetricSample{}, err
	}

	sample = cloneSample(sample)
	key := sample.Key()

	s.mu.Lock()
	rows, ok := s.series[key]
	if !ok {
		rows = make(map[string]model.MetricSample)
		s.series[key] = rows
	}
	// Assigned under the lock so marker order matches write order.
	sample.InsertionMarker = s.marker.Add(1)
	rows[sample.Period] = sample
	s.mu.Unlock()

	return cloneSample(sample), nil
}

// Query returns the rows of one series inside r.
func (s *MemoryStore) Query(_ context.Context, key model.SeriesKey, r Range) ([]model.MetricSample, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(DriverMemory, float64(time.Since(start).Microseconds())/1000)
	}()

	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	rows := s.series[key]
	out := make([]model.MetricSample, 0, len(rows))
	for period, row := range rows {
		if r.Contains(period) {
			out = append(out, cloneSample(row))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

// Series lists the known series sorted by kind then entity.
func (s *MemoryStore) Series(_ context.Context) ([]model.SeriesKey, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.mu.RLock()
	keys := make([]model.SeriesKey, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sortKeys(keys)
	return keys, nil
}

// Close stops the metrics updater. Later calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stopCh)
	})
	s.wg.Wait()
	return nil
}

func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.mu.RLock()
				n := len(s.series)
				s.mu.RUnlock()
				metrics.UpdateStoreSeries(n)
			}
		}
	}()
}

func sortKeys(keys []model.SeriesKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].EntityID < keys[j].EntityID
	})
}
