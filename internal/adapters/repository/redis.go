package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
	"github.com/Mihirgupta25/open-source-tracker/pkg/metrics"
)

// upsertScript assigns the marker and replaces the row in one atomic step.
//
// KEYS: marker counter, values hash, markers hash, series set.
// ARGV: period, encoded value, series member.
//
//nolint:gochecknoglobals // compiled once
var upsertScript = redis.NewScript(`
local m = redis.call('INCR', KEYS[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[3], ARGV[1], m)
redis.call('SADD', KEYS[4], ARGV[3])
return m
`)

// storedValue is the JSON body kept per period.
type storedValue struct {
	Value          float64  `json:"value"`
	SecondaryValue *float64 `json:"secondary_value,omitempty"`
}

// RedisStore keeps each series in two hashes keyed by period: one with the encoded
// value, one with the insertion marker.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger logger.Logger
	closed atomic.Bool
}

// OpenRedis connects to the Redis server at url (redis://host:port/db).
func OpenRedis(ctx context.Context, url string, opts ...Option) (*RedisStore, error) {
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	ro.DialTimeout = 5 * time.Second
	ro.ReadTimeout = 3 * time.Second
	ro.WriteTimeout = 3 * time.Second

	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w: %w", ErrStoreUnavailable, err)
	}
	return NewRedisStore(client, opts...), nil
}

// NewRedisStore wraps a connected client. The store owns the client from here on.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	cfg := buildSettings(opts)
	return &RedisStore{client: client, prefix: cfg.keyPrefix, logger: cfg.namedLogger("repository")}
}

func (s *RedisStore) markerKey() string { return s.prefix + ":marker" }
func (s *RedisStore) seriesKey() string { return s.prefix + ":series" }
func (s *RedisStore) valuesKey(k model.SeriesKey) string {
	return fmt.Sprintf("%s:values:%s:%s", s.prefix, k.Kind, k.EntityID)
}
func (s *RedisStore) markersKey(k model.SeriesKey) string {
	return fmt.Sprintf("%s:markers:%s:%s", s.prefix, k.Kind, k.EntityID)
}

// Write upserts the sample.
func (s *RedisStore) Write(ctx context.Context, sample model.MetricSample) (model.MetricSample, error) {
	const op = "repository.redis.write"
	start := time.Now()
	defer func() {
		metrics.RecordStoreWriteLatency(DriverRedis, float64(time.Since(start).Microseconds())/1000)
	}()

	if s.closed.Load() {
		return model.MetricSample{}, ErrClosed
	}

	if err := validate(sample); err != nil {
		metrics.RecordErrorByComponent("repository", "invalid_sample")
		return model.MetricSample{}, err
	}

	body, err := json.Marshal(storedValue{Value: sample.Value, SecondaryValue: sample.SecondaryValue})
	if err != nil {
		return model.MetricSample{}, fmt.Errorf("%s: encode: %w", op, err)
	}

	key := sample.Key()
	marker, err := upsertScript.Run(ctx, s.client,
		[]string{s.markerKey(), s.valuesKey(key), s.markersKey(key), s.seriesKey()},
		sample.Period, string(body), key.String(),
	).Int64()
	if err != nil {
		metrics.RecordErrorByComponent("repository", "write_failed")
		s.logger.Warn(ctx, "sample upsert failed",
			logger.String("driver", DriverRedis),
			logger.String("series", key.String()),
			logger.String("period", sample.Period),
			logger.Error(err),
		)
		return model.MetricSample{}, fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}

	out := cloneSample(sample)
	out.InsertionMarker = marker
	return out, nil
}

// Query returns the rows of one series inside r. Both hashes are read in a single
// MULTI so values and markers are consistent with each other.
func (s *RedisStore) Query(ctx context.Context, key model.SeriesKey, r Range) ([]model.MetricSample, error) {
	const op = "repository.redis.query"
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(DriverRedis, float64(time.Since(start).Microseconds())/1000)
	}()

	if s.closed.Load() {
		return nil, ErrClosed
	}

	var valuesCmd, markersCmd *redis.StringStringMapCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		valuesCmd = pipe.HGetAll(ctx, s.valuesKey(key))
		markersCmd = pipe.HGetAll(ctx, s.markersKey(key))
		return nil
	})
	if err != nil {
		metrics.RecordErrorByComponent("repository", "query_failed")
		return nil, fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}

	values := valuesCmd.Val()
	markers := markersCmd.Val()
	out := make([]model.MetricSample, 0, len(values))
	for period, body := range values {
		if !r.Contains(period) {
			continue
		}
		var v storedValue
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			return nil, fmt.Errorf("%s: period %s: %w: %w", op, period, ErrCorruptSampleData, err)
		}
		marker, err := strconv.ParseInt(markers[period], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: period %s marker: %w: %w", op, period, ErrCorruptSampleData, err)
		}
		out = append(out, model.MetricSample{
			Kind:            key.Kind,
			EntityID:        key.EntityID,
			Period:          period,
			Value:           v.Value,
			SecondaryValue:  v.SecondaryValue,
			InsertionMarker: marker,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

// Series lists the known series sorted by kind then entity.
func (s *RedisStore) Series(ctx context.Context) ([]model.SeriesKey, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	members, err := s.client.SMembers(ctx, s.seriesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("repository.redis.series: %w: %w", ErrStoreUnavailable, err)
	}
	keys := make([]model.SeriesKey, 0, len(members))
	for _, m := range members {
		kind, entity, ok := strings.Cut(m, "/")
		if !ok {
			continue
		}
		keys = append(keys, model.SeriesKey{Kind: model.MetricKind(kind), EntityID: entity})
	}
	sortKeys(keys)
	metrics.UpdateStoreSeries(len(keys))
	return keys, nil
}

// Close closes the client. Later calls return ErrClosed.
func (s *RedisStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.client.Close()
}
