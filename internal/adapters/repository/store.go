// Package repository defines the idempotent time series store and its adapters.
package repository

import (
	"context"
	"fmt"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
)

// Supported store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Range bounds a query by period label, inclusive on both ends. An empty bound is open.
type Range struct {
	From string
	To   string
}

// Contains reports whether period falls inside the range.
func (r Range) Contains(period string) bool {
	if r.From != "" && period < r.From {
		return false
	}
	if r.To != "" && period > r.To {
		return false
	}
	return true
}

// Store is a keyed time series store with upsert semantics.
//
// At most one row exists per (kind, entity, period); a later write replaces the earlier
// one. Every write is assigned an insertion marker that is strictly greater than any
// marker the store handed out before.
type Store interface {
	// Write upserts the sample and returns it with its assigned insertion marker.
	// Retrying a failed write with the same sample is always safe.
	Write(ctx context.Context, s model.MetricSample) (model.MetricSample, error)

	// Query returns the rows of one series inside r ordered by period ascending.
	Query(ctx context.Context, key model.SeriesKey, r Range) ([]model.MetricSample, error)

	// Series lists the (kind, entity) pairs that have at least one row.
	Series(ctx context.Context) ([]model.SeriesKey, error)

	// Close releases the store's handles.
	Close() error
}

func validate(s model.MetricSample) error {
	switch {
	case s.Kind == "":
		return fmt.Errorf("%w: empty kind", ErrInvalidSample)
	case s.EntityID == "":
		return fmt.Errorf("%w: empty entity id", ErrInvalidSample)
	case s.Period == "":
		return fmt.Errorf("%w: empty period", ErrInvalidSample)
	}
	return nil
}

func cloneSample(s model.MetricSample) model.MetricSample {
	if s.SecondaryValue != nil {
		v := *s.SecondaryValue
		s.SecondaryValue = &v
	}
	return s
}
