package repository

import (
	"context"
	"fmt"
)

// Open returns the store for driver. An empty driver selects the in-memory store.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemoryStore(ctx, opts...), nil
	case DriverSQLite, DriverPostgres:
		return OpenSQL(ctx, driver, dsn, opts...)
	case DriverRedis:
		return OpenRedis(ctx, dsn, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
