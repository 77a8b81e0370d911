package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
	"github.com/Mihirgupta25/open-source-tracker/pkg/metrics"
)

// dialect holds the SQL that differs between engines.
type dialect struct {
	schema []string
	upsert string
	bind   func(n int) string
}

var dialects = map[string]dialect{ //nolint:gochecknoglobals // static dialect table
	// SQLite serialises writers, so MAX+1 inside the statement is race free.
	DriverSQLite: {
		schema: []string{`
			CREATE TABLE IF NOT EXISTS metric_samples (
				kind             TEXT    NOT NULL,
				entity_id        TEXT    NOT NULL,
				period           TEXT    NOT NULL,
				value            REAL    NOT NULL,
				secondary_value  REAL,
				insertion_marker INTEGER NOT NULL,
				PRIMARY KEY (kind, entity_id, period)
			)`,
		},
		upsert: `
			INSERT INTO metric_samples (kind, entity_id, period, value, secondary_value, insertion_marker)
			VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(insertion_marker), 0) + 1 FROM metric_samples))
			ON CONFLICT (kind, entity_id, period) DO UPDATE SET
				value = excluded.value,
				secondary_value = excluded.secondary_value,
				insertion_marker = excluded.insertion_marker
			RETURNING insertion_marker`,
		bind: func(int) string { return "?" },
	},
	DriverPostgres: {
		schema: []string{
			`CREATE SEQUENCE IF NOT EXISTS metric_samples_marker_seq`,
			`CREATE TABLE IF NOT EXISTS metric_samples (
				kind             TEXT             NOT NULL,
				entity_id        TEXT             NOT NULL,
				period           TEXT             NOT NULL,
				value            DOUBLE PRECISION NOT NULL,
				secondary_value  DOUBLE PRECISION,
				insertion_marker BIGINT           NOT NULL,
				PRIMARY KEY (kind, entity_id, period)
			)`,
		},
		upsert: `
			INSERT INTO metric_samples (kind, entity_id, period, value, secondary_value, insertion_marker)
			VALUES ($1, $2, $3, $4, $5, nextval('metric_samples_marker_seq'))
			ON CONFLICT (kind, entity_id, period) DO UPDATE SET
				value = EXCLUDED.value,
				secondary_value = EXCLUDED.secondary_value,
				insertion_marker = EXCLUDED.insertion_marker
			RETURNING insertion_marker`,
		bind: func(n int) string { return fmt.Sprintf("$%d", n) },
	},
}

// SQLStore is a Store on database/sql. The composite primary key plus an
// ON CONFLICT upsert gives at most one row per period under concurrent writers.
type SQLStore struct {
	db      *sql.DB
	driver  string
	dialect dialect
	logger  logger.Logger
	closed  atomic.Bool
}

// OpenSQL opens a database with the named driver and prepares its schema.
func OpenSQL(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	if _, ok := dialects[driver]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w: %w", driver, ErrStoreUnavailable, err)
	}

	s, err := NewSQLStore(ctx, db, driver, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database and creates the table if it is missing. The store
// owns db from here on and closes it in Close.
func NewSQLStore(ctx context.Context, db *sql.DB, driver string, opts ...Option) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	cfg := buildSettings(opts)
	s := &SQLStore{db: db, driver: driver, dialect: d, logger: cfg.namedLogger("repository")}

	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", driver, err)
		}
	}
	return s, nil
}

// Write upserts the sample.
func (s *SQLStore) Write(ctx context.Context, sample model.MetricSample) (model.MetricSample, error) {
	const op = "repository.sql.write"
	start := time.Now()
	defer func() {
		metrics.RecordStoreWriteLatency(s.driver, float64(time.Since(start).Microseconds())/1000)
	}()

	if s.closed.Load() {
		return model.MetricSample{}, ErrClosed
	}

	if err := validate(sample); err != nil {
		metrics.RecordErrorByComponent("repository", "invalid_sample")
		return model.MetricSample{}, err
	}

	var secondary sql.NullFloat64
	if sample.SecondaryValue != nil {
		secondary = sql.NullFloat64{Float64: *sample.SecondaryValue, Valid: true}
	}

	var marker int64
	err := s.db.QueryRowContext(ctx, s.dialect.upsert,
		string(sample.Kind), sample.EntityID, sample.Period, sample.Value, secondary,
	).Scan(&marker)
	if err != nil {
		metrics.RecordErrorByComponent("repository", "write_failed")
		s.logger.Warn(ctx, "sample upsert failed",
			logger.String("driver", s.driver),
			logger.String("series", sample.Key().String()),
			logger.String("period", sample.Period),
			logger.Error(err),
		)
		return model.MetricSample{}, fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}

	out := cloneSample(sample)
	out.InsertionMarker = marker
	return out, nil
}

// Query returns the rows of one series inside r.
func (s *SQLStore) Query(ctx context.Context, key model.SeriesKey, r Range) ([]model.MetricSample, error) {
	const op = "repository.sql.query"
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(s.driver, float64(time.Since(start).Microseconds())/1000)
	}()

	if s.closed.Load() {
		return nil, ErrClosed
	}

	var b strings.Builder
	b.WriteString(`SELECT kind, entity_id, period, value, secondary_value, insertion_marker
		FROM metric_samples WHERE kind = `)
	b.WriteString(s.dialect.bind(1))
	b.WriteString(" AND entity_id = ")
	b.WriteString(s.dialect.bind(2))
	args := []any{string(key.Kind), key.EntityID}
	if r.From != "" {
		args = append(args, r.From)
		b.WriteString(" AND period >= " + s.dialect.bind(len(args)))
	}
	if r.To != "" {
		args = append(args, r.To)
		b.WriteString(" AND period <= " + s.dialect.bind(len(args)))
	}
	b.WriteString(" ORDER BY period ASC")

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		metrics.RecordErrorByComponent("repository", "query_failed")
		return nil, fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []model.MetricSample
	for rows.Next() {
		var (
			row       model.MetricSample
			kind      string
			secondary sql.NullFloat64
		)
		if err := rows.Scan(&kind, &row.EntityID, &row.Period, &row.Value, &secondary, &row.InsertionMarker); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		row.Kind = model.MetricKind(kind)
		if secondary.Valid {
			v := secondary.Float64
			row.SecondaryValue = &v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return out, nil
}

// Series lists the known series sorted by kind then entity.
func (s *SQLStore) Series(ctx context.Context) ([]model.SeriesKey, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	const op = "repository.sql.series"
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT kind, entity_id FROM metric_samples ORDER BY kind, entity_id`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var keys []model.SeriesKey
	for rows.Next() {
		var kind, entity string
		if err := rows.Scan(&kind, &entity); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		keys = append(keys, model.SeriesKey{Kind: model.MetricKind(kind), EntityID: entity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	metrics.UpdateStoreSeries(len(keys))
	return keys, nil
}

// Close closes the database. Later calls return ErrClosed.
func (s *SQLStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
