package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s := NewMemoryStore(context.Background(), WithMetricsUpdateInterval(time.Hour))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore(context.Background())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Write(context.Background(), stars("octo/widget", "2024-01-01", 1))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Query(context.Background(), model.SeriesKey{Kind: model.KindStars, EntityID: "octo/widget"}, Range{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(ctx)
	defer s.Close()

	sample := stars("octo/widget", "2024-01-01", 1)
	sample.SecondaryValue = f64(3)
	_, err := s.Write(ctx, sample)
	require.NoError(t, err)
	*sample.SecondaryValue = 99

	rows, err := s.Query(ctx, sample.Key(), Range{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3.0, *rows[0].SecondaryValue)
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		dsn := filepath.Join(t.TempDir(), "tracker.db")
		s, err := OpenSQL(context.Background(), DriverSQLite, dsn, WithLogger(logger.Nop()))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "tracker.db")

	s, err := OpenSQL(ctx, DriverSQLite, dsn, WithLogger(logger.Nop()))
	require.NoError(t, err)
	first, err := s.Write(ctx, stars("octo/widget", "2024-01-01", 1))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQL(ctx, DriverSQLite, dsn, WithLogger(logger.Nop()))
	require.NoError(t, err)
	defer s.Close()
	second, err := s.Write(ctx, stars("octo/widget", "2024-01-02", 2))
	require.NoError(t, err)
	assert.Greater(t, second.InsertionMarker, first.InsertionMarker)
}

func TestRedisStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		t.Cleanup(mr.Close)

		s, err := OpenRedis(context.Background(), "redis://"+mr.Addr(), WithLogger(logger.Nop()))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestRedisStore_CorruptValue(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), WithKeyPrefix("t"), WithLogger(logger.Nop()))
	defer s.Close()

	mr.HSet("t:values:stars:octo/widget", "2024-01-01", "{not json")
	mr.HSet("t:markers:stars:octo/widget", "2024-01-01", "1")

	_, err = s.Query(context.Background(), model.SeriesKey{Kind: model.KindStars, EntityID: "octo/widget"}, Range{})
	assert.ErrorIs(t, err, ErrCorruptSampleData)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = OpenRedis(context.Background(), "redis://"+addr, WithLogger(logger.Nop()))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestSQLStore_WriteFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE SEQUENCE IF NOT EXISTS metric_samples_marker_seq").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS metric_samples").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO metric_samples").
		WithArgs("stars", "octo/widget", "2024-01-01", 10.0, sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset by peer"))

	s, err := NewSQLStore(context.Background(), db, DriverPostgres, WithLogger(logger.Nop()))
	require.NoError(t, err)

	_, err = s.Write(context.Background(), stars("octo/widget", "2024-01-01", 10))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PostgresQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE SEQUENCE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT kind, entity_id, period, value, secondary_value, insertion_marker\s+FROM metric_samples WHERE kind = \$1 AND entity_id = \$2 AND period >= \$3 ORDER BY period ASC`).
		WithArgs("pr_ratio", "octo/widget", "2024-01-01").
		WillReturnRows(sqlmock.NewRows([]string{"kind", "entity_id", "period", "value", "secondary_value", "insertion_marker"}).
			AddRow("pr_ratio", "octo/widget", "2024-01-01", 0.25, 4.0, int64(7)).
			AddRow("pr_ratio", "octo/widget", "2024-01-02", 0.0, nil, int64(9)))

	s, err := NewSQLStore(context.Background(), db, DriverPostgres, WithLogger(logger.Nop()))
	require.NoError(t, err)

	rows, err := s.Query(context.Background(),
		model.SeriesKey{Kind: model.KindPRRatio, EntityID: "octo/widget"}, Range{From: "2024-01-01"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].SecondaryValue)
	assert.Equal(t, 4.0, *rows[0].SecondaryValue)
	assert.Equal(t, int64(7), rows[0].InsertionMarker)
	assert.Nil(t, rows[1].SecondaryValue)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_MigrationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	_, err = NewSQLStore(context.Background(), db, DriverSQLite, WithLogger(logger.Nop()))
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, "cassandra", "")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestRange(t *testing.T) {
	r := Range{From: "2024-01-02", To: "2024-01-04"}
	assert.False(t, r.Contains("2024-01-01"))
	assert.True(t, r.Contains("2024-01-02"))
	assert.True(t, r.Contains("2024-01-04"))
	assert.False(t, r.Contains("2024-01-05"))
	assert.True(t, Range{}.Contains("anything"))
}
