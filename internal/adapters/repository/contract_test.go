package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
)

func f64(v float64) *float64 { return &v }

func stars(entity, period string, v float64) model.MetricSample {
	return model.MetricSample{Kind: model.KindStars, EntityID: entity, Period: period, Value: v}
}

// runStoreContract exercises the behaviour every Store adapter must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()
	widget := model.SeriesKey{Kind: model.KindStars, EntityID: "octo/widget"}

	t.Run("IdempotentWrite", func(t *testing.T) {
		s := newStore(t)
		sample := stars("octo/widget", "2024-01-01", 10)

		_, err := s.Write(ctx, sample)
		require.NoError(t, err)
		_, err = s.Write(ctx, sample)
		require.NoError(t, err)

		rows, err := s.Query(ctx, widget, Range{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, 10.0, rows[0].Value)
	})

	t.Run("UpsertOverwrite", func(t *testing.T) {
		s := newStore(t)

		first, err := s.Write(ctx, stars("octo/widget", "2024-01-01", 10))
		require.NoError(t, err)
		second, err := s.Write(ctx, stars("octo/widget", "2024-01-01", 12))
		require.NoError(t, err)
		assert.Greater(t, second.InsertionMarker, first.InsertionMarker)

		rows, err := s.Query(ctx, widget, Range{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, 12.0, rows[0].Value)
		assert.Equal(t, second.InsertionMarker, rows[0].InsertionMarker)
	})

	t.Run("MarkersIncreaseAcrossSeries", func(t *testing.T) {
		s := newStore(t)
		var last int64
		for i, entity := range []string{"a/one", "b/two", "a/one", "c/three"} {
			got, err := s.Write(ctx, stars(entity, fmt.Sprintf("2024-01-0%d", i+1), float64(i)))
			require.NoError(t, err)
			assert.Greater(t, got.InsertionMarker, last)
			last = got.InsertionMarker
		}
	})

	t.Run("RangeIsInclusiveAndOrdered", func(t *testing.T) {
		s := newStore(t)
		for _, p := range []string{"2024-01-04", "2024-01-01", "2024-01-03", "2024-01-02"} {
			_, err := s.Write(ctx, stars("octo/widget", p, 1))
			require.NoError(t, err)
		}

		rows, err := s.Query(ctx, widget, Range{From: "2024-01-02", To: "2024-01-03"})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "2024-01-02", rows[0].Period)
		assert.Equal(t, "2024-01-03", rows[1].Period)

		rows, err = s.Query(ctx, widget, Range{From: "2024-01-03"})
		require.NoError(t, err)
		assert.Len(t, rows, 2)

		rows, err = s.Query(ctx, widget, Range{})
		require.NoError(t, err)
		require.Len(t, rows, 4)
		assert.Equal(t, "2024-01-01", rows[0].Period)
		assert.Equal(t, "2024-01-04", rows[3].Period)
	})

	t.Run("KindsAreSeparateSeries", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Write(ctx, stars("octo/widget", "2024-01-01", 5))
		require.NoError(t, err)
		_, err = s.Write(ctx, model.MetricSample{
			Kind: model.KindPRRatio, EntityID: "octo/widget", Period: "2024-01-01",
			Value: 0.5, SecondaryValue: f64(8),
		})
		require.NoError(t, err)

		rows, err := s.Query(ctx, widget, Range{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, 5.0, rows[0].Value)
		assert.Nil(t, rows[0].SecondaryValue)

		rows, err = s.Query(ctx, model.SeriesKey{Kind: model.KindPRRatio, EntityID: "octo/widget"}, Range{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.NotNil(t, rows[0].SecondaryValue)
		assert.Equal(t, 8.0, *rows[0].SecondaryValue)
		assert.Equal(t, model.KindPRRatio, rows[0].Kind)

		keys, err := s.Series(ctx)
		require.NoError(t, err)
		assert.Equal(t, []model.SeriesKey{
			{Kind: model.KindPRRatio, EntityID: "octo/widget"},
			{Kind: model.KindStars, EntityID: "octo/widget"},
		}, keys)
	})

	t.Run("RejectsIncompleteSamples", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Write(ctx, stars("", "2024-01-01", 1))
		assert.ErrorIs(t, err, ErrInvalidSample)
		_, err = s.Write(ctx, stars("octo/widget", "", 1))
		assert.ErrorIs(t, err, ErrInvalidSample)
	})

	t.Run("ClosedStoreRejectsCalls", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())

		_, err := s.Write(ctx, stars("octo/widget", "2024-01-01", 1))
		assert.ErrorIs(t, err, ErrClosed)
		_, err = s.Query(ctx, widget, Range{})
		assert.ErrorIs(t, err, ErrClosed)
		_, err = s.Series(ctx)
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("ConcurrentWritersLeaveOneRow", func(t *testing.T) {
		s := newStore(t)
		const writers, writes = 8, 10

		var (
			mu      sync.Mutex
			byMark  = map[int64]float64{}
			wg      sync.WaitGroup
			errOnce error
		)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < writes; i++ {
					v := float64(w*100 + i)
					got, err := s.Write(ctx, stars("octo/widget", "2024-01-01", v))
					mu.Lock()
					if err != nil && errOnce == nil {
						errOnce = err
					}
					byMark[got.InsertionMarker] = v
					mu.Unlock()
				}
			}(w)
		}
		wg.Wait()
		require.NoError(t, errOnce)

		rows, err := s.Query(ctx, widget, Range{})
		require.NoError(t, err)
		require.Len(t, rows, 1)

		var maxMark int64
		for m := range byMark {
			if m > maxMark {
				maxMark = m
			}
		}
		assert.Len(t, byMark, writers*writes)
		assert.Equal(t, maxMark, rows[0].InsertionMarker)
		assert.Equal(t, byMark[maxMark], rows[0].Value)
	})
}
