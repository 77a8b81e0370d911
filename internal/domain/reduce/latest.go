// Package reduce collapses duplicate period rows read back from a store.
package reduce

import (
	"sort"
	"time"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/internal/domain/timeline"
)

// Option tunes the reducer.
type Option func(*reducer)

type reducer struct {
	normalize bool
	bucketing model.Bucketing
	location  *time.Location
}

// WithNormalizedPeriods groups rows whose labels differ only in layout, e.g.
// "2024-01-01" and "2024-01-01T00:00:00Z", by rewriting them to the canonical label
// of bucketing b in loc.
func WithNormalizedPeriods(b model.Bucketing, loc *time.Location) Option {
	return func(r *reducer) {
		r.normalize = true
		r.bucketing = b
		r.location = loc
	}
}

// LatestWins keeps one row per period: the one with the highest insertion marker.
// The result is ordered by period ascending. It never fails and is idempotent.
func LatestWins(rows []model.MetricSample, opts ...Option) []model.MetricSample {
	r := &reducer{}
	for _, opt := range opts {
		opt(r)
	}

	best := make(map[string]model.MetricSample, len(rows))
	for _, row := range rows {
		if r.normalize {
			row.Period = timeline.NormalizeLabel(row.Period, r.bucketing, r.location)
		}
		cur, ok := best[row.Period]
		if !ok || row.InsertionMarker > cur.InsertionMarker ||
			(row.InsertionMarker == cur.InsertionMarker && row.Value > cur.Value) {
			best[row.Period] = row
		}
	}

	out := make([]model.MetricSample, 0, len(best))
	for _, row := range best {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}
