package timeline

import (
	"sort"
	"time"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
)

// Options controls a reconstruction pass.
type Options struct {
	// Bucketing selects the period granularity. Defaults to day buckets.
	Bucketing model.Bucketing
	// Location is the civil timezone for day and week buckets. Defaults to UTC.
	Location *time.Location
	// Baseline seeds the running counter when replaying a suffix of history.
	Baseline int64
	// CurrentKnownValue is an authoritative current total, e.g. from a direct
	// snapshot call. Nil when unknown.
	CurrentKnownValue *int64
	// Now is the instant used for the "current" bucket.
	Now time.Time
}

// Reconstruct turns an unordered batch of add/remove events into an ordered cumulative
// timeline with one sample per bucket, holding the counter as of the end of that bucket.
//
// The counter never goes below zero even when the event log is incomplete. When an
// authoritative total is known the final bucket is clamped to it; earlier buckets keep
// their event-derived values, which is an accepted approximation. When the total is
// larger than the reconstruction and "now" falls in a later bucket, a sample carrying
// the total is appended for the current bucket.
func Reconstruct(key model.SeriesKey, events []model.RawEvent, opts Options) model.Timeline {
	if opts.Bucketing == "" {
		opts.Bucketing = model.BucketDay
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	nowLabel := PeriodLabel(opts.Now, opts.Bucketing, opts.Location)
	if len(events) == 0 {
		if opts.CurrentKnownValue == nil {
			return model.Timeline{}
		}
		return model.Timeline{sample(key, nowLabel, *opts.CurrentKnownValue)}
	}

	sorted := sortEvents(events)

	counter := opts.Baseline
	if counter < 0 {
		counter = 0
	}

	out := make(model.Timeline, 0, len(sorted))
	current := ""
	for _, e := range sorted {
		label := PeriodLabel(e.OccurredAt, opts.Bucketing, opts.Location)
		if current != "" && label != current {
			out = append(out, sample(key, current, counter))
		}
		current = label

		counter += e.Kind.Delta()
		if counter < 0 {
			counter = 0
		}
	}
	out = append(out, sample(key, current, counter))

	if opts.CurrentKnownValue != nil {
		known := *opts.CurrentKnownValue
		last := &out[len(out)-1]
		switch {
		case last.Value > float64(known):
			last.Value = float64(known)
		case last.Value < float64(known) && nowLabel > last.Period:
			out = append(out, sample(key, nowLabel, known))
		}
	}
	return out
}

// sortEvents returns a copy of events ordered by time, then kind, then actor, so any
// permutation of the same batch reconstructs identically.
func sortEvents(events []model.RawEvent) []model.RawEvent {
	sorted := make([]model.RawEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Actor < b.Actor
	})
	return sorted
}

func sample(key model.SeriesKey, period string, value int64) model.MetricSample {
	return model.MetricSample{
		Kind:     key.Kind,
		EntityID: key.EntityID,
		Period:   period,
		Value:    float64(value),
	}
}
