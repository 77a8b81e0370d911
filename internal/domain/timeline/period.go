// Package timeline rebuilds cumulative counter time series from add/remove events.
package timeline

import (
	"time"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
)

const (
	dayLayout  = "2006-01-02"
	hourLayout = "2006-01-02T15:00:00Z"
	daysInWeek = 7
)

// BucketStart returns the start of the bucket containing t. Day and week buckets are
// computed in loc; hour buckets are always UTC. A nil loc means UTC.
func BucketStart(t time.Time, b model.Bucketing, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	switch b {
	case model.BucketHour:
		return t.UTC().Truncate(time.Hour)
	case model.BucketWeek:
		day := dayStart(t, loc)
		// Weeks start on Monday.
		offset := (int(day.Weekday()) + daysInWeek - 1) % daysInWeek
		return day.AddDate(0, 0, -offset)
	default:
		return dayStart(t, loc)
	}
}

// PeriodLabel renders the bucket containing t as a stored period label:
// YYYY-MM-DD for day and week buckets, an hour-truncated RFC3339 UTC timestamp
// for hour buckets.
func PeriodLabel(t time.Time, b model.Bucketing, loc *time.Location) string {
	start := BucketStart(t, b, loc)
	if b == model.BucketHour {
		return start.Format(hourLayout)
	}
	return start.Format(dayLayout)
}

// NormalizeLabel rewrites a period label written with a different layout (for example a
// full timestamp where a calendar date was expected) to the canonical label of bucket b.
// Labels that cannot be parsed are returned unchanged.
func NormalizeLabel(label string, b model.Bucketing, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", dayLayout} {
		if t, err := time.ParseInLocation(layout, label, loc); err == nil {
			return PeriodLabel(t, b, loc)
		}
	}
	return label
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
