package model

import "time"

// EventKind is the direction of a relationship change.
type EventKind int

// Event kinds.
const (
	Started EventKind = iota + 1
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Started:
		return "started"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Delta returns the counter change the event applies.
func (k EventKind) Delta() int64 {
	switch k {
	case Started:
		return 1
	case Deleted:
		return -1
	default:
		return 0
	}
}

// RawEvent represents one unit of change, e.g. one star added or removed.
// Events are fetched per run and discarded after reconstruction.
type RawEvent struct {
	EntityID   string
	OccurredAt time.Time
	Kind       EventKind
	Actor      string
}

// Bucketing selects how timestamps map onto period labels.
type Bucketing string

// Supported bucketings.
const (
	BucketDay  Bucketing = "day"
	BucketWeek Bucketing = "week"
	BucketHour Bucketing = "hour"
)
