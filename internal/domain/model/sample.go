// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
)

// MetricKind names a tracked growth metric.
type MetricKind string

// Supported metric kinds.
const (
	KindStars      MetricKind = "stars"
	KindPRRatio    MetricKind = "pr_ratio"
	KindIssueRatio MetricKind = "issue_ratio"
	KindDownloads  MetricKind = "downloads"
)

// AllKinds lists every supported metric kind in a stable order.
func AllKinds() []MetricKind {
	return []MetricKind{KindStars, KindPRRatio, KindIssueRatio, KindDownloads}
}

// ParseKind converts a user supplied string to a MetricKind.
func ParseKind(s string) (MetricKind, error) {
	k := MetricKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllKinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MetricSample is one stored point of a time series.
// (Kind, EntityID, Period) is unique within a store.
type MetricSample struct {
	Kind            MetricKind `json:"kind"`
	EntityID        string     `json:"entity_id"`
	Period          string     `json:"period"`
	Value           float64    `json:"value"`
	SecondaryValue  *float64   `json:"secondary_value,omitempty"`
	InsertionMarker int64      `json:"insertion_marker"`
}

// Key returns the composite uniqueness key of the sample.
func (s MetricSample) Key() SeriesKey {
	return SeriesKey{Kind: s.Kind, EntityID: s.EntityID}
}

// SeriesKey identifies one partition of the store.
type SeriesKey struct {
	Kind     MetricKind
	EntityID string
}

// String renders the key as "kind/entity", used for single-flight and dedupe ids.
func (k SeriesKey) String() string {
	return string(k.Kind) + "/" + k.EntityID
}

// Timeline is an ordered sequence of samples for one entity, strictly
// increasing in Period.
type Timeline []MetricSample

// RatioSample is derived from two counters sampled at the same instant.
type RatioSample struct {
	EntityID    string
	Period      string
	Numerator   int64
	Denominator int64
	Ratio       float64
}

// MetricSample converts the ratio into its stored form: the ratio is the value and
// the denominator travels as the secondary value.
func (r RatioSample) MetricSample(kind MetricKind) MetricSample {
	den := float64(r.Denominator)
	return MetricSample{
		Kind:           kind,
		EntityID:       r.EntityID,
		Period:         r.Period,
		Value:          r.Ratio,
		SecondaryValue: &den,
	}
}
