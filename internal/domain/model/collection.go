package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Origin tells who asked for a collection cycle.
type Origin string

// Request origins.
const (
	OriginScheduler Origin = "scheduler"
	OriginManual    Origin = "manual"
)

// CollectionRequest is the payload carried by the work queue.
type CollectionRequest struct {
	RunID       uuid.UUID
	Kind        MetricKind
	EntityID    string
	RequestedAt time.Time
	Origin      Origin
}

// NewCollectionRequest builds a request with a fresh run id.
func NewCollectionRequest(kind MetricKind, entityID string, origin Origin, now time.Time) CollectionRequest {
	return CollectionRequest{
		RunID:       uuid.New(),
		Kind:        kind,
		EntityID:    entityID,
		RequestedAt: now,
		Origin:      origin,
	}
}

// Key returns the series the request collects.
func (r CollectionRequest) Key() SeriesKey {
	return SeriesKey{Kind: r.Kind, EntityID: r.EntityID}
}

// CollectionResult summarises one pipeline run.
type CollectionResult struct {
	RunID        string    `json:"run_id"`
	Kind         string    `json:"kind"`
	EntityID     string    `json:"entity_id"`
	Written      int       `json:"written"`
	Skipped      int       `json:"skipped"`
	Errors       []string  `json:"errors"`
	PagesFetched int       `json:"pages_fetched"`
	StopReason   string    `json:"stop_reason,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	// Shared is set when the caller joined a run that was already in flight.
	Shared bool `json:"shared"`
}

// AddError appends a failure message to the result.
func (r *CollectionResult) AddError(err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, err.Error())
}

// Err folds the recorded messages into a single error, or nil when the run was clean.
func (r CollectionResult) Err() error {
	var merr *multierror.Error
	for _, msg := range r.Errors {
		merr = multierror.Append(merr, errors.New(msg))
	}
	return merr.ErrorOrNil()
}
