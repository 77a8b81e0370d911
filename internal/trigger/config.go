// Package trigger asks a running tracker service to collect series over HTTP.
package trigger

import (
	"errors"
	"time"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
)

// Error constants.
var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrBusy             = errors.New("service queue is full")
	ErrNoTargets        = errors.New("no targets to collect")
)

// Config holds configuration for a trigger run.
type Config struct {
	BaseURL string        // Base URL of the service
	Workers int           // Number of concurrent requests
	Timeout time.Duration // HTTP request timeout
	Wait    bool          // Run each collection inline and return its result
	// Retries bounds how often a request rejected with 429 is retried.
	Retries int
	Backoff time.Duration
	Logger  logger.Logger
}

// Target names one series to collect.
type Target struct {
	Kind     model.MetricKind `json:"kind"`
	EntityID string           `json:"entity_id"`
}

func (t Target) String() string { return string(t.Kind) + "/" + t.EntityID }

// Status is the outcome of one trigger request.
type Status string

// Outcomes of a trigger request.
const (
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

// Outcome is the service's answer for one target.
type Outcome struct {
	Target Target                  `json:"target"`
	Status Status                  `json:"status"`
	RunID  string                  `json:"run_id,omitempty"`
	Result *model.CollectionResult `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

// Stats holds counters for a trigger run.
type Stats struct {
	Submitted int
	Accepted  int
	Completed int
	Pending   int
	Failed    int
	StartTime time.Time
	Duration  time.Duration
}

type acceptedResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
