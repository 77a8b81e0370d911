package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyPending = errors.New("collection already pending")
	ErrQueueFull      = errors.New("collection queue full")

	ErrSourceNotConfigured = errors.New("source not configured")
	ErrKindNotTracked      = errors.New("kind not tracked for entity")
)
