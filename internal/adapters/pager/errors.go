package pager

import "errors"

// Sentinel kinds for upstream failures. Sources wrap their errors with one of these so
// the pager can decide whether to retry, stop, or give up.
var (
	// ErrRateLimited marks a rate-limit or abuse-detection signal. Never retried in-run.
	ErrRateLimited = errors.New("upstream rate limited")
	// ErrTransient marks a network or 5xx failure worth retrying.
	ErrTransient = errors.New("transient upstream error")
	// ErrPermanent marks a failure that retrying cannot fix, e.g. 404 or 401.
	ErrPermanent = errors.New("permanent upstream error")
	// ErrMalformed marks an unparseable record or page body.
	ErrMalformed = errors.New("malformed upstream record")
)
