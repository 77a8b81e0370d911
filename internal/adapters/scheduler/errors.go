package scheduler

import "errors"

// Sentinel kinds for scheduler errors.
var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrNoFutureFire    = errors.New("schedule has no future fire time")
)
