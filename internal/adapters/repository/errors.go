package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrInvalidSample     = errors.New("invalid metric sample")
	ErrStoreUnavailable  = errors.New("time series store unavailable")
	ErrUnknownDriver     = errors.New("unknown store driver")
	ErrClosed            = errors.New("store is closed")
	ErrCorruptSampleData = errors.New("corrupt sample data")
)
