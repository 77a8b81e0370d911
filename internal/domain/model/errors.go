package model

import "errors"

// Sentinel kinds for model errors.
var (
	ErrUnknownKind   = errors.New("unknown metric kind")
	ErrUnknownEntity = errors.New("unknown entity")
)
