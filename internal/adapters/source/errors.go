package source

import "errors"

// Sentinel kinds for source errors.
var (
	ErrInvalidRepo = errors.New("repository must be owner/name")
	ErrNoPackage   = errors.New("package name is empty")
)
