package app

import "errors"

// ErrNotFound and related errors describe runtime failures surfaced by the
// service and its repository implementations.
var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)
