package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID         = errors.New("invalid id")
	ErrInvalidName       = errors.New("invalid name")
	ErrInvalidTitle      = errors.New("invalid title")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidPriority   = errors.New("invalid priority")
	ErrInvalidPercentage = errors.New("percentage out of range")
	ErrInvalidTimeline   = errors.New("invalid timeline")
	ErrUnknownField      = errors.New("unknown field")
	ErrUnauthorized      = errors.New("unauthorized")
)

// CapacityExceededError reports a rejected commitment with enough detail to
// reconstruct which pool invariant failed and by how much.
type CapacityExceededError struct {
	PersonID  string
	Pool      Pool
	Current   float64
	Cap       float64
	Attempted float64
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded for %s in %s pool: current %s%% + attempted %s%% > cap %s%%",
		e.PersonID, e.Pool, formatPercent(e.Current), formatPercent(e.Attempted), formatPercent(e.Cap))
}

// formatPercent renders percentages without trailing float noise.
func formatPercent(v float64) string {
	return fmt.Sprintf("%g", v)
}
