package domain

import (
	"strings"
	"time"
)

// Initiative is a discretionary work item drawing on the over-beyond pool.
type Initiative struct {
	ID                 string
	Name               string
	AssignedTo         string
	WorkloadPercentage float64
	Status             Status
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// InitiativeInput holds values used to create an initiative.
type InitiativeInput struct {
	ID                 string
	Name               string
	AssignedTo         string
	WorkloadPercentage float64
	Status             Status
}

// NewInitiative validates and constructs an initiative.
func NewInitiative(in InitiativeInput, now time.Time) (Initiative, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	in.AssignedTo = strings.TrimSpace(in.AssignedTo)

	if in.ID == "" {
		return Initiative{}, ErrInvalidID
	}
	if in.Name == "" {
		return Initiative{}, ErrInvalidName
	}
	if in.WorkloadPercentage < 0 || in.WorkloadPercentage > 100 {
		return Initiative{}, ErrInvalidPercentage
	}
	if in.Status == "" {
		in.Status = StatusActive
	}
	if !IsValidStatus(in.Status) {
		return Initiative{}, ErrInvalidStatus
	}

	ts := now.UTC()
	return Initiative{
		ID:                 in.ID,
		Name:               in.Name,
		AssignedTo:         in.AssignedTo,
		WorkloadPercentage: in.WorkloadPercentage,
		Status:             in.Status,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}, nil
}

// CountsAgainstPool reports whether the initiative currently consumes
// discretionary capacity.
func (i Initiative) CountsAgainstPool() bool {
	return i.Status == StatusActive && i.AssignedTo != ""
}
