package domain

import (
	"slices"
	"strings"
	"time"
)

// Status represents canonical work item lifecycle values.
type Status string

// Canonical statuses.
const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusOnHold    Status = "on_hold"
	StatusCancelled Status = "cancelled"
)

var validStatuses = []Status{
	StatusPending,
	StatusActive,
	StatusCompleted,
	StatusOnHold,
	StatusCancelled,
}

// ParseStatus canonicalizes status aliases and fails closed on unknown input.
func ParseStatus(raw string) (Status, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "pending":
		return StatusPending, nil
	case "active", "in-progress", "in_progress":
		return StatusActive, nil
	case "completed", "complete", "done":
		return StatusCompleted, nil
	case "on_hold", "on-hold", "onhold", "hold":
		return StatusOnHold, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	default:
		return "", ErrInvalidStatus
	}
}

// IsValidStatus reports whether the status is canonical.
func IsValidStatus(status Status) bool {
	return slices.Contains(validStatuses, status)
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var validPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// ParsePriority canonicalizes priority input and fails closed.
func ParsePriority(raw string) (Priority, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "low":
		return PriorityLow, nil
	case "medium", "med":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	default:
		return "", ErrInvalidPriority
	}
}

// Assignment binds one person to a share of their primary capacity.
type Assignment struct {
	PersonID    string
	Involvement float64
	Role        string
}

// Milestone is one completion checkpoint on a work item.
type Milestone struct {
	ID        string
	Title     string
	Completed bool
	DueAt     *time.Time
}

// WorkItem is the tracked unit of work. Mutations go through the tracked
// update path only; Version advances by exactly one per accepted mutation.
type WorkItem struct {
	ID             string
	Title          string
	Description    string
	OwnerID        string
	Status         Status
	Priority       Priority
	Budget         float64
	StartAt        *time.Time
	DueAt          *time.Time
	Assignments    []Assignment
	Milestones     []Milestone
	ManualProgress *float64
	Version        int64
	LastActivityAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WorkItemInput holds values used to create a work item.
type WorkItemInput struct {
	ID          string
	Title       string
	Description string
	OwnerID     string
	Status      Status
	Priority    Priority
	Budget      float64
	StartAt     *time.Time
	DueAt       *time.Time
	Milestones  []Milestone
}

// NewWorkItem validates and constructs a work item at version 1.
func NewWorkItem(in WorkItemInput, now time.Time) (WorkItem, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.OwnerID = strings.TrimSpace(in.OwnerID)

	if in.ID == "" {
		return WorkItem{}, ErrInvalidID
	}
	if in.Title == "" {
		return WorkItem{}, ErrInvalidTitle
	}
	if in.OwnerID == "" {
		return WorkItem{}, ErrInvalidID
	}
	if in.Status == "" {
		in.Status = StatusPending
	}
	if !IsValidStatus(in.Status) {
		return WorkItem{}, ErrInvalidStatus
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !slices.Contains(validPriorities, in.Priority) {
		return WorkItem{}, ErrInvalidPriority
	}
	if in.Budget < 0 {
		return WorkItem{}, ErrInvalidPercentage
	}
	if in.StartAt != nil && in.DueAt != nil && in.DueAt.Before(*in.StartAt) {
		return WorkItem{}, ErrInvalidTimeline
	}
	milestones, err := NormalizeMilestones(in.Milestones)
	if err != nil {
		return WorkItem{}, err
	}

	ts := now.UTC()
	return WorkItem{
		ID:             in.ID,
		Title:          in.Title,
		Description:    in.Description,
		OwnerID:        in.OwnerID,
		Status:         in.Status,
		Priority:       in.Priority,
		Budget:         in.Budget,
		StartAt:        normalizeTS(in.StartAt),
		DueAt:          normalizeTS(in.DueAt),
		Assignments:    []Assignment{},
		Milestones:     milestones,
		Version:        1,
		LastActivityAt: ts,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}, nil
}

// AssignmentFor returns the assignment for a person, if present.
func (w WorkItem) AssignmentFor(personID string) (Assignment, bool) {
	for _, a := range w.Assignments {
		if a.PersonID == personID {
			return a, true
		}
	}
	return Assignment{}, false
}

// TotalInvolvement sums involvement across all assignments on the item.
func (w WorkItem) TotalInvolvement() float64 {
	total := 0.0
	for _, a := range w.Assignments {
		total += a.Involvement
	}
	return total
}

// MilestoneRatio returns completed/total in percent, and whether any
// milestones exist at all.
func (w WorkItem) MilestoneRatio() (float64, bool) {
	if len(w.Milestones) == 0 {
		return 0, false
	}
	completed := 0
	for _, m := range w.Milestones {
		if m.Completed {
			completed++
		}
	}
	return float64(completed) / float64(len(w.Milestones)) * 100, true
}

// NormalizeAssignments trims, validates, dedupes by person, and sorts an
// assignment list into canonical order.
func NormalizeAssignments(in []Assignment) ([]Assignment, error) {
	out := make([]Assignment, 0, len(in))
	seen := map[string]struct{}{}
	for _, a := range in {
		a.PersonID = strings.TrimSpace(a.PersonID)
		a.Role = strings.TrimSpace(a.Role)
		if a.PersonID == "" {
			return nil, ErrInvalidID
		}
		if a.Involvement <= 0 || a.Involvement > 100 {
			return nil, ErrInvalidPercentage
		}
		if _, ok := seen[a.PersonID]; ok {
			return nil, ErrInvalidID
		}
		seen[a.PersonID] = struct{}{}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Assignment) int {
		return strings.Compare(a.PersonID, b.PersonID)
	})
	return out, nil
}

// NormalizeMilestones trims, validates, dedupes by id, and sorts a milestone
// list into canonical order.
func NormalizeMilestones(in []Milestone) ([]Milestone, error) {
	out := make([]Milestone, 0, len(in))
	seen := map[string]struct{}{}
	for _, m := range in {
		m.ID = strings.TrimSpace(m.ID)
		m.Title = strings.TrimSpace(m.Title)
		if m.ID == "" {
			return nil, ErrInvalidID
		}
		if _, ok := seen[m.ID]; ok {
			return nil, ErrInvalidID
		}
		seen[m.ID] = struct{}{}
		m.DueAt = normalizeTS(m.DueAt)
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Milestone) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// normalizeTS normalizes optional timestamps to second-precision UTC.
func normalizeTS(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ts := t.UTC().Truncate(time.Second)
	return &ts
}
