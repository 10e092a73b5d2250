package domain

import (
	"strings"
	"time"
)

// ChangeType classifies a field-level mutation in the audit trail.
type ChangeType string

// ChangeType values.
const (
	ChangeTypeTimeline ChangeType = "timeline"
	ChangeTypeDetails  ChangeType = "details"
	ChangeTypeStatus   ChangeType = "status"
	ChangeTypePriority ChangeType = "priority"
	ChangeTypeBudget   ChangeType = "budget"
	ChangeTypeOther    ChangeType = "other"
)

// ChangeRecord is one audit entry for a single field mutation on a tracked
// entity. OldValue and NewValue are canonical string forms so replaying
// history reconstructs state byte-for-byte.
type ChangeRecord struct {
	ID         int64
	EntityID   string
	FieldName  string
	ChangeType ChangeType
	OldValue   string
	NewValue   string
	Actor      string
	Reason     string
	OccurredAt time.Time
}

// ChangeTypeForField infers the audit classification from a field name.
func ChangeTypeForField(field string) ChangeType {
	switch strings.TrimSpace(strings.ToLower(field)) {
	case "timeline", "start_at", "due_at":
		return ChangeTypeTimeline
	case "description", "details", "project_details":
		return ChangeTypeDetails
	case "status":
		return ChangeTypeStatus
	case "priority":
		return ChangeTypePriority
	case "budget":
		return ChangeTypeBudget
	default:
		return ChangeTypeOther
	}
}
