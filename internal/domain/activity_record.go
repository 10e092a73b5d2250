package domain

import "time"

// Entity type values used in activity records.
const (
	EntityTypePerson     = "person"
	EntityTypeWorkItem   = "work_item"
	EntityTypeInitiative = "initiative"
)

// ActivityRecord is one entry in the general system action log, independent
// of the field-level change trail.
type ActivityRecord struct {
	ID         int64
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Details    string
	Metadata   map[string]string
	OccurredAt time.Time
}
