package app

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/hylla/lastkoll/internal/domain"
)

// Canonical string forms for audit values. History replay depends on these
// being stable byte-for-byte, so every field type has exactly one encoding.

func canonicalFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func canonicalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func canonicalManualProgress(v *float64) string {
	if v == nil {
		return ""
	}
	return canonicalFloat(*v)
}

// canonicalAssignments encodes a normalized assignment list as JSON. The
// list is sorted by person id before encoding, so equal sets always produce
// equal strings.
func canonicalAssignments(in []domain.Assignment) string {
	normalized, err := domain.NormalizeAssignments(in)
	if err != nil {
		normalized = in
	}
	type wire struct {
		PersonID    string  `json:"person_id"`
		Involvement float64 `json:"involvement"`
		Role        string  `json:"role,omitempty"`
	}
	out := make([]wire, 0, len(normalized))
	for _, a := range normalized {
		out = append(out, wire{PersonID: a.PersonID, Involvement: a.Involvement, Role: a.Role})
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// canonicalMilestones encodes a normalized milestone list as JSON, sorted by
// milestone id.
func canonicalMilestones(in []domain.Milestone) string {
	normalized, err := domain.NormalizeMilestones(in)
	if err != nil {
		normalized = in
	}
	type wire struct {
		ID        string `json:"id"`
		Title     string `json:"title,omitempty"`
		Completed bool   `json:"completed"`
		DueAt     string `json:"due_at,omitempty"`
	}
	out := make([]wire, 0, len(normalized))
	for _, m := range normalized {
		out = append(out, wire{ID: m.ID, Title: m.Title, Completed: m.Completed, DueAt: canonicalTime(m.DueAt)})
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(encoded)
}
