package domain

import (
	"strings"
	"time"
)

// Default capacity limits applied when a person is created without explicit caps.
const (
	DefaultWorkloadCap   = 100.0
	DefaultOverBeyondCap = 20.0
)

// Pool identifies which capacity pool a commitment draws from.
type Pool string

// Pool values.
const (
	PoolPrimary       Pool = "primary"
	PoolDiscretionary Pool = "discretionary"
)

// Person is one directory entry with per-pool capacity limits.
type Person struct {
	ID            string
	Name          string
	Role          Role
	WorkloadCap   float64
	OverBeyondCap float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PersonInput holds values used to create a person.
type PersonInput struct {
	ID            string
	Name          string
	Role          Role
	WorkloadCap   float64
	OverBeyondCap float64
}

// NewPerson validates and constructs a directory entry. Zero caps fall back
// to the package defaults.
func NewPerson(in PersonInput, now time.Time) (Person, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)

	if in.ID == "" {
		return Person{}, ErrInvalidID
	}
	if in.Name == "" {
		return Person{}, ErrInvalidName
	}
	if !IsValidRole(in.Role) {
		return Person{}, ErrInvalidRole
	}
	if in.WorkloadCap < 0 || in.OverBeyondCap < 0 {
		return Person{}, ErrInvalidPercentage
	}
	if in.WorkloadCap == 0 {
		in.WorkloadCap = DefaultWorkloadCap
	}
	if in.OverBeyondCap == 0 {
		in.OverBeyondCap = DefaultOverBeyondCap
	}

	ts := now.UTC()
	return Person{
		ID:            in.ID,
		Name:          in.Name,
		Role:          in.Role,
		WorkloadCap:   in.WorkloadCap,
		OverBeyondCap: in.OverBeyondCap,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}, nil
}

// SetCapacity replaces both pool caps.
func (p *Person) SetCapacity(workloadCap, overBeyondCap float64, now time.Time) error {
	if workloadCap < 0 || overBeyondCap < 0 {
		return ErrInvalidPercentage
	}
	p.WorkloadCap = workloadCap
	p.OverBeyondCap = overBeyondCap
	p.UpdatedAt = now.UTC()
	return nil
}

// CapFor returns the cap governing the given pool.
func (p Person) CapFor(pool Pool) float64 {
	if pool == PoolDiscretionary {
		return p.OverBeyondCap
	}
	return p.WorkloadCap
}
