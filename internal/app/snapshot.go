package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hylla/lastkoll/internal/domain"
)

// SnapshotVersion defines a package constant value.
const SnapshotVersion = "lastkoll.snapshot.v1"

// snapshotActor attributes import-side audit entries.
const snapshotActor = "system"

// Snapshot represents snapshot data used by this package.
type Snapshot struct {
	Version     string               `json:"version"`
	ExportedAt  time.Time            `json:"exported_at"`
	Persons     []SnapshotPerson     `json:"persons"`
	WorkItems   []SnapshotWorkItem   `json:"work_items"`
	Initiatives []SnapshotInitiative `json:"initiatives,omitempty"`
}

// SnapshotPerson represents snapshot person data used by this package.
type SnapshotPerson struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Role          string    `json:"role"`
	WorkloadCap   float64   `json:"workload_cap"`
	OverBeyondCap float64   `json:"over_beyond_cap"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SnapshotAssignment represents one assignment row in a snapshot.
type SnapshotAssignment struct {
	PersonID    string  `json:"person_id"`
	Involvement float64 `json:"involvement"`
	Role        string  `json:"role,omitempty"`
}

// SnapshotMilestone represents one milestone row in a snapshot.
type SnapshotMilestone struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Completed bool       `json:"completed"`
	DueAt     *time.Time `json:"due_at,omitempty"`
}

// SnapshotWorkItem represents snapshot work item data used by this package.
type SnapshotWorkItem struct {
	ID             string               `json:"id"`
	Title          string               `json:"title"`
	Description    string               `json:"description,omitempty"`
	OwnerID        string               `json:"owner_id"`
	Status         string               `json:"status"`
	Priority       string               `json:"priority"`
	Budget         float64              `json:"budget,omitempty"`
	StartAt        *time.Time           `json:"start_at,omitempty"`
	DueAt          *time.Time           `json:"due_at,omitempty"`
	Assignments    []SnapshotAssignment `json:"assignments,omitempty"`
	Milestones     []SnapshotMilestone  `json:"milestones,omitempty"`
	ManualProgress *float64             `json:"manual_progress,omitempty"`
	Version        int64                `json:"version"`
	LastActivityAt time.Time            `json:"last_activity_at"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// SnapshotInitiative represents snapshot initiative data used by this package.
type SnapshotInitiative struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	AssignedTo         string    `json:"assigned_to,omitempty"`
	WorkloadPercentage float64   `json:"workload_percentage"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ExportSnapshot handles export snapshot.
func (s *Service) ExportSnapshot(ctx context.Context) (Snapshot, error) {
	persons, err := s.repo.ListPersons(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	items, err := s.repo.ListWorkItems(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	initiatives, err := s.repo.ListInitiatives(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Version:     SnapshotVersion,
		ExportedAt:  s.clock().UTC(),
		Persons:     make([]SnapshotPerson, 0, len(persons)),
		WorkItems:   make([]SnapshotWorkItem, 0, len(items)),
		Initiatives: make([]SnapshotInitiative, 0, len(initiatives)),
	}
	for _, p := range persons {
		snap.Persons = append(snap.Persons, snapshotPersonFromDomain(p))
	}
	for _, item := range items {
		snap.WorkItems = append(snap.WorkItems, snapshotWorkItemFromDomain(item))
	}
	for _, ini := range initiatives {
		snap.Initiatives = append(snap.Initiatives, snapshotInitiativeFromDomain(ini))
	}

	snap.sort()
	return snap, nil
}

// ImportSnapshot handles import snapshot. Existing rows are updated in place;
// missing rows are created. Every imported work item and initiative write is
// still audited, attributed to the system actor.
func (s *Service) ImportSnapshot(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	snap.sort()

	for _, sp := range snap.Persons {
		p, err := sp.toDomain()
		if err != nil {
			return err
		}
		if _, getErr := s.repo.GetPerson(ctx, p.ID); getErr == nil {
			if err := s.repo.UpdatePerson(ctx, p); err != nil {
				return err
			}
			continue
		} else if !errors.Is(getErr, ErrNotFound) {
			return getErr
		}
		if err := s.repo.CreatePerson(ctx, p); err != nil {
			return err
		}
	}

	for _, si := range snap.WorkItems {
		item, err := si.toDomain()
		if err != nil {
			return err
		}
		activity := s.newActivityRecord(snapshotActor, "imported", domain.EntityTypeWorkItem, item.ID, "imported work item "+item.ID, map[string]string{
			"snapshot_version": snap.Version,
		})
		if existing, getErr := s.repo.GetWorkItem(ctx, item.ID); getErr == nil {
			item.Version = existing.Version + 1
			if err := s.repo.UpdateWorkItemTracked(ctx, item, nil, activity); err != nil {
				return err
			}
			continue
		} else if !errors.Is(getErr, ErrNotFound) {
			return getErr
		}
		if err := s.repo.CreateWorkItem(ctx, item); err != nil {
			return err
		}
		if err := s.repo.AppendActivityRecord(ctx, activity); err != nil {
			return err
		}
	}

	for _, si := range snap.Initiatives {
		ini, err := si.toDomain()
		if err != nil {
			return err
		}
		activity := s.newActivityRecord(snapshotActor, "imported", domain.EntityTypeInitiative, ini.ID, "imported initiative "+ini.ID, map[string]string{
			"snapshot_version": snap.Version,
		})
		if _, getErr := s.repo.GetInitiative(ctx, ini.ID); getErr == nil {
			if err := s.repo.UpdateInitiativeTracked(ctx, ini, nil, activity); err != nil {
				return err
			}
			continue
		} else if !errors.Is(getErr, ErrNotFound) {
			return getErr
		}
		if err := s.repo.CreateInitiative(ctx, ini); err != nil {
			return err
		}
		if err := s.repo.AppendActivityRecord(ctx, activity); err != nil {
			return err
		}
	}

	s.pruneActivity(ctx)
	return nil
}

// Validate validates the requested operation.
func (s *Snapshot) Validate() error {
	if s.Version != "" && s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %q", s.Version)
	}

	personIDs := map[string]struct{}{}
	for i, p := range s.Persons {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("persons[%d].id is required", i)
		}
		if _, ok := personIDs[id]; ok {
			return fmt.Errorf("persons[%d].id is duplicated: %s", i, id)
		}
		personIDs[id] = struct{}{}
		if _, err := domain.ParseRole(p.Role); err != nil {
			return fmt.Errorf("persons[%d].role: %w", i, err)
		}
		// Caps import verbatim; zero is a legal cap (no commitments fit),
		// only negatives are malformed.
		if p.WorkloadCap < 0 || p.OverBeyondCap < 0 {
			return fmt.Errorf("persons[%d]: negative capacity cap", i)
		}
	}

	itemIDs := map[string]struct{}{}
	for i, item := range s.WorkItems {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return fmt.Errorf("work_items[%d].id is required", i)
		}
		if _, ok := itemIDs[id]; ok {
			return fmt.Errorf("work_items[%d].id is duplicated: %s", i, id)
		}
		itemIDs[id] = struct{}{}
		if _, err := domain.ParseStatus(item.Status); err != nil {
			return fmt.Errorf("work_items[%d].status: %w", i, err)
		}
		if _, err := domain.ParsePriority(item.Priority); err != nil {
			return fmt.Errorf("work_items[%d].priority: %w", i, err)
		}
	}

	iniIDs := map[string]struct{}{}
	for i, ini := range s.Initiatives {
		id := strings.TrimSpace(ini.ID)
		if id == "" {
			return fmt.Errorf("initiatives[%d].id is required", i)
		}
		if _, ok := iniIDs[id]; ok {
			return fmt.Errorf("initiatives[%d].id is duplicated: %s", i, id)
		}
		iniIDs[id] = struct{}{}
		if _, err := domain.ParseStatus(ini.Status); err != nil {
			return fmt.Errorf("initiatives[%d].status: %w", i, err)
		}
	}

	return nil
}

// sort orders snapshot collections deterministically.
func (s *Snapshot) sort() {
	sort.Slice(s.Persons, func(i, j int) bool { return s.Persons[i].ID < s.Persons[j].ID })
	sort.Slice(s.WorkItems, func(i, j int) bool { return s.WorkItems[i].ID < s.WorkItems[j].ID })
	sort.Slice(s.Initiatives, func(i, j int) bool { return s.Initiatives[i].ID < s.Initiatives[j].ID })
}

// snapshotPersonFromDomain maps a domain person onto the snapshot wire form.
func snapshotPersonFromDomain(p domain.Person) SnapshotPerson {
	return SnapshotPerson{
		ID:            p.ID,
		Name:          p.Name,
		Role:          string(p.Role),
		WorkloadCap:   p.WorkloadCap,
		OverBeyondCap: p.OverBeyondCap,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// toDomain maps the snapshot wire form back onto the domain.
func (sp SnapshotPerson) toDomain() (domain.Person, error) {
	role, err := domain.ParseRole(sp.Role)
	if err != nil {
		return domain.Person{}, err
	}
	p := domain.Person{
		ID:            strings.TrimSpace(sp.ID),
		Name:          strings.TrimSpace(sp.Name),
		Role:          role,
		WorkloadCap:   sp.WorkloadCap,
		OverBeyondCap: sp.OverBeyondCap,
		CreatedAt:     sp.CreatedAt.UTC(),
		UpdatedAt:     sp.UpdatedAt.UTC(),
	}
	return p, nil
}

// snapshotWorkItemFromDomain maps a domain work item onto the snapshot wire form.
func snapshotWorkItemFromDomain(item domain.WorkItem) SnapshotWorkItem {
	out := SnapshotWorkItem{
		ID:             item.ID,
		Title:          item.Title,
		Description:    item.Description,
		OwnerID:        item.OwnerID,
		Status:         string(item.Status),
		Priority:       string(item.Priority),
		Budget:         item.Budget,
		StartAt:        item.StartAt,
		DueAt:          item.DueAt,
		ManualProgress: item.ManualProgress,
		Version:        item.Version,
		LastActivityAt: item.LastActivityAt,
		CreatedAt:      item.CreatedAt,
		UpdatedAt:      item.UpdatedAt,
	}
	for _, a := range item.Assignments {
		out.Assignments = append(out.Assignments, SnapshotAssignment{
			PersonID:    a.PersonID,
			Involvement: a.Involvement,
			Role:        a.Role,
		})
	}
	for _, m := range item.Milestones {
		out.Milestones = append(out.Milestones, SnapshotMilestone{
			ID:        m.ID,
			Title:     m.Title,
			Completed: m.Completed,
			DueAt:     m.DueAt,
		})
	}
	return out
}

// toDomain maps the snapshot wire form back onto the domain.
func (si SnapshotWorkItem) toDomain() (domain.WorkItem, error) {
	status, err := domain.ParseStatus(si.Status)
	if err != nil {
		return domain.WorkItem{}, err
	}
	priority, err := domain.ParsePriority(si.Priority)
	if err != nil {
		return domain.WorkItem{}, err
	}

	assignments := make([]domain.Assignment, 0, len(si.Assignments))
	for _, a := range si.Assignments {
		assignments = append(assignments, domain.Assignment{
			PersonID:    a.PersonID,
			Involvement: a.Involvement,
			Role:        a.Role,
		})
	}
	assignments, err = domain.NormalizeAssignments(assignments)
	if err != nil {
		return domain.WorkItem{}, err
	}

	milestones := make([]domain.Milestone, 0, len(si.Milestones))
	for _, m := range si.Milestones {
		milestones = append(milestones, domain.Milestone{
			ID:        m.ID,
			Title:     m.Title,
			Completed: m.Completed,
			DueAt:     m.DueAt,
		})
	}
	milestones, err = domain.NormalizeMilestones(milestones)
	if err != nil {
		return domain.WorkItem{}, err
	}

	item := domain.WorkItem{
		ID:             strings.TrimSpace(si.ID),
		Title:          strings.TrimSpace(si.Title),
		Description:    si.Description,
		OwnerID:        strings.TrimSpace(si.OwnerID),
		Status:         status,
		Priority:       priority,
		Budget:         si.Budget,
		StartAt:        si.StartAt,
		DueAt:          si.DueAt,
		Assignments:    assignments,
		Milestones:     milestones,
		ManualProgress: si.ManualProgress,
		Version:        si.Version,
		LastActivityAt: si.LastActivityAt.UTC(),
		CreatedAt:      si.CreatedAt.UTC(),
		UpdatedAt:      si.UpdatedAt.UTC(),
	}
	if item.Version < 1 {
		item.Version = 1
	}
	return item, nil
}

// snapshotInitiativeFromDomain maps a domain initiative onto the snapshot wire form.
func snapshotInitiativeFromDomain(ini domain.Initiative) SnapshotInitiative {
	return SnapshotInitiative{
		ID:                 ini.ID,
		Name:               ini.Name,
		AssignedTo:         ini.AssignedTo,
		WorkloadPercentage: ini.WorkloadPercentage,
		Status:             string(ini.Status),
		CreatedAt:          ini.CreatedAt,
		UpdatedAt:          ini.UpdatedAt,
	}
}

// toDomain maps the snapshot wire form back onto the domain.
func (si SnapshotInitiative) toDomain() (domain.Initiative, error) {
	status, err := domain.ParseStatus(si.Status)
	if err != nil {
		return domain.Initiative{}, err
	}
	return domain.Initiative{
		ID:                 strings.TrimSpace(si.ID),
		Name:               strings.TrimSpace(si.Name),
		AssignedTo:         strings.TrimSpace(si.AssignedTo),
		WorkloadPercentage: si.WorkloadPercentage,
		Status:             status,
		CreatedAt:          si.CreatedAt.UTC(),
		UpdatedAt:          si.UpdatedAt.UTC(),
	}, nil
}
