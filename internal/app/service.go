package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hylla/lastkoll/internal/domain"
)

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// DefaultActivityRetention bounds the activity log when no limit is configured.
const DefaultActivityRetention = 1000

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	ActivityRetention    int
	DefaultWorkloadCap   float64
	DefaultOverBeyondCap float64
}

// Service owns all mutations on tracked entities. Every mutating call is
// attributed to an actor resolved against the person directory and
// serialized per entity through the lock registry.
type Service struct {
	repo                 Repository
	idGen                IDGenerator
	clock                Clock
	locks                *entityLocks
	activityRetention    int
	defaultWorkloadCap   float64
	defaultOverBeyondCap float64
}

// NewService constructs a new value for this package.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.ActivityRetention <= 0 {
		cfg.ActivityRetention = DefaultActivityRetention
	}
	if cfg.DefaultWorkloadCap <= 0 {
		cfg.DefaultWorkloadCap = domain.DefaultWorkloadCap
	}
	if cfg.DefaultOverBeyondCap <= 0 {
		cfg.DefaultOverBeyondCap = domain.DefaultOverBeyondCap
	}
	return &Service{
		repo:                 repo,
		idGen:                idGen,
		clock:                clock,
		locks:                newEntityLocks(),
		activityRetention:    cfg.ActivityRetention,
		defaultWorkloadCap:   cfg.DefaultWorkloadCap,
		defaultOverBeyondCap: cfg.DefaultOverBeyondCap,
	}
}

// resolveActor loads the actor's directory entry; unknown actors fail closed.
func (s *Service) resolveActor(ctx context.Context, actor string) (domain.Person, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return domain.Person{}, domain.ErrUnauthorized
	}
	person, err := s.repo.GetPerson(ctx, actor)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Person{}, fmt.Errorf("%w: unknown actor %q", domain.ErrUnauthorized, actor)
		}
		return domain.Person{}, err
	}
	return person, nil
}

// authorize checks one capability for the resolved actor.
func (s *Service) authorize(actor domain.Person, ownsResource bool, capability domain.Capability) error {
	if !domain.RoleAllows(actor.Role, ownsResource, capability) {
		log.Warn("mutation blocked: capability denied",
			"actor", actor.ID, "role", actor.Role, "capability", capability)
		return fmt.Errorf("%w: %s requires %s", domain.ErrUnauthorized, actor.ID, capability)
	}
	return nil
}

// EnsureBootstrapAdmin creates an admin entry when the directory is empty so
// the first mutating call has an actor to attribute. Existing directories are
// returned untouched.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, name string) (domain.Person, error) {
	persons, err := s.repo.ListPersons(ctx)
	if err != nil {
		return domain.Person{}, err
	}
	if len(persons) > 0 {
		for _, p := range persons {
			if p.Role == domain.RoleAdmin {
				return p, nil
			}
		}
		return domain.Person{}, fmt.Errorf("%w: directory has no admin", domain.ErrUnauthorized)
	}

	now := s.clock()
	admin, err := domain.NewPerson(domain.PersonInput{
		ID:            s.idGen(),
		Name:          name,
		Role:          domain.RoleAdmin,
		WorkloadCap:   s.defaultWorkloadCap,
		OverBeyondCap: s.defaultOverBeyondCap,
	}, now)
	if err != nil {
		return domain.Person{}, err
	}
	if err := s.repo.CreatePerson(ctx, admin); err != nil {
		return domain.Person{}, err
	}
	s.recordActivity(ctx, admin.ID, "person.bootstrap", domain.EntityTypePerson, admin.ID,
		fmt.Sprintf("bootstrapped admin %q", admin.Name), nil)
	return admin, nil
}

// CreatePersonInput holds input values for create person operations.
type CreatePersonInput struct {
	Name          string
	Role          string
	WorkloadCap   float64
	OverBeyondCap float64
	Actor         string
}

// CreatePerson adds a directory entry. The external role string is translated
// to the closed enum at this boundary and rejected when unknown.
func (s *Service) CreatePerson(ctx context.Context, in CreatePersonInput) (domain.Person, error) {
	actor, err := s.resolveActor(ctx, in.Actor)
	if err != nil {
		return domain.Person{}, err
	}
	if err := s.authorize(actor, false, domain.CapabilityManageUsers); err != nil {
		return domain.Person{}, err
	}
	role, err := domain.ParseRole(in.Role)
	if err != nil {
		return domain.Person{}, fmt.Errorf("%w: %q", err, in.Role)
	}

	workloadCap := in.WorkloadCap
	if workloadCap == 0 {
		workloadCap = s.defaultWorkloadCap
	}
	overBeyondCap := in.OverBeyondCap
	if overBeyondCap == 0 {
		overBeyondCap = s.defaultOverBeyondCap
	}
	person, err := domain.NewPerson(domain.PersonInput{
		ID:            s.idGen(),
		Name:          in.Name,
		Role:          role,
		WorkloadCap:   workloadCap,
		OverBeyondCap: overBeyondCap,
	}, s.clock())
	if err != nil {
		return domain.Person{}, err
	}
	if err := s.repo.CreatePerson(ctx, person); err != nil {
		return domain.Person{}, err
	}
	s.recordActivity(ctx, actor.ID, "person.create", domain.EntityTypePerson, person.ID,
		fmt.Sprintf("created %q with role %s", person.Name, person.Role), nil)
	return person, nil
}

// SetCapacityInput holds input values for capacity limit updates.
type SetCapacityInput struct {
	PersonID      string
	WorkloadCap   float64
	OverBeyondCap float64
	Actor         string
}

// SetPersonCapacity replaces both pool caps for one person. Restricted to
// Admin and ProgramManager.
func (s *Service) SetPersonCapacity(ctx context.Context, in SetCapacityInput) (domain.Person, error) {
	actor, err := s.resolveActor(ctx, in.Actor)
	if err != nil {
		return domain.Person{}, err
	}
	if err := s.authorize(actor, false, domain.CapabilityManageCapacity); err != nil {
		return domain.Person{}, err
	}

	release := s.locks.Acquire(in.PersonID)
	defer release()

	person, err := s.repo.GetPerson(ctx, strings.TrimSpace(in.PersonID))
	if err != nil {
		return domain.Person{}, err
	}
	if err := person.SetCapacity(in.WorkloadCap, in.OverBeyondCap, s.clock()); err != nil {
		return domain.Person{}, err
	}
	if err := s.repo.UpdatePerson(ctx, person); err != nil {
		return domain.Person{}, err
	}
	s.recordActivity(ctx, actor.ID, "person.capacity", domain.EntityTypePerson, person.ID,
		fmt.Sprintf("capacity set to %g/%g", person.WorkloadCap, person.OverBeyondCap), nil)
	return person, nil
}

// GetPerson returns one directory entry.
func (s *Service) GetPerson(ctx context.Context, id string) (domain.Person, error) {
	return s.repo.GetPerson(ctx, strings.TrimSpace(id))
}

// ListPersons lists directory entries.
func (s *Service) ListPersons(ctx context.Context) ([]domain.Person, error) {
	return s.repo.ListPersons(ctx)
}

// CreateWorkItemInput holds input values for create work item operations.
type CreateWorkItemInput struct {
	Title       string
	Description string
	OwnerID     string
	Status      domain.Status
	Priority    domain.Priority
	Budget      float64
	StartAt     *time.Time
	DueAt       *time.Time
	Milestones  []domain.Milestone
	Actor       string
}

// CreateWorkItem creates a work item at version 1.
func (s *Service) CreateWorkItem(ctx context.Context, in CreateWorkItemInput) (domain.WorkItem, error) {
	actor, err := s.resolveActor(ctx, in.Actor)
	if err != nil {
		return domain.WorkItem{}, err
	}
	ownerID := strings.TrimSpace(in.OwnerID)
	if ownerID == "" {
		ownerID = actor.ID
	}
	if err := s.authorize(actor, ownerID == actor.ID, domain.CapabilityEditWorkItem); err != nil {
		return domain.WorkItem{}, err
	}
	if _, err := s.repo.GetPerson(ctx, ownerID); err != nil {
		return domain.WorkItem{}, err
	}

	item, err := domain.NewWorkItem(domain.WorkItemInput{
		ID:          s.idGen(),
		Title:       in.Title,
		Description: in.Description,
		OwnerID:     ownerID,
		Status:      in.Status,
		Priority:    in.Priority,
		Budget:      in.Budget,
		StartAt:     in.StartAt,
		DueAt:       in.DueAt,
		Milestones:  in.Milestones,
	}, s.clock())
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := s.repo.CreateWorkItem(ctx, item); err != nil {
		return domain.WorkItem{}, err
	}
	s.recordActivity(ctx, actor.ID, "workitem.create", domain.EntityTypeWorkItem, item.ID,
		fmt.Sprintf("created %q", item.Title), map[string]string{"status": string(item.Status)})
	return item, nil
}

// DeleteWorkItem removes a work item, cascading to its assignments. Audit
// rows for the item survive deletion but are no longer served by GetHistory.
func (s *Service) DeleteWorkItem(ctx context.Context, id, actorID string) error {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return err
	}

	id = strings.TrimSpace(id)
	release := s.locks.Acquire(id)
	defer release()

	item, err := s.repo.GetWorkItem(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, item.OwnerID == actor.ID, domain.CapabilityDeleteWorkItem); err != nil {
		return err
	}
	activity := s.newActivityRecord(actor.ID, "workitem.delete", domain.EntityTypeWorkItem, item.ID,
		fmt.Sprintf("deleted %q", item.Title), nil)
	if err := s.repo.DeleteWorkItem(ctx, id, activity); err != nil {
		return err
	}
	s.pruneActivity(ctx)
	return nil
}

// GetWorkItem returns one work item.
func (s *Service) GetWorkItem(ctx context.Context, id string) (domain.WorkItem, error) {
	return s.repo.GetWorkItem(ctx, strings.TrimSpace(id))
}

// ListWorkItems lists all work items.
func (s *Service) ListWorkItems(ctx context.Context) ([]domain.WorkItem, error) {
	return s.repo.ListWorkItems(ctx)
}

// CreateInitiativeInput holds input values for create initiative operations.
type CreateInitiativeInput struct {
	Name               string
	AssignedTo         string
	WorkloadPercentage float64
	Status             domain.Status
	Actor              string
}

// CreateInitiative creates a discretionary item. When it arrives assigned and
// active, the discretionary pool is checked before anything is persisted.
func (s *Service) CreateInitiative(ctx context.Context, in CreateInitiativeInput) (domain.Initiative, error) {
	actor, err := s.resolveActor(ctx, in.Actor)
	if err != nil {
		return domain.Initiative{}, err
	}
	if err := s.authorize(actor, false, domain.CapabilityAssignEmployees); err != nil {
		return domain.Initiative{}, err
	}

	initiative, err := domain.NewInitiative(domain.InitiativeInput{
		ID:                 s.idGen(),
		Name:               in.Name,
		AssignedTo:         in.AssignedTo,
		WorkloadPercentage: in.WorkloadPercentage,
		Status:             in.Status,
	}, s.clock())
	if err != nil {
		return domain.Initiative{}, err
	}

	if initiative.CountsAgainstPool() {
		release := s.locks.Acquire(initiative.AssignedTo)
		defer release()
		if err := s.checkCommit(ctx, initiative.AssignedTo, initiative.WorkloadPercentage, domain.PoolDiscretionary, initiative.ID); err != nil {
			return domain.Initiative{}, err
		}
	}
	if err := s.repo.CreateInitiative(ctx, initiative); err != nil {
		return domain.Initiative{}, err
	}
	s.recordActivity(ctx, actor.ID, "initiative.create", domain.EntityTypeInitiative, initiative.ID,
		fmt.Sprintf("created %q", initiative.Name), nil)
	return initiative, nil
}

// SetInitiativeStatusInput holds input values for initiative status changes.
type SetInitiativeStatusInput struct {
	InitiativeID string
	Status       string
	Actor        string
	Reason       string
}

// SetInitiativeStatus moves an initiative through its lifecycle. Completing
// or cancelling an assigned initiative releases its discretionary
// commitment; reactivating one re-checks the pool first. The change lands in
// the audit trail like any tracked mutation.
func (s *Service) SetInitiativeStatus(ctx context.Context, in SetInitiativeStatusInput) (domain.Initiative, error) {
	actor, err := s.resolveActor(ctx, in.Actor)
	if err != nil {
		return domain.Initiative{}, err
	}
	if err := s.authorize(actor, false, domain.CapabilityAssignEmployees); err != nil {
		return domain.Initiative{}, err
	}
	status, err := domain.ParseStatus(in.Status)
	if err != nil {
		return domain.Initiative{}, err
	}

	// The assigned person's pool is part of the serialization set, and the
	// assignment can move between the unlocked read and the lock. Re-read
	// under the locks and retry until the set is stable.
	in.InitiativeID = strings.TrimSpace(in.InitiativeID)
	var initiative domain.Initiative
	for {
		peek, err := s.repo.GetInitiative(ctx, in.InitiativeID)
		if err != nil {
			return domain.Initiative{}, err
		}
		release := s.locks.Acquire(in.InitiativeID, peek.AssignedTo)
		current, err := s.repo.GetInitiative(ctx, in.InitiativeID)
		if err != nil {
			release()
			return domain.Initiative{}, err
		}
		if current.AssignedTo == peek.AssignedTo {
			initiative = current
			defer release()
			break
		}
		release()
	}
	if initiative.Status == status {
		return initiative, nil
	}

	next := initiative
	next.Status = status
	if next.CountsAgainstPool() && !initiative.CountsAgainstPool() {
		if err := s.checkCommit(ctx, next.AssignedTo, next.WorkloadPercentage, domain.PoolDiscretionary, next.ID); err != nil {
			return domain.Initiative{}, err
		}
	}

	now := s.clock().UTC()
	next.UpdatedAt = now
	records := []domain.ChangeRecord{{
		EntityID:   next.ID,
		FieldName:  FieldStatus,
		ChangeType: domain.ChangeTypeStatus,
		OldValue:   string(initiative.Status),
		NewValue:   string(next.Status),
		Actor:      actor.ID,
		Reason:     strings.TrimSpace(in.Reason),
		OccurredAt: now,
	}}
	activity := s.newActivityRecord(actor.ID, "initiative.status", domain.EntityTypeInitiative, next.ID,
		fmt.Sprintf("status %s -> %s", initiative.Status, next.Status), nil)
	if err := s.repo.UpdateInitiativeTracked(ctx, next, records, activity); err != nil {
		return domain.Initiative{}, err
	}
	s.pruneActivity(ctx)
	return next, nil
}

// GetInitiative returns one initiative.
func (s *Service) GetInitiative(ctx context.Context, id string) (domain.Initiative, error) {
	return s.repo.GetInitiative(ctx, strings.TrimSpace(id))
}

// ListInitiatives lists all initiatives.
func (s *Service) ListInitiatives(ctx context.Context) ([]domain.Initiative, error) {
	return s.repo.ListInitiatives(ctx)
}

// ReconcileProgress loads one work item and reconciles its progress signals.
func (s *Service) ReconcileProgress(ctx context.Context, itemID string) (domain.ProgressResult, error) {
	item, err := s.repo.GetWorkItem(ctx, strings.TrimSpace(itemID))
	if err != nil {
		return domain.ProgressResult{}, err
	}
	return domain.ReconcileProgress(item, s.clock()), nil
}

// ValidateConsistency loads one work item and reports soft anomalies.
func (s *Service) ValidateConsistency(ctx context.Context, itemID string) (domain.ConsistencyReport, error) {
	item, err := s.repo.GetWorkItem(ctx, strings.TrimSpace(itemID))
	if err != nil {
		return domain.ConsistencyReport{}, err
	}
	return domain.ValidateConsistency(item, s.clock()), nil
}

// GetHistory returns the change trail for one tracked entity, oldest first.
// The entity must still exist; audit rows for deleted entities are retained
// in storage but not served here.
func (s *Service) GetHistory(ctx context.Context, entityID string) ([]domain.ChangeRecord, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, domain.ErrInvalidID
	}
	if _, err := s.repo.GetWorkItem(ctx, entityID); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if _, iniErr := s.repo.GetInitiative(ctx, entityID); iniErr != nil {
			return nil, iniErr
		}
	}
	return s.repo.ListChangeRecords(ctx, entityID)
}

// QueryActivity returns activity records most-recent-first, optionally
// filtered by entity type and id.
func (s *Service) QueryActivity(ctx context.Context, filter ActivityFilter, limit int) ([]domain.ActivityRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListActivityRecords(ctx, filter, limit)
}

// newActivityRecord builds one activity entry stamped with the service clock.
func (s *Service) newActivityRecord(actor, action, entityType, entityID, details string, metadata map[string]string) domain.ActivityRecord {
	return domain.ActivityRecord{
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		Metadata:   metadata,
		OccurredAt: s.clock().UTC(),
	}
}

// recordActivity appends one entry to the bounded activity log. Failures are
// logged rather than propagated: the mutation they describe already
// committed.
func (s *Service) recordActivity(ctx context.Context, actor, action, entityType, entityID, details string, metadata map[string]string) {
	record := s.newActivityRecord(actor, action, entityType, entityID, details, metadata)
	if err := s.repo.AppendActivityRecord(ctx, record); err != nil {
		log.Warn("activity append failed", "action", action, "entity_id", entityID, "err", err)
		return
	}
	s.pruneActivity(ctx)
}

// pruneActivity enforces FIFO retention on the activity log.
func (s *Service) pruneActivity(ctx context.Context) {
	if err := s.repo.PruneActivityRecords(ctx, s.activityRetention); err != nil {
		log.Warn("activity prune failed", "retention", s.activityRetention, "err", err)
	}
}
