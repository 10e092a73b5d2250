package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/lastkoll/internal/domain"
)

// capacityEpsilon absorbs float drift at the inclusive cap boundary.
const capacityEpsilon = 1e-9

// WorkloadSnapshot summarizes one person's commitments across both pools.
type WorkloadSnapshot struct {
	PersonID               string
	PrimaryCommitted       float64
	DiscretionaryCommitted float64
	Total                  float64
	AvailablePrimary       float64
	AvailableDiscretionary float64
	IsOverloaded           bool
}

// ComputeWorkload sums the person's involvement across Active work items and
// the workload of Active initiatives assigned to them. Display readers may
// call this without holding the person lock; authorizing reads go through
// checkCommit, which runs under it.
func (s *Service) ComputeWorkload(ctx context.Context, personID string) (WorkloadSnapshot, error) {
	personID = strings.TrimSpace(personID)
	person, err := s.repo.GetPerson(ctx, personID)
	if err != nil {
		return WorkloadSnapshot{}, err
	}

	primary, err := s.committedInPool(ctx, personID, domain.PoolPrimary, "")
	if err != nil {
		return WorkloadSnapshot{}, err
	}
	discretionary, err := s.committedInPool(ctx, personID, domain.PoolDiscretionary, "")
	if err != nil {
		return WorkloadSnapshot{}, err
	}

	snapshot := WorkloadSnapshot{
		PersonID:               personID,
		PrimaryCommitted:       primary,
		DiscretionaryCommitted: discretionary,
		Total:                  primary + discretionary,
		AvailablePrimary:       max(0, person.WorkloadCap-primary),
		AvailableDiscretionary: max(0, person.OverBeyondCap-discretionary),
		IsOverloaded: primary > person.WorkloadCap+capacityEpsilon ||
			discretionary > person.OverBeyondCap+capacityEpsilon,
	}
	return snapshot, nil
}

// CanCommit reports whether a commitment of the given amount fits the pool
// cap. The item being edited is excluded from the recomputed total so
// editing an existing commitment does not count itself twice.
func (s *Service) CanCommit(ctx context.Context, personID string, amount float64, pool domain.Pool, excludingItemID string) (bool, error) {
	err := s.checkCommit(ctx, strings.TrimSpace(personID), amount, pool, strings.TrimSpace(excludingItemID))
	if err != nil {
		var capErr *domain.CapacityExceededError
		if errors.As(err, &capErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// checkCommit enforces the inclusive cap bound, returning a
// CapacityExceededError describing the violated pool on rejection.
func (s *Service) checkCommit(ctx context.Context, personID string, amount float64, pool domain.Pool, excludingItemID string) error {
	if amount < 0 || amount > 100 {
		return fmt.Errorf("%w: commitment %g", domain.ErrInvalidPercentage, amount)
	}
	person, err := s.repo.GetPerson(ctx, personID)
	if err != nil {
		return err
	}
	committed, err := s.committedInPool(ctx, personID, pool, excludingItemID)
	if err != nil {
		return err
	}
	cap := person.CapFor(pool)
	if committed+amount > cap+capacityEpsilon {
		return &domain.CapacityExceededError{
			PersonID:  personID,
			Pool:      pool,
			Current:   committed,
			Cap:       cap,
			Attempted: amount,
		}
	}
	return nil
}

// committedInPool recomputes one pool total, optionally excluding one item.
func (s *Service) committedInPool(ctx context.Context, personID string, pool domain.Pool, excludingItemID string) (float64, error) {
	total := 0.0
	switch pool {
	case domain.PoolDiscretionary:
		initiatives, err := s.repo.ListInitiativesForPerson(ctx, personID)
		if err != nil {
			return 0, err
		}
		for _, ini := range initiatives {
			if ini.ID == excludingItemID || !ini.CountsAgainstPool() {
				continue
			}
			total += ini.WorkloadPercentage
		}
	default:
		items, err := s.repo.ListWorkItemsForPerson(ctx, personID)
		if err != nil {
			return 0, err
		}
		for _, item := range items {
			if item.ID == excludingItemID || item.Status != domain.StatusActive {
				continue
			}
			if a, ok := item.AssignmentFor(personID); ok {
				total += a.Involvement
			}
		}
	}
	return total, nil
}

// AssignInput holds input values for assignment operations. TargetID may
// name a work item or an initiative.
type AssignInput struct {
	TargetID string
	PersonID string
	Amount   float64
	Role     string
	Actor    string
}

// Assign upserts a commitment on a work item or initiative. The cap check is
// strict: an over-cap request is rejected, never clamped.
func (s *Service) Assign(ctx context.Context, in AssignInput) error {
	in.TargetID = strings.TrimSpace(in.TargetID)
	in.PersonID = strings.TrimSpace(in.PersonID)
	if in.TargetID == "" || in.PersonID == "" {
		return domain.ErrInvalidID
	}
	if _, err := s.repo.GetPerson(ctx, in.PersonID); err != nil {
		return err
	}

	item, err := s.repo.GetWorkItem(ctx, in.TargetID)
	if err == nil {
		return s.assignToWorkItem(ctx, item, in)
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.assignToInitiative(ctx, in)
}

// assignToWorkItem routes the assignment upsert through the tracked path so
// the change lands in the audit trail with a capacity check first.
func (s *Service) assignToWorkItem(ctx context.Context, item domain.WorkItem, in AssignInput) error {
	next := append([]domain.Assignment(nil), item.Assignments...)
	replaced := false
	for i, a := range next {
		if a.PersonID == in.PersonID {
			next[i] = domain.Assignment{PersonID: in.PersonID, Involvement: in.Amount, Role: in.Role}
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, domain.Assignment{PersonID: in.PersonID, Involvement: in.Amount, Role: in.Role})
	}

	_, err := s.UpdateTracked(ctx, UpdateTrackedInput{
		EntityID: item.ID,
		Fields:   map[string]any{"assignments": next},
		Actor:    in.Actor,
		Reason:   fmt.Sprintf("assign %s at %g%%", in.PersonID, in.Amount),
	})
	return err
}

// assignToInitiative moves an initiative onto a person's discretionary pool
// with the same strict check and audit treatment as work item assignments.
func (s *Service) assignToInitiative(ctx context.Context, in AssignInput) error {
	actor, err := s.resolveActor(ctx, in.Actor)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, false, domain.CapabilityAssignEmployees); err != nil {
		return err
	}
	if in.Amount <= 0 || in.Amount > 100 {
		return fmt.Errorf("%w: commitment %g", domain.ErrInvalidPercentage, in.Amount)
	}

	release := s.locks.Acquire(in.TargetID, in.PersonID)
	defer release()

	initiative, err := s.repo.GetInitiative(ctx, in.TargetID)
	if err != nil {
		return err
	}
	if initiative.Status == domain.StatusActive {
		if err := s.checkCommit(ctx, in.PersonID, in.Amount, domain.PoolDiscretionary, initiative.ID); err != nil {
			return err
		}
	}

	now := s.clock().UTC()
	records := make([]domain.ChangeRecord, 0, 2)
	if initiative.AssignedTo != in.PersonID {
		records = append(records, domain.ChangeRecord{
			EntityID:   initiative.ID,
			FieldName:  "assigned_to",
			ChangeType: domain.ChangeTypeOther,
			OldValue:   initiative.AssignedTo,
			NewValue:   in.PersonID,
			Actor:      actor.ID,
			OccurredAt: now,
		})
	}
	if initiative.WorkloadPercentage != in.Amount {
		records = append(records, domain.ChangeRecord{
			EntityID:   initiative.ID,
			FieldName:  "workload_percentage",
			ChangeType: domain.ChangeTypeOther,
			OldValue:   canonicalFloat(initiative.WorkloadPercentage),
			NewValue:   canonicalFloat(in.Amount),
			Actor:      actor.ID,
			OccurredAt: now,
		})
	}
	if len(records) == 0 {
		return nil
	}

	initiative.AssignedTo = in.PersonID
	initiative.WorkloadPercentage = in.Amount
	initiative.UpdatedAt = now

	activity := s.newActivityRecord(actor.ID, "initiative.assign", domain.EntityTypeInitiative, initiative.ID,
		fmt.Sprintf("assigned %s at %g%%", in.PersonID, in.Amount), nil)
	if err := s.repo.UpdateInitiativeTracked(ctx, initiative, records, activity); err != nil {
		return err
	}
	s.pruneActivity(ctx)
	return nil
}
