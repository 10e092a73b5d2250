package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hylla/lastkoll/internal/domain"
)

// UpdateTrackedInput holds input values for tracked work item updates.
// Fields maps canonical field names to their proposed values.
type UpdateTrackedInput struct {
	EntityID string
	Fields   map[string]any
	Actor    string
	Reason   string
}

// Tracked field names accepted by UpdateTracked.
const (
	FieldTitle          = "title"
	FieldDescription    = "description"
	FieldStatus         = "status"
	FieldPriority       = "priority"
	FieldBudget         = "budget"
	FieldStartAt        = "start_at"
	FieldDueAt          = "due_at"
	FieldManualProgress = "manual_progress"
	FieldAssignments    = "assignments"
	FieldMilestones     = "milestones"
	FieldOwnerID        = "owner_id"
)

// fieldDiff captures one staged field change in canonical string form.
type fieldDiff struct {
	name     string
	oldValue string
	newValue string
}

// UpdateTracked applies a set of field updates to one work item atomically:
// authorization and capacity checks run first under the entity locks, and
// either every change record plus exactly one version bump is persisted, or
// nothing is. Fields whose canonical value did not change produce no record
// and a fully unchanged update bumps nothing.
func (s *Service) UpdateTracked(ctx context.Context, in UpdateTrackedInput) (domain.WorkItem, error) {
	in.EntityID = strings.TrimSpace(in.EntityID)
	if in.EntityID == "" {
		return domain.WorkItem{}, domain.ErrInvalidID
	}
	if len(in.Fields) == 0 {
		return domain.WorkItem{}, fmt.Errorf("%w: no fields", domain.ErrUnknownField)
	}
	fields, err := normalizeFieldKeys(in.Fields)
	if err != nil {
		return domain.WorkItem{}, err
	}
	in.Fields = fields

	release, err := s.acquireTrackedLocks(ctx, in)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer release()

	actor, err := s.resolveActor(ctx, in.Actor)
	if err != nil {
		return domain.WorkItem{}, err
	}
	item, err := s.repo.GetWorkItem(ctx, in.EntityID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := s.authorizeTrackedFields(actor, item, in.Fields); err != nil {
		return domain.WorkItem{}, err
	}

	staged, diffs, err := stageFieldUpdates(item, in.Fields)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if len(diffs) == 0 {
		return item, nil
	}

	if err := s.checkStagedCapacity(ctx, item, staged); err != nil {
		return domain.WorkItem{}, err
	}

	now := s.clock().UTC()
	records := make([]domain.ChangeRecord, 0, len(diffs))
	changedNames := make([]string, 0, len(diffs))
	for _, diff := range diffs {
		records = append(records, domain.ChangeRecord{
			EntityID:   staged.ID,
			FieldName:  diff.name,
			ChangeType: domain.ChangeTypeForField(diff.name),
			OldValue:   diff.oldValue,
			NewValue:   diff.newValue,
			Actor:      actor.ID,
			Reason:     strings.TrimSpace(in.Reason),
			OccurredAt: now,
		})
		changedNames = append(changedNames, diff.name)
	}

	staged.Version = item.Version + 1
	staged.UpdatedAt = now
	staged.LastActivityAt = now

	activity := s.newActivityRecord(actor.ID, "workitem.update", domain.EntityTypeWorkItem, staged.ID,
		fmt.Sprintf("updated %s", strings.Join(changedNames, ", ")),
		map[string]string{"version": fmt.Sprintf("%d", staged.Version)})
	if err := s.repo.UpdateWorkItemTracked(ctx, staged, records, activity); err != nil {
		return domain.WorkItem{}, err
	}
	s.pruneActivity(ctx)
	return staged, nil
}

// normalizeFieldKeys lowercases and trims incoming field names so every
// later lookup, the per-field authorization included, sees canonical keys.
// Two spellings of the same field are rejected rather than merged.
func normalizeFieldKeys(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		clean := strings.TrimSpace(strings.ToLower(name))
		if clean == "" {
			return nil, fmt.Errorf("%w: empty field name", domain.ErrUnknownField)
		}
		if _, dup := out[clean]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", domain.ErrUnknownField, clean)
		}
		out[clean] = value
	}
	return out, nil
}

// acquireTrackedLocks serializes the update on the item and every person
// whose pool it can touch. The set derived before locking can be stale if a
// concurrent update added an assignment, so it is re-derived under the held
// locks and widened until stable.
func (s *Service) acquireTrackedLocks(ctx context.Context, in UpdateTrackedInput) (func(), error) {
	ids, err := s.trackedLockSet(ctx, in)
	if err != nil {
		return nil, err
	}
	release := s.locks.Acquire(ids...)
	for {
		latest, err := s.trackedLockSet(ctx, in)
		if err != nil {
			release()
			return nil, err
		}
		grown := false
		for _, id := range latest {
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
				grown = true
			}
		}
		if !grown {
			return release, nil
		}
		release()
		release = s.locks.Acquire(ids...)
	}
}

// trackedLockSet collects the entity ids the update must serialize on: the
// item itself plus every person in its current and proposed assignments.
func (s *Service) trackedLockSet(ctx context.Context, in UpdateTrackedInput) ([]string, error) {
	ids := []string{in.EntityID}
	item, err := s.repo.GetWorkItem(ctx, in.EntityID)
	if err != nil {
		return nil, err
	}
	for _, a := range item.Assignments {
		ids = append(ids, a.PersonID)
	}
	if raw, ok := in.Fields[FieldAssignments]; ok {
		proposed, err := parseAssignments(raw)
		if err != nil {
			return nil, err
		}
		for _, a := range proposed {
			ids = append(ids, a.PersonID)
		}
	}
	return ids, nil
}

// authorizeTrackedFields fails closed per field class: progress overrides and
// assignment changes need dedicated capabilities on top of general edit.
func (s *Service) authorizeTrackedFields(actor domain.Person, item domain.WorkItem, fields map[string]any) error {
	owns := item.OwnerID == actor.ID
	if err := s.authorize(actor, owns, domain.CapabilityEditWorkItem); err != nil {
		return err
	}
	if _, ok := fields[FieldManualProgress]; ok {
		if err := s.authorize(actor, owns, domain.CapabilityEditProgress); err != nil {
			return err
		}
	}
	if _, ok := fields[FieldAssignments]; ok {
		if err := s.authorize(actor, owns, domain.CapabilityAssignEmployees); err != nil {
			return err
		}
	}
	return nil
}

// checkStagedCapacity validates the primary pool for every person assigned
// to the staged item whenever the staged state consumes capacity. The item
// itself is excluded from the recomputed totals.
func (s *Service) checkStagedCapacity(ctx context.Context, current, staged domain.WorkItem) error {
	if staged.Status != domain.StatusActive {
		return nil
	}
	assignmentsChanged := canonicalAssignments(current.Assignments) != canonicalAssignments(staged.Assignments)
	becameActive := current.Status != domain.StatusActive
	if !assignmentsChanged && !becameActive {
		return nil
	}
	for _, a := range staged.Assignments {
		if err := s.checkCommit(ctx, a.PersonID, a.Involvement, domain.PoolPrimary, staged.ID); err != nil {
			return err
		}
	}
	return nil
}

// stageFieldUpdates applies the proposed fields to a copy of the item and
// returns the staged copy plus the canonical diff, in deterministic field
// order. Field names arrive already normalized; nothing about the original
// item is mutated.
func stageFieldUpdates(item domain.WorkItem, fields map[string]any) (domain.WorkItem, []fieldDiff, error) {
	staged := item
	staged.Assignments = append([]domain.Assignment(nil), item.Assignments...)
	staged.Milestones = append([]domain.Milestone(nil), item.Milestones...)

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)

	diffs := make([]fieldDiff, 0, len(names))
	for _, name := range names {
		value := fields[name]
		diff, err := applyField(&staged, name, value)
		if err != nil {
			return domain.WorkItem{}, nil, err
		}
		if diff.oldValue != diff.newValue {
			diffs = append(diffs, diff)
		}
	}
	return staged, diffs, nil
}

// applyField parses one proposed value with explicit typing and applies it
// to the staged item, returning canonical old/new forms.
func applyField(staged *domain.WorkItem, name string, value any) (fieldDiff, error) {
	switch name {
	case FieldTitle:
		v, err := parseString(name, value)
		if err != nil {
			return fieldDiff{}, err
		}
		v = strings.TrimSpace(v)
		if v == "" {
			return fieldDiff{}, domain.ErrInvalidTitle
		}
		diff := fieldDiff{name: name, oldValue: staged.Title, newValue: v}
		staged.Title = v
		return diff, nil
	case FieldDescription:
		v, err := parseString(name, value)
		if err != nil {
			return fieldDiff{}, err
		}
		v = strings.TrimSpace(v)
		diff := fieldDiff{name: name, oldValue: staged.Description, newValue: v}
		staged.Description = v
		return diff, nil
	case FieldOwnerID:
		v, err := parseString(name, value)
		if err != nil {
			return fieldDiff{}, err
		}
		v = strings.TrimSpace(v)
		if v == "" {
			return fieldDiff{}, domain.ErrInvalidID
		}
		diff := fieldDiff{name: name, oldValue: staged.OwnerID, newValue: v}
		staged.OwnerID = v
		return diff, nil
	case FieldStatus:
		status, err := parseStatusValue(value)
		if err != nil {
			return fieldDiff{}, err
		}
		diff := fieldDiff{name: name, oldValue: string(staged.Status), newValue: string(status)}
		staged.Status = status
		return diff, nil
	case FieldPriority:
		priority, err := parsePriorityValue(value)
		if err != nil {
			return fieldDiff{}, err
		}
		diff := fieldDiff{name: name, oldValue: string(staged.Priority), newValue: string(priority)}
		staged.Priority = priority
		return diff, nil
	case FieldBudget:
		v, err := parseFloat(name, value)
		if err != nil {
			return fieldDiff{}, err
		}
		if v < 0 {
			return fieldDiff{}, fmt.Errorf("%w: budget %g", domain.ErrInvalidPercentage, v)
		}
		diff := fieldDiff{name: name, oldValue: canonicalFloat(staged.Budget), newValue: canonicalFloat(v)}
		staged.Budget = v
		return diff, nil
	case FieldStartAt:
		v, err := parseOptionalTime(name, value)
		if err != nil {
			return fieldDiff{}, err
		}
		diff := fieldDiff{name: name, oldValue: canonicalTime(staged.StartAt), newValue: canonicalTime(v)}
		staged.StartAt = v
		return diff, nil
	case FieldDueAt:
		v, err := parseOptionalTime(name, value)
		if err != nil {
			return fieldDiff{}, err
		}
		diff := fieldDiff{name: name, oldValue: canonicalTime(staged.DueAt), newValue: canonicalTime(v)}
		staged.DueAt = v
		return diff, nil
	case FieldManualProgress:
		v, err := parseOptionalFloat(name, value)
		if err != nil {
			return fieldDiff{}, err
		}
		if v != nil && (*v < 0 || *v > 100) {
			return fieldDiff{}, fmt.Errorf("%w: manual progress %g", domain.ErrInvalidPercentage, *v)
		}
		diff := fieldDiff{name: name, oldValue: canonicalManualProgress(staged.ManualProgress), newValue: canonicalManualProgress(v)}
		staged.ManualProgress = v
		return diff, nil
	case FieldAssignments:
		raw, err := parseAssignments(value)
		if err != nil {
			return fieldDiff{}, err
		}
		normalized, err := domain.NormalizeAssignments(raw)
		if err != nil {
			return fieldDiff{}, err
		}
		diff := fieldDiff{name: name, oldValue: canonicalAssignments(staged.Assignments), newValue: canonicalAssignments(normalized)}
		staged.Assignments = normalized
		return diff, nil
	case FieldMilestones:
		raw, err := parseMilestones(value)
		if err != nil {
			return fieldDiff{}, err
		}
		normalized, err := domain.NormalizeMilestones(raw)
		if err != nil {
			return fieldDiff{}, err
		}
		diff := fieldDiff{name: name, oldValue: canonicalMilestones(staged.Milestones), newValue: canonicalMilestones(normalized)}
		staged.Milestones = normalized
		return diff, nil
	default:
		return fieldDiff{}, fmt.Errorf("%w: %q", domain.ErrUnknownField, name)
	}
}

func parseString(name string, value any) (string, error) {
	v, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s expects a string", domain.ErrUnknownField, name)
	}
	return v, nil
}

func parseFloat(name string, value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: %s expects a number", domain.ErrUnknownField, name)
	}
}

func parseOptionalFloat(name string, value any) (*float64, error) {
	if value == nil {
		return nil, nil
	}
	if v, ok := value.(*float64); ok {
		return v, nil
	}
	v, err := parseFloat(name, value)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseOptionalTime(name string, value any) (*time.Time, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		ts := v.UTC().Truncate(time.Second)
		return &ts, nil
	case time.Time:
		ts := v.UTC().Truncate(time.Second)
		return &ts, nil
	default:
		return nil, fmt.Errorf("%w: %s expects a time", domain.ErrUnknownField, name)
	}
}

func parseStatusValue(value any) (domain.Status, error) {
	switch v := value.(type) {
	case domain.Status:
		if !domain.IsValidStatus(v) {
			return "", domain.ErrInvalidStatus
		}
		return v, nil
	case string:
		return domain.ParseStatus(v)
	default:
		return "", domain.ErrInvalidStatus
	}
}

func parsePriorityValue(value any) (domain.Priority, error) {
	switch v := value.(type) {
	case domain.Priority:
		return domain.ParsePriority(string(v))
	case string:
		return domain.ParsePriority(v)
	default:
		return "", domain.ErrInvalidPriority
	}
}

func parseAssignments(value any) ([]domain.Assignment, error) {
	v, ok := value.([]domain.Assignment)
	if !ok {
		return nil, fmt.Errorf("%w: assignments expects an assignment list", domain.ErrUnknownField)
	}
	return v, nil
}

func parseMilestones(value any) ([]domain.Milestone, error) {
	v, ok := value.([]domain.Milestone)
	if !ok {
		return nil, fmt.Errorf("%w: milestones expects a milestone list", domain.ErrUnknownField)
	}
	return v, nil
}
