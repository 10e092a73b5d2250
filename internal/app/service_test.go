package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hylla/lastkoll/internal/domain"
)

type fakeRepo struct {
	persons        map[string]domain.Person
	items          map[string]domain.WorkItem
	initiatives    map[string]domain.Initiative
	changes        []domain.ChangeRecord
	activity       []domain.ActivityRecord
	nextChangeID   int64
	nextActivityID int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		persons:     map[string]domain.Person{},
		items:       map[string]domain.WorkItem{},
		initiatives: map[string]domain.Initiative{},
	}
}

func (f *fakeRepo) CreatePerson(_ context.Context, p domain.Person) error {
	f.persons[p.ID] = p
	return nil
}

func (f *fakeRepo) UpdatePerson(_ context.Context, p domain.Person) error {
	if _, ok := f.persons[p.ID]; !ok {
		return ErrNotFound
	}
	f.persons[p.ID] = p
	return nil
}

func (f *fakeRepo) GetPerson(_ context.Context, id string) (domain.Person, error) {
	p, ok := f.persons[id]
	if !ok {
		return domain.Person{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) ListPersons(_ context.Context) ([]domain.Person, error) {
	out := make([]domain.Person, 0, len(f.persons))
	for _, p := range f.persons {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeRepo) CreateWorkItem(_ context.Context, item domain.WorkItem) error {
	f.items[item.ID] = item
	return nil
}

func (f *fakeRepo) UpdateWorkItemTracked(_ context.Context, item domain.WorkItem, records []domain.ChangeRecord, activity domain.ActivityRecord) error {
	existing, ok := f.items[item.ID]
	if !ok {
		return ErrNotFound
	}
	if item.Version != existing.Version+1 {
		return ErrVersionConflict
	}
	f.items[item.ID] = item
	for _, record := range records {
		f.nextChangeID++
		record.ID = f.nextChangeID
		f.changes = append(f.changes, record)
	}
	f.appendActivity(activity)
	return nil
}

func (f *fakeRepo) GetWorkItem(_ context.Context, id string) (domain.WorkItem, error) {
	item, ok := f.items[id]
	if !ok {
		return domain.WorkItem{}, ErrNotFound
	}
	return item, nil
}

func (f *fakeRepo) ListWorkItems(_ context.Context) ([]domain.WorkItem, error) {
	out := make([]domain.WorkItem, 0, len(f.items))
	for _, item := range f.items {
		out = append(out, item)
	}
	return out, nil
}

func (f *fakeRepo) ListWorkItemsForPerson(_ context.Context, personID string) ([]domain.WorkItem, error) {
	out := []domain.WorkItem{}
	for _, item := range f.items {
		if _, ok := item.AssignmentFor(personID); ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeRepo) DeleteWorkItem(_ context.Context, id string, activity domain.ActivityRecord) error {
	if _, ok := f.items[id]; !ok {
		return ErrNotFound
	}
	delete(f.items, id)
	f.appendActivity(activity)
	return nil
}

func (f *fakeRepo) CreateInitiative(_ context.Context, ini domain.Initiative) error {
	f.initiatives[ini.ID] = ini
	return nil
}

func (f *fakeRepo) UpdateInitiativeTracked(_ context.Context, ini domain.Initiative, records []domain.ChangeRecord, activity domain.ActivityRecord) error {
	if _, ok := f.initiatives[ini.ID]; !ok {
		return ErrNotFound
	}
	f.initiatives[ini.ID] = ini
	for _, record := range records {
		f.nextChangeID++
		record.ID = f.nextChangeID
		f.changes = append(f.changes, record)
	}
	f.appendActivity(activity)
	return nil
}

func (f *fakeRepo) GetInitiative(_ context.Context, id string) (domain.Initiative, error) {
	ini, ok := f.initiatives[id]
	if !ok {
		return domain.Initiative{}, ErrNotFound
	}
	return ini, nil
}

func (f *fakeRepo) ListInitiatives(_ context.Context) ([]domain.Initiative, error) {
	out := make([]domain.Initiative, 0, len(f.initiatives))
	for _, ini := range f.initiatives {
		out = append(out, ini)
	}
	return out, nil
}

func (f *fakeRepo) ListInitiativesForPerson(_ context.Context, personID string) ([]domain.Initiative, error) {
	out := []domain.Initiative{}
	for _, ini := range f.initiatives {
		if ini.AssignedTo == personID {
			out = append(out, ini)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListChangeRecords(_ context.Context, entityID string) ([]domain.ChangeRecord, error) {
	out := []domain.ChangeRecord{}
	for _, record := range f.changes {
		if record.EntityID == entityID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (f *fakeRepo) AppendActivityRecord(_ context.Context, record domain.ActivityRecord) error {
	f.appendActivity(record)
	return nil
}

func (f *fakeRepo) PruneActivityRecords(_ context.Context, keep int) error {
	if keep <= 0 || len(f.activity) <= keep {
		return nil
	}
	f.activity = append([]domain.ActivityRecord(nil), f.activity[len(f.activity)-keep:]...)
	return nil
}

func (f *fakeRepo) ListActivityRecords(_ context.Context, filter ActivityFilter, limit int) ([]domain.ActivityRecord, error) {
	out := []domain.ActivityRecord{}
	for i := len(f.activity) - 1; i >= 0 && len(out) < limit; i-- {
		record := f.activity[i]
		if filter.EntityType != "" && record.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && record.EntityID != filter.EntityID {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (f *fakeRepo) appendActivity(record domain.ActivityRecord) {
	f.nextActivityID++
	record.ID = f.nextActivityID
	f.activity = append(f.activity, record)
}

var serviceNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, cfg ServiceConfig) (*Service, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	idCounter := 0
	svc := NewService(repo, func() string {
		idCounter++
		return fmt.Sprintf("id-%03d", idCounter)
	}, func() time.Time {
		return serviceNow
	}, cfg)
	seedPerson(t, repo, "admin", "Ada", domain.RoleAdmin)
	seedPerson(t, repo, "pm", "Priya", domain.RoleProgramManager)
	seedPerson(t, repo, "emp", "Eli", domain.RoleEmployee)
	return svc, repo
}

func seedPerson(t *testing.T, repo *fakeRepo, id, name string, role domain.Role) {
	t.Helper()
	p, err := domain.NewPerson(domain.PersonInput{ID: id, Name: name, Role: role}, serviceNow)
	if err != nil {
		t.Fatalf("seed person %s: %v", id, err)
	}
	repo.persons[id] = p
}

func seedActiveItem(t *testing.T, svc *Service, owner string, assignments []domain.Assignment) domain.WorkItem {
	t.Helper()
	item, err := svc.CreateWorkItem(context.Background(), CreateWorkItemInput{
		Title:   "Seeded",
		OwnerID: owner,
		Status:  domain.StatusActive,
		Actor:   "pm",
	})
	if err != nil {
		t.Fatalf("seed work item: %v", err)
	}
	if len(assignments) > 0 {
		item, err = svc.UpdateTracked(context.Background(), UpdateTrackedInput{
			EntityID: item.ID,
			Fields:   map[string]any{FieldAssignments: assignments},
			Actor:    "pm",
		})
		if err != nil {
			t.Fatalf("seed assignments: %v", err)
		}
	}
	return item
}

func TestAssignAcceptsCommitmentAtExactCap(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	seedActiveItem(t, svc, "pm", []domain.Assignment{{PersonID: "emp", Involvement: 60}})
	second := seedActiveItem(t, svc, "pm", nil)

	// 60 committed elsewhere; 40 lands exactly on the default cap of 100.
	if err := svc.Assign(ctx, AssignInput{TargetID: second.ID, PersonID: "emp", Amount: 40, Actor: "pm"}); err != nil {
		t.Fatalf("Assign at boundary: %v", err)
	}

	snap, err := svc.ComputeWorkload(ctx, "emp")
	if err != nil {
		t.Fatalf("ComputeWorkload: %v", err)
	}
	if snap.PrimaryCommitted != 100 {
		t.Fatalf("primary committed = %v, want 100", snap.PrimaryCommitted)
	}
	if snap.AvailablePrimary != 0 {
		t.Fatalf("available primary = %v, want 0", snap.AvailablePrimary)
	}
	if snap.IsOverloaded {
		t.Fatal("exactly-at-cap must not report overloaded")
	}
}

func TestAssignRejectsOverCapWithDetails(t *testing.T) {
	svc, repo := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	seedActiveItem(t, svc, "pm", []domain.Assignment{{PersonID: "emp", Involvement: 60}})
	target := seedActiveItem(t, svc, "pm", nil)

	versionBefore := repo.items[target.ID].Version
	changesBefore := len(repo.changes)

	err := svc.Assign(ctx, AssignInput{TargetID: target.ID, PersonID: "emp", Amount: 41, Actor: "pm"})
	var capErr *domain.CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("err = %v, want CapacityExceededError", err)
	}
	if capErr.PersonID != "emp" || capErr.Pool != domain.PoolPrimary {
		t.Fatalf("unexpected error details: %+v", capErr)
	}
	if capErr.Current != 60 || capErr.Cap != 100 || capErr.Attempted != 41 {
		t.Fatalf("unexpected error numbers: %+v", capErr)
	}

	// Rejection must leave no trace: no version bump, no records, no state.
	if got := repo.items[target.ID].Version; got != versionBefore {
		t.Fatalf("version = %d, want unchanged %d", got, versionBefore)
	}
	if len(repo.items[target.ID].Assignments) != 0 {
		t.Fatalf("assignments persisted after rejection: %+v", repo.items[target.ID].Assignments)
	}
	if len(repo.changes) != changesBefore {
		t.Fatalf("change records appended after rejection: %d -> %d", changesBefore, len(repo.changes))
	}
}

func TestEditExcludesItemOwnCommitment(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	item := seedActiveItem(t, svc, "pm", []domain.Assignment{{PersonID: "emp", Involvement: 60}})

	// Raising 60 -> 90 on the same item must not double-count the existing 60.
	updated, err := svc.UpdateTracked(ctx, UpdateTrackedInput{
		EntityID: item.ID,
		Fields:   map[string]any{FieldAssignments: []domain.Assignment{{PersonID: "emp", Involvement: 90}}},
		Actor:    "pm",
	})
	if err != nil {
		t.Fatalf("UpdateTracked: %v", err)
	}
	if updated.Assignments[0].Involvement != 90 {
		t.Fatalf("involvement = %v, want 90", updated.Assignments[0].Involvement)
	}
}

func TestUpdateTrackedRecordsDiffsAndBumpsVersionOnce(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	item := seedActiveItem(t, svc, "pm", nil)

	updated, err := svc.UpdateTracked(ctx, UpdateTrackedInput{
		EntityID: item.ID,
		Fields: map[string]any{
			FieldTitle:  "Renamed",
			FieldStatus: "on_hold",
		},
		Actor:  "pm",
		Reason: "scope shift",
	})
	if err != nil {
		t.Fatalf("UpdateTracked: %v", err)
	}
	if updated.Version != item.Version+1 {
		t.Fatalf("version = %d, want %d", updated.Version, item.Version+1)
	}

	records, err := svc.GetHistory(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	byField := map[string]domain.ChangeRecord{}
	for _, record := range records {
		byField[record.FieldName] = record
	}
	title := byField[FieldTitle]
	if title.OldValue != "Seeded" || title.NewValue != "Renamed" {
		t.Fatalf("title diff = %q -> %q", title.OldValue, title.NewValue)
	}
	status := byField[FieldStatus]
	if status.OldValue != "active" || status.NewValue != "on_hold" {
		t.Fatalf("status diff = %q -> %q", status.OldValue, status.NewValue)
	}
	if status.ChangeType != domain.ChangeTypeStatus {
		t.Fatalf("status change type = %q", status.ChangeType)
	}
	for _, record := range records {
		if record.Actor != "pm" || record.Reason != "scope shift" {
			t.Fatalf("record attribution missing: %+v", record)
		}
	}
}

func TestUpdateTrackedNoOpSkipsVersionAndRecords(t *testing.T) {
	svc, repo := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	item := seedActiveItem(t, svc, "pm", nil)
	changesBefore := len(repo.changes)

	updated, err := svc.UpdateTracked(ctx, UpdateTrackedInput{
		EntityID: item.ID,
		Fields:   map[string]any{FieldTitle: "Seeded"},
		Actor:    "pm",
	})
	if err != nil {
		t.Fatalf("UpdateTracked: %v", err)
	}
	if updated.Version != item.Version {
		t.Fatalf("version = %d, want unchanged %d", updated.Version, item.Version)
	}
	if len(repo.changes) != changesBefore {
		t.Fatalf("no-op update appended records")
	}
}

func TestUpdateTrackedRejectsUnknownField(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	item := seedActiveItem(t, svc, "pm", nil)

	_, err := svc.UpdateTracked(context.Background(), UpdateTrackedInput{
		EntityID: item.ID,
		Fields:   map[string]any{"color": "blue"},
		Actor:    "pm",
	})
	if !errors.Is(err, domain.ErrUnknownField) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUnknownField)
	}
}

func TestUpdateTrackedAuthorizationFailsClosed(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	item := seedActiveItem(t, svc, "pm", nil)

	// Non-owning employee cannot edit at all.
	if _, err := svc.UpdateTracked(ctx, UpdateTrackedInput{
		EntityID: item.ID,
		Fields:   map[string]any{FieldTitle: "Hijacked"},
		Actor:    "emp",
	}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUnauthorized)
	}

	// Unknown actors are rejected before any state is read.
	if _, err := svc.UpdateTracked(ctx, UpdateTrackedInput{
		EntityID: item.ID,
		Fields:   map[string]any{FieldTitle: "Ghost"},
		Actor:    "nobody",
	}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUnauthorized)
	}

	// Manual progress needs the dedicated capability even for a manager.
	seedPersonRole := func(id string, role domain.Role) {
		t.Helper()
		p, err := domain.NewPerson(domain.PersonInput{ID: id, Name: id, Role: role}, serviceNow)
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		svcRepo(svc).persons[id] = p
	}
	seedPersonRole("mgr", domain.RoleManager)
	if _, err := svc.UpdateTracked(ctx, UpdateTrackedInput{
		EntityID: item.ID,
		Fields:   map[string]any{FieldManualProgress: 50.0},
		Actor:    "mgr",
	}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUnauthorized)
	}
}

// svcRepo exposes the fake for tests that need direct seeding.
func svcRepo(s *Service) *fakeRepo {
	return s.repo.(*fakeRepo)
}

func TestCreatePersonRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	if _, err := svc.CreatePerson(ctx, CreatePersonInput{Name: "New", Role: "employee", Actor: "pm"}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUnauthorized)
	}

	p, err := svc.CreatePerson(ctx, CreatePersonInput{Name: "New", Role: "employee", Actor: "admin"})
	if err != nil {
		t.Fatalf("CreatePerson: %v", err)
	}
	if p.Role != domain.RoleEmployee {
		t.Fatalf("role = %q, want %q", p.Role, domain.RoleEmployee)
	}
	if p.WorkloadCap != domain.DefaultWorkloadCap {
		t.Fatalf("cap = %v, want default", p.WorkloadCap)
	}

	if _, err := svc.CreatePerson(ctx, CreatePersonInput{Name: "Odd", Role: "wizard", Actor: "admin"}); !errors.Is(err, domain.ErrInvalidRole) {
		t.Fatalf("err = %v, want %v", err, domain.ErrInvalidRole)
	}
}

func TestCreateInitiativeChecksDiscretionaryPool(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	if _, err := svc.CreateInitiative(ctx, CreateInitiativeInput{
		Name: "Mentoring", AssignedTo: "emp", WorkloadPercentage: 15, Actor: "pm",
	}); err != nil {
		t.Fatalf("CreateInitiative: %v", err)
	}

	// 15 committed; 10 more exceeds the default discretionary cap of 20.
	_, err := svc.CreateInitiative(ctx, CreateInitiativeInput{
		Name: "Hiring", AssignedTo: "emp", WorkloadPercentage: 10, Actor: "pm",
	})
	var capErr *domain.CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("err = %v, want CapacityExceededError", err)
	}
	if capErr.Pool != domain.PoolDiscretionary {
		t.Fatalf("pool = %q, want %q", capErr.Pool, domain.PoolDiscretionary)
	}

	// Exactly at the cap is accepted.
	if _, err := svc.CreateInitiative(ctx, CreateInitiativeInput{
		Name: "Hiring", AssignedTo: "emp", WorkloadPercentage: 5, Actor: "pm",
	}); err != nil {
		t.Fatalf("CreateInitiative at boundary: %v", err)
	}
}

func TestActivityRetentionEvictsOldestFirst(t *testing.T) {
	svc, repo := newTestService(t, ServiceConfig{ActivityRetention: 5})
	ctx := context.Background()
	item := seedActiveItem(t, svc, "pm", nil)

	for i := 0; i < 10; i++ {
		if _, err := svc.UpdateTracked(ctx, UpdateTrackedInput{
			EntityID: item.ID,
			Fields:   map[string]any{FieldTitle: fmt.Sprintf("Rename %d", i)},
			Actor:    "pm",
		}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	if len(repo.activity) != 5 {
		t.Fatalf("retained activity = %d, want 5", len(repo.activity))
	}

	records, err := svc.QueryActivity(ctx, ActivityFilter{}, 10)
	if err != nil {
		t.Fatalf("QueryActivity: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("records = %d, want 5", len(records))
	}
	// Most recent first, and the oldest entries are gone.
	if !strings.Contains(records[0].Details, "title") {
		t.Fatalf("unexpected newest record: %+v", records[0])
	}
	for i := 1; i < len(records); i++ {
		if records[i].ID > records[i-1].ID {
			t.Fatalf("records not most-recent-first: %d after %d", records[i].ID, records[i-1].ID)
		}
	}
}

func TestQueryActivityFilters(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	item := seedActiveItem(t, svc, "pm", nil)
	if _, err := svc.CreateInitiative(ctx, CreateInitiativeInput{
		Name: "Mentoring", AssignedTo: "emp", WorkloadPercentage: 5, Actor: "pm",
	}); err != nil {
		t.Fatalf("CreateInitiative: %v", err)
	}

	records, err := svc.QueryActivity(ctx, ActivityFilter{EntityType: domain.EntityTypeWorkItem, EntityID: item.ID}, 10)
	if err != nil {
		t.Fatalf("QueryActivity: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("expected work item activity")
	}
	for _, record := range records {
		if record.EntityType != domain.EntityTypeWorkItem || record.EntityID != item.ID {
			t.Fatalf("filter leaked record: %+v", record)
		}
	}
}

func TestGetHistoryReturnsNotFoundForMissingEntity(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	if _, err := svc.GetHistory(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, ErrNotFound)
	}
}

func TestGetHistoryOldestFirst(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	item := seedActiveItem(t, svc, "pm", nil)

	for _, title := range []string{"First", "Second", "Third"} {
		if _, err := svc.UpdateTracked(ctx, UpdateTrackedInput{
			EntityID: item.ID,
			Fields:   map[string]any{FieldTitle: title},
			Actor:    "pm",
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	records, err := svc.GetHistory(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	wantNew := []string{"First", "Second", "Third"}
	for i, record := range records {
		if record.NewValue != wantNew[i] {
			t.Fatalf("records[%d].NewValue = %q, want %q", i, record.NewValue, wantNew[i])
		}
	}
}

func TestDeleteWorkItemOwnershipGate(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	item := seedActiveItem(t, svc, "pm", nil)

	if err := svc.DeleteWorkItem(ctx, item.ID, "emp"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUnauthorized)
	}
	if err := svc.DeleteWorkItem(ctx, item.ID, "pm"); err != nil {
		t.Fatalf("owning pm delete: %v", err)
	}
	if _, err := svc.GetWorkItem(ctx, item.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, ErrNotFound)
	}
}

func TestSetPersonCapacityGateAndEffect(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	if _, err := svc.SetPersonCapacity(ctx, SetCapacityInput{PersonID: "emp", WorkloadCap: 50, OverBeyondCap: 10, Actor: "emp"}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUnauthorized)
	}

	person, err := svc.SetPersonCapacity(ctx, SetCapacityInput{PersonID: "emp", WorkloadCap: 50, OverBeyondCap: 10, Actor: "pm"})
	if err != nil {
		t.Fatalf("SetPersonCapacity: %v", err)
	}
	if person.WorkloadCap != 50 || person.OverBeyondCap != 10 {
		t.Fatalf("caps = %v/%v, want 50/10", person.WorkloadCap, person.OverBeyondCap)
	}

	// The tightened cap binds future commitments.
	target := seedActiveItem(t, svc, "pm", nil)
	err = svc.Assign(ctx, AssignInput{TargetID: target.ID, PersonID: "emp", Amount: 51, Actor: "pm"})
	var capErr *domain.CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("err = %v, want CapacityExceededError", err)
	}
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	repo := newFakeRepo()
	idCounter := 0
	svc := NewService(repo, func() string {
		idCounter++
		return fmt.Sprintf("id-%03d", idCounter)
	}, func() time.Time { return serviceNow }, ServiceConfig{})

	admin, err := svc.EnsureBootstrapAdmin(context.Background(), "Root")
	if err != nil {
		t.Fatalf("EnsureBootstrapAdmin: %v", err)
	}
	if admin.Role != domain.RoleAdmin {
		t.Fatalf("role = %q, want %q", admin.Role, domain.RoleAdmin)
	}

	again, err := svc.EnsureBootstrapAdmin(context.Background(), "Other")
	if err != nil {
		t.Fatalf("second EnsureBootstrapAdmin: %v", err)
	}
	if again.ID != admin.ID {
		t.Fatalf("bootstrap created a second admin: %s vs %s", again.ID, admin.ID)
	}
}

func TestCanCommitReportsWithoutError(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	seedActiveItem(t, svc, "pm", []domain.Assignment{{PersonID: "emp", Involvement: 60}})

	ok, err := svc.CanCommit(ctx, "emp", 40, domain.PoolPrimary, "")
	if err != nil {
		t.Fatalf("CanCommit: %v", err)
	}
	if !ok {
		t.Fatal("40 on top of 60 should fit the 100 cap")
	}
	ok, err = svc.CanCommit(ctx, "emp", 41, domain.PoolPrimary, "")
	if err != nil {
		t.Fatalf("CanCommit: %v", err)
	}
	if ok {
		t.Fatal("41 on top of 60 must not fit the 100 cap")
	}
}

func TestReconcileProgressThroughService(t *testing.T) {
	svc, repo := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	item := seedActiveItem(t, svc, "pm", nil)

	stored := repo.items[item.ID]
	stored.Milestones = []domain.Milestone{
		{ID: "m-1", Completed: true},
		{ID: "m-2", Completed: false},
	}
	repo.items[item.ID] = stored

	result, err := svc.ReconcileProgress(ctx, item.ID)
	if err != nil {
		t.Fatalf("ReconcileProgress: %v", err)
	}
	if result.Source != domain.ProgressSourceMilestone || result.Final != 50 {
		t.Fatalf("result = %+v, want milestone 50", result)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	item := seedActiveItem(t, svc, "pm", []domain.Assignment{{PersonID: "emp", Involvement: 30}})

	snap, err := svc.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	if snap.Version != SnapshotVersion {
		t.Fatalf("version = %q, want %q", snap.Version, SnapshotVersion)
	}
	if len(snap.Persons) != 3 || len(snap.WorkItems) != 1 {
		t.Fatalf("snapshot sizes = %d persons, %d items", len(snap.Persons), len(snap.WorkItems))
	}

	// Import into a fresh service and verify the item survives with its
	// assignments intact.
	repo2 := newFakeRepo()
	svc2 := NewService(repo2, func() string { return "unused" }, func() time.Time { return serviceNow }, ServiceConfig{})
	if err := svc2.ImportSnapshot(ctx, snap); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
	imported, err := svc2.GetWorkItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetWorkItem after import: %v", err)
	}
	if len(imported.Assignments) != 1 || imported.Assignments[0].PersonID != "emp" {
		t.Fatalf("imported assignments = %+v", imported.Assignments)
	}

	// Re-import over existing data is an upsert, not a failure.
	if err := svc2.ImportSnapshot(ctx, snap); err != nil {
		t.Fatalf("second ImportSnapshot: %v", err)
	}
}

func TestUpdateTrackedNormalizesFieldKeys(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	item := seedActiveItem(t, svc, "pm", nil)

	// A cased, underscored spelling must address the same field as the
	// canonical key, not clear it by missing the map lookup.
	updated, err := svc.UpdateTracked(ctx, UpdateTrackedInput{
		EntityID: item.ID,
		Fields:   map[string]any{"Manual_Progress": 40.0, " Title ": "Cased"},
		Actor:    "pm",
	})
	if err != nil {
		t.Fatalf("UpdateTracked: %v", err)
	}
	if updated.ManualProgress == nil || *updated.ManualProgress != 40 {
		t.Fatalf("manual progress = %v, want 40", updated.ManualProgress)
	}
	if updated.Title != "Cased" {
		t.Fatalf("title = %q, want %q", updated.Title, "Cased")
	}

	records, err := svc.GetHistory(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	byField := map[string]domain.ChangeRecord{}
	for _, record := range records {
		byField[record.FieldName] = record
	}
	progress, ok := byField[FieldManualProgress]
	if !ok {
		t.Fatalf("no manual_progress record in %+v", records)
	}
	if progress.OldValue != "" || progress.NewValue != "40" {
		t.Fatalf("manual_progress diff = %q -> %q", progress.OldValue, progress.NewValue)
	}

	// Two spellings of one field are ambiguous, not mergeable.
	if _, err := svc.UpdateTracked(ctx, UpdateTrackedInput{
		EntityID: item.ID,
		Fields:   map[string]any{"title": "a", "Title": "b"},
		Actor:    "pm",
	}); !errors.Is(err, domain.ErrUnknownField) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUnknownField)
	}
}

func TestUpdateTrackedCasedKeyStillNeedsProgressCapability(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	item := seedActiveItem(t, svc, "pm", nil)

	p, err := domain.NewPerson(domain.PersonInput{ID: "mgr", Name: "Mo", Role: domain.RoleManager}, serviceNow)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	svcRepo(svc).persons["mgr"] = p

	// The capability gate sees the canonical key, so casing cannot slip a
	// progress edit past it.
	if _, err := svc.UpdateTracked(ctx, UpdateTrackedInput{
		EntityID: item.ID,
		Fields:   map[string]any{"MANUAL_PROGRESS": 50.0},
		Actor:    "mgr",
	}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUnauthorized)
	}
}

// lateAssigneeRepo grows the item's assignment list after the first read,
// standing in for a concurrent update landing between the unlocked pre-read
// and lock acquisition.
type lateAssigneeRepo struct {
	*fakeRepo
	reads int
}

func (r *lateAssigneeRepo) GetWorkItem(ctx context.Context, id string) (domain.WorkItem, error) {
	item, err := r.fakeRepo.GetWorkItem(ctx, id)
	if err != nil {
		return item, err
	}
	r.reads++
	if r.reads > 1 {
		item.Assignments = append(item.Assignments, domain.Assignment{PersonID: "late", Involvement: 10})
	}
	return item, nil
}

func TestAcquireTrackedLocksCoversLateAssignee(t *testing.T) {
	repo := &lateAssigneeRepo{fakeRepo: newFakeRepo()}
	svc := NewService(repo, func() string { return "unused" }, func() time.Time { return serviceNow }, ServiceConfig{})
	repo.items["wi-1"] = domain.WorkItem{ID: "wi-1", Title: "Seeded", OwnerID: "pm", Status: domain.StatusActive, Version: 1}

	release, err := svc.acquireTrackedLocks(context.Background(), UpdateTrackedInput{
		EntityID: "wi-1",
		Fields:   map[string]any{FieldStatus: "on_hold"},
	})
	if err != nil {
		t.Fatalf("acquireTrackedLocks: %v", err)
	}

	// The assignee discovered only under the lock must be part of the held
	// set: a competing acquisition of it has to block until release.
	acquired := make(chan struct{})
	go func() {
		r := svc.locks.Acquire("late")
		close(acquired)
		r()
	}()
	select {
	case <-acquired:
		t.Fatal("late assignee lock was not held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("late assignee lock never released")
	}
}

func TestSetInitiativeStatusLifecycle(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	first, err := svc.CreateInitiative(ctx, CreateInitiativeInput{
		Name: "Mentoring", AssignedTo: "emp", WorkloadPercentage: 15, Actor: "pm",
	})
	if err != nil {
		t.Fatalf("CreateInitiative: %v", err)
	}

	if _, err := svc.SetInitiativeStatus(ctx, SetInitiativeStatusInput{
		InitiativeID: first.ID, Status: "completed", Actor: "emp",
	}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUnauthorized)
	}

	done, err := svc.SetInitiativeStatus(ctx, SetInitiativeStatusInput{
		InitiativeID: first.ID, Status: "completed", Actor: "pm", Reason: "wrapped up",
	})
	if err != nil {
		t.Fatalf("SetInitiativeStatus: %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Fatalf("status = %q, want %q", done.Status, domain.StatusCompleted)
	}

	// Completion releases the discretionary commitment.
	snap, err := svc.ComputeWorkload(ctx, "emp")
	if err != nil {
		t.Fatalf("ComputeWorkload: %v", err)
	}
	if snap.DiscretionaryCommitted != 0 {
		t.Fatalf("discretionary = %v, want 0 after completion", snap.DiscretionaryCommitted)
	}
	if _, err := svc.CreateInitiative(ctx, CreateInitiativeInput{
		Name: "Hiring", AssignedTo: "emp", WorkloadPercentage: 20, Actor: "pm",
	}); err != nil {
		t.Fatalf("CreateInitiative after completion: %v", err)
	}

	// Reactivating would overshoot the pool again and must be rejected.
	_, err = svc.SetInitiativeStatus(ctx, SetInitiativeStatusInput{
		InitiativeID: first.ID, Status: "active", Actor: "pm",
	})
	var capErr *domain.CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("err = %v, want CapacityExceededError", err)
	}

	// The status change is part of the audit trail.
	records, err := svc.GetHistory(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	var status *domain.ChangeRecord
	for i := range records {
		if records[i].FieldName == FieldStatus {
			status = &records[i]
		}
	}
	if status == nil {
		t.Fatalf("no status record in %+v", records)
	}
	if status.OldValue != "active" || status.NewValue != "completed" || status.Reason != "wrapped up" {
		t.Fatalf("status record = %+v", status)
	}
}

func TestSetInitiativeStatusSameStatusIsNoOp(t *testing.T) {
	svc, repo := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	ini, err := svc.CreateInitiative(ctx, CreateInitiativeInput{
		Name: "Mentoring", AssignedTo: "emp", WorkloadPercentage: 15, Actor: "pm",
	})
	if err != nil {
		t.Fatalf("CreateInitiative: %v", err)
	}
	changesBefore := len(repo.changes)

	if _, err := svc.SetInitiativeStatus(ctx, SetInitiativeStatusInput{
		InitiativeID: ini.ID, Status: "active", Actor: "pm",
	}); err != nil {
		t.Fatalf("SetInitiativeStatus: %v", err)
	}
	if len(repo.changes) != changesBefore {
		t.Fatal("same-status change appended records")
	}
}

func TestSnapshotImportPreservesZeroCaps(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	// 0/0 is a legal configuration meaning no commitments fit.
	if _, err := svc.SetPersonCapacity(ctx, SetCapacityInput{PersonID: "emp", Actor: "pm"}); err != nil {
		t.Fatalf("SetPersonCapacity: %v", err)
	}
	snap, err := svc.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}

	repo2 := newFakeRepo()
	svc2 := NewService(repo2, func() string { return "unused" }, func() time.Time { return serviceNow }, ServiceConfig{})
	if err := svc2.ImportSnapshot(ctx, snap); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
	imported, err := svc2.GetPerson(ctx, "emp")
	if err != nil {
		t.Fatalf("GetPerson after import: %v", err)
	}
	if imported.WorkloadCap != 0 || imported.OverBeyondCap != 0 {
		t.Fatalf("caps = %v/%v, want 0/0 preserved", imported.WorkloadCap, imported.OverBeyondCap)
	}
}

func TestSnapshotValidateRejectsNegativeCaps(t *testing.T) {
	snap := Snapshot{
		Version: SnapshotVersion,
		Persons: []SnapshotPerson{{ID: "p-1", Name: "A", Role: "admin", WorkloadCap: -1}},
	}
	if err := snap.Validate(); err == nil {
		t.Fatal("expected negative cap to fail validation")
	}
}

func TestSnapshotValidateRejectsDuplicates(t *testing.T) {
	snap := Snapshot{
		Version: SnapshotVersion,
		Persons: []SnapshotPerson{
			{ID: "p-1", Name: "A", Role: "admin"},
			{ID: "p-1", Name: "B", Role: "employee"},
		},
	}
	if err := snap.Validate(); err == nil {
		t.Fatal("expected duplicate person id to fail validation")
	}
}
