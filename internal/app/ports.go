package app

import (
	"context"

	"github.com/hylla/lastkoll/internal/domain"
)

// Repository is the durable-store boundary. Tracked update methods persist
// the entity, its change records, and the summarizing activity record in one
// transaction so a capacity or storage failure leaves no partial mutation.
type Repository interface {
	CreatePerson(context.Context, domain.Person) error
	UpdatePerson(context.Context, domain.Person) error
	GetPerson(context.Context, string) (domain.Person, error)
	ListPersons(context.Context) ([]domain.Person, error)

	CreateWorkItem(context.Context, domain.WorkItem) error
	UpdateWorkItemTracked(context.Context, domain.WorkItem, []domain.ChangeRecord, domain.ActivityRecord) error
	GetWorkItem(context.Context, string) (domain.WorkItem, error)
	ListWorkItems(context.Context) ([]domain.WorkItem, error)
	ListWorkItemsForPerson(context.Context, string) ([]domain.WorkItem, error)
	DeleteWorkItem(context.Context, string, domain.ActivityRecord) error

	CreateInitiative(context.Context, domain.Initiative) error
	UpdateInitiativeTracked(context.Context, domain.Initiative, []domain.ChangeRecord, domain.ActivityRecord) error
	GetInitiative(context.Context, string) (domain.Initiative, error)
	ListInitiatives(context.Context) ([]domain.Initiative, error)
	ListInitiativesForPerson(context.Context, string) ([]domain.Initiative, error)

	ListChangeRecords(context.Context, string) ([]domain.ChangeRecord, error)

	AppendActivityRecord(context.Context, domain.ActivityRecord) error
	PruneActivityRecords(context.Context, int) error
	ListActivityRecords(context.Context, ActivityFilter, int) ([]domain.ActivityRecord, error)
}

// ActivityFilter narrows activity queries; empty fields match everything.
type ActivityFilter struct {
	EntityType string
	EntityID   string
}
