package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hylla/lastkoll/internal/app"
	"github.com/hylla/lastkoll/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// Repository persists the tracked entities and both audit trails. Tracked
// updates run in one transaction so change records, the version bump, and
// the summarizing activity entry commit together or not at all.
type Repository struct {
	db *sql.DB
}

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens in memory.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS persons (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			workload_cap REAL NOT NULL DEFAULT 100,
			over_beyond_cap REAL NOT NULL DEFAULT 20,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS work_items (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			priority TEXT NOT NULL DEFAULT 'medium',
			budget REAL NOT NULL DEFAULT 0,
			start_at TEXT,
			due_at TEXT,
			milestones_json TEXT NOT NULL DEFAULT '[]',
			manual_progress REAL,
			version INTEGER NOT NULL DEFAULT 1,
			last_activity_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS work_item_assignments (
			work_item_id TEXT NOT NULL,
			person_id TEXT NOT NULL,
			involvement REAL NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (work_item_id, person_id),
			FOREIGN KEY(work_item_id) REFERENCES work_items(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS initiatives (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			assigned_to TEXT NOT NULL DEFAULT '',
			workload_percentage REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS change_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id TEXT NOT NULL,
			field_name TEXT NOT NULL,
			change_type TEXT NOT NULL,
			old_value TEXT NOT NULL DEFAULT '',
			new_value TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			occurred_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS activity_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			occurred_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_person ON work_item_assignments(person_id);`,
		`CREATE INDEX IF NOT EXISTS idx_initiatives_assigned ON initiatives(assigned_to);`,
		`CREATE INDEX IF NOT EXISTS idx_change_records_entity ON change_records(entity_id, id ASC);`,
		`CREATE INDEX IF NOT EXISTS idx_activity_entity ON activity_records(entity_type, entity_id, id DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// CreatePerson creates person.
func (r *Repository) CreatePerson(ctx context.Context, p domain.Person) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO persons(id, name, role, workload_cap, over_beyond_cap, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, string(p.Role), p.WorkloadCap, p.OverBeyondCap, ts(p.CreatedAt), ts(p.UpdatedAt))
	return err
}

// UpdatePerson updates state for the requested operation.
func (r *Repository) UpdatePerson(ctx context.Context, p domain.Person) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE persons
		SET name = ?, role = ?, workload_cap = ?, over_beyond_cap = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, string(p.Role), p.WorkloadCap, p.OverBeyondCap, ts(p.UpdatedAt), p.ID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// GetPerson returns person.
func (r *Repository) GetPerson(ctx context.Context, id string) (domain.Person, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, role, workload_cap, over_beyond_cap, created_at, updated_at
		FROM persons
		WHERE id = ?
	`, id)
	return scanPerson(row)
}

// ListPersons lists persons.
func (r *Repository) ListPersons(ctx context.Context) ([]domain.Person, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, role, workload_cap, over_beyond_cap, created_at, updated_at
		FROM persons
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Person{}
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateWorkItem creates work item.
func (r *Repository) CreateWorkItem(ctx context.Context, item domain.WorkItem) error {
	milestonesJSON, err := encodeMilestones(item.Milestones)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO work_items(
			id, title, description, owner_id, status, priority, budget, start_at, due_at,
			milestones_json, manual_progress, version, last_activity_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID,
		item.Title,
		item.Description,
		item.OwnerID,
		string(item.Status),
		string(item.Priority),
		item.Budget,
		nullableTS(item.StartAt),
		nullableTS(item.DueAt),
		milestonesJSON,
		nullableFloat(item.ManualProgress),
		item.Version,
		ts(item.LastActivityAt),
		ts(item.CreatedAt),
		ts(item.UpdatedAt),
	)
	if err != nil {
		return err
	}
	if err = replaceAssignments(ctx, tx, item.ID, item.Assignments); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// UpdateWorkItemTracked persists one tracked update atomically. The version
// guard rejects writes racing past an interleaved mutation.
func (r *Repository) UpdateWorkItemTracked(ctx context.Context, item domain.WorkItem, records []domain.ChangeRecord, activity domain.ActivityRecord) error {
	milestonesJSON, err := encodeMilestones(item.Milestones)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE work_items
		SET title = ?, description = ?, owner_id = ?, status = ?, priority = ?, budget = ?,
		    start_at = ?, due_at = ?, milestones_json = ?, manual_progress = ?,
		    version = ?, last_activity_at = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		item.Title,
		item.Description,
		item.OwnerID,
		string(item.Status),
		string(item.Priority),
		item.Budget,
		nullableTS(item.StartAt),
		nullableTS(item.DueAt),
		milestonesJSON,
		nullableFloat(item.ManualProgress),
		item.Version,
		ts(item.LastActivityAt),
		ts(item.UpdatedAt),
		item.ID,
		item.Version-1,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := getWorkItemByID(ctx, tx, r.db, item.ID); getErr != nil {
			err = getErr
			return err
		}
		err = app.ErrVersionConflict
		return err
	}

	if err = replaceAssignments(ctx, tx, item.ID, item.Assignments); err != nil {
		return err
	}
	for _, record := range records {
		if err = insertChangeRecord(ctx, tx, record); err != nil {
			return err
		}
	}
	if err = insertActivityRecord(ctx, tx, activity); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// GetWorkItem returns work item.
func (r *Repository) GetWorkItem(ctx context.Context, id string) (domain.WorkItem, error) {
	return getWorkItemByID(ctx, r.db, r.db, id)
}

// ListWorkItems lists work items.
func (r *Repository) ListWorkItems(ctx context.Context) ([]domain.WorkItem, error) {
	return r.queryWorkItems(ctx, `
		SELECT id, title, description, owner_id, status, priority, budget, start_at, due_at,
		       milestones_json, manual_progress, version, last_activity_at, created_at, updated_at
		FROM work_items
		ORDER BY created_at ASC, id ASC
	`)
}

// ListWorkItemsForPerson lists work items carrying an assignment for one person.
func (r *Repository) ListWorkItemsForPerson(ctx context.Context, personID string) ([]domain.WorkItem, error) {
	return r.queryWorkItems(ctx, `
		SELECT wi.id, wi.title, wi.description, wi.owner_id, wi.status, wi.priority, wi.budget,
		       wi.start_at, wi.due_at, wi.milestones_json, wi.manual_progress, wi.version,
		       wi.last_activity_at, wi.created_at, wi.updated_at
		FROM work_items wi
		JOIN work_item_assignments a ON a.work_item_id = wi.id
		WHERE a.person_id = ?
		ORDER BY wi.created_at ASC, wi.id ASC
	`, personID)
}

// DeleteWorkItem deletes a work item; assignments cascade with it. Change
// records for the item are retained deliberately.
func (r *Repository) DeleteWorkItem(ctx context.Context, id string, activity domain.ActivityRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM work_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err = translateNoRows(res); err != nil {
		return err
	}
	if err = insertActivityRecord(ctx, tx, activity); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// CreateInitiative creates initiative.
func (r *Repository) CreateInitiative(ctx context.Context, ini domain.Initiative) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO initiatives(id, name, assigned_to, workload_percentage, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ini.ID, ini.Name, ini.AssignedTo, ini.WorkloadPercentage, string(ini.Status), ts(ini.CreatedAt), ts(ini.UpdatedAt))
	return err
}

// UpdateInitiativeTracked persists one tracked initiative update atomically.
func (r *Repository) UpdateInitiativeTracked(ctx context.Context, ini domain.Initiative, records []domain.ChangeRecord, activity domain.ActivityRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE initiatives
		SET name = ?, assigned_to = ?, workload_percentage = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, ini.Name, ini.AssignedTo, ini.WorkloadPercentage, string(ini.Status), ts(ini.UpdatedAt), ini.ID)
	if err != nil {
		return err
	}
	if err = translateNoRows(res); err != nil {
		return err
	}
	for _, record := range records {
		if err = insertChangeRecord(ctx, tx, record); err != nil {
			return err
		}
	}
	if err = insertActivityRecord(ctx, tx, activity); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// GetInitiative returns initiative.
func (r *Repository) GetInitiative(ctx context.Context, id string) (domain.Initiative, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, assigned_to, workload_percentage, status, created_at, updated_at
		FROM initiatives
		WHERE id = ?
	`, id)
	return scanInitiative(row)
}

// ListInitiatives lists initiatives.
func (r *Repository) ListInitiatives(ctx context.Context) ([]domain.Initiative, error) {
	return r.queryInitiatives(ctx, `
		SELECT id, name, assigned_to, workload_percentage, status, created_at, updated_at
		FROM initiatives
		ORDER BY created_at ASC, id ASC
	`)
}

// ListInitiativesForPerson lists initiatives assigned to one person.
func (r *Repository) ListInitiativesForPerson(ctx context.Context, personID string) ([]domain.Initiative, error) {
	return r.queryInitiatives(ctx, `
		SELECT id, name, assigned_to, workload_percentage, status, created_at, updated_at
		FROM initiatives
		WHERE assigned_to = ?
		ORDER BY created_at ASC, id ASC
	`, personID)
}

// ListChangeRecords lists the audit trail for one entity, oldest first.
func (r *Repository) ListChangeRecords(ctx context.Context, entityID string) ([]domain.ChangeRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity_id, field_name, change_type, old_value, new_value, actor, reason, occurred_at
		FROM change_records
		WHERE entity_id = ?
		ORDER BY id ASC
	`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ChangeRecord{}
	for rows.Next() {
		var (
			record      domain.ChangeRecord
			changeType  string
			occurredRaw string
		)
		if err := rows.Scan(&record.ID, &record.EntityID, &record.FieldName, &changeType,
			&record.OldValue, &record.NewValue, &record.Actor, &record.Reason, &occurredRaw); err != nil {
			return nil, err
		}
		record.ChangeType = domain.ChangeType(changeType)
		record.OccurredAt = parseTS(occurredRaw)
		out = append(out, record)
	}
	return out, rows.Err()
}

// AppendActivityRecord appends one activity log entry.
func (r *Repository) AppendActivityRecord(ctx context.Context, record domain.ActivityRecord) error {
	return insertActivityRecord(ctx, r.db, record)
}

// PruneActivityRecords evicts the oldest entries beyond the retention bound.
func (r *Repository) PruneActivityRecords(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM activity_records
		WHERE id NOT IN (SELECT id FROM activity_records ORDER BY id DESC LIMIT ?)
	`, keep)
	return err
}

// ListActivityRecords lists activity entries most-recent-first.
func (r *Repository) ListActivityRecords(ctx context.Context, filter app.ActivityFilter, limit int) ([]domain.ActivityRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, actor, action, entity_type, entity_id, details, metadata_json, occurred_at
		FROM activity_records
	`
	args := []any{}
	clauses := []string{}
	if strings.TrimSpace(filter.EntityType) != "" {
		clauses = append(clauses, `entity_type = ?`)
		args = append(args, strings.TrimSpace(filter.EntityType))
	}
	if strings.TrimSpace(filter.EntityID) != "" {
		clauses = append(clauses, `entity_id = ?`)
		args = append(args, strings.TrimSpace(filter.EntityID))
	}
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ActivityRecord{}
	for rows.Next() {
		var (
			record      domain.ActivityRecord
			metadataRaw string
			occurredRaw string
		)
		if err := rows.Scan(&record.ID, &record.Actor, &record.Action, &record.EntityType,
			&record.EntityID, &record.Details, &metadataRaw, &occurredRaw); err != nil {
			return nil, err
		}
		if strings.TrimSpace(metadataRaw) == "" {
			metadataRaw = "{}"
		}
		if err := json.Unmarshal([]byte(metadataRaw), &record.Metadata); err != nil {
			return nil, fmt.Errorf("decode activity metadata_json: %w", err)
		}
		record.OccurredAt = parseTS(occurredRaw)
		out = append(out, record)
	}
	return out, rows.Err()
}

// queryRower represents a query-only DB contract used by DB and Tx implementations.
type queryRower interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// queryer represents a multi-row query contract used by DB and Tx implementations.
type queryer interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// getWorkItemByID loads one work item and its assignments.
func getWorkItemByID(ctx context.Context, rowQ queryRower, rowsQ queryer, id string) (domain.WorkItem, error) {
	row := rowQ.QueryRowContext(ctx, `
		SELECT id, title, description, owner_id, status, priority, budget, start_at, due_at,
		       milestones_json, manual_progress, version, last_activity_at, created_at, updated_at
		FROM work_items
		WHERE id = ?
	`, id)
	item, err := scanWorkItem(row)
	if err != nil {
		return domain.WorkItem{}, err
	}
	item.Assignments, err = loadAssignments(ctx, rowsQ, item.ID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	return item, nil
}

// queryWorkItems runs one list query and hydrates assignments per item.
func (r *Repository) queryWorkItems(ctx context.Context, query string, args ...any) ([]domain.WorkItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.WorkItem{}
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Assignments, err = loadAssignments(ctx, r.db, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// loadAssignments loads the assignment rows for one work item in canonical order.
func loadAssignments(ctx context.Context, q queryer, workItemID string) ([]domain.Assignment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT person_id, involvement, role
		FROM work_item_assignments
		WHERE work_item_id = ?
		ORDER BY person_id ASC
	`, workItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Assignment{}
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.PersonID, &a.Involvement, &a.Role); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// replaceAssignments rewrites the assignment rows for one work item.
func replaceAssignments(ctx context.Context, execer execerContext, workItemID string, assignments []domain.Assignment) error {
	if _, err := execer.ExecContext(ctx, `DELETE FROM work_item_assignments WHERE work_item_id = ?`, workItemID); err != nil {
		return err
	}
	for _, a := range assignments {
		if _, err := execer.ExecContext(ctx, `
			INSERT INTO work_item_assignments(work_item_id, person_id, involvement, role)
			VALUES (?, ?, ?, ?)
		`, workItemID, a.PersonID, a.Involvement, a.Role); err != nil {
			return err
		}
	}
	return nil
}

// insertChangeRecord inserts one audit-trail row.
func insertChangeRecord(ctx context.Context, execer execerContext, record domain.ChangeRecord) error {
	_, err := execer.ExecContext(ctx, `
		INSERT INTO change_records(entity_id, field_name, change_type, old_value, new_value, actor, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.EntityID,
		record.FieldName,
		string(record.ChangeType),
		record.OldValue,
		record.NewValue,
		record.Actor,
		record.Reason,
		ts(record.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("insert change record: %w", err)
	}
	return nil
}

// insertActivityRecord inserts one activity-log row.
func insertActivityRecord(ctx context.Context, execer execerContext, record domain.ActivityRecord) error {
	metadata := record.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode activity metadata: %w", err)
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO activity_records(actor, action, entity_type, entity_id, details, metadata_json, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		record.Actor,
		record.Action,
		record.EntityType,
		record.EntityID,
		record.Details,
		string(metadataJSON),
		ts(record.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("insert activity record: %w", err)
	}
	return nil
}

// encodeMilestones encodes milestone rows for the JSON column.
func encodeMilestones(in []domain.Milestone) (string, error) {
	type wire struct {
		ID        string     `json:"id"`
		Title     string     `json:"title,omitempty"`
		Completed bool       `json:"completed"`
		DueAt     *time.Time `json:"due_at,omitempty"`
	}
	out := make([]wire, 0, len(in))
	for _, m := range in {
		out = append(out, wire{ID: m.ID, Title: m.Title, Completed: m.Completed, DueAt: m.DueAt})
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode milestones: %w", err)
	}
	return string(encoded), nil
}

// decodeMilestones decodes the JSON milestone column.
func decodeMilestones(raw string) ([]domain.Milestone, error) {
	if strings.TrimSpace(raw) == "" {
		return []domain.Milestone{}, nil
	}
	type wire struct {
		ID        string     `json:"id"`
		Title     string     `json:"title"`
		Completed bool       `json:"completed"`
		DueAt     *time.Time `json:"due_at"`
	}
	var decoded []wire
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("decode milestones_json: %w", err)
	}
	out := make([]domain.Milestone, 0, len(decoded))
	for _, m := range decoded {
		out = append(out, domain.Milestone{ID: m.ID, Title: m.Title, Completed: m.Completed, DueAt: m.DueAt})
	}
	return out, nil
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

// scanPerson handles scan person.
func scanPerson(s scanner) (domain.Person, error) {
	var (
		p          domain.Person
		role       string
		createdRaw string
		updatedRaw string
	)
	if err := s.Scan(&p.ID, &p.Name, &role, &p.WorkloadCap, &p.OverBeyondCap, &createdRaw, &updatedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Person{}, app.ErrNotFound
		}
		return domain.Person{}, err
	}
	p.Role = domain.Role(role)
	p.CreatedAt = parseTS(createdRaw)
	p.UpdatedAt = parseTS(updatedRaw)
	return p, nil
}

// scanWorkItem handles scan work item.
func scanWorkItem(s scanner) (domain.WorkItem, error) {
	var (
		item            domain.WorkItem
		status          string
		priority        string
		startRaw        sql.NullString
		dueRaw          sql.NullString
		milestonesRaw   string
		manualProgress  sql.NullFloat64
		lastActivityRaw string
		createdRaw      string
		updatedRaw      string
	)
	if err := s.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&item.OwnerID,
		&status,
		&priority,
		&item.Budget,
		&startRaw,
		&dueRaw,
		&milestonesRaw,
		&manualProgress,
		&item.Version,
		&lastActivityRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WorkItem{}, app.ErrNotFound
		}
		return domain.WorkItem{}, err
	}
	item.Status = domain.Status(status)
	item.Priority = domain.Priority(priority)
	item.StartAt = parseNullTS(startRaw)
	item.DueAt = parseNullTS(dueRaw)
	if manualProgress.Valid {
		v := manualProgress.Float64
		item.ManualProgress = &v
	}
	milestones, err := decodeMilestones(milestonesRaw)
	if err != nil {
		return domain.WorkItem{}, err
	}
	item.Milestones = milestones
	item.LastActivityAt = parseTS(lastActivityRaw)
	item.CreatedAt = parseTS(createdRaw)
	item.UpdatedAt = parseTS(updatedRaw)
	return item, nil
}

// queryInitiatives runs one initiative list query.
func (r *Repository) queryInitiatives(ctx context.Context, query string, args ...any) ([]domain.Initiative, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Initiative{}
	for rows.Next() {
		ini, err := scanInitiative(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ini)
	}
	return out, rows.Err()
}

// scanInitiative handles scan initiative.
func scanInitiative(s scanner) (domain.Initiative, error) {
	var (
		ini        domain.Initiative
		status     string
		createdRaw string
		updatedRaw string
	)
	if err := s.Scan(&ini.ID, &ini.Name, &ini.AssignedTo, &ini.WorkloadPercentage, &status, &createdRaw, &updatedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Initiative{}, app.ErrNotFound
		}
		return domain.Initiative{}, err
	}
	ini.Status = domain.Status(status)
	ini.CreatedAt = parseTS(createdRaw)
	ini.UpdatedAt = parseTS(updatedRaw)
	return ini, nil
}

// translateNoRows handles translate no rows.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableTS handles nullable ts.
func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableFloat handles nullable float columns.
func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

// parseNullTS parses input into a normalized form.
func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	parsed := parseTS(v.String)
	return &parsed
}
