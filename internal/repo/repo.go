package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fieldsync/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, id, name, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO organizations(id,name,created_at) VALUES (?,?,?)`, id, name, now)
	return err
}

func (r Repo) InsertTeam(ctx context.Context, t domain.Team) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO teams(id,org_id,name,created_at) VALUES (?,?,?,?)`,
		t.ID, t.OrgID, t.Name, t.CreatedAt)
	return err
}

func (r Repo) AddTeamMember(ctx context.Context, teamID, userID string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO team_members(team_id,user_id) VALUES (?,?)`, teamID, userID)
	return err
}

// ListUserTeamIDs returns the IDs of every team the user belongs to.
func (r Repo) ListUserTeamIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT team_id FROM team_members WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const workItemColumns = `id,org_id,title,description,status,priority,assigned_to,team_id,due_date,workflow_template_id,template_id,asset_id,created_at,updated_at`

func scanWorkItem(scan func(dest ...any) error) (domain.WorkItem, error) {
	var w domain.WorkItem
	var description, priority, assignedTo, teamID, dueDate, workflowTemplateID, templateID, assetID sql.NullString
	err := scan(&w.ID, &w.OrgID, &w.Title, &description, &w.Status, &priority, &assignedTo, &teamID,
		&dueDate, &workflowTemplateID, &templateID, &assetID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return w, err
	}
	w.Description = description.String
	w.Priority = priority.String
	if assignedTo.Valid {
		w.AssignedTo = &assignedTo.String
	}
	if teamID.Valid {
		w.TeamID = &teamID.String
	}
	if dueDate.Valid {
		w.DueDate = &dueDate.String
	}
	if workflowTemplateID.Valid {
		w.WorkflowTemplateID = &workflowTemplateID.String
	}
	if templateID.Valid {
		w.TemplateID = &templateID.String
	}
	if assetID.Valid {
		w.AssetID = &assetID.String
	}
	return w, nil
}

func (r Repo) InsertWorkItem(ctx context.Context, tx *sql.Tx, w domain.WorkItem) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO work_items(`+workItemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.OrgID, w.Title, nullable(w.Description), w.Status, nullable(w.Priority),
		nullableStringPtr(w.AssignedTo), nullableStringPtr(w.TeamID), nullableStringPtr(w.DueDate),
		nullableStringPtr(w.WorkflowTemplateID), nullableStringPtr(w.TemplateID), nullableStringPtr(w.AssetID),
		w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) GetWorkItem(ctx context.Context, id string) (domain.WorkItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id=?`, id)
	w, err := scanWorkItem(row.Scan)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) UpdateWorkItem(ctx context.Context, tx *sql.Tx, w domain.WorkItem) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE work_items SET title=?, description=?, status=?, priority=?, assigned_to=?, team_id=?, due_date=?, workflow_template_id=?, template_id=?, asset_id=?, updated_at=? WHERE id=?`,
		w.Title, nullable(w.Description), w.Status, nullable(w.Priority),
		nullableStringPtr(w.AssignedTo), nullableStringPtr(w.TeamID), nullableStringPtr(w.DueDate),
		nullableStringPtr(w.WorkflowTemplateID), nullableStringPtr(w.TemplateID), nullableStringPtr(w.AssetID),
		w.UpdatedAt, w.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOrgWorkItems returns every work item in an organization. The
// availability filter narrows this set in memory.
func (r Repo) ListOrgWorkItems(ctx context.Context, orgID string) ([]domain.WorkItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE org_id=? ORDER BY created_at DESC, id DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// ListOpenWorkItems returns the caller's current open working set.
func (r Repo) ListOpenWorkItems(ctx context.Context, orgID, userID string, statuses []string) ([]domain.WorkItem, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(statuses)), ",")
	args := []any{orgID, userID}
	for _, s := range statuses {
		args = append(args, s)
	}
	query := fmt.Sprintf(`SELECT `+workItemColumns+` FROM work_items WHERE org_id=? AND assigned_to=? AND status IN (%s) ORDER BY created_at DESC, id DESC`, placeholders)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) InsertWorkflowTemplate(ctx context.Context, t domain.WorkflowTemplate) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO workflow_templates(id,org_id,name,steps_json,created_at) VALUES (?,?,?,?,?)`,
		t.ID, t.OrgID, t.Name, nullable(t.StepsJSON), t.CreatedAt)
	return err
}

func (r Repo) GetWorkflowTemplate(ctx context.Context, id string) (domain.WorkflowTemplate, error) {
	var t domain.WorkflowTemplate
	var steps sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,org_id,name,steps_json,created_at FROM workflow_templates WHERE id=?`, id).
		Scan(&t.ID, &t.OrgID, &t.Name, &steps, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.StepsJSON = steps.String
	return t, nil
}

func (r Repo) InsertFieldAsset(ctx context.Context, tx *sql.Tx, a domain.FieldAsset) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO field_assets(id,org_id,name,asset_type,latitude,longitude,notes,captured_by,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OrgID, a.Name, nullable(a.AssetType), a.Latitude, a.Longitude, nullable(a.Notes), a.CapturedBy, a.CreatedAt)
	return err
}

func (r Repo) GetFieldAsset(ctx context.Context, id string) (domain.FieldAsset, error) {
	var a domain.FieldAsset
	var assetType, notes sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,org_id,name,asset_type,latitude,longitude,notes,captured_by,created_at FROM field_assets WHERE id=?`, id).
		Scan(&a.ID, &a.OrgID, &a.Name, &assetType, &a.Latitude, &a.Longitude, &notes, &a.CapturedBy, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.AssetType = assetType.String
	a.Notes = notes.String
	return a, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
