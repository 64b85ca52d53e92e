package repo

import (
	"context"
	"database/sql"

	"fieldsync/internal/domain"
)

func (r Repo) InsertExecution(ctx context.Context, tx *sql.Tx, e domain.WorkflowExecution) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO workflow_executions(id,work_item_id,workflow_template_id,status,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		e.ID, e.WorkItemID, e.WorkflowTemplateID, e.Status, e.CreatedAt, e.UpdatedAt)
	return err
}

// GetExecutionByWorkItem returns the single execution attached to a work
// item, if any.
func (r Repo) GetExecutionByWorkItem(ctx context.Context, workItemID string) (domain.WorkflowExecution, error) {
	var e domain.WorkflowExecution
	err := r.DB.QueryRowContext(ctx, `SELECT id,work_item_id,workflow_template_id,status,created_at,updated_at FROM workflow_executions WHERE work_item_id=?`, workItemID).
		Scan(&e.ID, &e.WorkItemID, &e.WorkflowTemplateID, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) UpdateExecutionStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE workflow_executions SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const stepColumns = `execution_id,step_index,title,status,notes,completed_at,completed_by,evidence_json`

func scanStep(scan func(dest ...any) error) (domain.ExecutionStep, error) {
	var s domain.ExecutionStep
	var notes, completedAt, completedBy, evidence sql.NullString
	err := scan(&s.ExecutionID, &s.StepIndex, &s.Title, &s.Status, &notes, &completedAt, &completedBy, &evidence)
	if err != nil {
		return s, err
	}
	s.Notes = notes.String
	if completedAt.Valid {
		s.CompletedAt = &completedAt.String
	}
	if completedBy.Valid {
		s.CompletedBy = &completedBy.String
	}
	s.EvidenceJSON = evidence.String
	return s, nil
}

func (r Repo) InsertStep(ctx context.Context, tx *sql.Tx, s domain.ExecutionStep) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO execution_steps(`+stepColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		s.ExecutionID, s.StepIndex, s.Title, s.Status, nullable(s.Notes),
		nullableStringPtr(s.CompletedAt), nullableStringPtr(s.CompletedBy), nullable(s.EvidenceJSON))
	return err
}

func (r Repo) GetStep(ctx context.Context, executionID string, stepIndex int) (domain.ExecutionStep, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM execution_steps WHERE execution_id=? AND step_index=?`, executionID, stepIndex)
	s, err := scanStep(row.Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) UpdateStep(ctx context.Context, tx *sql.Tx, s domain.ExecutionStep) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE execution_steps SET title=?, status=?, notes=?, completed_at=?, completed_by=?, evidence_json=? WHERE execution_id=? AND step_index=?`,
		s.Title, s.Status, nullable(s.Notes),
		nullableStringPtr(s.CompletedAt), nullableStringPtr(s.CompletedBy), nullable(s.EvidenceJSON),
		s.ExecutionID, s.StepIndex)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListSteps(ctx context.Context, executionID string) ([]domain.ExecutionStep, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stepColumns+` FROM execution_steps WHERE execution_id=? ORDER BY step_index`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExecutionStep
	for rows.Next() {
		s, err := scanStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountOpenSteps returns the number of steps not yet completed.
func (r Repo) CountOpenSteps(ctx context.Context, tx *sql.Tx, executionID string) (int, error) {
	query := r.DB.QueryRowContext
	if tx != nil {
		query = tx.QueryRowContext
	}
	var n int
	err := query(ctx, `SELECT COUNT(*) FROM execution_steps WHERE execution_id=? AND status!='completed'`, executionID).Scan(&n)
	return n, err
}
