package repo

import (
	"context"
	"database/sql"

	"fieldsync/internal/domain"
)

const syncLogColumns = `id,org_id,user_id,kind,outcome,total,succeeded,failed,duration_ms,detail_json,error,created_at`

func scanSyncLog(scan func(dest ...any) error) (domain.SyncLogEntry, error) {
	var e domain.SyncLogEntry
	var detail, errText sql.NullString
	err := scan(&e.ID, &e.OrgID, &e.UserID, &e.Kind, &e.Outcome, &e.Total, &e.Succeeded, &e.Failed,
		&e.DurationMS, &detail, &errText, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	e.DetailJSON = detail.String
	e.Error = errText.String
	return e, nil
}

// ListSyncLogs pages backwards through a user's sync history. A zero
// cursor starts from the newest entry; otherwise entries with id below
// the cursor are returned.
func (r Repo) ListSyncLogs(ctx context.Context, orgID, userID string, limit int, cursor int64) ([]domain.SyncLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs WHERE org_id=? AND user_id=?`
	args := []any{orgID, userID}
	if cursor > 0 {
		query += ` AND id<?`
		args = append(args, cursor)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SyncLogEntry
	for rows.Next() {
		e, err := scanSyncLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) GetSyncLog(ctx context.Context, id int64) (domain.SyncLogEntry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+syncLogColumns+` FROM sync_logs WHERE id=?`, id)
	e, err := scanSyncLog(row.Scan)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}
