package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Writer appends sync activity rows. Entries ride the caller's
// transaction when one is given so a sync and its log row commit
// atomically.
type Writer struct {
	DB *sql.DB
}

type Entry struct {
	OrgID      string
	UserID     string
	Kind       string
	Outcome    string
	Total      int
	Succeeded  int
	Failed     int
	DurationMS int64
	Detail     any
	Error      string
	CreatedAt  string
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (int64, error) {
	var detail any
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return 0, fmt.Errorf("encode sync log detail: %w", err)
		}
		detail = string(data)
	}
	var errText any
	if e.Error != "" {
		errText = e.Error
	}
	exec := w.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `INSERT INTO sync_logs(org_id,user_id,kind,outcome,total,succeeded,failed,duration_ms,detail_json,error,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.OrgID, e.UserID, e.Kind, e.Outcome, e.Total, e.Succeeded, e.Failed, e.DurationMS, detail, errText, e.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("append sync log: %w", err)
	}
	return res.LastInsertId()
}
