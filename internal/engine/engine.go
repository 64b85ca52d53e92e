package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"fieldsync/internal/audit"
	"fieldsync/internal/config"
	"fieldsync/internal/domain"
	"fieldsync/internal/media"
	"fieldsync/internal/repo"
	"fieldsync/internal/worker"
)

// Principal identifies the authenticated caller of every engine
// operation. Auth lives at the transport layer; the engine only needs
// the resolved identity and organization.
type Principal struct {
	UserID string
	OrgID  string
}

// Engine owns the offline synchronization operations: the availability
// filter, bulk download, sync reconciliation and media ingest. Now is
// injectable for tests.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Media  media.Store
	Pool   *worker.Pool
	Logger *log.Logger
	Now    func() time.Time
}

func New(conn *sql.DB, cfg *config.Config, mediaDir string, pool *worker.Pool) *Engine {
	return &Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Audit:  audit.Writer{DB: conn},
		Config: cfg,
		Media:  media.Store{Dir: mediaDir},
		Pool:   pool,
		Logger: log.Default(),
		Now:    time.Now,
	}
}

func (e *Engine) now() string {
	return e.Now().UTC().Format(time.RFC3339)
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// resolveStep loads the work item, its execution and one step, scoped
// to the caller's organization.
func (e *Engine) resolveStep(ctx context.Context, p Principal, workItemID string, stepIndex int) (domain.WorkItem, domain.WorkflowExecution, domain.ExecutionStep, error) {
	var exec domain.WorkflowExecution
	var step domain.ExecutionStep
	item, err := e.Repo.GetWorkItem(ctx, workItemID)
	if err != nil {
		return item, exec, step, fmt.Errorf("work item %s: %w", workItemID, err)
	}
	if item.OrgID != p.OrgID {
		return item, exec, step, fmt.Errorf("work item %s: %w", workItemID, repo.ErrNotFound)
	}
	exec, err = e.Repo.GetExecutionByWorkItem(ctx, workItemID)
	if err != nil {
		return item, exec, step, fmt.Errorf("execution for %s: %w", workItemID, err)
	}
	step, err = e.Repo.GetStep(ctx, exec.ID, stepIndex)
	if err != nil {
		return item, exec, step, fmt.Errorf("step %d of %s: %w", stepIndex, exec.ID, err)
	}
	return item, exec, step, nil
}
