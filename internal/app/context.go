package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/db"
	"fieldsync/internal/migrate"
	"fieldsync/internal/repo"
)

// DefaultOrgID is the organization created for single-tenant workspaces.
const DefaultOrgID = "default-org"

// Open prepares a workspace for use: config, database, migrations and
// the default organization. Every CLI command goes through here.
func Open(ctx context.Context, workspace string) (*sql.DB, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, nil, err
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	if err := ensureDefaultOrg(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, cfg, nil
}

func ensureDefaultOrg(ctx context.Context, conn *sql.DB) error {
	r := repo.Repo{DB: conn}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.EnsureOrg(ctx, tx, DefaultOrgID, "Default Org", now); err != nil {
		return fmt.Errorf("ensure org: %w", err)
	}
	return tx.Commit()
}
