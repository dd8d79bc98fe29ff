package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo writes to audit_event, which only grants INSERT.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_event (id, workspace_id, action, actor_user_id, actor_role, ip_address, campaign_id, metadata, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), COALESCE(NULLIF($8, '')::jsonb, '{}'::jsonb), $9)`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.WorkspaceID, string(e.Action), e.ActorUserID, e.ActorRole, e.IPAddress, e.CampaignID, e.Metadata, e.CreatedAt)
	return err
}
