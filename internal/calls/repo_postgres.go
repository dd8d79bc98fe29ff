package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"campaign-engine/internal/callstatus"
	"campaign-engine/pkg/utils"
)

// PostgresRepo persists calls in the call table (sid primary key).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `sid, parent_call_sid, workspace_id, campaign_id, contact_id, outreach_attempt_id, queue_id, from_number, to_number, conference_name, status, answered_by, started_at, answered_at, ended_at, duration, finalized_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(r rowScanner) (Call, error) {
	var (
		c                   Call
		status              string
		answeredAt, endedAt sql.NullTime
		finalizedAt         sql.NullTime
	)
	if err := r.Scan(
		&c.SID,
		&c.ParentCallSID,
		&c.WorkspaceID,
		&c.CampaignID,
		&c.ContactID,
		&c.OutreachAttemptID,
		&c.QueueID,
		&c.From,
		&c.To,
		&c.ConferenceName,
		&status,
		&c.AnsweredBy,
		&c.StartedAt,
		&answeredAt,
		&endedAt,
		&c.DurationSeconds,
		&finalizedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Call{}, err
	}
	c.Status = callstatus.Normalize(status)
	if answeredAt.Valid {
		t := answeredAt.Time
		c.AnsweredAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		c.FinalizedAt = &t
	}
	return c, nil
}

func (p *PostgresRepo) Create(ctx context.Context, c Call) (Call, error) {
	if c.SID == "" || c.WorkspaceID == "" {
		return Call{}, ErrInvalidArgument
	}
	const q = `
INSERT INTO call (sid, parent_call_sid, workspace_id, campaign_id, contact_id, outreach_attempt_id, queue_id, from_number, to_number, conference_name, status, answered_by, started_at, duration, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, '', $12, 0, $13, $13)
ON CONFLICT (sid) DO NOTHING
`
	if _, err := p.db.ExecContext(ctx, q,
		c.SID, c.ParentCallSID, c.WorkspaceID, c.CampaignID, c.ContactID, c.OutreachAttemptID, c.QueueID,
		c.From, c.To, c.ConferenceName, string(c.Status), c.StartedAt, c.CreatedAt,
	); err != nil {
		return Call{}, err
	}
	return p.Get(ctx, c.SID)
}

func (p *PostgresRepo) Get(ctx context.Context, sid string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM call WHERE sid = $1`
	c, err := scanCall(p.db.QueryRowContext(ctx, q, sid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func (p *PostgresRepo) Apply(ctx context.Context, sid string, t Transition) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// Row lock serializes webhook handlers racing on the same sid.
		q := `SELECT ` + callColumns + ` FROM call WHERE sid = $1 FOR UPDATE`
		c, err := scanCall(tx.QueryRowContext(ctx, q, sid))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		before := c.Status
		if err := c.apply(t); err != nil {
			out = c
			return err
		}
		out = c
		if c.Status == before {
			return nil
		}

		const u = `
UPDATE call
SET status = $2, answered_at = $3, ended_at = $4, duration = $5, updated_at = $6
WHERE sid = $1
`
		_, err = tx.ExecContext(ctx, u, sid, string(c.Status), nullTime(c.AnsweredAt), nullTime(c.EndedAt), c.DurationSeconds, c.UpdatedAt)
		return err
	})
	return out, err
}

func (p *PostgresRepo) SetAnsweredBy(ctx context.Context, sid, answeredBy string, at time.Time) (Call, bool, error) {
	q := `
UPDATE call
SET answered_by = $2, updated_at = $3
WHERE sid = $1 AND answered_by = '' AND status NOT IN ('completed', 'failed', 'no-answer', 'busy', 'canceled')
RETURNING ` + callColumns
	c, err := scanCall(p.db.QueryRowContext(ctx, q, sid, answeredBy, at))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Call{}, false, err
	}
	cur, err := p.Get(ctx, sid)
	if err != nil {
		return Call{}, false, err
	}
	return cur, false, nil
}

func (p *PostgresRepo) MarkFinalized(ctx context.Context, sid string, at time.Time) error {
	const q = `UPDATE call SET finalized_at = $2 WHERE sid = $1 AND finalized_at IS NULL`
	if _, err := p.db.ExecContext(ctx, q, sid, at); err != nil {
		return err
	}
	return nil
}

func (p *PostgresRepo) ListActive(ctx context.Context, campaignID, afterSID string, limit int) ([]Call, error) {
	q := `
SELECT ` + callColumns + `
FROM call
WHERE campaign_id = $1 AND sid > $2 AND status NOT IN ('completed', 'failed', 'no-answer', 'busy', 'canceled')
ORDER BY sid ASC
LIMIT $3
`
	rows, err := p.db.QueryContext(ctx, q, campaignID, afterSID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Call, 0, limit)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
