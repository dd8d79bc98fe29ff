package outreach

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"campaign-engine/pkg/utils"
)

// PostgresStore persists attempts in outreach_attempt.
// Creation goes through create_outreach_attempt(), which serializes on the
// (contact, campaign) pair so concurrent dials produce one row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const attemptColumns = `id, workspace_id, contact_id, campaign_id, user_id, queue_id, disposition, result, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(r rowScanner) (Attempt, error) {
	var (
		a      Attempt
		userID sql.NullString
		disp   string
		result []byte
	)
	if err := r.Scan(
		&a.ID,
		&a.WorkspaceID,
		&a.ContactID,
		&a.CampaignID,
		&userID,
		&a.QueueID,
		&disp,
		&result,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return Attempt{}, err
	}
	if userID.Valid {
		u := userID.String
		a.UserID = &u
	}
	a.Disposition = Disposition(disp)
	a.Result = map[string]any{}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &a.Result); err != nil {
			return Attempt{}, err
		}
	}
	return a, nil
}

func (p *PostgresStore) FindRecent(ctx context.Context, contactID, campaignID string, since time.Time) (Attempt, bool, error) {
	q := `
SELECT ` + attemptColumns + `
FROM outreach_attempt
WHERE contact_id = $1 AND campaign_id = $2 AND created_at >= $3
ORDER BY created_at DESC
LIMIT 1
`
	a, err := scanAttempt(p.db.QueryRowContext(ctx, q, contactID, campaignID, since))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, false, nil
		}
		return Attempt{}, false, err
	}
	return a, true, nil
}

func (p *PostgresStore) Create(ctx context.Context, cp CreateParams) (Attempt, error) {
	q := `SELECT ` + attemptColumns + ` FROM create_outreach_attempt($1, $2, $3, $4, $5, $6, $7)`
	var userID any
	if cp.UserID != nil {
		userID = *cp.UserID
	}
	args := []any{cp.WorkspaceID, cp.ContactID, cp.CampaignID, cp.QueueID, userID, cp.Since, cp.At}
	a, err := scanAttempt(p.db.QueryRowContext(ctx, q, args...))
	if utils.IsRetryable(err) {
		// The pair lock can deadlock against a concurrent cancel; one retry
		// sees the settled rows.
		a, err = scanAttempt(p.db.QueryRowContext(ctx, q, args...))
	}
	if err != nil {
		return Attempt{}, err
	}
	return a, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Attempt, error) {
	q := `SELECT ` + attemptColumns + ` FROM outreach_attempt WHERE id = $1`
	a, err := scanAttempt(p.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, ErrNotFound
		}
		return Attempt{}, err
	}
	return a, nil
}

func (p *PostgresStore) MergeResult(ctx context.Context, id string, patch map[string]any, disposition *Disposition, at time.Time) (Attempt, error) {
	if patch == nil {
		patch = map[string]any{}
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return Attempt{}, err
	}
	var disp any
	if disposition != nil {
		disp = string(*disposition)
	}

	q := `
UPDATE outreach_attempt
SET result = COALESCE(result, '{}'::jsonb) || $2::jsonb,
    disposition = COALESCE($3, disposition),
    updated_at = $4
WHERE id = $1
RETURNING ` + attemptColumns
	a, err := scanAttempt(p.db.QueryRowContext(ctx, q, id, body, disp, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, ErrNotFound
		}
		return Attempt{}, err
	}
	return a, nil
}

func (p *PostgresStore) CancelForCampaign(ctx context.Context, campaignID string, at time.Time) (int, error) {
	const q = `SELECT cancel_outreach_attempts($1, $2)`
	var n int
	if err := p.db.QueryRowContext(ctx, q, campaignID, at).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
