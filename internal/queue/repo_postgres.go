package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"campaign-engine/pkg/utils"
)

// PostgresStore persists queues in campaign_queue.
//
// Expects the schema from internal/migrations, in particular
// UNIQUE (campaign_id, contact_id) and handle_campaign_queue_entry().
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const entryColumns = `id, workspace_id, campaign_id, contact_id, queue_order, status, status_kind, attempts, household_key, claimed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var (
		e         Entry
		raw, kind string
		claimedAt sql.NullTime
	)
	if err := r.Scan(
		&e.ID,
		&e.WorkspaceID,
		&e.CampaignID,
		&e.ContactID,
		&e.QueueOrder,
		&raw,
		&kind,
		&e.Attempts,
		&e.HouseholdKey,
		&claimedAt,
		&e.UpdatedAt,
	); err != nil {
		return Entry{}, err
	}
	e.Status = FromColumns(raw, kind)
	if claimedAt.Valid {
		t := claimedAt.Time
		e.ClaimedAt = &t
	}
	return e, nil
}

func (p *PostgresStore) MaxOrder(ctx context.Context, campaignID string) (int, error) {
	const q = `SELECT COALESCE(MAX(queue_order), 0) FROM campaign_queue WHERE campaign_id = $1`
	var max int
	if err := p.db.QueryRowContext(ctx, q, campaignID).Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

func (p *PostgresStore) UpsertBatch(ctx context.Context, items []UpsertItem) error {
	const q = `SELECT handle_campaign_queue_entry($1, $2, $3, $4, $5, $6)`
	// Batches race the stale sweep on the same rows; the whole batch reruns.
	return utils.WithTxRetry(ctx, p.db, nil, 3, func(ctx context.Context, tx *sql.Tx) error {
		for _, it := range items {
			if _, err := tx.ExecContext(ctx, q, it.WorkspaceID, it.CampaignID, it.ContactID, it.QueueOrder, it.HouseholdKey, it.Requeue); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM campaign_queue WHERE id = $1`
	e, err := scanEntry(p.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func (p *PostgresStore) Candidates(ctx context.Context, cq CandidateQuery) ([]Entry, error) {
	q := `
SELECT ` + entryColumns + `
FROM campaign_queue
WHERE campaign_id = $1 AND status_kind = 'queued'
ORDER BY (household_key <> '' AND household_key = $2) DESC, queue_order ASC, id ASC
LIMIT $3
`
	rows, err := p.db.QueryContext(ctx, q, cq.CampaignID, cq.PreferHousehold, cq.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0, cq.Limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) TryClaim(ctx context.Context, id int64, claimant string, at time.Time) (Entry, bool, error) {
	// The status_kind predicate is the compare-and-set: two claimants racing on
	// the same row see exactly one RETURNING.
	q := `
UPDATE campaign_queue
SET status = $2, status_kind = 'assigned', claimed_at = $3, updated_at = $3
WHERE id = $1 AND status_kind = 'queued'
RETURNING ` + entryColumns
	e, err := scanEntry(p.db.QueryRowContext(ctx, q, id, claimant, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return e, true, nil
}

func (p *PostgresStore) Update(ctx context.Context, id int64, u Update) (Entry, error) {
	q := `
UPDATE campaign_queue
SET status = $2,
    status_kind = $3,
    attempts = attempts + CASE WHEN $4 THEN 1 ELSE 0 END,
    claimed_at = CASE WHEN $3 = 'queued' THEN NULL ELSE claimed_at END,
    updated_at = $5
WHERE id = $1
RETURNING ` + entryColumns
	e, err := scanEntry(p.db.QueryRowContext(ctx, q, id, u.Status.String(), string(u.Status.Kind), u.IncrementAttempts, u.At))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func (p *PostgresStore) TryReclaim(ctx context.Context, id int64, expected Status, at time.Time) (bool, error) {
	const q = `
UPDATE campaign_queue
SET status = 'queued', status_kind = 'queued', claimed_at = NULL, updated_at = $4
WHERE id = $1 AND status = $2 AND status_kind = $3
`
	res, err := p.db.ExecContext(ctx, q, id, expected.String(), string(expected.Kind), at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) ListAssignedBefore(ctx context.Context, before time.Time, limit int) ([]Entry, error) {
	q := `
SELECT ` + entryColumns + `
FROM campaign_queue
WHERE status_kind = 'assigned' AND claimed_at < $1
ORDER BY id ASC
LIMIT $2
`
	rows, err := p.db.QueryContext(ctx, q, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ResetCampaign(ctx context.Context, campaignID string, at time.Time) (int, error) {
	const q = `SELECT reset_campaign($1, $2)`
	var n int
	if err := p.db.QueryRowContext(ctx, q, campaignID, at).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *PostgresStore) CountQueued(ctx context.Context, campaignID string) (int, error) {
	const q = `SELECT COUNT(*) FROM campaign_queue WHERE campaign_id = $1 AND status_kind = 'queued'`
	var n int
	if err := p.db.QueryRowContext(ctx, q, campaignID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
