package campaigns

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const campaignColumns = `id, workspace_id, title, type, status, is_active, schedule, script_id, caller_id, voicedrop_audio, group_households, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(r rowScanner) (Campaign, error) {
	var (
		c        Campaign
		schedule []byte
		scriptID sql.NullString
		audio    sql.NullString
	)
	if err := r.Scan(
		&c.ID,
		&c.WorkspaceID,
		&c.Title,
		&c.Type,
		&c.Status,
		&c.IsActive,
		&schedule,
		&scriptID,
		&c.CallerID,
		&audio,
		&c.GroupHouseholds,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Campaign{}, err
	}
	c.ScriptID = scriptID.String
	c.VoicedropAudio = audio.String
	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &c.Schedule); err != nil {
			return Campaign{}, err
		}
	}
	return c, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaign WHERE id = $1`
	c, err := scanCampaign(p.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	return c, nil
}

func (p *PostgresStore) list(ctx context.Context, q string, args ...any) ([]Campaign, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListSchedulable(ctx context.Context) ([]Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaign WHERE status IN ('scheduled', 'running') ORDER BY id`
	return p.list(ctx, q)
}

func (p *PostgresStore) ListActive(ctx context.Context, t Type) ([]Campaign, error) {
	q := `
SELECT ` + campaignColumns + `
FROM campaign
WHERE is_active AND status <> 'complete' AND ($1 = '' OR type = $1)
ORDER BY id
`
	return p.list(ctx, q, string(t))
}

func (p *PostgresStore) Update(ctx context.Context, id string, patch Patch) (Campaign, error) {
	var active, status any
	if patch.IsActive != nil {
		active = *patch.IsActive
	}
	if patch.Status != nil {
		status = string(*patch.Status)
	}
	q := `
UPDATE campaign
SET is_active = COALESCE($2, is_active),
    status = COALESCE($3, status),
    updated_at = $4
WHERE id = $1
RETURNING ` + campaignColumns
	c, err := scanCampaign(p.db.QueryRowContext(ctx, q, id, active, status, patch.At))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	return c, nil
}

func (p *PostgresStore) GetContact(ctx context.Context, id string) (Contact, error) {
	const q = `SELECT id, workspace_id, phone, COALESCE(firstname, ''), COALESCE(surname, ''), COALESCE(address, '') FROM contact WHERE id = $1`
	var c Contact
	if err := p.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.WorkspaceID, &c.Phone, &c.FirstName, &c.LastName, &c.Address); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	return c, nil
}

func (p *PostgresStore) Contacts(ctx context.Context, ids []string) ([]Contact, error) {
	const q = `SELECT id, workspace_id, phone, COALESCE(firstname, ''), COALESCE(surname, ''), COALESCE(address, '') FROM contact WHERE id = ANY($1)`
	rows, err := p.db.QueryContext(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Contact, 0, len(ids))
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Phone, &c.FirstName, &c.LastName, &c.Address); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
