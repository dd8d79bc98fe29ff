package reporting

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (p *PostgresRepo) CallStats(ctx context.Context, workspaceID, campaignID string, tr TimeRange) (CallStats, error) {
	const q = `
SELECT status, COUNT(*), COALESCE(SUM(duration), 0)
FROM call
WHERE workspace_id = $1 AND campaign_id = $2 AND created_at >= $3 AND created_at < $4
GROUP BY status
`
	rows, err := p.db.QueryContext(ctx, q, workspaceID, campaignID, tr.From, tr.To)
	if err != nil {
		return CallStats{}, err
	}
	defer rows.Close()

	out := CallStats{ByStatus: map[string]int{}}
	for rows.Next() {
		var (
			status   string
			n, total int
		)
		if err := rows.Scan(&status, &n, &total); err != nil {
			return CallStats{}, err
		}
		out.ByStatus[status] = n
		out.TotalDurationSeconds += total
	}
	return out, rows.Err()
}

func (p *PostgresRepo) Dispositions(ctx context.Context, workspaceID, campaignID string, tr TimeRange) (map[string]int, error) {
	const q = `
SELECT disposition, COUNT(*)
FROM outreach_attempt
WHERE workspace_id = $1 AND campaign_id = $2 AND created_at >= $3 AND created_at < $4
GROUP BY disposition
`
	rows, err := p.db.QueryContext(ctx, q, workspaceID, campaignID, tr.From, tr.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			disp string
			n    int
		)
		if err := rows.Scan(&disp, &n); err != nil {
			return nil, err
		}
		out[disp] = n
	}
	return out, rows.Err()
}
