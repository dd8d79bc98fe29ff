package reporting

import (
	"context"

	"campaign-engine/internal/calls"
	"campaign-engine/internal/outreach"
)

// MemoryRepo aggregates in-process slices; used in tests.
type MemoryRepo struct {
	Calls    []calls.Call
	Attempts []outreach.Attempt
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) CallStats(ctx context.Context, workspaceID, campaignID string, tr TimeRange) (CallStats, error) {
	out := CallStats{ByStatus: map[string]int{}}
	for _, c := range r.Calls {
		if c.WorkspaceID != workspaceID || c.CampaignID != campaignID {
			continue
		}
		if c.CreatedAt.Before(tr.From) || !c.CreatedAt.Before(tr.To) {
			continue
		}
		out.ByStatus[string(c.Status)]++
		out.TotalDurationSeconds += c.DurationSeconds
	}
	return out, nil
}

func (r *MemoryRepo) Dispositions(ctx context.Context, workspaceID, campaignID string, tr TimeRange) (map[string]int, error) {
	out := map[string]int{}
	for _, a := range r.Attempts {
		if a.WorkspaceID != workspaceID || a.CampaignID != campaignID {
			continue
		}
		if a.CreatedAt.Before(tr.From) || !a.CreatedAt.Before(tr.To) {
			continue
		}
		out[string(a.Disposition)]++
	}
	return out, nil
}
