package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Store useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]Call
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{calls: map[string]Call{}} }

func (r *MemoryRepo) Create(ctx context.Context, c Call) (Call, error) {
	if c.SID == "" || c.WorkspaceID == "" {
		return Call{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.calls[c.SID]; ok {
		return cur, nil
	}
	r.calls[c.SID] = c
	return c, nil
}

func (r *MemoryRepo) Get(ctx context.Context, sid string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[sid]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) Apply(ctx context.Context, sid string, t Transition) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[sid]
	if !ok {
		return Call{}, ErrNotFound
	}
	if err := c.apply(t); err != nil {
		return c, err
	}
	r.calls[sid] = c
	return c, nil
}

func (r *MemoryRepo) SetAnsweredBy(ctx context.Context, sid, answeredBy string, at time.Time) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[sid]
	if !ok {
		return Call{}, false, ErrNotFound
	}
	if c.AnsweredBy != "" || c.Status.IsTerminal() {
		return c, false, nil
	}
	c.AnsweredBy = answeredBy
	c.UpdatedAt = at
	r.calls[sid] = c
	return c, true, nil
}

func (r *MemoryRepo) MarkFinalized(ctx context.Context, sid string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[sid]
	if !ok {
		return ErrNotFound
	}
	if c.FinalizedAt == nil {
		c.FinalizedAt = &at
		r.calls[sid] = c
	}
	return nil
}

func (r *MemoryRepo) ListActive(ctx context.Context, campaignID, afterSID string, limit int) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if c.CampaignID != campaignID || c.Status.IsTerminal() || c.SID <= afterSID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SID < out[j].SID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every call of a campaign.
func (r *MemoryRepo) All(campaignID string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if c.CampaignID == campaignID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
