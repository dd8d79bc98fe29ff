package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
// The mutex gives each call the same single-row atomicity the SQL store has.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*Entry
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{entries: map[int64]*Entry{}} }

func (m *MemoryStore) MaxOrder(ctx context.Context, campaignID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, e := range m.entries {
		if e.CampaignID == campaignID && e.QueueOrder > max {
			max = e.QueueOrder
		}
	}
	return max, nil
}

func (m *MemoryStore) UpsertBatch(ctx context.Context, items []UpsertItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		if cur := m.findLocked(it.CampaignID, it.ContactID); cur != nil {
			if it.Requeue {
				cur.Status = Queued()
				cur.QueueOrder = it.QueueOrder
				cur.Attempts = 0
				cur.ClaimedAt = nil
				cur.UpdatedAt = time.Now().UTC()
			}
			continue
		}
		m.nextID++
		m.entries[m.nextID] = &Entry{
			ID:           m.nextID,
			WorkspaceID:  it.WorkspaceID,
			CampaignID:   it.CampaignID,
			ContactID:    it.ContactID,
			QueueOrder:   it.QueueOrder,
			Status:       Queued(),
			HouseholdKey: it.HouseholdKey,
			UpdatedAt:    time.Now().UTC(),
		}
	}
	return nil
}

func (m *MemoryStore) findLocked(campaignID, contactID string) *Entry {
	for _, e := range m.entries {
		if e.CampaignID == campaignID && e.ContactID == contactID {
			return e
		}
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return *e, nil
}

func (m *MemoryStore) Candidates(ctx context.Context, q CandidateQuery) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0)
	for _, e := range m.entries {
		if e.CampaignID == q.CampaignID && e.Status.IsQueued() {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if q.PreferHousehold != "" {
			pi := out[i].HouseholdKey == q.PreferHousehold
			pj := out[j].HouseholdKey == q.PreferHousehold
			if pi != pj {
				return pi
			}
		}
		if out[i].QueueOrder != out[j].QueueOrder {
			return out[i].QueueOrder < out[j].QueueOrder
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) TryClaim(ctx context.Context, id int64, claimant string, at time.Time) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, false, nil
	}
	if !e.Status.IsQueued() {
		return Entry{}, false, nil
	}
	e.Status = AssignedTo(claimant)
	t := at
	e.ClaimedAt = &t
	e.UpdatedAt = at
	return *e, true, nil
}

func (m *MemoryStore) Update(ctx context.Context, id int64, u Update) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e.Status = u.Status
	if u.IncrementAttempts {
		e.Attempts++
	}
	if u.Status.IsQueued() {
		e.ClaimedAt = nil
	}
	e.UpdatedAt = u.At
	return *e, nil
}

func (m *MemoryStore) TryReclaim(ctx context.Context, id int64, expected Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return false, ErrNotFound
	}
	if e.Status != expected {
		return false, nil
	}
	e.Status = Queued()
	e.ClaimedAt = nil
	e.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) ListAssignedBefore(ctx context.Context, before time.Time, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0)
	for _, e := range m.entries {
		if e.Status.Kind != KindAssigned || e.ClaimedAt == nil || !e.ClaimedAt.Before(before) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ResetCampaign(ctx context.Context, campaignID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.CampaignID != campaignID {
			continue
		}
		e.Status = Queued()
		e.Attempts = 0
		e.ClaimedAt = nil
		e.UpdatedAt = at
		n++
	}
	return n, nil
}

func (m *MemoryStore) CountQueued(ctx context.Context, campaignID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.CampaignID == campaignID && e.Status.IsQueued() {
			n++
		}
	}
	return n, nil
}

// Entries returns a snapshot of a campaign's entries ordered by queue order.
func (m *MemoryStore) Entries(campaignID string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0)
	for _, e := range m.entries {
		if e.CampaignID == campaignID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueOrder < out[j].QueueOrder })
	return out
}
