package outreach

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string]*Attempt
	order    []string
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{attempts: map[string]*Attempt{}} }

func (m *MemoryStore) FindRecent(ctx context.Context, contactID, campaignID string, since time.Time) (Attempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a := m.findRecentLocked(contactID, campaignID, since); a != nil {
		return copyAttempt(*a), true, nil
	}
	return Attempt{}, false, nil
}

func (m *MemoryStore) findRecentLocked(contactID, campaignID string, since time.Time) *Attempt {
	for i := len(m.order) - 1; i >= 0; i-- {
		a := m.attempts[m.order[i]]
		if a.ContactID == contactID && a.CampaignID == campaignID && !a.CreatedAt.Before(since) {
			return a
		}
	}
	return nil
}

func (m *MemoryStore) Create(ctx context.Context, p CreateParams) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a := m.findRecentLocked(p.ContactID, p.CampaignID, p.Since); a != nil {
		return copyAttempt(*a), nil
	}
	a := &Attempt{
		ID:          uuid.NewString(),
		WorkspaceID: p.WorkspaceID,
		ContactID:   p.ContactID,
		CampaignID:  p.CampaignID,
		UserID:      p.UserID,
		QueueID:     p.QueueID,
		Disposition: DispositionInitiated,
		Result:      map[string]any{},
		CreatedAt:   p.At,
		UpdatedAt:   p.At,
	}
	m.attempts[a.ID] = a
	m.order = append(m.order, a.ID)
	return copyAttempt(*a), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, ErrNotFound
	}
	return copyAttempt(*a), nil
}

func (m *MemoryStore) MergeResult(ctx context.Context, id string, patch map[string]any, disposition *Disposition, at time.Time) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, ErrNotFound
	}
	if a.Result == nil {
		a.Result = map[string]any{}
	}
	for k, v := range patch {
		a.Result[k] = v
	}
	if disposition != nil {
		a.Disposition = *disposition
	}
	a.UpdatedAt = at
	return copyAttempt(*a), nil
}

func (m *MemoryStore) CancelForCampaign(ctx context.Context, campaignID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attempts {
		if a.CampaignID != campaignID || a.Disposition.IsFinal() {
			continue
		}
		a.Disposition = DispositionCanceled
		a.UpdatedAt = at
		n++
	}
	return n, nil
}

// List returns every attempt for a campaign in creation order.
func (m *MemoryStore) List(campaignID string) []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Attempt, 0)
	for _, id := range m.order {
		if a := m.attempts[id]; a.CampaignID == campaignID {
			out = append(out, copyAttempt(*a))
		}
	}
	return out
}

func copyAttempt(a Attempt) Attempt {
	out := a
	out.Result = make(map[string]any, len(a.Result))
	for k, v := range a.Result {
		out.Result[k] = v
	}
	return out
}
