package campaigns

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
	contacts  map[string]Contact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{campaigns: map[string]Campaign{}, contacts: map[string]Contact{}}
}

func (m *MemoryStore) PutCampaign(c Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[c.ID] = c
}

func (m *MemoryStore) PutContact(c Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[c.ID] = c
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) ListSchedulable(ctx context.Context) ([]Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Campaign, 0)
	for _, c := range m.campaigns {
		if c.Status == StatusScheduled || c.Status == StatusRunning {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListActive(ctx context.Context, t Type) ([]Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Campaign, 0)
	for _, c := range m.campaigns {
		if c.IsActive && (t == "" || c.Type == t) && c.Status != StatusComplete {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, p Patch) (Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	c.UpdatedAt = p.At
	m.campaigns[id] = c
	return c, nil
}

func (m *MemoryStore) GetContact(ctx context.Context, id string) (Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) Contacts(ctx context.Context, ids []string) ([]Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Contact, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.contacts[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
