package ivr

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

type ScriptStore interface {
	GetScript(ctx context.Context, id string) (Script, error)
}

// MemoryStore is an in-memory ScriptStore for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	scripts map[string]Script
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{scripts: map[string]Script{}} }

func (m *MemoryStore) Put(s Script) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[s.ID] = s
}

func (m *MemoryStore) GetScript(ctx context.Context, id string) (Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scripts[id]
	if !ok {
		return Script{}, ErrScriptNotFound
	}
	return s, nil
}

// PostgresStore reads scripts whose graph is stored as jsonb.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) GetScript(ctx context.Context, id string) (Script, error) {
	const q = `SELECT steps FROM script WHERE id = $1`
	var raw []byte
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Script{}, ErrScriptNotFound
		}
		return Script{}, err
	}
	sc, err := ParseScript(raw)
	if err != nil {
		return Script{}, err
	}
	if sc.ID == "" {
		sc.ID = id
	}
	return sc, nil
}
