package telephony

import (
	"sync"
)

// Registry resolves the provider for a workspace. Workspaces with their own
// subaccount get a dedicated provider; everyone else shares the default.
type Registry struct {
	mu          sync.RWMutex
	def         Provider
	byWorkspace map[string]Provider
}

func NewRegistry(def Provider) *Registry {
	return &Registry{def: def, byWorkspace: map[string]Provider{}}
}

func (r *Registry) Register(workspaceID string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byWorkspace[workspaceID] = p
}

func (r *Registry) Resolve(workspaceID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.byWorkspace[workspaceID]; ok {
		return p, nil
	}
	if r.def == nil {
		return nil, ErrNoProvider
	}
	return r.def, nil
}

type authTokener interface {
	AuthToken() string
}

// AuthToken returns the signing token of the workspace's provider, if it has one.
func (r *Registry) AuthToken(workspaceID string) string {
	p, err := r.Resolve(workspaceID)
	if err != nil {
		return ""
	}
	if t, ok := p.(authTokener); ok {
		return t.AuthToken()
	}
	return ""
}
