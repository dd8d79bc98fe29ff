package auth

import "context"

// Identity is the authenticated operator or agent behind a request.
// UserID doubles as the queue claimant for manual and power dialing.
type Identity struct {
	UserID      string
	WorkspaceID string
	Role        string
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom reports false when the request was not authenticated.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}
