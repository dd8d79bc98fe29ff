package calls

import (
	"context"
	"time"
)

// Store is the persistence contract for calls. Every write is keyed by sid
// and field-scoped, so concurrent webhook handlers never overwrite each other.
type Store interface {
	// Create inserts the call; an existing row for the sid is returned unchanged.
	Create(ctx context.Context, c Call) (Call, error)
	Get(ctx context.Context, sid string) (Call, error)
	// Apply performs the transition atomically. A terminal or stale transition
	// returns the current row with ErrStateConflict.
	Apply(ctx context.Context, sid string, t Transition) (Call, error)
	// SetAnsweredBy records the AMD result once; changed is false when it was
	// already set or the call is terminal.
	SetAnsweredBy(ctx context.Context, sid, answeredBy string, at time.Time) (c Call, changed bool, err error)
	// MarkFinalized records that terminal bookkeeping committed. It is a
	// no-op when the marker is already set.
	MarkFinalized(ctx context.Context, sid string, at time.Time) error
	// ListActive pages non-terminal calls of a campaign ordered by sid.
	ListActive(ctx context.Context, campaignID, afterSID string, limit int) ([]Call, error)
}
