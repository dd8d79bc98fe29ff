package outreach

import (
	"context"
	"log/slog"
	"time"
)

// Store is the persistence contract for the attempt ledger.
type Store interface {
	FindRecent(ctx context.Context, contactID, campaignID string, since time.Time) (Attempt, bool, error)
	// Create must be idempotent for the same pair within the window: racing
	// callers both receive the single row.
	Create(ctx context.Context, p CreateParams) (Attempt, error)
	Get(ctx context.Context, id string) (Attempt, error)
	MergeResult(ctx context.Context, id string, patch map[string]any, disposition *Disposition, at time.Time) (Attempt, error)
	CancelForCampaign(ctx context.Context, campaignID string, at time.Time) (int, error)
}

// Ledger records one attempt per (contact, campaign) dial.
type Ledger struct {
	store  Store
	window time.Duration
	log    *slog.Logger
	clock  func() time.Time
}

func NewLedger(store Store, dedupeWindow time.Duration, log *slog.Logger) *Ledger {
	if dedupeWindow <= 0 {
		dedupeWindow = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{store: store, window: dedupeWindow, log: log, clock: time.Now}
}

type AttemptKey struct {
	WorkspaceID string
	ContactID   string
	CampaignID  string
	QueueID     int64
	UserID      *string
}

// GetOrCreateAttempt returns the attempt for the pair created within the
// dedupe window, creating one otherwise.
func (l *Ledger) GetOrCreateAttempt(ctx context.Context, k AttemptKey) (Attempt, error) {
	if k.ContactID == "" || k.CampaignID == "" || k.WorkspaceID == "" {
		return Attempt{}, ErrInvalidArgument
	}
	now := l.clock().UTC()
	since := now.Add(-l.window)

	a, ok, err := l.store.FindRecent(ctx, k.ContactID, k.CampaignID, since)
	if err != nil {
		return Attempt{}, err
	}
	if ok {
		return a, nil
	}

	a, err = l.store.Create(ctx, CreateParams{
		WorkspaceID: k.WorkspaceID,
		ContactID:   k.ContactID,
		CampaignID:  k.CampaignID,
		QueueID:     k.QueueID,
		UserID:      k.UserID,
		Since:       since,
		At:          now,
	})
	if err != nil {
		return Attempt{}, err
	}
	l.log.Debug("outreach attempt created", "attempt_id", a.ID, "campaign_id", k.CampaignID, "contact_id", k.ContactID)
	return a, nil
}

// UpdateResult shallow-merges patch into the attempt result and optionally
// sets the disposition. Keys absent from patch are left untouched.
func (l *Ledger) UpdateResult(ctx context.Context, attemptID string, patch map[string]any, disposition *Disposition) (Attempt, error) {
	if attemptID == "" {
		return Attempt{}, ErrInvalidArgument
	}
	if disposition != nil && !disposition.Valid() {
		return Attempt{}, ErrUnknownDisposition
	}
	return l.store.MergeResult(ctx, attemptID, patch, disposition, l.clock().UTC())
}

// SetDisposition is UpdateResult without a result patch.
func (l *Ledger) SetDisposition(ctx context.Context, attemptID string, d Disposition) (Attempt, error) {
	return l.UpdateResult(ctx, attemptID, nil, &d)
}

func (l *Ledger) Get(ctx context.Context, attemptID string) (Attempt, error) {
	return l.store.Get(ctx, attemptID)
}

// CancelCampaign marks every non-final attempt of the campaign canceled.
func (l *Ledger) CancelCampaign(ctx context.Context, campaignID string) (int, error) {
	if campaignID == "" {
		return 0, ErrInvalidArgument
	}
	return l.store.CancelForCampaign(ctx, campaignID, l.clock().UTC())
}

// IsFinal reports whether the disposition closes the attempt for cancellation.
func (d Disposition) IsFinal() bool {
	switch d {
	case DispositionInitiated, DispositionRinging, DispositionInProgress, "":
		return false
	default:
		return true
	}
}
