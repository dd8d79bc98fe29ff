package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campaign-engine/internal/telemetry"
)

// Store is the persistence contract for campaign queues.
//
// Every mutation is a single-row conditional update or an idempotent upsert;
// no caller holds a lock across calls.
type Store interface {
	MaxOrder(ctx context.Context, campaignID string) (int, error)
	// UpsertBatch applies the idempotent per-contact upsert for a whole batch
	// atomically. Dedup and requeue-vs-insert are decided by the store.
	UpsertBatch(ctx context.Context, items []UpsertItem) error

	Get(ctx context.Context, id int64) (Entry, error)
	Candidates(ctx context.Context, q CandidateQuery) ([]Entry, error)
	// TryClaim assigns the entry only if it is still queued.
	TryClaim(ctx context.Context, id int64, claimant string, at time.Time) (Entry, bool, error)
	Update(ctx context.Context, id int64, u Update) (Entry, error)
	// TryReclaim resets the entry to queued only if its status still equals expected.
	TryReclaim(ctx context.Context, id int64, expected Status, at time.Time) (bool, error)

	ListAssignedBefore(ctx context.Context, before time.Time, limit int) ([]Entry, error)
	ResetCampaign(ctx context.Context, campaignID string, at time.Time) (int, error)
	CountQueued(ctx context.Context, campaignID string) (int, error)
}

type UpsertItem struct {
	WorkspaceID  string
	CampaignID   string
	ContactID    string
	QueueOrder   int
	HouseholdKey string
	Requeue      bool
}

type CandidateQuery struct {
	CampaignID string
	// PreferHousehold floats queued entries of this household to the front.
	PreferHousehold string
	Limit           int
}

type Update struct {
	Status            Status
	IncrementAttempts bool
	At                time.Time
}

// Liveness returns the last heartbeat per claimant for a workspace.
type Liveness interface {
	LastOnline(ctx context.Context, workspaceID string) (map[string]time.Time, error)
}

type Options struct {
	BatchSize      int
	MaxAttempts    int
	StaleThreshold time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.BatchSize <= 0 {
		out.BatchSize = 100
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.StaleThreshold <= 0 {
		out.StaleThreshold = 15 * time.Minute
	}
	return out
}

// Service is the authoritative ordered dial list per campaign.
type Service struct {
	store Store
	opts  Options
	log   *slog.Logger
	clock func() time.Time
}

func NewService(store Store, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, opts: opts.withDefaults(), log: log, clock: time.Now}
}

type EnqueueOptions struct {
	// StartOrder overrides the default of current max + 1.
	StartOrder *int
	Requeue    bool
	// Households maps contact id to household key.
	Households map[string]string
}

type EnqueueResult struct {
	Enqueued   int
	FirstOrder int
	LastOrder  int
}

// Enqueue appends contacts in batches. A failing batch returns *QueueError;
// earlier batches stay committed (at-least-once).
func (s *Service) Enqueue(ctx context.Context, workspaceID, campaignID string, contactIDs []string, opts EnqueueOptions) (EnqueueResult, error) {
	if workspaceID == "" || campaignID == "" {
		return EnqueueResult{}, ErrInvalidArgument
	}
	if len(contactIDs) == 0 {
		return EnqueueResult{}, nil
	}

	start := 0
	if opts.StartOrder != nil {
		start = *opts.StartOrder
	} else {
		max, err := s.store.MaxOrder(ctx, campaignID)
		if err != nil {
			return EnqueueResult{}, fmt.Errorf("%w: max order: %v", ErrDatastore, err)
		}
		start = max + 1
	}

	out := EnqueueResult{FirstOrder: start, LastOrder: start - 1}
	for b := 0; b*s.opts.BatchSize < len(contactIDs); b++ {
		lo := b * s.opts.BatchSize
		hi := lo + s.opts.BatchSize
		if hi > len(contactIDs) {
			hi = len(contactIDs)
		}

		items := make([]UpsertItem, 0, hi-lo)
		for i, cid := range contactIDs[lo:hi] {
			items = append(items, UpsertItem{
				WorkspaceID:  workspaceID,
				CampaignID:   campaignID,
				ContactID:    cid,
				QueueOrder:   start + lo + i,
				HouseholdKey: opts.Households[cid],
				Requeue:      opts.Requeue,
			})
		}
		if err := s.store.UpsertBatch(ctx, items); err != nil {
			return out, &QueueError{CampaignID: campaignID, Batch: b, Committed: out.Enqueued, Err: err}
		}
		out.Enqueued += len(items)
		out.LastOrder = start + hi - 1
		telemetry.EnqueuedTotal.Add(float64(len(items)))
	}

	s.log.Info("contacts enqueued", "campaign_id", campaignID, "count", out.Enqueued, "requeue", opts.Requeue)
	return out, nil
}

type ClaimRequest struct {
	CampaignID string
	Claimant   string
	Household  bool
	// LastHousehold is the household the claimant processed last.
	LastHousehold string
}

const (
	claimWindow    = 8
	maxClaimRounds = 16
)

// ClaimNext assigns the lowest-ordered queued entry to the claimant.
// An empty queue returns found=false with no error. Losing a race on one row
// moves on to the next candidate; losing every round returns ErrContention.
func (s *Service) ClaimNext(ctx context.Context, req ClaimRequest) (Entry, bool, error) {
	if req.CampaignID == "" || req.Claimant == "" {
		return Entry{}, false, ErrInvalidArgument
	}
	prefer := ""
	if req.Household {
		prefer = req.LastHousehold
	}

	for round := 0; round < maxClaimRounds; round++ {
		cands, err := s.store.Candidates(ctx, CandidateQuery{CampaignID: req.CampaignID, PreferHousehold: prefer, Limit: claimWindow})
		if err != nil {
			return Entry{}, false, fmt.Errorf("%w: candidates: %v", ErrDatastore, err)
		}
		if len(cands) == 0 {
			return Entry{}, false, nil
		}
		for _, c := range cands {
			e, ok, err := s.store.TryClaim(ctx, c.ID, req.Claimant, s.clock().UTC())
			if err != nil {
				return Entry{}, false, fmt.Errorf("%w: claim: %v", ErrDatastore, err)
			}
			if ok {
				return e, true, nil
			}
		}
	}

	s.log.Warn("queue claim contention", "campaign_id", req.CampaignID, "claimant", req.Claimant)
	return Entry{}, false, ErrContention
}

// Unclaim returns an entry to queued only while it is still assigned to
// claimant. Attempts are untouched: nothing was dialed.
func (s *Service) Unclaim(ctx context.Context, queueID int64, claimant string) (bool, error) {
	if queueID <= 0 || claimant == "" {
		return false, ErrInvalidArgument
	}
	ok, err := s.store.TryReclaim(ctx, queueID, AssignedTo(claimant), s.clock().UTC())
	if err != nil {
		return false, fmt.Errorf("%w: unclaim: %v", ErrDatastore, err)
	}
	return ok, nil
}

func (s *Service) Get(ctx context.Context, queueID int64) (Entry, error) {
	if queueID <= 0 {
		return Entry{}, ErrInvalidArgument
	}
	return s.store.Get(ctx, queueID)
}

// SetStatus writes a status without touching attempts (webhook echo, assignment).
func (s *Service) SetStatus(ctx context.Context, queueID int64, st Status) (Entry, error) {
	if queueID <= 0 {
		return Entry{}, ErrInvalidArgument
	}
	return s.store.Update(ctx, queueID, Update{Status: st, At: s.clock().UTC()})
}

type ReleaseResult struct {
	Entry Entry
	// Exhausted is set when a retry release ran out of attempts and dequeued.
	Exhausted bool
}

// Release hands a claimed entry back: retry returns it to queued (bounded by
// MaxAttempts), terminal dequeues it.
func (s *Service) Release(ctx context.Context, queueID int64, reason ReleaseReason) (ReleaseResult, error) {
	if queueID <= 0 {
		return ReleaseResult{}, ErrInvalidArgument
	}
	now := s.clock().UTC()

	switch reason {
	case ReleaseTerminal:
		e, err := s.store.Update(ctx, queueID, Update{Status: Dequeued(), At: now})
		return ReleaseResult{Entry: e}, err
	case ReleaseRetry:
		cur, err := s.store.Get(ctx, queueID)
		if err != nil {
			return ReleaseResult{}, err
		}
		if cur.Attempts+1 >= s.opts.MaxAttempts {
			e, err := s.store.Update(ctx, queueID, Update{Status: Dequeued(), IncrementAttempts: true, At: now})
			return ReleaseResult{Entry: e, Exhausted: true}, err
		}
		e, err := s.store.Update(ctx, queueID, Update{Status: Queued(), IncrementAttempts: true, At: now})
		return ReleaseResult{Entry: e}, err
	default:
		return ReleaseResult{}, ErrInvalidArgument
	}
}

// SweepStale requeues entries assigned to claimants that have not heartbeated
// within the stale threshold. Missing heartbeats count as stale.
func (s *Service) SweepStale(ctx context.Context, live Liveness) (int, error) {
	now := s.clock().UTC()
	cutoff := now.Add(-s.opts.StaleThreshold)

	entries, err := s.store.ListAssignedBefore(ctx, cutoff, 500)
	if err != nil {
		return 0, fmt.Errorf("%w: list assigned: %v", ErrDatastore, err)
	}

	seen := map[string]map[string]time.Time{}
	reclaimed := 0
	for _, e := range entries {
		who, ok := e.Status.Assignee()
		if !ok {
			continue
		}
		last, ok := seen[e.WorkspaceID]
		if !ok && live != nil {
			last, err = live.LastOnline(ctx, e.WorkspaceID)
			if err != nil {
				s.log.Warn("liveness lookup failed", "workspace_id", e.WorkspaceID, "err", err)
				continue
			}
			seen[e.WorkspaceID] = last
		}
		if at, ok := last[who]; ok && at.After(cutoff) {
			continue
		}

		done, err := s.store.TryReclaim(ctx, e.ID, e.Status, now)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return reclaimed, fmt.Errorf("%w: reclaim: %v", ErrDatastore, err)
		}
		if done {
			reclaimed++
			telemetry.ReclaimedTotal.Inc()
			s.log.Info("stale assignment reclaimed", "queue_id", e.ID, "campaign_id", e.CampaignID, "claimant", who)
		}
	}
	return reclaimed, nil
}

// ResetCampaign returns every entry of the campaign to queued with zero attempts.
func (s *Service) ResetCampaign(ctx context.Context, campaignID string) (int, error) {
	if campaignID == "" {
		return 0, ErrInvalidArgument
	}
	return s.store.ResetCampaign(ctx, campaignID, s.clock().UTC())
}

func (s *Service) Remaining(ctx context.Context, campaignID string) (int, error) {
	return s.store.CountQueued(ctx, campaignID)
}
