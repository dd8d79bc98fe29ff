package cancellation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campaign-engine/internal/calls"
	"campaign-engine/internal/callstatus"
	"campaign-engine/internal/campaigns"
	"campaign-engine/internal/queue"
)

type CallStore interface {
	ListActive(ctx context.Context, campaignID, afterSID string, limit int) ([]calls.Call, error)
	Apply(ctx context.Context, sid string, t calls.Transition) (calls.Call, error)
}

type AttemptCanceler interface {
	CancelCampaign(ctx context.Context, campaignID string) (int, error)
}

type QueueStore interface {
	Release(ctx context.Context, queueID int64, reason queue.ReleaseReason) (queue.ReleaseResult, error)
	ResetCampaign(ctx context.Context, campaignID string) (int, error)
}

type CampaignPauser interface {
	Deactivate(ctx context.Context, id string) (campaigns.Campaign, error)
}

type CapacityReleaser interface {
	Release(ctx context.Context, workspaceID string) error
}

type Deps struct {
	Calls     CallStore
	Attempts  AttemptCanceler
	Queue     QueueStore
	Campaigns CampaignPauser
	Hangups   HangupQueue
	// Capacity is optional.
	Capacity CapacityReleaser
	Log      *slog.Logger
}

// Service stops campaigns. It marks state locally and leaves provider
// hangups to the Drainer so its own latency does not grow with call volume.
type Service struct {
	d         Deps
	batchSize int
	clock     func() time.Time
}

func NewService(d Deps, batchSize int) *Service {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Service{d: d, batchSize: batchSize, clock: time.Now}
}

type Result struct {
	CallsCanceled    int `json:"calls_canceled"`
	HangupsQueued    int `json:"hangups_queued"`
	AttemptsCanceled int `json:"attempts_canceled"`
	QueueReset       int `json:"queue_reset,omitempty"`
}

// CancelCampaign pauses the campaign, cancels every non-terminal call in
// batches, enqueues their hangups and cancels open attempts. Entries of
// canceled calls leave the dial list.
func (s *Service) CancelCampaign(ctx context.Context, campaignID string) (Result, error) {
	return s.cancel(ctx, campaignID, queue.ReleaseTerminal)
}

// ResetCampaign cancels like CancelCampaign, then returns every queue entry
// of the campaign to queued with zero attempts.
func (s *Service) ResetCampaign(ctx context.Context, campaignID string) (Result, error) {
	res, err := s.cancel(ctx, campaignID, "")
	if err != nil {
		return res, err
	}
	n, err := s.d.Queue.ResetCampaign(ctx, campaignID)
	if err != nil {
		return res, fmt.Errorf("cancellation: reset queue: %w", err)
	}
	res.QueueReset = n
	s.d.Log.Info("campaign reset", "campaign_id", campaignID, "entries", n)
	return res, nil
}

// cancel releases entries with release; an empty release leaves them for
// the caller.
func (s *Service) cancel(ctx context.Context, campaignID string, release queue.ReleaseReason) (Result, error) {
	if campaignID == "" {
		return Result{}, campaigns.ErrInvalidArgument
	}
	log := s.d.Log.With("campaign_id", campaignID)

	if _, err := s.d.Campaigns.Deactivate(ctx, campaignID); err != nil && !errors.Is(err, campaigns.ErrTerminal) {
		return Result{}, fmt.Errorf("cancellation: pause campaign: %w", err)
	}

	var res Result
	after := ""
	for {
		batch, err := s.d.Calls.ListActive(ctx, campaignID, after, s.batchSize)
		if err != nil {
			return res, fmt.Errorf("cancellation: list calls: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		after = batch[len(batch)-1].SID

		now := s.clock().UTC()
		hangups := make([]HangupRequest, 0, len(batch))
		for _, c := range batch {
			cur, err := s.d.Calls.Apply(ctx, c.SID, calls.Transition{Status: callstatus.Canceled, At: now})
			if errors.Is(err, calls.ErrStateConflict) {
				// Finished on its own between list and apply.
				continue
			}
			if err != nil {
				return res, fmt.Errorf("cancellation: cancel call %s: %w", c.SID, err)
			}
			c = cur
			res.CallsCanceled++
			hangups = append(hangups, HangupRequest{WorkspaceID: c.WorkspaceID, CampaignID: campaignID, CallSID: c.SID, EnqueuedAt: now})

			// The provider's terminal webhook hits a canceled row, so the
			// capacity slot and the entry are handled here. That webhook only
			// sets the finalized marker once the entry has left the call.
			if s.d.Capacity != nil {
				if err := s.d.Capacity.Release(ctx, c.WorkspaceID); err != nil {
					log.Warn("capacity release failed", "call_sid", c.SID, "err", err)
				}
			}
			if release != "" && c.QueueID > 0 {
				if _, err := s.d.Queue.Release(ctx, c.QueueID, release); err != nil {
					log.Warn("queue release failed", "queue_id", c.QueueID, "err", err)
				}
			}
		}
		if err := s.d.Hangups.Push(ctx, hangups...); err != nil {
			return res, fmt.Errorf("cancellation: enqueue hangups: %w", err)
		}
		res.HangupsQueued += len(hangups)

		if len(batch) < s.batchSize {
			break
		}
	}

	n, err := s.d.Attempts.CancelCampaign(ctx, campaignID)
	if err != nil {
		return res, fmt.Errorf("cancellation: cancel attempts: %w", err)
	}
	res.AttemptsCanceled = n
	log.Info("campaign canceled", "calls", res.CallsCanceled, "hangups", res.HangupsQueued, "attempts", n)
	return res, nil
}
