package reporting

import (
	"context"
	"errors"

	"campaign-engine/internal/callstatus"
	"campaign-engine/internal/outreach"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts the aggregate reads.
//
// IMPORTANT:
// - Methods must enforce workspace filtering.
// - Windows are half-open: From inclusive, To exclusive.
type Repository interface {
	CallStats(ctx context.Context, workspaceID, campaignID string, r TimeRange) (CallStats, error)
	Dispositions(ctx context.Context, workspaceID, campaignID string, r TimeRange) (map[string]int, error)
}

type QueueCounter interface {
	Remaining(ctx context.Context, campaignID string) (int, error)
}

type Service struct {
	repo  Repository
	queue QueueCounter
}

// NewService builds the reporting service; queue may be nil.
func NewService(repo Repository, queue QueueCounter) *Service {
	return &Service{repo: repo, queue: queue}
}

func (s *Service) CampaignSummary(ctx context.Context, req SummaryRequest) (CampaignSummary, error) {
	if req.WorkspaceID == "" || req.CampaignID == "" || !req.Range.valid() {
		return CampaignSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CampaignSummary{}, errors.New("reporting: repository not configured")
	}

	stats, err := s.repo.CallStats(ctx, req.WorkspaceID, req.CampaignID, req.Range)
	if err != nil {
		return CampaignSummary{}, err
	}
	disp, err := s.repo.Dispositions(ctx, req.WorkspaceID, req.CampaignID, req.Range)
	if err != nil {
		return CampaignSummary{}, err
	}

	out := CampaignSummary{
		WorkspaceID:          req.WorkspaceID,
		CampaignID:           req.CampaignID,
		Range:                req.Range,
		TotalDurationSeconds: stats.TotalDurationSeconds,
		Dispositions:         disp,
	}
	for raw, n := range stats.ByStatus {
		out.TotalCalls += n
		switch callstatus.Normalize(raw) {
		case callstatus.Completed:
			out.CompletedCalls += n
		case callstatus.Failed:
			out.FailedCalls += n
		case callstatus.NoAnswer:
			out.NoAnswerCalls += n
		case callstatus.Busy:
			out.BusyCalls += n
		case callstatus.Canceled:
			out.CanceledCalls += n
		case callstatus.InProgress:
			out.InProgressCalls += n
		}
	}
	if out.CompletedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.CompletedCalls
	}
	if out.TotalCalls > 0 {
		out.ConnectionRate = float64(out.CompletedCalls) / float64(out.TotalCalls)
	}
	for _, n := range disp {
		out.Attempts += n
	}
	out.Voicemails = disp[string(outreach.DispositionVoicemail)]

	if s.queue != nil {
		n, err := s.queue.Remaining(ctx, req.CampaignID)
		if err != nil {
			return CampaignSummary{}, err
		}
		out.Queued = n
	}
	return out, nil
}
