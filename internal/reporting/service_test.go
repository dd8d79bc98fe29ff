package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"campaign-engine/internal/calls"
	"campaign-engine/internal/callstatus"
	"campaign-engine/internal/outreach"
)

type fixedQueue int

func (q fixedQueue) Remaining(ctx context.Context, campaignID string) (int, error) { return int(q), nil }

func window(now time.Time) TimeRange {
	return TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}
}

func TestReporting_WorkspaceIsolation(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Calls = []calls.Call{
		{SID: "c1", WorkspaceID: "w1", CampaignID: "camp", Status: callstatus.Completed, DurationSeconds: 30, CreatedAt: now},
		{SID: "c2", WorkspaceID: "w2", CampaignID: "camp", Status: callstatus.Completed, DurationSeconds: 50, CreatedAt: now},
	}
	svc := NewService(repo, nil)

	out, err := svc.CampaignSummary(context.Background(), SummaryRequest{WorkspaceID: "w1", CampaignID: "camp", Range: window(now)})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 || out.TotalDurationSeconds != 30 {
		t.Fatalf("expected only w1's call, got %+v", out)
	}
}

func TestReporting_CampaignSummaryAggregates(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Calls = []calls.Call{
		{SID: "c1", WorkspaceID: "w", CampaignID: "camp", Status: callstatus.Completed, DurationSeconds: 40, CreatedAt: now},
		{SID: "c2", WorkspaceID: "w", CampaignID: "camp", Status: callstatus.Completed, DurationSeconds: 20, CreatedAt: now},
		{SID: "c3", WorkspaceID: "w", CampaignID: "camp", Status: callstatus.NoAnswer, CreatedAt: now},
		{SID: "c4", WorkspaceID: "w", CampaignID: "camp", Status: callstatus.Busy, CreatedAt: now},
		{SID: "c5", WorkspaceID: "w", CampaignID: "camp", Status: callstatus.Completed, CreatedAt: now.Add(-2 * time.Hour)},
	}
	repo.Attempts = []outreach.Attempt{
		{ID: "a1", WorkspaceID: "w", CampaignID: "camp", Disposition: outreach.DispositionCompleted, CreatedAt: now},
		{ID: "a2", WorkspaceID: "w", CampaignID: "camp", Disposition: outreach.DispositionVoicemail, CreatedAt: now},
		{ID: "a3", WorkspaceID: "w", CampaignID: "camp", Disposition: outreach.DispositionNoAnswer, CreatedAt: now},
	}
	svc := NewService(repo, fixedQueue(7))

	out, err := svc.CampaignSummary(context.Background(), SummaryRequest{WorkspaceID: "w", CampaignID: "camp", Range: window(now)})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 4 || out.CompletedCalls != 2 || out.NoAnswerCalls != 1 || out.BusyCalls != 1 {
		t.Fatalf("unexpected call counts: %+v", out)
	}
	if out.AverageDurationSeconds != 30 || out.ConnectionRate != 0.5 {
		t.Fatalf("unexpected averages: avg=%d rate=%v", out.AverageDurationSeconds, out.ConnectionRate)
	}
	if out.Attempts != 3 || out.Voicemails != 1 || out.Queued != 7 {
		t.Fatalf("unexpected attempt counts: %+v", out)
	}
}

func TestReporting_RejectsBadRange(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil)
	now := time.Now()
	_, err := svc.CampaignSummary(context.Background(), SummaryRequest{WorkspaceID: "w", CampaignID: "camp", Range: TimeRange{From: now, To: now}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
