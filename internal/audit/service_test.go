package audit

import (
	"context"
	"encoding/json"
	"testing"
)

func TestService_AppendRequiresWorkspaceAndAction(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil)

	if err := svc.Append(context.Background(), Event{Action: ActionCancel}); err == nil {
		t.Fatalf("expected error without workspace")
	}
	if err := svc.Append(context.Background(), Event{WorkspaceID: "w"}); err == nil {
		t.Fatalf("expected error without action")
	}
}

func TestService_RecordCapturesActorAndDetails(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, nil)

	actor := Actor{UserID: "u1", WorkspaceID: "w", Role: "manager", IP: "1.2.3.4"}
	svc.Record(context.Background(), actor, ActionCancel, "camp1", map[string]int{"calls_canceled": 3})

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	e := evs[0]
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp: %+v", e)
	}
	if e.IPAddress != "1.2.3.4" || e.CampaignID != "camp1" || e.Action != ActionCancel {
		t.Fatalf("unexpected event: %+v", e)
	}
	var meta map[string]int
	if err := json.Unmarshal([]byte(e.Metadata), &meta); err != nil || meta["calls_canceled"] != 3 {
		t.Fatalf("unexpected metadata %q: %v", e.Metadata, err)
	}
}

func TestService_RecordSwallowsInvalidEvents(t *testing.T) {
	repo := NewMemoryRepo()
	NewService(repo, nil).Record(context.Background(), Actor{UserID: "u1"}, ActionReset, "camp1", nil)
	if len(repo.Events()) != 0 {
		t.Fatalf("invalid events must not be stored")
	}
}
