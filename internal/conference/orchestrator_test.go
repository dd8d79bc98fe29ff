package conference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"campaign-engine/internal/calls"
	"campaign-engine/internal/dialer"
	"campaign-engine/internal/queue"
	"campaign-engine/internal/telephony"

	"go.uber.org/goleak"
)

type fakeDialer struct {
	mu      sync.Mutex
	signals []dialer.Signal
	empty   bool
}

func (f *fakeDialer) DialNext(ctx context.Context, sig dialer.Signal) (dialer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.empty {
		return dialer.Result{State: dialer.StateIdle, Reason: dialer.ReasonEmpty}, nil
	}
	f.signals = append(f.signals, sig)
	n := len(f.signals)
	return dialer.Result{
		State: dialer.StateDialing,
		Entry: queue.Entry{ID: int64(10 + n)},
		Call:  calls.Call{SID: fmt.Sprintf("CA%d", n)},
	}, nil
}

func (f *fakeDialer) dialed() []dialer.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dialer.Signal(nil), f.signals...)
}

type fakeQueue struct {
	mu  sync.Mutex
	set map[int64]queue.Status
}

func (q *fakeQueue) SetStatus(ctx context.Context, id int64, st queue.Status) (queue.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.set[id] = st
	return queue.Entry{ID: id, Status: st}, nil
}

type fixture struct {
	orch     *Orchestrator
	dialer   *fakeDialer
	queue    *fakeQueue
	provider *telephony.LoopbackProvider
	room     Room
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dialer:   &fakeDialer{},
		queue:    &fakeQueue{set: map[int64]queue.Status{}},
		provider: telephony.NewLoopbackProvider(),
	}
	f.orch = New(Deps{
		Dialer:    f.dialer,
		Queue:     f.queue,
		Calls:     calls.NewMemoryRepo(),
		Providers: telephony.NewRegistry(f.provider),
		Callbacks: telephony.NewCallbackURLs("https://hooks.example"),
	}, Options{})
	f.orch.Start(context.Background())

	r, err := f.orch.OpenRoom(context.Background(), OpenRequest{
		WorkspaceID: "ws1", CampaignID: "camp1", AgentID: "agent-1", AgentPhone: "+15550001111", CallerID: "+15550000000",
	})
	if err != nil {
		t.Fatalf("open room: %v", err)
	}
	f.room = r
	return f
}

func (f *fixture) publish(t *testing.T, ev Event) {
	t.Helper()
	if ev.Room == "" {
		ev.Room = f.room.Name
	}
	if err := f.orch.Publish(ev); err != nil {
		t.Fatalf("publish %s: %v", ev.Kind, err)
	}
}

func TestOpenRoom_DialsAgentLeg(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	defer f.orch.Stop()

	ps := f.provider.Participants()
	if len(ps) != 1 {
		t.Fatalf("expected agent leg, got %d", len(ps))
	}
	if ps[0].Label != AgentLabel("agent-1") || !ps[0].EndConferenceOnExit || ps[0].ConferenceName != f.room.Name {
		t.Fatalf("unexpected agent leg: %+v", ps[0])
	}

	again, err := f.orch.OpenRoom(context.Background(), OpenRequest{WorkspaceID: "ws1", CampaignID: "camp1", AgentID: "agent-1", AgentPhone: "+15550001111"})
	if err != nil || again.Name != f.room.Name {
		t.Fatalf("reopen: %+v %v", again, err)
	}
	if len(f.provider.Participants()) != 1 {
		t.Fatalf("reopening must not dial the agent again")
	}
}

func TestOrchestrator_ChainsDialsOnAPILeave(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)

	f.publish(t, Event{Kind: KindJoin, CallSID: "CAagent", Label: AgentLabel("agent-1")})
	// A second request while a contact is live must not dial.
	f.publish(t, Event{Kind: KindNext})
	f.publish(t, Event{Kind: KindJoin, CallSID: "CA1", Label: dialer.ContactLabel})
	f.publish(t, Event{Kind: KindLeave, CallSID: "CA1", Label: dialer.ContactLabel, Reason: telephony.ReasonUpdatedViaAPI})
	f.publish(t, Event{Kind: KindLeave, CallSID: "CA2", Label: dialer.ContactLabel, Reason: "participant_hung_up"})
	f.publish(t, Event{Kind: KindNext})
	f.orch.Stop()

	got := f.dialer.dialed()
	if len(got) != 3 {
		t.Fatalf("expected 3 dials, got %d", len(got))
	}
	for _, s := range got {
		if s.Conference != f.room.Name || s.Claimant != "agent-1" || s.Source != dialer.SourcePower {
			t.Fatalf("unexpected signal: %+v", s)
		}
	}
	st, ok := f.queue.set[11]
	if !ok {
		t.Fatalf("expected first contact's entry to be assigned")
	}
	if who, _ := st.Assignee(); who != "agent-1" {
		t.Fatalf("expected assignment to agent-1, got %v", st)
	}
	r, _ := f.orch.Room(f.room.Name)
	if r.ContactSID != "CA3" {
		t.Fatalf("expected CA3 live, got %q", r.ContactSID)
	}
}

func TestOrchestrator_AgentLeaveClosesRoom(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)

	f.publish(t, Event{Kind: KindJoin, CallSID: "CAagent", Label: AgentLabel("agent-1")})
	f.publish(t, Event{Kind: KindLeave, CallSID: "CAagent", Label: AgentLabel("agent-1")})
	f.orch.Stop()

	if _, ok := f.orch.Room(f.room.Name); ok {
		t.Fatalf("expected room closed")
	}
	if len(f.orch.Rooms("camp1")) != 0 {
		t.Fatalf("expected no rooms for campaign")
	}
}

func TestOrchestrator_EmptyQueueLeavesRoomIdle(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	f.dialer.empty = true

	f.publish(t, Event{Kind: KindJoin, CallSID: "CAagent", Label: AgentLabel("agent-1")})
	f.orch.Stop()

	r, ok := f.orch.Room(f.room.Name)
	if !ok || !r.AgentJoined || r.ContactSID != "" {
		t.Fatalf("expected idle room with agent, got %+v ok=%v", r, ok)
	}
}

func TestPublish_Errors(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)

	if err := f.orch.Publish(Event{Kind: KindJoin, Room: "nope"}); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("expected ErrUnknownRoom, got %v", err)
	}
	f.orch.Stop()
	if err := f.orch.Publish(Event{Kind: KindNext, Room: f.room.Name}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestEventFromWebhook(t *testing.T) {
	ev := EventFromWebhook(
		telephony.ConferenceForm{FriendlyName: "room-1", Event: telephony.ConferenceLeave, CallSid: "CA9", Label: "contact", ReasonLeft: telephony.ReasonUpdatedViaAPI},
		telephony.CallRef{WorkspaceID: "ws1", CampaignID: "camp1"},
	)
	if ev.Kind != KindLeave || ev.Room != "room-1" || ev.CampaignID != "camp1" || ev.Reason != telephony.ReasonUpdatedViaAPI {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
