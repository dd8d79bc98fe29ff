package calls

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"campaign-engine/internal/callstatus"
	"campaign-engine/internal/campaigns"
	"campaign-engine/internal/outreach"
	"campaign-engine/internal/queue"
	"campaign-engine/internal/telephony"

	"github.com/google/go-cmp/cmp"
)

type staticSigner struct{}

func (staticSigner) SignedURL(ctx context.Context, key string) (string, error) {
	return "https://audio.example/" + key + "?sig=x", nil
}

type countingCapacity struct{ released int }

func (c *countingCapacity) Release(ctx context.Context, workspaceID string) error {
	c.released++
	return nil
}

type fixture struct {
	machine  *Machine
	calls    *MemoryRepo
	queue    *queue.Service
	qstore   *queue.MemoryStore
	ledger   *outreach.Ledger
	provider *telephony.LoopbackProvider
	capacity *countingCapacity

	entry   queue.Entry
	attempt outreach.Attempt
	sid     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		calls:    NewMemoryRepo(),
		qstore:   queue.NewMemoryStore(),
		provider: telephony.NewLoopbackProvider(),
		capacity: &countingCapacity{},
	}
	f.queue = queue.NewService(f.qstore, queue.Options{MaxAttempts: 3}, nil)
	f.ledger = outreach.NewLedger(outreach.NewMemoryStore(), 10*time.Minute, nil)

	camps := campaigns.NewMemoryStore()
	camps.PutCampaign(campaigns.Campaign{ID: "camp1", WorkspaceID: "ws1", Type: campaigns.TypeLiveCall, Status: campaigns.StatusRunning, IsActive: true, VoicedropAudio: "vm/drop.mp3"})

	f.machine = NewMachine(MachineDeps{
		Calls:     f.calls,
		Queue:     f.queue,
		Attempts:  f.ledger,
		Campaigns: camps,
		Providers: telephony.NewRegistry(f.provider),
		Audio:     staticSigner{},
		Capacity:  f.capacity,
	})
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tick := 0
	f.machine.clock = func() time.Time {
		tick++
		return start.Add(time.Duration(tick) * time.Second)
	}

	if _, err := f.queue.Enqueue(ctx, "ws1", "camp1", []string{"contact1"}, queue.EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	e, ok, err := f.queue.ClaimNext(ctx, queue.ClaimRequest{CampaignID: "camp1", Claimant: "dialer"})
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	f.entry = e
	f.attempt, err = f.ledger.GetOrCreateAttempt(ctx, outreach.AttemptKey{WorkspaceID: "ws1", ContactID: "contact1", CampaignID: "camp1", QueueID: e.ID})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	f.sid = "CA0001"
	if _, err := f.calls.Create(ctx, Call{
		SID: f.sid, WorkspaceID: "ws1", CampaignID: "camp1", ContactID: "contact1",
		OutreachAttemptID: f.attempt.ID, QueueID: e.ID, Status: callstatus.Initiated, StartedAt: start,
	}); err != nil {
		t.Fatalf("create call: %v", err)
	}
	return f
}

func (f *fixture) status(t *testing.T, raw, answeredBy string) Outcome {
	t.Helper()
	out, err := f.machine.HandleStatus(context.Background(), StatusEvent{SID: f.sid, RawStatus: raw, AnsweredBy: answeredBy})
	if err != nil {
		t.Fatalf("HandleStatus(%s): %v", raw, err)
	}
	return out
}

func TestHandleStatus_DuplicateTerminalIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.status(t, "ringing", "")
	f.status(t, "in-progress", "")
	first := f.status(t, "completed", "")
	if first.Action != callstatus.ActionHangUp || first.Ignored {
		t.Fatalf("unexpected first outcome: %+v", first)
	}
	if first.Call.EndedAt == nil {
		t.Fatalf("expected ended call")
	}
	settled, _ := f.calls.Get(ctx, f.sid)
	if settled.FinalizedAt == nil {
		t.Fatalf("expected finalized marker after bookkeeping")
	}

	second := f.status(t, "completed", "")
	if !second.Ignored {
		t.Fatalf("expected redelivery to be ignored")
	}
	got, _ := f.calls.Get(ctx, f.sid)
	if diff := cmp.Diff(settled, got); diff != "" {
		t.Fatalf("call mutated after terminal (-first +got):\n%s", diff)
	}
	if f.capacity.released != 1 {
		t.Fatalf("expected capacity released once, got %d", f.capacity.released)
	}

	a, _ := f.ledger.Get(ctx, f.attempt.ID)
	if a.Disposition != outreach.DispositionCompleted {
		t.Fatalf("expected completed disposition, got %q", a.Disposition)
	}
	e, _ := f.qstore.Get(ctx, f.entry.ID)
	if !e.Status.IsDequeued() {
		t.Fatalf("expected dequeued entry, got %q", e.Status)
	}
}

// failingLedger fails the next n UpdateResult calls.
type failingLedger struct {
	AttemptLedger
	n int
}

func (l *failingLedger) UpdateResult(ctx context.Context, id string, patch map[string]any, d *outreach.Disposition) (outreach.Attempt, error) {
	if l.n > 0 {
		l.n--
		return outreach.Attempt{}, errors.New("db down")
	}
	return l.AttemptLedger.UpdateResult(ctx, id, patch, d)
}

func TestHandleStatus_RedeliverySettlesFailedFinalize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.status(t, "in-progress", "")

	f.machine.d.Attempts = &failingLedger{AttemptLedger: f.ledger, n: 1}
	if _, err := f.machine.HandleStatus(ctx, StatusEvent{SID: f.sid, RawStatus: "no-answer"}); err == nil {
		t.Fatalf("expected datastore error on first terminal delivery")
	}
	c, _ := f.calls.Get(ctx, f.sid)
	if c.Status != callstatus.NoAnswer || !c.Unsettled() {
		t.Fatalf("expected terminal unsettled call, got %+v", c)
	}

	out := f.status(t, "no-answer", "")
	if out.Ignored || out.Action != callstatus.ActionFail {
		t.Fatalf("expected redelivery to settle the call, got %+v", out)
	}
	a, _ := f.ledger.Get(ctx, f.attempt.ID)
	if a.Disposition != outreach.DispositionNoAnswer {
		t.Fatalf("expected no-answer disposition, got %q", a.Disposition)
	}
	e, _ := f.qstore.Get(ctx, f.entry.ID)
	if !e.Status.IsQueued() || e.Attempts != 1 {
		t.Fatalf("expected requeued with 1 attempt, got %q attempts=%d", e.Status, e.Attempts)
	}
	if f.capacity.released != 1 {
		t.Fatalf("expected capacity released once, got %d", f.capacity.released)
	}

	// Settled now: another delivery changes nothing.
	again := f.status(t, "no-answer", "")
	if !again.Ignored {
		t.Fatalf("expected settled call to ignore redelivery")
	}
	e, _ = f.qstore.Get(ctx, f.entry.ID)
	if e.Attempts != 1 {
		t.Fatalf("entry released twice: attempts=%d", e.Attempts)
	}
}

func TestHandleStatus_EchoFailureIsLoggedNotReturned(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	f.machine.d.Log = slog.New(slog.NewTextHandler(&buf, nil))
	f.machine.d.Attempts = &failingLedger{AttemptLedger: f.ledger, n: 1}

	f.status(t, "ringing", "")
	if !strings.Contains(buf.String(), "attempt status echo failed") {
		t.Fatalf("expected echo failure logged, got: %s", buf.String())
	}
	e, _ := f.qstore.Get(context.Background(), f.entry.ID)
	if cs, ok := e.Status.CallStatus(); !ok || cs != callstatus.Ringing {
		t.Fatalf("queue echo should still land, got %q", e.Status)
	}
}

func TestHandleStatus_SettleSkipsReleasedEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.status(t, "in-progress", "")

	// Bookkeeping done elsewhere (cancellation) but the marker never set.
	if _, err := f.calls.Apply(ctx, f.sid, Transition{Status: callstatus.Canceled, At: time.Now()}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := f.queue.Release(ctx, f.entry.ID, queue.ReleaseTerminal); err != nil {
		t.Fatalf("release: %v", err)
	}

	f.status(t, "completed", "")
	e, _ := f.qstore.Get(ctx, f.entry.ID)
	if !e.Status.IsDequeued() || e.Attempts != 0 {
		t.Fatalf("expected entry left dequeued, got %q attempts=%d", e.Status, e.Attempts)
	}
	a, _ := f.ledger.Get(ctx, f.attempt.ID)
	if a.Disposition != outreach.DispositionCanceled {
		t.Fatalf("expected canceled disposition, got %q", a.Disposition)
	}
	if f.capacity.released != 0 {
		t.Fatalf("recovery must not free capacity, got %d", f.capacity.released)
	}
	c, _ := f.calls.Get(ctx, f.sid)
	if c.FinalizedAt == nil {
		t.Fatalf("expected finalized marker")
	}
}

func TestHandleStatus_LateNonTerminalIgnored(t *testing.T) {
	f := newFixture(t)
	f.status(t, "in-progress", "")
	out := f.status(t, "ringing", "")
	if !out.Ignored || out.Call.Status != callstatus.InProgress {
		t.Fatalf("expected stale ringing ignored, got %+v", out)
	}
}

func TestHandleStatus_EchoesLiveStatusToQueue(t *testing.T) {
	f := newFixture(t)
	f.status(t, "ringing", "")
	e, _ := f.qstore.Get(context.Background(), f.entry.ID)
	if cs, ok := e.Status.CallStatus(); !ok || cs != callstatus.Ringing {
		t.Fatalf("expected ringing echoed, got %q", e.Status)
	}
}

func TestHandleStatus_NoAnswerRequeues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.status(t, "ringing", "")
	out := f.status(t, "no-answer", "")
	if out.Action != callstatus.ActionFail {
		t.Fatalf("expected FAIL, got %q", out.Action)
	}

	e, _ := f.qstore.Get(ctx, f.entry.ID)
	if !e.Status.IsQueued() || e.Attempts != 1 {
		t.Fatalf("expected requeued with 1 attempt, got %q attempts=%d", e.Status, e.Attempts)
	}
	a, _ := f.ledger.Get(ctx, f.attempt.ID)
	if a.Disposition != outreach.DispositionNoAnswer {
		t.Fatalf("expected no-answer, got %q", a.Disposition)
	}
}

func TestHandleAnsweredBy_MachineStartDropsVoicemail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.status(t, "in-progress", "")

	out, err := f.machine.HandleAnsweredBy(ctx, StatusEvent{SID: f.sid, AnsweredBy: "machine_start"})
	if err != nil {
		t.Fatalf("amd: %v", err)
	}
	if !out.Voicemail {
		t.Fatalf("expected voicemail outcome")
	}

	ups := f.provider.Updates()
	if len(ups) != 1 || !strings.Contains(ups[0].TwiML, "<Play>https://audio.example/vm/drop.mp3?sig=x</Play>") {
		t.Fatalf("expected voicedrop update, got %+v", ups)
	}

	a, _ := f.ledger.Get(ctx, f.attempt.ID)
	if a.Disposition != outreach.DispositionVoicemail {
		t.Fatalf("expected voicemail disposition, got %q", a.Disposition)
	}
	e, _ := f.qstore.Get(ctx, f.entry.ID)
	if !e.Status.IsDequeued() {
		t.Fatalf("expected dequeued, got %q", e.Status)
	}

	// Redelivered AMD does nothing more.
	again, _ := f.machine.HandleAnsweredBy(ctx, StatusEvent{SID: f.sid, AnsweredBy: "machine_start"})
	if !again.Ignored || len(f.provider.Updates()) != 1 {
		t.Fatalf("expected duplicate amd ignored")
	}

	// The terminal webhook keeps the voicemail outcome and the entry dequeued.
	f.status(t, "completed", "")
	a, _ = f.ledger.Get(ctx, f.attempt.ID)
	e, _ = f.qstore.Get(ctx, f.entry.ID)
	if a.Disposition != outreach.DispositionVoicemail || !e.Status.IsDequeued() {
		t.Fatalf("terminal webhook overrode voicemail: %q %q", a.Disposition, e.Status)
	}
}

func TestIsMachine(t *testing.T) {
	cases := map[string]bool{
		"machine_start":       true,
		"MACHINE_START":       true,
		"machine_end_beep":    false,
		"machine_end_silence": false,
		"machine_end_other":   false,
		"human":               false,
		"unknown":             false,
		"":                    false,
	}
	for in, want := range cases {
		if got := IsMachine(in); got != want {
			t.Fatalf("IsMachine(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestHandleStatus_CreatesCallFromCallbackRef(t *testing.T) {
	f := newFixture(t)
	ref := telephony.CallRef{WorkspaceID: "ws1", CampaignID: "camp1", ContactID: "contact1", AttemptID: f.attempt.ID, QueueID: f.entry.ID}
	out, err := f.machine.HandleStatus(context.Background(), StatusEvent{SID: "CA0002", Ref: ref, RawStatus: "ringing"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if out.Call.Status != callstatus.Ringing || out.Call.QueueID != f.entry.ID {
		t.Fatalf("unexpected call: %+v", out.Call)
	}
}
