package calls

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"campaign-engine/internal/callstatus"
	"campaign-engine/internal/campaigns"
	"campaign-engine/internal/outreach"
	"campaign-engine/internal/queue"
	"campaign-engine/internal/telemetry"
	"campaign-engine/internal/telephony"
)

type QueueUpdater interface {
	Get(ctx context.Context, queueID int64) (queue.Entry, error)
	SetStatus(ctx context.Context, queueID int64, st queue.Status) (queue.Entry, error)
	Release(ctx context.Context, queueID int64, reason queue.ReleaseReason) (queue.ReleaseResult, error)
}

type AttemptLedger interface {
	Get(ctx context.Context, attemptID string) (outreach.Attempt, error)
	UpdateResult(ctx context.Context, attemptID string, patch map[string]any, d *outreach.Disposition) (outreach.Attempt, error)
}

type CampaignLookup interface {
	Get(ctx context.Context, id string) (campaigns.Campaign, error)
}

type ProviderResolver interface {
	Resolve(workspaceID string) (telephony.Provider, error)
}

type AudioSigner interface {
	SignedURL(ctx context.Context, key string) (string, error)
}

// CapacityReleaser frees a workspace concurrency slot taken when dialing.
type CapacityReleaser interface {
	Release(ctx context.Context, workspaceID string) error
}

type MachineDeps struct {
	Calls     Store
	Queue     QueueUpdater
	Attempts  AttemptLedger
	Campaigns CampaignLookup
	Providers ProviderResolver
	Audio     AudioSigner
	// Capacity is optional.
	Capacity CapacityReleaser
	Log      *slog.Logger
}

// Machine applies provider webhooks to call, attempt and queue state.
// Each event is handled independently; there is no in-process state.
type Machine struct {
	d     MachineDeps
	clock func() time.Time
}

func NewMachine(d MachineDeps) *Machine {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Machine{d: d, clock: time.Now}
}

// StatusEvent is a normalized status or AMD webhook.
type StatusEvent struct {
	SID             string
	ParentSID       string
	Ref             telephony.CallRef
	RawStatus       string
	AnsweredBy      string
	DurationSeconds int
}

// Outcome tells the caller what happened; Action mirrors callstatus so an
// agent UI polling the same call reaches the same decision.
type Outcome struct {
	Call      Call
	Action    callstatus.Action
	Ignored   bool
	Voicemail bool
}

// HandleStatus applies a status webhook. Duplicate or late deliveries for a
// settled terminal call are logged and ignored; they never error. A terminal
// call whose bookkeeping failed is settled by whichever webhook comes next.
func (m *Machine) HandleStatus(ctx context.Context, ev StatusEvent) (Outcome, error) {
	if ev.SID == "" {
		return Outcome{}, ErrInvalidArgument
	}
	log := m.d.Log.With("call_sid", ev.SID, "campaign_id", ev.Ref.CampaignID)
	now := m.clock().UTC()

	status := callstatus.Normalize(ev.RawStatus)

	c, err := m.ensureCall(ctx, ev, status, now)
	if err != nil {
		return Outcome{}, err
	}

	if ev.AnsweredBy != "" && !status.IsTerminal() {
		out, err := m.handleAnsweredBy(ctx, c, ev.AnsweredBy, now, log)
		if err != nil || out.Voicemail {
			return out, err
		}
		c = out.Call
	}

	if status == callstatus.Unknown {
		log.Debug("untracked provider status", "raw_status", ev.RawStatus)
		return Outcome{Call: c, Ignored: true}, nil
	}

	c, err = m.d.Calls.Apply(ctx, ev.SID, Transition{Status: status, DurationSeconds: ev.DurationSeconds, At: now})
	if errors.Is(err, ErrStateConflict) {
		if c.Unsettled() {
			log.Warn("settling unfinished terminal call", "status", c.Status, "redelivered", status)
			if err := m.settle(ctx, c, log); err != nil {
				return Outcome{Call: c, Action: c.Status.Action()}, err
			}
			return Outcome{Call: c, Action: c.Status.Action()}, nil
		}
		telemetry.StaleTransitionsTotal.Inc()
		log.Info("stale call transition ignored", "status", status, "current", c.Status)
		return Outcome{Call: c, Ignored: true}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	telemetry.CallTransitionsTotal.WithLabelValues(string(status)).Inc()

	if status.IsTerminal() {
		// The slot is freed exactly once, on the transition that committed.
		m.releaseCapacity(ctx, c, log)
		if err := m.settle(ctx, c, log); err != nil {
			return Outcome{Call: c, Action: status.Action()}, err
		}
		return Outcome{Call: c, Action: status.Action()}, nil
	}

	m.echo(ctx, c, status, log)
	return Outcome{Call: c, Action: status.Action()}, nil
}

// HandleAnsweredBy applies an asynchronous AMD callback.
func (m *Machine) HandleAnsweredBy(ctx context.Context, ev StatusEvent) (Outcome, error) {
	if ev.SID == "" || ev.AnsweredBy == "" {
		return Outcome{}, ErrInvalidArgument
	}
	log := m.d.Log.With("call_sid", ev.SID, "campaign_id", ev.Ref.CampaignID)
	now := m.clock().UTC()

	c, err := m.ensureCall(ctx, ev, callstatus.InProgress, now)
	if err != nil {
		return Outcome{}, err
	}
	return m.handleAnsweredBy(ctx, c, ev.AnsweredBy, now, log)
}

// ensureCall returns the call row, creating it from the callback identifiers
// when the webhook beat the dialer's insert.
func (m *Machine) ensureCall(ctx context.Context, ev StatusEvent, status callstatus.Status, now time.Time) (Call, error) {
	c, err := m.d.Calls.Get(ctx, ev.SID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Call{}, err
	}
	if ev.Ref.WorkspaceID == "" || ev.Ref.CampaignID == "" {
		return Call{}, ErrNotFound
	}
	initial := callstatus.Initiated
	if status == callstatus.Queued {
		initial = callstatus.Queued
	}
	return m.d.Calls.Create(ctx, Call{
		SID:               ev.SID,
		ParentCallSID:     ev.ParentSID,
		WorkspaceID:       ev.Ref.WorkspaceID,
		CampaignID:        ev.Ref.CampaignID,
		ContactID:         ev.Ref.ContactID,
		OutreachAttemptID: ev.Ref.AttemptID,
		QueueID:           ev.Ref.QueueID,
		ConferenceName:    ev.Ref.Conference,
		Status:            initial,
		StartedAt:         now,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
}

func (m *Machine) handleAnsweredBy(ctx context.Context, c Call, answeredBy string, now time.Time, log *slog.Logger) (Outcome, error) {
	c, changed, err := m.d.Calls.SetAnsweredBy(ctx, c.SID, answeredBy, now)
	if err != nil {
		return Outcome{}, err
	}
	if !changed {
		log.Debug("answered_by already recorded", "answered_by", c.AnsweredBy)
		return Outcome{Call: c, Ignored: true}, nil
	}
	if !IsMachine(answeredBy) {
		return Outcome{Call: c}, nil
	}

	if err := m.dropVoicemail(ctx, c, log); err != nil {
		// The call is still live; the terminal webhook will still release the entry.
		log.Error("voicemail drop failed", "err", err)
	}

	d := outreach.DispositionVoicemail
	if c.OutreachAttemptID != "" {
		if _, err := m.d.Attempts.UpdateResult(ctx, c.OutreachAttemptID, map[string]any{"answered_by": answeredBy}, &d); err != nil {
			return Outcome{}, err
		}
	}
	if c.QueueID > 0 {
		if _, err := m.d.Queue.Release(ctx, c.QueueID, queue.ReleaseTerminal); err != nil {
			return Outcome{}, err
		}
	}
	telemetry.VoicemailDropsTotal.Inc()
	log.Info("voicemail drop", "answered_by", answeredBy, "queue_id", c.QueueID)
	return Outcome{Call: c, Voicemail: true, Action: callstatus.ActionHangUp}, nil
}

func (m *Machine) dropVoicemail(ctx context.Context, c Call, log *slog.Logger) error {
	camp, err := m.d.Campaigns.Get(ctx, c.CampaignID)
	if err != nil {
		return err
	}
	p, err := m.d.Providers.Resolve(c.WorkspaceID)
	if err != nil {
		return err
	}

	doc := telephony.NewTwiML()
	if camp.VoicedropAudio != "" && m.d.Audio != nil {
		u, err := m.d.Audio.SignedURL(ctx, camp.VoicedropAudio)
		if err != nil {
			log.Warn("voicedrop url signing failed", "err", err)
		} else {
			doc.Play(u)
		}
	}
	twiml, err := doc.Hangup().String()
	if err != nil {
		return err
	}
	return p.UpdateCall(ctx, telephony.UpdateCallRequest{WorkspaceID: c.WorkspaceID, SID: c.SID, TwiML: twiml})
}

// echo writes the live provider status onto the queue entry. An entry that
// already left the dial list is not touched.
func (m *Machine) echo(ctx context.Context, c Call, status callstatus.Status, log *slog.Logger) {
	if c.QueueID <= 0 || IsMachine(c.AnsweredBy) {
		return
	}
	if _, err := m.d.Queue.SetStatus(ctx, c.QueueID, queue.ProviderState(status)); err != nil {
		log.Warn("queue status echo failed", "queue_id", c.QueueID, "err", err)
	}
	if c.OutreachAttemptID == "" {
		return
	}
	a, err := m.d.Attempts.Get(ctx, c.OutreachAttemptID)
	if err != nil || a.Disposition.IsFinal() {
		return
	}
	if d, err := outreach.ParseDisposition(string(status)); err == nil {
		if _, err := m.d.Attempts.UpdateResult(ctx, c.OutreachAttemptID, nil, &d); err != nil {
			log.Warn("attempt status echo failed", "attempt_id", c.OutreachAttemptID, "err", err)
		}
	}
}

func (m *Machine) releaseCapacity(ctx context.Context, c Call, log *slog.Logger) {
	if m.d.Capacity == nil {
		return
	}
	if err := m.d.Capacity.Release(ctx, c.WorkspaceID); err != nil {
		log.Warn("capacity release failed", "err", err)
	}
}

// settle writes the attempt disposition, releases the queue entry and marks
// the call finalized. Every step is safe to repeat until the marker is set.
func (m *Machine) settle(ctx context.Context, c Call, log *slog.Logger) error {
	voicemail := IsMachine(c.AnsweredBy)
	if c.OutreachAttemptID != "" {
		a, err := m.d.Attempts.Get(ctx, c.OutreachAttemptID)
		if err != nil {
			return err
		}
		// Voicemail, cancellation and IVR outcomes set earlier win over the
		// bare provider status.
		if !a.Disposition.IsFinal() {
			d := dispositionFor(c.Status)
			patch := map[string]any{"duration": c.DurationSeconds}
			if _, err := m.d.Attempts.UpdateResult(ctx, c.OutreachAttemptID, patch, &d); err != nil {
				return err
			}
		}
	}

	if c.QueueID > 0 {
		if err := m.releaseEntry(ctx, c, voicemail, log); err != nil {
			return err
		}
	}
	return m.d.Calls.MarkFinalized(ctx, c.SID, m.clock().UTC())
}

// releaseEntry hands the entry back unless it already left the call: a
// queued or dequeued entry was released earlier, canceled or reset.
func (m *Machine) releaseEntry(ctx context.Context, c Call, voicemail bool, log *slog.Logger) error {
	e, err := m.d.Queue.Get(ctx, c.QueueID)
	if errors.Is(err, queue.ErrNotFound) {
		log.Warn("queue entry gone before finalize", "queue_id", c.QueueID)
		return nil
	}
	if err != nil {
		return err
	}
	if e.Status.IsQueued() || e.Status.IsDequeued() {
		log.Info("call finalized", "status", c.Status, "duration", c.DurationSeconds, "queue_id", c.QueueID, "release", "none")
		return nil
	}

	reason := queue.ReleaseTerminal
	if !voicemail && retryable(c.Status) {
		reason = queue.ReleaseRetry
	}
	res, err := m.d.Queue.Release(ctx, c.QueueID, reason)
	if err != nil {
		return err
	}
	log.Info("call finalized", "status", c.Status, "duration", c.DurationSeconds, "queue_id", c.QueueID, "release", reason, "exhausted", res.Exhausted)
	return nil
}

func dispositionFor(s callstatus.Status) outreach.Disposition {
	switch s {
	case callstatus.Completed:
		return outreach.DispositionCompleted
	case callstatus.Busy:
		return outreach.DispositionBusy
	case callstatus.NoAnswer:
		return outreach.DispositionNoAnswer
	case callstatus.Canceled:
		return outreach.DispositionCanceled
	default:
		return outreach.DispositionFailed
	}
}

// retryable statuses put the contact back in the queue (bounded by max attempts).
func retryable(s callstatus.Status) bool {
	switch s {
	case callstatus.Failed, callstatus.NoAnswer, callstatus.Busy:
		return true
	default:
		return false
	}
}
