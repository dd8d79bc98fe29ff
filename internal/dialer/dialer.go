package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campaign-engine/internal/calls"
	"campaign-engine/internal/callstatus"
	"campaign-engine/internal/campaigns"
	"campaign-engine/internal/outreach"
	"campaign-engine/internal/queue"
	"campaign-engine/internal/telemetry"
	"campaign-engine/internal/telephony"
)

// State is the phase of one dial cycle.
type State string

const (
	StateIdle     State = "IDLE"
	StateClaiming State = "CLAIMING"
	StateDialing  State = "DIALING"
)

type CampaignLookup interface {
	Get(ctx context.Context, id string) (campaigns.Campaign, error)
	Contact(ctx context.Context, id string) (campaigns.Contact, error)
}

type QueueClaimer interface {
	ClaimNext(ctx context.Context, req queue.ClaimRequest) (queue.Entry, bool, error)
	Release(ctx context.Context, queueID int64, reason queue.ReleaseReason) (queue.ReleaseResult, error)
	Unclaim(ctx context.Context, queueID int64, claimant string) (bool, error)
}

type AttemptLedger interface {
	GetOrCreateAttempt(ctx context.Context, k outreach.AttemptKey) (outreach.Attempt, error)
	UpdateResult(ctx context.Context, attemptID string, patch map[string]any, d *outreach.Disposition) (outreach.Attempt, error)
}

type ProviderResolver interface {
	Resolve(workspaceID string) (telephony.Provider, error)
}

type Options struct {
	// ProviderAttempts bounds create-call retries inside one cycle.
	ProviderAttempts int
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	// DetectMachines enables AMD on every leg, not only campaigns with a voicedrop.
	DetectMachines bool
}

func (o Options) withDefaults() Options {
	out := o
	if out.ProviderAttempts <= 0 {
		out.ProviderAttempts = 3
	}
	if out.BackoffInitial <= 0 {
		out.BackoffInitial = 500 * time.Millisecond
	}
	if out.BackoffMax <= 0 {
		out.BackoffMax = 5 * time.Second
	}
	return out
}

type Deps struct {
	Campaigns CampaignLookup
	Queue     QueueClaimer
	Attempts  AttemptLedger
	Calls     calls.Store
	Providers ProviderResolver
	Callbacks telephony.CallbackURLs
	// Limiter is optional.
	Limiter Limiter
	Log     *slog.Logger
}

// Dialer claims queue entries and places calls. It holds no lock across
// provider or datastore calls; the queue claim is the only coordination.
type Dialer struct {
	d     Deps
	opts  Options
	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	households map[string]map[string]string // campaign -> claimant -> last household
}

func New(d Deps, opts Options) *Dialer {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Dialer{
		d:          d,
		opts:       opts.withDefaults(),
		clock:      time.Now,
		sleep:      sleepCtx,
		households: map[string]map[string]string{},
	}
}

// Signal is a capacity signal: an agent became free, a power-dial room
// emptied, or a scheduler tick.
type Signal struct {
	WorkspaceID string
	CampaignID  string
	// Claimant is written into the queue entry (agent user id or worker identity).
	Claimant string
	Source   string
	// Conference dials the contact into this room instead of a bare call.
	Conference string
}

// Result reports where the cycle ended.
type Result struct {
	State   State
	Entry   queue.Entry
	Attempt outreach.Attempt
	Call    calls.Call
	// Reason is set when no call was placed.
	Reason string
}

const (
	ReasonInactive  = "campaign_inactive"
	ReasonEmpty     = "queue_empty"
	ReasonCapacity  = "capacity"
	ReasonProvider  = "provider_failed"
	ReasonNoContact = "contact_missing"

	// ReasonContention means queued entries exist but every claim lost a race.
	ReasonContention = "claim_contention"
)

var ErrInvalidSignal = errors.New("dialer: invalid signal")

// Placed reports whether the cycle ended with a live call.
func (r Result) Placed() bool { return r.Call.SID != "" }

// DialNext runs one IDLE -> CLAIMING -> DIALING cycle.
//
// An empty queue or inactive campaign ends in IDLE with no error. A provider
// failure marks the attempt failed and releases the entry for retry; it is
// reported through Result, not error. Errors are datastore failures.
func (d *Dialer) DialNext(ctx context.Context, sig Signal) (Result, error) {
	if sig.CampaignID == "" || sig.Claimant == "" {
		return Result{State: StateIdle}, ErrInvalidSignal
	}
	log := d.d.Log.With("campaign_id", sig.CampaignID, "claimant", sig.Claimant, "source", sig.Source)

	camp, err := d.d.Campaigns.Get(ctx, sig.CampaignID)
	if err != nil {
		return Result{State: StateIdle}, fmt.Errorf("dialer: load campaign: %w", err)
	}
	if !camp.Dialable() {
		d.forgetCampaign(sig.CampaignID)
		telemetry.DialsTotal.WithLabelValues(ReasonInactive).Inc()
		return Result{State: StateIdle, Reason: ReasonInactive}, nil
	}

	if d.d.Limiter != nil {
		ok, err := d.d.Limiter.Acquire(ctx, camp.WorkspaceID)
		if err != nil {
			return Result{State: StateIdle}, fmt.Errorf("dialer: acquire capacity: %w", err)
		}
		if !ok {
			telemetry.DialsTotal.WithLabelValues(ReasonCapacity).Inc()
			return Result{State: StateIdle, Reason: ReasonCapacity}, nil
		}
	}
	placed := false
	defer func() {
		if !placed && d.d.Limiter != nil {
			if err := d.d.Limiter.Release(context.WithoutCancel(ctx), camp.WorkspaceID); err != nil {
				log.Warn("capacity release failed", "err", err)
			}
		}
	}()

	// CLAIMING
	entry, ok, err := d.d.Queue.ClaimNext(ctx, queue.ClaimRequest{
		CampaignID:    sig.CampaignID,
		Claimant:      sig.Claimant,
		Household:     camp.GroupHouseholds,
		LastHousehold: d.lastHousehold(sig.CampaignID, sig.Claimant),
	})
	if errors.Is(err, queue.ErrContention) {
		telemetry.ClaimsTotal.WithLabelValues("contention").Inc()
		telemetry.DialsTotal.WithLabelValues(ReasonContention).Inc()
		return Result{State: StateIdle, Reason: ReasonContention}, nil
	}
	if err != nil {
		return Result{State: StateIdle}, err
	}
	if !ok {
		d.rememberHousehold(sig.CampaignID, sig.Claimant, "")
		telemetry.ClaimsTotal.WithLabelValues("empty").Inc()
		telemetry.DialsTotal.WithLabelValues(ReasonEmpty).Inc()
		log.Debug("queue empty")
		return Result{State: StateIdle, Reason: ReasonEmpty}, nil
	}
	telemetry.ClaimsTotal.WithLabelValues("claimed").Inc()
	d.rememberHousehold(sig.CampaignID, sig.Claimant, entry.HouseholdKey)

	// DIALING
	res := Result{State: StateDialing, Entry: entry}
	log = log.With("queue_id", entry.ID, "contact_id", entry.ContactID)

	contact, err := d.d.Campaigns.Contact(ctx, entry.ContactID)
	if err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			log.Warn("queued contact missing; dequeuing")
			if _, err := d.d.Queue.Release(ctx, entry.ID, queue.ReleaseTerminal); err != nil {
				log.Warn("dequeue of missing contact failed", "err", err)
			}
			res.Reason = ReasonNoContact
			return res, nil
		}
		d.unclaim(ctx, &res, sig.Claimant, log)
		return res, fmt.Errorf("dialer: load contact: %w", err)
	}

	var userID *string
	if sig.Source == SourceOperator || sig.Source == SourcePower {
		u := sig.Claimant
		userID = &u
	}
	attempt, err := d.d.Attempts.GetOrCreateAttempt(ctx, outreach.AttemptKey{
		WorkspaceID: camp.WorkspaceID,
		ContactID:   entry.ContactID,
		CampaignID:  camp.ID,
		QueueID:     entry.ID,
		UserID:      userID,
	})
	if err != nil {
		d.unclaim(ctx, &res, sig.Claimant, log)
		return res, fmt.Errorf("dialer: create attempt: %w", err)
	}
	if attempt.Disposition.IsFinal() {
		// A redial inside the dedupe window reuses the attempt; re-arm it so
		// the new leg's outcome is recorded.
		initiated := outreach.DispositionInitiated
		if attempt, err = d.d.Attempts.UpdateResult(ctx, attempt.ID, nil, &initiated); err != nil {
			d.unclaim(ctx, &res, sig.Claimant, log)
			return res, fmt.Errorf("dialer: rearm attempt: %w", err)
		}
	}
	res.Attempt = attempt

	ref := telephony.CallRef{
		WorkspaceID: camp.WorkspaceID,
		CampaignID:  camp.ID,
		ContactID:   entry.ContactID,
		AttemptID:   attempt.ID,
		QueueID:     entry.ID,
		Conference:  sig.Conference,
	}

	provider, err := d.d.Providers.Resolve(camp.WorkspaceID)
	if err != nil {
		return res, d.failDial(ctx, &res, err, log)
	}
	placedCall, err := d.placeWithRetry(ctx, provider, camp, contact, ref)
	if err != nil {
		return res, d.failDial(ctx, &res, err, log)
	}

	now := d.clock().UTC()
	initial := callstatus.Normalize(placedCall.Status)
	if initial == callstatus.Unknown || initial.IsTerminal() {
		initial = callstatus.Initiated
	}
	call, err := d.d.Calls.Create(ctx, calls.Call{
		SID:               placedCall.SID,
		WorkspaceID:       camp.WorkspaceID,
		CampaignID:        camp.ID,
		ContactID:         entry.ContactID,
		OutreachAttemptID: attempt.ID,
		QueueID:           entry.ID,
		From:              camp.CallerID,
		To:                contact.Phone,
		ConferenceName:    sig.Conference,
		Status:            initial,
		StartedAt:         now,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	placed = true
	if err != nil {
		// The leg is live; its webhooks recreate the row from the callback ids.
		log.Error("call persist failed", "call_sid", placedCall.SID, "err", err)
		return res, fmt.Errorf("dialer: persist call: %w", err)
	}
	res.Call = call
	telemetry.DialsTotal.WithLabelValues("placed").Inc()
	log.Info("call placed", "call_sid", call.SID, "attempt_id", attempt.ID, "conference", sig.Conference)
	return res, nil
}

const (
	SourceOperator  = "operator"
	SourcePower     = "power"
	SourceScheduler = "scheduler"
)

func (d *Dialer) placeWithRetry(ctx context.Context, p telephony.Provider, camp campaigns.Campaign, contact campaigns.Contact, ref telephony.CallRef) (telephony.PlaceCallResult, error) {
	cb := d.d.Callbacks.For(ref)
	md := telephony.MachineDetectionOff
	if d.opts.DetectMachines || camp.VoicedropAudio != "" {
		md = telephony.MachineDetectionEnable
	}

	var lastErr error
	for attempt := 1; attempt <= d.opts.ProviderAttempts; attempt++ {
		start := time.Now()
		var (
			res telephony.PlaceCallResult
			err error
			op  = "place_call"
		)
		if ref.Conference != "" {
			op = "add_participant"
			// The agent leg owns the room; contact legs come and go.
			res, err = p.AddConferenceParticipant(ctx, telephony.ConferenceParticipantRequest{
				WorkspaceID:                 camp.WorkspaceID,
				ConferenceName:              ref.Conference,
				To:                          contact.Phone,
				From:                        camp.CallerID,
				Label:                       ContactLabel,
				StatusCallbackURL:           cb.Status,
				ConferenceStatusCallbackURL: cb.Conference,
				EndConferenceOnExit:         false,
				MachineDetection:            md,
				AMDCallbackURL:              cb.AMD,
			})
		} else {
			res, err = p.PlaceCall(ctx, telephony.PlaceCallRequest{
				WorkspaceID:       camp.WorkspaceID,
				To:                contact.Phone,
				From:              camp.CallerID,
				CallbackURL:       cb.Voice,
				StatusCallbackURL: cb.Status,
				MachineDetection:  md,
				AMDCallbackURL:    cb.AMD,
			})
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		telemetry.ProviderRequestSeconds.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
		if err == nil {
			return res, nil
		}

		lastErr = err
		if !telephony.IsRetryable(err) || attempt == d.opts.ProviderAttempts {
			break
		}
		if err := d.sleep(ctx, backoffWithJitter(d.opts.BackoffInitial, d.opts.BackoffMax, attempt)); err != nil {
			return telephony.PlaceCallResult{}, err
		}
	}
	return telephony.PlaceCallResult{}, lastErr
}

// ContactLabel tags the contact leg in conference events.
const ContactLabel = "contact"

// unclaim hands the entry back to queued after a datastore failure so a retry
// can claim it again. It only applies while the entry is still assigned to
// claimant, and runs even when ctx was canceled.
func (d *Dialer) unclaim(ctx context.Context, res *Result, claimant string, log *slog.Logger) {
	res.State = StateIdle
	ok, err := d.d.Queue.Unclaim(context.WithoutCancel(ctx), res.Entry.ID, claimant)
	if err != nil {
		log.Error("unclaim failed; entry waits for the stale sweep", "err", err)
		return
	}
	if ok {
		res.Entry.Status = queue.Queued()
		res.Entry.ClaimedAt = nil
	}
}

func (d *Dialer) lastHousehold(campaignID, claimant string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.households[campaignID][claimant]
}

// rememberHousehold records the claimant's last household; an empty key
// forgets it.
func (d *Dialer) rememberHousehold(campaignID, claimant, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	byClaimant := d.households[campaignID]
	if key == "" {
		delete(byClaimant, claimant)
		if len(byClaimant) == 0 {
			delete(d.households, campaignID)
		}
		return
	}
	if byClaimant == nil {
		byClaimant = map[string]string{}
		d.households[campaignID] = byClaimant
	}
	byClaimant[claimant] = key
}

func (d *Dialer) forgetCampaign(campaignID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.households, campaignID)
}

// failDial records a provider failure: the attempt is failed and the entry
// goes back to queued, or is dequeued as max_retries_exceeded when spent.
// Only datastore errors are returned.
func (d *Dialer) failDial(ctx context.Context, res *Result, cause error, log *slog.Logger) error {
	telemetry.DialsTotal.WithLabelValues(ReasonProvider).Inc()
	log.Error("dial failed", "err", cause)
	res.State = StateIdle
	res.Reason = ReasonProvider

	rel, err := d.d.Queue.Release(ctx, res.Entry.ID, queue.ReleaseRetry)
	if err != nil {
		return fmt.Errorf("dialer: release entry: %w", err)
	}
	disp := outreach.DispositionFailed
	if rel.Exhausted {
		disp = outreach.DispositionMaxRetriesExceeded
	}
	a, err := d.d.Attempts.UpdateResult(ctx, res.Attempt.ID, map[string]any{"error": "provider_unavailable"}, &disp)
	if err != nil {
		return fmt.Errorf("dialer: update attempt: %w", err)
	}
	res.Attempt = a
	res.Entry = rel.Entry
	return nil
}
