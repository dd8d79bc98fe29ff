package conference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campaign-engine/internal/calls"
	"campaign-engine/internal/dialer"
	"campaign-engine/internal/queue"
	"campaign-engine/internal/telemetry"
	"campaign-engine/internal/telephony"

	"golang.org/x/sync/semaphore"
)

type Dialer interface {
	DialNext(ctx context.Context, sig dialer.Signal) (dialer.Result, error)
}

type QueueAssigner interface {
	SetStatus(ctx context.Context, queueID int64, st queue.Status) (queue.Entry, error)
}

type CallLookup interface {
	Get(ctx context.Context, sid string) (calls.Call, error)
}

type ProviderResolver interface {
	Resolve(workspaceID string) (telephony.Provider, error)
}

type Deps struct {
	Dialer    Dialer
	Queue     QueueAssigner
	Calls     CallLookup
	Providers ProviderResolver
	Callbacks telephony.CallbackURLs
	Log       *slog.Logger
}

type Options struct {
	// LaneBuffer is the per-campaign event backlog before Publish rejects.
	LaneBuffer int
	// MaxConcurrentDials bounds dials in flight across all lanes.
	MaxConcurrentDials int64
}

// Kind is a conference event kind. Provider events map onto the first five;
// KindNext is an operator request for the next contact.
type Kind string

const (
	KindStart  Kind = "start"
	KindEnd    Kind = "end"
	KindJoin   Kind = "join"
	KindLeave  Kind = "leave"
	KindModify Kind = "modify"
	KindNext   Kind = "next"
)

type Event struct {
	Kind        Kind
	Room        string
	CampaignID  string
	WorkspaceID string
	CallSID     string
	Label       string
	// Reason is ReasonParticipantLeft for leave events.
	Reason string
}

// EventFromWebhook maps a parsed conference webhook onto an Event.
func EventFromWebhook(f telephony.ConferenceForm, ref telephony.CallRef) Event {
	room := f.FriendlyName
	if room == "" {
		room = ref.Conference
	}
	return Event{
		Kind:        Kind(f.Event),
		Room:        room,
		CampaignID:  ref.CampaignID,
		WorkspaceID: ref.WorkspaceID,
		CallSID:     f.CallSid,
		Label:       f.Label,
		Reason:      f.ReasonLeft,
	}
}

var (
	ErrStopped     = errors.New("conference: orchestrator not running")
	ErrLaneFull    = errors.New("conference: campaign lane full")
	ErrUnknownRoom = errors.New("conference: unknown room")
	ErrInvalidRoom = errors.New("conference: invalid room request")
)

// Orchestrator runs power dialing. Events are routed onto one lane per
// campaign and consumed by a single goroutine, so room state for a campaign
// is only ever mutated sequentially.
//
// The agent leg joins with endConferenceOnExit and owns the room; contact
// legs join without it, so one room name lasts the whole session instead of
// a fresh room being opened per contact. The next contact is dialed when a
// contact leg is removed via the API.
type Orchestrator struct {
	d     Deps
	opts  Options
	rooms *roomSet
	sem   *semaphore.Weighted
	clock func() time.Time

	mu      sync.Mutex
	lanes   map[string]chan Event
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(d Deps, opts Options) *Orchestrator {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if opts.LaneBuffer <= 0 {
		opts.LaneBuffer = 100
	}
	if opts.MaxConcurrentDials <= 0 {
		opts.MaxConcurrentDials = 16
	}
	return &Orchestrator{
		d:     d,
		opts:  opts,
		rooms: newRoomSet(),
		sem:   semaphore.NewWeighted(opts.MaxConcurrentDials),
		clock: time.Now,
		lanes: map[string]chan Event{},
	}
}

// Start must be called before Publish.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.running = true
}

// Stop closes every lane, lets queued events drain and waits for the lane
// goroutines to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	for id, lane := range o.lanes {
		close(lane)
		delete(o.lanes, id)
	}
	o.mu.Unlock()

	o.wg.Wait()
	o.cancel()
	telemetry.ConferenceLanes.Set(0)
}

// Publish routes ev to its campaign lane without blocking.
func (o *Orchestrator) Publish(ev Event) error {
	campaignID := ev.CampaignID
	if campaignID == "" {
		r, ok := o.rooms.get(ev.Room)
		if !ok {
			return ErrUnknownRoom
		}
		campaignID = r.CampaignID
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return ErrStopped
	}
	lane, ok := o.lanes[campaignID]
	if !ok {
		lane = make(chan Event, o.opts.LaneBuffer)
		o.lanes[campaignID] = lane
		o.wg.Add(1)
		telemetry.ConferenceLanes.Inc()
		go o.runLane(campaignID, lane)
	}
	select {
	case lane <- ev:
		return nil
	default:
		return fmt.Errorf("%w: campaign %s", ErrLaneFull, campaignID)
	}
}

func (o *Orchestrator) runLane(campaignID string, lane <-chan Event) {
	defer o.wg.Done()
	for ev := range lane {
		telemetry.ConferenceEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
		o.handle(o.ctx, ev)
	}
	o.d.Log.Debug("conference lane closed", "campaign_id", campaignID)
}

// OpenRequest starts a power-dial session for an agent.
type OpenRequest struct {
	WorkspaceID string
	CampaignID  string
	AgentID     string
	// AgentPhone is the agent's device; the agent leg is dialed into the room.
	AgentPhone string
	CallerID   string
}

// OpenRoom registers the room and dials the agent into it. Opening an
// already open room returns it unchanged. The first contact is dialed when
// the agent's join event arrives.
func (o *Orchestrator) OpenRoom(ctx context.Context, req OpenRequest) (Room, error) {
	if req.WorkspaceID == "" || req.CampaignID == "" || req.AgentID == "" || req.AgentPhone == "" {
		return Room{}, ErrInvalidRoom
	}
	name := RoomName(req.CampaignID, req.AgentID)
	if r, ok := o.rooms.get(name); ok {
		return r, nil
	}

	p, err := o.d.Providers.Resolve(req.WorkspaceID)
	if err != nil {
		return Room{}, err
	}
	cb := o.d.Callbacks.For(telephony.CallRef{WorkspaceID: req.WorkspaceID, CampaignID: req.CampaignID, Conference: name})
	res, err := p.AddConferenceParticipant(ctx, telephony.ConferenceParticipantRequest{
		WorkspaceID:                 req.WorkspaceID,
		ConferenceName:              name,
		To:                          req.AgentPhone,
		From:                        req.CallerID,
		Label:                       AgentLabel(req.AgentID),
		ConferenceStatusCallbackURL: cb.Conference,
		EndConferenceOnExit:         true,
	})
	if err != nil {
		return Room{}, err
	}

	r := Room{
		Name:        name,
		WorkspaceID: req.WorkspaceID,
		CampaignID:  req.CampaignID,
		AgentID:     req.AgentID,
		AgentSID:    res.SID,
		OpenedAt:    o.clock().UTC(),
	}
	o.rooms.put(r)
	o.d.Log.Info("power room opened", "room", name, "campaign_id", req.CampaignID, "agent_id", req.AgentID)
	return r, nil
}

// Next asks for the next contact in a room whose previous contact hung up.
func (o *Orchestrator) Next(room string) error {
	return o.Publish(Event{Kind: KindNext, Room: room})
}

func (o *Orchestrator) Room(name string) (Room, bool) { return o.rooms.get(name) }

func (o *Orchestrator) Rooms(campaignID string) []Room { return o.rooms.list(campaignID) }

func (o *Orchestrator) handle(ctx context.Context, ev Event) {
	log := o.d.Log.With("room", ev.Room, "event", ev.Kind, "call_sid", ev.CallSID)
	r, ok := o.rooms.get(ev.Room)
	if !ok {
		log.Debug("event for unknown room ignored")
		return
	}

	switch ev.Kind {
	case KindJoin:
		if agentID, isAgent := agentFromLabel(ev.Label); isAgent && agentID == r.AgentID {
			r, _ = o.rooms.update(r.Name, func(r *Room) {
				r.AgentJoined = true
				if ev.CallSID != "" {
					r.AgentSID = ev.CallSID
				}
			})
			if r.ContactSID == "" {
				o.dial(ctx, r, log)
			} else {
				o.assign(ctx, r, log)
			}
			return
		}
		if r.ContactSID == "" && ev.CallSID != "" {
			r, _ = o.rooms.update(r.Name, func(r *Room) { r.ContactSID = ev.CallSID })
		}
		if r.AgentJoined {
			o.assign(ctx, r, log)
		}

	case KindLeave:
		if agentID, isAgent := agentFromLabel(ev.Label); isAgent && agentID == r.AgentID {
			o.rooms.remove(r.Name)
			log.Info("agent left; room closed")
			return
		}
		if ev.CallSID != r.ContactSID {
			log.Debug("leave for a leg that is not the live contact")
			return
		}
		r, _ = o.rooms.update(r.Name, func(r *Room) {
			r.ContactSID = ""
			r.ContactQueueID = 0
		})
		// Only a programmatic end (wrap-up or voicemail drop) chains the next
		// dial; a natural hangup waits for the agent.
		if ev.Reason == telephony.ReasonUpdatedViaAPI && r.AgentJoined {
			o.dial(ctx, r, log)
		}

	case KindNext:
		if r.AgentJoined && r.ContactSID == "" {
			o.dial(ctx, r, log)
		}

	case KindEnd:
		o.rooms.remove(r.Name)
		log.Info("conference ended; room closed")
	}
}

// dial places one contact leg into the room. Callers guarantee the room has
// no live contact.
func (o *Orchestrator) dial(ctx context.Context, r Room, log *slog.Logger) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer o.sem.Release(1)

	res, err := o.d.Dialer.DialNext(ctx, dialer.Signal{
		WorkspaceID: r.WorkspaceID,
		CampaignID:  r.CampaignID,
		Claimant:    r.AgentID,
		Source:      dialer.SourcePower,
		Conference:  r.Name,
	})
	if err != nil {
		log.Error("power dial failed", "err", err)
		return
	}
	if !res.Placed() {
		log.Info("no contact dialed", "reason", res.Reason)
		return
	}
	o.rooms.update(r.Name, func(r *Room) {
		r.ContactSID = res.Call.SID
		r.ContactQueueID = res.Entry.ID
	})
	log.Info("contact dialed into room", "contact_sid", res.Call.SID, "queue_id", res.Entry.ID)
}

// assign tags the live contact's queue entry with the agent.
func (o *Orchestrator) assign(ctx context.Context, r Room, log *slog.Logger) {
	queueID := r.ContactQueueID
	if queueID == 0 && r.ContactSID != "" && o.d.Calls != nil {
		c, err := o.d.Calls.Get(ctx, r.ContactSID)
		if err != nil {
			log.Warn("contact call lookup failed", "err", err)
			return
		}
		queueID = c.QueueID
		o.rooms.update(r.Name, func(r *Room) { r.ContactQueueID = queueID })
	}
	if queueID <= 0 {
		return
	}
	if _, err := o.d.Queue.SetStatus(ctx, queueID, queue.AssignedTo(r.AgentID)); err != nil {
		log.Warn("queue assignment failed", "queue_id", queueID, "err", err)
	}
}
