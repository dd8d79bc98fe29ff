package httpapi

import (
	"context"
	"errors"
	"net/http"

	"campaign-engine/internal/audit"
	"campaign-engine/internal/auth"
	"campaign-engine/internal/campaigns"
	"campaign-engine/internal/cancellation"
	"campaign-engine/internal/conference"
	"campaign-engine/internal/dialer"
	"campaign-engine/internal/queue"
	"campaign-engine/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers are the operator endpoints. Keep them thin: resolve the caller,
// scope the campaign to its workspace, call one service, return JSON.
type Handlers struct {
	Campaigns    CampaignService
	Queue        QueueService
	Dialer       Dialer
	Rooms        RoomService
	Presence     PresenceService
	Cancellation CancelService
	// Reports is optional.
	Reports      ReportService
	Audit        *audit.Service
}

type CampaignService interface {
	Get(ctx context.Context, id string) (campaigns.Campaign, error)
	Activate(ctx context.Context, id string) (campaigns.Campaign, error)
	Deactivate(ctx context.Context, id string) (campaigns.Campaign, error)
	HouseholdKeys(ctx context.Context, contactIDs []string) (map[string]string, error)
}

type QueueService interface {
	Enqueue(ctx context.Context, workspaceID, campaignID string, contactIDs []string, opts queue.EnqueueOptions) (queue.EnqueueResult, error)
	Remaining(ctx context.Context, campaignID string) (int, error)
}

type Dialer interface {
	DialNext(ctx context.Context, sig dialer.Signal) (dialer.Result, error)
}

type RoomService interface {
	OpenRoom(ctx context.Context, req conference.OpenRequest) (conference.Room, error)
	Room(name string) (conference.Room, bool)
	Next(room string) error
}

type PresenceService interface {
	Heartbeat(ctx context.Context, workspaceID, userID string) error
	Offline(ctx context.Context, workspaceID, userID string) error
}

type CancelService interface {
	CancelCampaign(ctx context.Context, campaignID string) (cancellation.Result, error)
	ResetCampaign(ctx context.Context, campaignID string) (cancellation.Result, error)
}

func identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := auth.IdentityFrom(c.Request.Context())
	if !ok || id.WorkspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return auth.Identity{}, false
	}
	return id, true
}

// campaign loads the path campaign and hides campaigns of other workspaces.
func (h Handlers) campaign(c *gin.Context, id auth.Identity) (campaigns.Campaign, bool) {
	camp, err := h.Campaigns.Get(c.Request.Context(), c.Param("campaign_id"))
	if errors.Is(err, campaigns.ErrNotFound) || errors.Is(err, campaigns.ErrInvalidArgument) || (err == nil && camp.WorkspaceID != id.WorkspaceID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return campaigns.Campaign{}, false
	}
	if err != nil {
		logger.FromGin(c).Error("campaign lookup failed", "campaign_id", c.Param("campaign_id"), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign lookup failed"})
		return campaigns.Campaign{}, false
	}
	return camp, true
}

func (h Handlers) record(c *gin.Context, id auth.Identity, action audit.Action, campaignID string, details any) {
	if h.Audit == nil {
		return
	}
	h.Audit.Record(c.Request.Context(), audit.Actor{
		UserID:      id.UserID,
		WorkspaceID: id.WorkspaceID,
		Role:        id.Role,
		IP:          c.ClientIP(),
	}, action, campaignID, details)
}

// --- Queue ---

type enqueueRequest struct {
	ContactIDs []string `json:"contact_ids"`
	// Requeue resets entries that already left the dial list.
	Requeue bool `json:"requeue"`
}

func (h Handlers) Enqueue(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	camp, ok := h.campaign(c, id)
	if !ok {
		return
	}
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.ContactIDs) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "contact_ids required"})
		return
	}
	log := logger.FromGin(c).With("campaign_id", camp.ID)

	opts := queue.EnqueueOptions{Requeue: req.Requeue}
	if camp.GroupHouseholds {
		keys, err := h.Campaigns.HouseholdKeys(c.Request.Context(), req.ContactIDs)
		if err != nil {
			log.Error("household lookup failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "household lookup failed"})
			return
		}
		opts.Households = keys
	}

	res, err := h.Queue.Enqueue(c.Request.Context(), id.WorkspaceID, camp.ID, req.ContactIDs, opts)
	var qerr *queue.QueueError
	if errors.As(err, &qerr) {
		log.Error("enqueue failed part-way", "batch", qerr.Batch, "committed", qerr.Committed, "err", qerr.Err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "enqueue incomplete; retry is safe", "committed": qerr.Committed})
		return
	}
	if err != nil {
		log.Error("enqueue failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}
	h.record(c, id, audit.ActionEnqueue, camp.ID, gin.H{"enqueued": res.Enqueued, "requeue": req.Requeue})
	c.JSON(http.StatusOK, gin.H{"enqueued": res.Enqueued, "first_order": res.FirstOrder, "last_order": res.LastOrder})
}

func (h Handlers) Remaining(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	camp, ok := h.campaign(c, id)
	if !ok {
		return
	}
	n, err := h.Queue.Remaining(c.Request.Context(), camp.ID)
	if err != nil {
		logger.FromGin(c).Error("remaining count failed", "campaign_id", camp.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "count failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": camp.ID, "queued": n})
}

// --- Lifecycle ---

func (h Handlers) Activate(c *gin.Context) {
	h.lifecycle(c, audit.ActionActivate, h.Campaigns.Activate)
}

func (h Handlers) Deactivate(c *gin.Context) {
	h.lifecycle(c, audit.ActionDeactivate, h.Campaigns.Deactivate)
}

func (h Handlers) lifecycle(c *gin.Context, action audit.Action, apply func(context.Context, string) (campaigns.Campaign, error)) {
	id, ok := identity(c)
	if !ok {
		return
	}
	camp, ok := h.campaign(c, id)
	if !ok {
		return
	}
	updated, err := apply(c.Request.Context(), camp.ID)
	if errors.Is(err, campaigns.ErrTerminal) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign is complete"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("campaign update failed", "campaign_id", camp.ID, "action", action, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign update failed"})
		return
	}
	h.record(c, id, action, camp.ID, gin.H{"from": camp.Status, "to": updated.Status})
	c.JSON(http.StatusOK, updated)
}

func (h Handlers) Cancel(c *gin.Context) {
	h.stop(c, audit.ActionCancel, h.Cancellation.CancelCampaign)
}

func (h Handlers) Reset(c *gin.Context) {
	h.stop(c, audit.ActionReset, h.Cancellation.ResetCampaign)
}

func (h Handlers) stop(c *gin.Context, action audit.Action, run func(context.Context, string) (cancellation.Result, error)) {
	id, ok := identity(c)
	if !ok {
		return
	}
	camp, ok := h.campaign(c, id)
	if !ok {
		return
	}
	res, err := run(c.Request.Context(), camp.ID)
	if err != nil {
		// Partial progress is safe to repeat.
		logger.FromGin(c).Error("campaign stop failed", "campaign_id", camp.ID, "action", action, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign stop failed; retry is safe"})
		return
	}
	h.record(c, id, action, camp.ID, res)
	c.JSON(http.StatusOK, res)
}

// --- Dialing ---

// DialNext is the operator "next contact" action for live-call campaigns.
func (h Handlers) DialNext(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	camp, ok := h.campaign(c, id)
	if !ok {
		return
	}
	res, err := h.Dialer.DialNext(c.Request.Context(), dialer.Signal{
		WorkspaceID: id.WorkspaceID,
		CampaignID:  camp.ID,
		Claimant:    id.UserID,
		Source:      dialer.SourceOperator,
	})
	if err != nil {
		logger.FromGin(c).Error("dial next failed", "campaign_id", camp.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dial failed"})
		return
	}
	body := gin.H{"state": res.State, "placed": res.Placed()}
	if res.Reason != "" {
		body["reason"] = res.Reason
	}
	if res.Entry.ID > 0 {
		body["queue_id"] = res.Entry.ID
		body["contact_id"] = res.Entry.ContactID
	}
	if res.Placed() {
		body["call_sid"] = res.Call.SID
		body["attempt_id"] = res.Attempt.ID
	}
	c.JSON(http.StatusOK, body)
}

type openRoomRequest struct {
	AgentPhone string `json:"agent_phone"`
	CallerID   string `json:"caller_id"`
}

// OpenRoom starts a power-dial session for the calling agent.
func (h Handlers) OpenRoom(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	camp, ok := h.campaign(c, id)
	if !ok {
		return
	}
	if camp.Type != campaigns.TypePowerDial {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign is not a power dial campaign"})
		return
	}
	var req openRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AgentPhone == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_phone required"})
		return
	}
	callerID := req.CallerID
	if callerID == "" {
		callerID = camp.CallerID
	}
	room, err := h.Rooms.OpenRoom(c.Request.Context(), conference.OpenRequest{
		WorkspaceID: id.WorkspaceID,
		CampaignID:  camp.ID,
		AgentID:     id.UserID,
		AgentPhone:  req.AgentPhone,
		CallerID:    callerID,
	})
	if errors.Is(err, conference.ErrInvalidRoom) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid room request"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("open room failed", "campaign_id", camp.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "could not reach agent"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room.Name, "agent_sid": room.AgentSID, "agent_joined": room.AgentJoined})
}

// NextInRoom asks the orchestrator for the next contact after wrap-up.
// Only the room's agent or a campaign admin may advance it.
func (h Handlers) NextInRoom(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	room, found := h.Rooms.Room(c.Param("room"))
	if !found || room.WorkspaceID != id.WorkspaceID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if room.AgentID != id.UserID && !canAdminister(id.Role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	err := h.Rooms.Next(room.Name)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"room": room.Name})
	case errors.Is(err, conference.ErrUnknownRoom):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "room not found"})
	default:
		logger.FromGin(c).Warn("room next rejected", "room", room.Name, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "orchestrator busy"})
	}
}

// --- Presence ---

func (h Handlers) Heartbeat(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if err := h.Presence.Heartbeat(c.Request.Context(), id.WorkspaceID, id.UserID); err != nil {
		logger.FromGin(c).Error("heartbeat failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "heartbeat failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) Offline(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if err := h.Presence.Offline(c.Request.Context(), id.WorkspaceID, id.UserID); err != nil {
		logger.FromGin(c).Error("offline failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "offline failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
