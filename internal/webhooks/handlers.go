package webhooks

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"campaign-engine/internal/calls"
	"campaign-engine/internal/campaigns"
	"campaign-engine/internal/conference"
	"campaign-engine/internal/ivr"
	"campaign-engine/internal/telemetry"
	"campaign-engine/internal/telephony"
	"campaign-engine/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers convert provider webhooks into calls, conference and ivr
// operations and write the reply. No state decisions are made here.
//
// Status codes: 400 for payloads that cannot be correlated (no mutation),
// 500 for datastore failures so the provider may redeliver, 200 otherwise,
// including stale or duplicate deliveries.
type Handlers struct {
	Calls      CallMachine
	Campaigns  CampaignLookup
	IVR        IVRSteps
	Conference EventPublisher
	Callbacks  telephony.CallbackURLs
}

type CallMachine interface {
	HandleStatus(ctx context.Context, ev calls.StatusEvent) (calls.Outcome, error)
	HandleAnsweredBy(ctx context.Context, ev calls.StatusEvent) (calls.Outcome, error)
}

type CampaignLookup interface {
	Get(ctx context.Context, id string) (campaigns.Campaign, error)
}

type IVRSteps interface {
	Start(ctx context.Context, ref telephony.CallRef) (string, error)
	Step(ctx context.Context, ref telephony.CallRef, ptr telephony.IVRPointer, in ivr.Input) (string, error)
}

type EventPublisher interface {
	Publish(ev conference.Event) error
}

const (
	kindStatus     = "status"
	kindAMD        = "amd"
	kindConference = "conference"
	kindVoice      = "voice"
	kindIVR        = "ivr"
)

func count(kind string, code int) {
	telemetry.WebhooksTotal.WithLabelValues(kind, strconv.Itoa(code)).Inc()
}

func fail(c *gin.Context, kind string, code int, msg string) {
	count(kind, code)
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

func twiml(c *gin.Context, kind, doc string) {
	count(kind, http.StatusOK)
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(doc))
}

// correlationError reports whether err means the webhook named no call we
// can attribute.
func correlationError(err error) bool {
	return errors.Is(err, calls.ErrInvalidArgument) || errors.Is(err, calls.ErrNotFound)
}

// Status handles call status callbacks, including synchronous AnsweredBy.
func (h Handlers) Status(c *gin.Context) {
	log := logger.FromGin(c)
	form, err := telephony.ParseStatusForm(c.Request)
	if err != nil || form.CallSid == "" {
		fail(c, kindStatus, http.StatusBadRequest, "CallSid required")
		return
	}
	ref := telephony.CallRefFromQuery(c.Request.URL.Query())

	out, err := h.Calls.HandleStatus(c.Request.Context(), calls.StatusEvent{
		SID:             form.CallSid,
		ParentSID:       form.ParentCallSid,
		Ref:             ref,
		RawStatus:       form.CallStatus,
		AnsweredBy:      form.AnsweredBy,
		DurationSeconds: form.CallDuration,
	})
	if correlationError(err) {
		log.Warn("status webhook not correlated", "call_sid", form.CallSid, "err", err)
		fail(c, kindStatus, http.StatusBadRequest, "unknown call")
		return
	}
	if err != nil {
		log.Error("status webhook failed", "call_sid", form.CallSid, "err", err)
		fail(c, kindStatus, http.StatusInternalServerError, "status update failed")
		return
	}
	count(kindStatus, http.StatusOK)
	c.JSON(http.StatusOK, gin.H{
		"status":    out.Call.Status,
		"action":    out.Action,
		"ignored":   out.Ignored,
		"voicemail": out.Voicemail,
	})
}

// AMD handles asynchronous answering machine detection callbacks.
func (h Handlers) AMD(c *gin.Context) {
	log := logger.FromGin(c)
	form, err := telephony.ParseStatusForm(c.Request)
	if err != nil || form.CallSid == "" || form.AnsweredBy == "" {
		fail(c, kindAMD, http.StatusBadRequest, "CallSid and AnsweredBy required")
		return
	}
	out, err := h.Calls.HandleAnsweredBy(c.Request.Context(), calls.StatusEvent{
		SID:        form.CallSid,
		Ref:        telephony.CallRefFromQuery(c.Request.URL.Query()),
		AnsweredBy: form.AnsweredBy,
	})
	if correlationError(err) {
		fail(c, kindAMD, http.StatusBadRequest, "unknown call")
		return
	}
	if err != nil {
		log.Error("amd webhook failed", "call_sid", form.CallSid, "err", err)
		fail(c, kindAMD, http.StatusInternalServerError, "amd update failed")
		return
	}
	count(kindAMD, http.StatusOK)
	c.JSON(http.StatusOK, gin.H{"answered_by": out.Call.AnsweredBy, "voicemail": out.Voicemail})
}

// ConferenceEvent forwards conference events to the campaign's orchestrator lane.
// Events the orchestrator does not track are acknowledged and dropped.
func (h Handlers) ConferenceEvent(c *gin.Context) {
	log := logger.FromGin(c)
	form, err := telephony.ParseConferenceForm(c.Request)
	if err != nil {
		fail(c, kindConference, http.StatusBadRequest, "invalid form")
		return
	}
	if form.Event == "" {
		count(kindConference, http.StatusOK)
		c.JSON(http.StatusOK, gin.H{"ignored": true})
		return
	}
	ev := conference.EventFromWebhook(form, telephony.CallRefFromQuery(c.Request.URL.Query()))
	if ev.Room == "" {
		fail(c, kindConference, http.StatusBadRequest, "FriendlyName required")
		return
	}

	err = h.Conference.Publish(ev)
	switch {
	case err == nil:
	case errors.Is(err, conference.ErrUnknownRoom):
		log.Debug("conference event for unknown room", "room", ev.Room, "event", ev.Kind)
		count(kindConference, http.StatusOK)
		c.JSON(http.StatusOK, gin.H{"ignored": true})
		return
	case errors.Is(err, conference.ErrLaneFull), errors.Is(err, conference.ErrStopped):
		log.Warn("conference event rejected", "room", ev.Room, "event", ev.Kind, "err", err)
		fail(c, kindConference, http.StatusServiceUnavailable, "orchestrator busy")
		return
	default:
		log.Error("conference publish failed", "room", ev.Room, "err", err)
		fail(c, kindConference, http.StatusInternalServerError, "publish failed")
		return
	}
	count(kindConference, http.StatusAccepted)
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// Voice returns the instructions for an answered outbound leg: the IVR start
// page for IVR campaigns, otherwise the contact joins its conference room.
func (h Handlers) Voice(c *gin.Context) {
	log := logger.FromGin(c)
	ref := telephony.CallRefFromQuery(c.Request.URL.Query())
	if ref.CampaignID == "" {
		fail(c, kindVoice, http.StatusBadRequest, "campaign_id required")
		return
	}
	camp, err := h.Campaigns.Get(c.Request.Context(), ref.CampaignID)
	if errors.Is(err, campaigns.ErrNotFound) {
		fail(c, kindVoice, http.StatusBadRequest, "unknown campaign")
		return
	}
	if err != nil {
		log.Error("voice webhook campaign lookup failed", "campaign_id", ref.CampaignID, "err", err)
		fail(c, kindVoice, http.StatusInternalServerError, "campaign lookup failed")
		return
	}

	if camp.Type == campaigns.TypeIVR {
		doc, err := h.IVR.Start(c.Request.Context(), ref)
		if err != nil {
			log.Error("ivr start failed", "campaign_id", ref.CampaignID, "attempt_id", ref.AttemptID, "err", err)
			fail(c, kindVoice, http.StatusInternalServerError, "ivr start failed")
			return
		}
		twiml(c, kindVoice, doc)
		return
	}

	room := ref.Conference
	if room == "" {
		// Live calls without a power room wait in their own room for the
		// operator's leg.
		sid := c.PostForm("CallSid")
		if sid == "" {
			fail(c, kindVoice, http.StatusBadRequest, "CallSid required")
			return
		}
		room = "call-" + sid
	}
	doc, err := telephony.NewTwiML().DialConference(telephony.ConferenceOptions{
		Name:                room,
		StartOnEnter:        true,
		StatusCallback:      h.Callbacks.For(ref).Conference,
		StatusCallbackEvent: "start end join leave modify",
	}).String()
	if err != nil {
		fail(c, kindVoice, http.StatusInternalServerError, "twiml render failed")
		return
	}
	twiml(c, kindVoice, doc)
}

// IVRStep consumes a gather result at the page/block pointer in the URL.
func (h Handlers) IVRStep(c *gin.Context) {
	log := logger.FromGin(c)
	q := c.Request.URL.Query()
	ref := telephony.CallRefFromQuery(q)
	ptr := telephony.IVRPointerFromQuery(q)
	if ref.CampaignID == "" || ref.AttemptID == "" || ptr.Page == "" {
		fail(c, kindIVR, http.StatusBadRequest, "campaign_id, attempt_id and page required")
		return
	}
	form, err := telephony.ParseGatherForm(c.Request)
	if err != nil {
		fail(c, kindIVR, http.StatusBadRequest, "invalid form")
		return
	}

	doc, err := h.IVR.Step(c.Request.Context(), ref, ptr, ivr.Input{Digits: form.Digits, Speech: form.SpeechResult})
	if err != nil {
		log.Error("ivr step failed", "attempt_id", ref.AttemptID, "page", ptr.Page, "block", ptr.Block, "err", err)
		fail(c, kindIVR, http.StatusInternalServerError, "ivr step failed")
		return
	}
	twiml(c, kindIVR, doc)
}
