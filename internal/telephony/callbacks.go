package telephony

import (
	"net/url"
	"strconv"
	"strings"
)

// Webhook paths, relative to the public callback base URL.
const (
	PathVoice      = "/webhooks/twilio/voice"
	PathStatus     = "/webhooks/twilio/status"
	PathAMD        = "/webhooks/twilio/amd"
	PathConference = "/webhooks/twilio/conference"
	PathIVR        = "/webhooks/twilio/ivr"
)

// CallRef identifies everything a webhook needs besides the call sid.
// It is embedded in every callback URL so webhooks are self-describing.
type CallRef struct {
	WorkspaceID string
	CampaignID  string
	ContactID   string
	AttemptID   string
	QueueID     int64
	// Conference is the room name for power-dial legs.
	Conference string
}

func (r CallRef) values() url.Values {
	v := url.Values{}
	v.Set("workspace_id", r.WorkspaceID)
	v.Set("campaign_id", r.CampaignID)
	v.Set("contact_id", r.ContactID)
	v.Set("attempt_id", r.AttemptID)
	v.Set("queue_id", strconv.FormatInt(r.QueueID, 10))
	if r.Conference != "" {
		v.Set("conference", r.Conference)
	}
	return v
}

// CallRefFromQuery reverses the embedding; missing ids stay empty.
func CallRefFromQuery(q url.Values) CallRef {
	id, _ := strconv.ParseInt(q.Get("queue_id"), 10, 64)
	return CallRef{
		WorkspaceID: q.Get("workspace_id"),
		CampaignID:  q.Get("campaign_id"),
		ContactID:   q.Get("contact_id"),
		AttemptID:   q.Get("attempt_id"),
		QueueID:     id,
		Conference:  q.Get("conference"),
	}
}

// Callbacks is the set of URLs wired into one outbound leg.
type Callbacks struct {
	Voice      string
	Status     string
	AMD        string
	Conference string
}

type CallbackURLs struct {
	base string
}

func NewCallbackURLs(publicBaseURL string) CallbackURLs {
	return CallbackURLs{base: strings.TrimRight(publicBaseURL, "/")}
}

func (c CallbackURLs) build(path string, v url.Values) string {
	return c.base + path + "?" + v.Encode()
}

func (c CallbackURLs) For(ref CallRef) Callbacks {
	v := ref.values()
	return Callbacks{
		Voice:      c.build(PathVoice, v),
		Status:     c.build(PathStatus, v),
		AMD:        c.build(PathAMD, v),
		Conference: c.build(PathConference, v),
	}
}

// IVRStep is the gather action for a page/block pointer. Retry marks a
// re-prompt so the next miss can end the step instead of looping.
func (c CallbackURLs) IVRStep(ref CallRef, pageID, blockID string, retry bool) string {
	v := ref.values()
	v.Set("page", pageID)
	v.Set("block", blockID)
	if retry {
		v.Set("retry", "1")
	}
	return c.build(PathIVR, v)
}

// IVRRender re-renders a block without consuming input.
func (c CallbackURLs) IVRRender(ref CallRef, pageID, blockID string) string {
	v := ref.values()
	v.Set("page", pageID)
	v.Set("block", blockID)
	v.Set("mode", "render")
	return c.build(PathIVR, v)
}

// IVRPointer is the script position carried by an IVR callback URL.
type IVRPointer struct {
	Page   string
	Block  string
	Retry  bool
	Render bool
}

func IVRPointerFromQuery(q url.Values) IVRPointer {
	return IVRPointer{
		Page:   q.Get("page"),
		Block:  q.Get("block"),
		Retry:  q.Get("retry") == "1",
		Render: q.Get("mode") == "render",
	}
}
