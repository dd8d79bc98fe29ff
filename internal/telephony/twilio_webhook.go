package telephony

import (
	"net/http"
	"strconv"
	"strings"
)

// Twilio sends application/x-www-form-urlencoded webhooks.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
//
// Parsing only; state decisions live in calls, conference and ivr.

// StatusForm is a call status or async AMD callback.
type StatusForm struct {
	CallSid       string
	ParentCallSid string
	AccountSid    string
	CallStatus    string
	AnsweredBy    string
	CallDuration  int
	From          string
	To            string
}

func ParseStatusForm(r *http.Request) (StatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return StatusForm{}, err
	}
	f := StatusForm{
		CallSid:       strings.TrimSpace(r.PostFormValue("CallSid")),
		ParentCallSid: strings.TrimSpace(r.PostFormValue("ParentCallSid")),
		AccountSid:    r.PostFormValue("AccountSid"),
		CallStatus:    r.PostFormValue("CallStatus"),
		AnsweredBy:    strings.ToLower(strings.TrimSpace(r.PostFormValue("AnsweredBy"))),
		From:          strings.TrimSpace(r.PostFormValue("From")),
		To:            strings.TrimSpace(r.PostFormValue("To")),
	}
	if d := r.PostFormValue("CallDuration"); d != "" {
		if n, err := strconv.Atoi(d); err == nil {
			f.CallDuration = n
		}
	}
	return f, nil
}

// ConferenceEvent is the normalized StatusCallbackEvent of a conference webhook.
type ConferenceEvent string

const (
	ConferenceStart  ConferenceEvent = "start"
	ConferenceEnd    ConferenceEvent = "end"
	ConferenceJoin   ConferenceEvent = "join"
	ConferenceLeave  ConferenceEvent = "leave"
	ConferenceModify ConferenceEvent = "modify"
)

// ReasonUpdatedViaAPI is ReasonParticipantLeft for legs ended through the REST API.
const ReasonUpdatedViaAPI = "participant_updated_via_api"

type ConferenceForm struct {
	ConferenceSid  string
	FriendlyName   string
	Event          ConferenceEvent
	CallSid        string
	Label          string
	ReasonLeft     string
	EndConference  bool
	StatusCallback string
}

// ParseConferenceForm accepts both "participant-join" and "join" spellings.
func ParseConferenceForm(r *http.Request) (ConferenceForm, error) {
	if err := r.ParseForm(); err != nil {
		return ConferenceForm{}, err
	}
	f := ConferenceForm{
		ConferenceSid: r.PostFormValue("ConferenceSid"),
		FriendlyName:  strings.TrimSpace(r.PostFormValue("FriendlyName")),
		Event:         normalizeConferenceEvent(r.PostFormValue("StatusCallbackEvent")),
		CallSid:       strings.TrimSpace(r.PostFormValue("CallSid")),
		Label:         strings.TrimSpace(r.PostFormValue("ParticipantLabel")),
		ReasonLeft:    strings.TrimSpace(r.PostFormValue("ReasonParticipantLeft")),
		EndConference: strings.EqualFold(r.PostFormValue("EndConferenceOnExit"), "true"),
	}
	return f, nil
}

func normalizeConferenceEvent(raw string) ConferenceEvent {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.TrimPrefix(v, "participant-")
	v = strings.TrimPrefix(v, "conference-")
	switch ConferenceEvent(v) {
	case ConferenceStart, ConferenceEnd, ConferenceJoin, ConferenceLeave, ConferenceModify:
		return ConferenceEvent(v)
	default:
		return ""
	}
}

// GatherForm is an IVR input callback.
type GatherForm struct {
	CallSid      string
	CallStatus   string
	Digits       string
	SpeechResult string
	Confidence   float64
}

func ParseGatherForm(r *http.Request) (GatherForm, error) {
	if err := r.ParseForm(); err != nil {
		return GatherForm{}, err
	}
	f := GatherForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		CallStatus:   r.PostFormValue("CallStatus"),
		Digits:       strings.TrimSpace(r.PostFormValue("Digits")),
		SpeechResult: strings.TrimSpace(r.PostFormValue("SpeechResult")),
	}
	if c := r.PostFormValue("Confidence"); c != "" {
		if v, err := strconv.ParseFloat(c, 64); err == nil {
			f.Confidence = v
		}
	}
	return f, nil
}
