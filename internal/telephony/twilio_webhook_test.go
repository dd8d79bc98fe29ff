package telephony

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func formRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseStatusForm(t *testing.T) {
	f, err := ParseStatusForm(formRequest("CallSid=CA123&CallStatus=Completed&AnsweredBy=Machine_Start&CallDuration=42"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.CallSid != "CA123" || f.CallStatus != "Completed" {
		t.Fatalf("unexpected form: %+v", f)
	}
	if f.AnsweredBy != "machine_start" {
		t.Fatalf("expected lowercased answered_by, got %q", f.AnsweredBy)
	}
	if f.CallDuration != 42 {
		t.Fatalf("expected duration 42, got %d", f.CallDuration)
	}
}

func TestParseConferenceForm(t *testing.T) {
	f, err := ParseConferenceForm(formRequest("FriendlyName=room-1&StatusCallbackEvent=participant-leave&CallSid=CA9&ParticipantLabel=contact&ReasonParticipantLeft=participant_updated_via_api"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.Event != ConferenceLeave || f.ReasonLeft != ReasonUpdatedViaAPI || f.Label != "contact" {
		t.Fatalf("unexpected form: %+v", f)
	}
	if normalizeConferenceEvent("conference-start") != ConferenceStart || normalizeConferenceEvent("join") != ConferenceJoin {
		t.Fatalf("event normalization mismatch")
	}
	if normalizeConferenceEvent("announcement-end") != "" {
		t.Fatalf("unknown events must normalize to empty")
	}
}

func TestParseGatherForm(t *testing.T) {
	f, err := ParseGatherForm(formRequest("CallSid=CA1&Digits=2&SpeechResult=Yes+please&Confidence=0.91"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.Digits != "2" || f.SpeechResult != "Yes please" || f.Confidence < 0.9 {
		t.Fatalf("unexpected form: %+v", f)
	}
}
