package telephony

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type tokenProvider struct {
	*LoopbackProvider
	token string
}

func (p tokenProvider) AuthToken() string { return p.token }

func TestValidateSignature(t *testing.T) {
	params := url.Values{"CallSid": {"CA1"}, "CallStatus": {"ringing"}}
	sig := ComputeSignature("secret", "https://hooks.example/webhooks/twilio/status?workspace_id=w1", params)

	if !ValidateSignature("secret", "https://hooks.example/webhooks/twilio/status?workspace_id=w1", params, sig) {
		t.Fatalf("expected valid signature")
	}
	if ValidateSignature("other", "https://hooks.example/webhooks/twilio/status?workspace_id=w1", params, sig) {
		t.Fatalf("expected invalid with wrong token")
	}
	params.Set("CallStatus", "completed")
	if ValidateSignature("secret", "https://hooks.example/webhooks/twilio/status?workspace_id=w1", params, sig) {
		t.Fatalf("expected invalid after tampering")
	}
}

func TestRequireSignatureMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := NewRegistry(NewLoopbackProvider())
	reg.Register("w1", tokenProvider{LoopbackProvider: NewLoopbackProvider(), token: "secret"})

	r := gin.New()
	r.POST(PathStatus, RequireSignature(reg, "https://hooks.example"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	body := "CallSid=CA1&CallStatus=ringing"
	form, _ := url.ParseQuery(body)

	send := func(query, sig string) int {
		req := httptest.NewRequest(http.MethodPost, PathStatus+"?"+query, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if sig != "" {
			req.Header.Set(SignatureHeader, sig)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	good := ComputeSignature("secret", "https://hooks.example"+PathStatus+"?workspace_id=w1", form)
	if code := send("workspace_id=w1", good); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if code := send("workspace_id=w1", "bogus"); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	// Default loopback provider carries no token.
	if code := send("workspace_id=w2", ""); code != http.StatusNoContent {
		t.Fatalf("expected passthrough for tokenless provider, got %d", code)
	}
}

func TestCallbackURLsRoundTrip(t *testing.T) {
	urls := NewCallbackURLs("https://hooks.example/")
	ref := CallRef{WorkspaceID: "w1", CampaignID: "c1", ContactID: "k1", AttemptID: "a1", QueueID: 42, Conference: "room"}
	cb := urls.For(ref)

	u, err := url.Parse(cb.Status)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Path != PathStatus {
		t.Fatalf("unexpected path %q", u.Path)
	}
	if got := CallRefFromQuery(u.Query()); got != ref {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	step, _ := url.Parse(urls.IVRStep(ref, "p1", "b1", true))
	if step.Query().Get("page") != "p1" || step.Query().Get("retry") != "1" {
		t.Fatalf("unexpected ivr url %s", step)
	}
}
