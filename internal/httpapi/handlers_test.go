package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"campaign-engine/internal/audit"
	"campaign-engine/internal/auth"
	"campaign-engine/internal/calls"
	"campaign-engine/internal/campaigns"
	"campaign-engine/internal/cancellation"
	"campaign-engine/internal/conference"
	"campaign-engine/internal/config"
	"campaign-engine/internal/dialer"
	"campaign-engine/internal/outreach"
	"campaign-engine/internal/presence"
	"campaign-engine/internal/queue"
	"campaign-engine/internal/rbac"
	"campaign-engine/internal/reporting"
	"campaign-engine/internal/telephony"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type fixture struct {
	router   *gin.Engine
	tokens   *auth.Manager
	camps    *campaigns.MemoryStore
	qstore   *queue.MemoryStore
	calls    *calls.MemoryRepo
	audit    *audit.MemoryRepo
	hangups  *cancellation.MemoryHangupQueue
	presence *presence.Tracker
	provider *telephony.LoopbackProvider
	reports  *reporting.MemoryRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		camps:    campaigns.NewMemoryStore(),
		qstore:   queue.NewMemoryStore(),
		calls:    calls.NewMemoryRepo(),
		audit:    audit.NewMemoryRepo(),
		hangups:  cancellation.NewMemoryHangupQueue(),
		presence: presence.NewTracker(rdb, "test:presence"),
		provider: telephony.NewLoopbackProvider(),
		reports:  reporting.NewMemoryRepo(),
	}
	tokens, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Hour, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	f.tokens = tokens

	f.camps.PutCampaign(campaigns.Campaign{ID: "live", WorkspaceID: "ws1", Type: campaigns.TypeLiveCall, Status: campaigns.StatusDraft, CallerID: "+15550000000"})
	f.camps.PutCampaign(campaigns.Campaign{ID: "power", WorkspaceID: "ws1", Type: campaigns.TypePowerDial, Status: campaigns.StatusRunning, IsActive: true, CallerID: "+15550000000"})
	f.camps.PutCampaign(campaigns.Campaign{ID: "done", WorkspaceID: "ws1", Type: campaigns.TypeLiveCall, Status: campaigns.StatusComplete})
	f.camps.PutCampaign(campaigns.Campaign{ID: "foreign", WorkspaceID: "ws2", Type: campaigns.TypeLiveCall, Status: campaigns.StatusRunning, IsActive: true})
	for _, id := range []string{"c1", "c2"} {
		f.camps.PutContact(campaigns.Contact{ID: id, WorkspaceID: "ws1", Phone: "+1555000000" + id[1:]})
	}

	campSvc := campaigns.NewService(f.camps, nil)
	qsvc := queue.NewService(f.qstore, queue.Options{}, nil)
	ledger := outreach.NewLedger(outreach.NewMemoryStore(), 10*time.Minute, nil)
	providers := telephony.NewRegistry(f.provider)
	callbacks := telephony.NewCallbackURLs("https://hooks.example")

	d := dialer.New(dialer.Deps{
		Campaigns: campSvc,
		Queue:     qsvc,
		Attempts:  ledger,
		Calls:     f.calls,
		Providers: providers,
		Callbacks: callbacks,
	}, dialer.Options{})
	orch := conference.New(conference.Deps{Dialer: d, Queue: qsvc, Calls: f.calls, Providers: providers, Callbacks: callbacks}, conference.Options{})
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	h := Handlers{
		Campaigns: campSvc,
		Queue:     qsvc,
		Dialer:    d,
		Rooms:     orch,
		Presence:  f.presence,
		Cancellation: cancellation.NewService(cancellation.Deps{
			Calls:     f.calls,
			Attempts:  ledger,
			Queue:     qsvc,
			Campaigns: campSvc,
			Hangups:   f.hangups,
		}, 0),
		Reports: reporting.NewService(f.reports, qsvc),
		Audit:   audit.NewService(f.audit, nil),
	}
	r := gin.New()
	h.Register(r.Group("/v1", auth.RequireAccessToken(tokens)))
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		pair, err := f.tokens.IssuePair(time.Now(), auth.Identity{UserID: userID, WorkspaceID: "ws1", Role: role})
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestOperatorAPI_RequiresAuthAndRole(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPost, "/v1/campaigns/live/activate", "", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/campaigns/live/activate", "agent-1", rbac.RoleAgent, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for agent, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/campaigns/foreign/activate", "mgr", rbac.RoleManager, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another workspace's campaign, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/campaigns/done/activate", "mgr", rbac.RoleManager, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a complete campaign, got %d", w.Code)
	}
}

func TestOperatorAPI_EnqueueActivateDial(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/campaigns/live/queue", "mgr", rbac.RoleManager, enqueueRequest{ContactIDs: []string{"c1", "c2"}})
	if w.Code != http.StatusOK || decode(t, w)["enqueued"] != float64(2) {
		t.Fatalf("enqueue: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/v1/campaigns/live/queue", "mgr", rbac.RoleManager, enqueueRequest{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty contact list, got %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/v1/campaigns/live/dial", "agent-1", rbac.RoleAgent, nil)
	if body := decode(t, w); body["placed"] != false || body["reason"] != dialer.ReasonInactive {
		t.Fatalf("draft campaign must not dial: %v", body)
	}

	if w := f.do(t, http.MethodPost, "/v1/campaigns/live/activate", "mgr", rbac.RoleManager, nil); w.Code != http.StatusOK {
		t.Fatalf("activate: %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/v1/campaigns/live/dial", "agent-1", rbac.RoleAgent, nil)
	body := decode(t, w)
	if w.Code != http.StatusOK || body["placed"] != true || body["call_sid"] == nil || body["contact_id"] != "c1" {
		t.Fatalf("dial: %d %v", w.Code, body)
	}
	e, _ := f.qstore.Get(context.Background(), int64(body["queue_id"].(float64)))
	if who, ok := e.Status.Assignee(); !ok || who != "agent-1" {
		t.Fatalf("expected entry claimed by agent-1, got %+v", e.Status)
	}

	w = f.do(t, http.MethodGet, "/v1/campaigns/live/queue", "analyst", rbac.RoleAnalyst, nil)
	if decode(t, w)["queued"] != float64(1) {
		t.Fatalf("expected one contact left: %s", w.Body.String())
	}

	actions := map[audit.Action]bool{}
	for _, e := range f.audit.ForCampaign("live") {
		actions[e.Action] = true
		if e.ActorUserID != "mgr" || e.WorkspaceID != "ws1" {
			t.Fatalf("unexpected audit actor: %+v", e)
		}
	}
	if !actions[audit.ActionEnqueue] || !actions[audit.ActionActivate] {
		t.Fatalf("expected enqueue and activate audited, got %v", actions)
	}
}

func TestOperatorAPI_CancelQueuesHangups(t *testing.T) {
	f := newFixture(t)
	_ = f.do(t, http.MethodPost, "/v1/campaigns/live/queue", "mgr", rbac.RoleManager, enqueueRequest{ContactIDs: []string{"c1", "c2"}})
	_ = f.do(t, http.MethodPost, "/v1/campaigns/live/activate", "mgr", rbac.RoleManager, nil)
	for _, agent := range []string{"agent-1", "agent-2"} {
		if w := f.do(t, http.MethodPost, "/v1/campaigns/live/dial", agent, rbac.RoleAgent, nil); decode(t, w)["placed"] != true {
			t.Fatalf("dial failed: %s", w.Body.String())
		}
	}

	w := f.do(t, http.MethodPost, "/v1/campaigns/live/cancel", "mgr", rbac.RoleManager, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	if body := decode(t, w); body["calls_canceled"] != float64(2) || body["hangups_queued"] != float64(2) {
		t.Fatalf("unexpected cancel result: %v", body)
	}
	if got := len(f.hangups.Pending()); got != 2 {
		t.Fatalf("expected 2 pending hangups, got %d", got)
	}
	camp, _ := f.camps.Get(context.Background(), "live")
	if camp.IsActive {
		t.Fatalf("expected campaign paused after cancel")
	}
}

func TestOperatorAPI_PowerRoom(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPost, "/v1/campaigns/live/rooms", "agent-1", rbac.RoleAgent, openRoomRequest{AgentPhone: "+15551110000"}); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a non power campaign, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/campaigns/power/rooms", "agent-1", rbac.RoleAgent, openRoomRequest{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without agent phone, got %d", w.Code)
	}

	w := f.do(t, http.MethodPost, "/v1/campaigns/power/rooms", "agent-1", rbac.RoleAgent, openRoomRequest{AgentPhone: "+15551110000"})
	if w.Code != http.StatusOK {
		t.Fatalf("open room: %d %s", w.Code, w.Body.String())
	}
	room := decode(t, w)["room"].(string)
	if room != conference.RoomName("power", "agent-1") {
		t.Fatalf("unexpected room %q", room)
	}
	parts := f.provider.Participants()
	if len(parts) != 1 || parts[0].Label != conference.AgentLabel("agent-1") || parts[0].From != "+15550000000" {
		t.Fatalf("expected the agent leg dialed with the campaign caller id: %+v", parts)
	}

	if w := f.do(t, http.MethodPost, "/v1/rooms/"+room+"/next", "agent-2", rbac.RoleAgent, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another agent, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/rooms/"+room+"/next", "owner", rbac.RoleOwner, nil); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for an owner, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/rooms/nope/next", "agent-1", rbac.RoleAgent, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown room, got %d", w.Code)
	}
}

func TestOperatorAPI_Presence(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPost, "/v1/presence/heartbeat", "agent-1", rbac.RoleAgent, nil); w.Code != http.StatusNoContent {
		t.Fatalf("heartbeat: %d", w.Code)
	}
	seen, err := f.presence.LastOnline(context.Background(), "ws1")
	if err != nil || seen["agent-1"].IsZero() {
		t.Fatalf("expected agent-1 online: %v %v", seen, err)
	}

	if w := f.do(t, http.MethodDelete, "/v1/presence", "agent-1", rbac.RoleAgent, nil); w.Code != http.StatusNoContent {
		t.Fatalf("offline: %d", w.Code)
	}
	seen, _ = f.presence.LastOnline(context.Background(), "ws1")
	if _, ok := seen["agent-1"]; ok {
		t.Fatalf("expected agent-1 offline")
	}
}

func TestOperatorAPI_Summary(t *testing.T) {
	f := newFixture(t)
	_ = f.do(t, http.MethodPost, "/v1/campaigns/live/queue", "mgr", rbac.RoleManager, enqueueRequest{ContactIDs: []string{"c1", "c2"}})
	now := time.Now().UTC()
	f.reports.Calls = []calls.Call{
		{SID: "CA1", WorkspaceID: "ws1", CampaignID: "live", Status: "completed", DurationSeconds: 60, CreatedAt: now.Add(-time.Minute)},
	}

	w := f.do(t, http.MethodGet, "/v1/campaigns/live/summary", "analyst", rbac.RoleAnalyst, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary: %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["queued"] != float64(2) || body["completed_calls"] != float64(1) || body["total_duration_seconds"] != float64(60) {
		t.Fatalf("unexpected summary: %v", body)
	}

	if w := f.do(t, http.MethodGet, "/v1/campaigns/live/summary?from=yesterday", "analyst", rbac.RoleAnalyst, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad timestamp, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/v1/campaigns/foreign/summary", "analyst", rbac.RoleAnalyst, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another workspace, got %d", w.Code)
	}
}
