package ivr

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"campaign-engine/internal/campaigns"
	"campaign-engine/internal/outreach"
	"campaign-engine/internal/telephony"

	"github.com/google/go-cmp/cmp"
)

type staticSigner struct{}

func (staticSigner) SignedURL(ctx context.Context, key string) (string, error) {
	return "https://audio.example/" + key, nil
}

// loopScript points B back at A.
func loopScript() Script {
	return Script{
		ID:        "s1",
		StartPage: "A",
		Pages: map[string]Page{
			"A":   {ID: "A", Blocks: []string{"a1"}},
			"B":   {ID: "B", Blocks: []string{"b1", "b2"}},
			"end": {ID: "end", Blocks: []string{"bye"}},
		},
		Blocks: map[string]Block{
			"a1": {ID: "a1", ResponseType: ResponseDTMF, Text: "Welcome to page A. Press 1.", Options: []Option{{Value: "1", Next: "B"}}},
			"b1": {ID: "b1", ResponseType: ResponseBoth, Text: "Page B. Say yes or no.", Options: []Option{
				{Value: "1", Content: "yes", Next: "A"},
				{Value: "2", Content: "no", Next: "b2"},
			}},
			"b2":  {ID: "b2", ResponseType: ResponseSpeech, AudioKey: "ivr/b2.mp3", Options: []Option{{Value: AnyValue, Next: "end"}}},
			"bye": {ID: "bye", ResponseType: ResponseHangup, Text: "Goodbye."},
		},
	}
}

type fixture struct {
	engine *Engine
	ledger *outreach.Ledger
	ref    telephony.CallRef
}

func newFixture(t *testing.T, s Script) *fixture {
	t.Helper()
	ctx := context.Background()

	scripts := NewMemoryStore()
	scripts.Put(s)
	camps := campaigns.NewMemoryStore()
	camps.PutCampaign(campaigns.Campaign{ID: "camp1", WorkspaceID: "ws1", Type: campaigns.TypeIVR, Status: campaigns.StatusRunning, IsActive: true, ScriptID: s.ID})

	ledger := outreach.NewLedger(outreach.NewMemoryStore(), 10*time.Minute, nil)
	a, err := ledger.GetOrCreateAttempt(ctx, outreach.AttemptKey{WorkspaceID: "ws1", ContactID: "c1", CampaignID: "camp1", QueueID: 1})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}

	return &fixture{
		engine: NewEngine(Deps{
			Scripts:   scripts,
			Campaigns: camps,
			Attempts:  ledger,
			Audio:     staticSigner{},
			Callbacks: telephony.NewCallbackURLs("https://hooks.example"),
		}),
		ledger: ledger,
		ref:    telephony.CallRef{WorkspaceID: "ws1", CampaignID: "camp1", ContactID: "c1", AttemptID: a.ID, QueueID: 1},
	}
}

func (f *fixture) step(t *testing.T, page, block string, retry bool, in Input) string {
	t.Helper()
	out, err := f.engine.Step(context.Background(), f.ref, telephony.IVRPointer{Page: page, Block: block, Retry: retry}, in)
	if err != nil {
		t.Fatalf("step %s/%s: %v", page, block, err)
	}
	return out
}

func (f *fixture) attempt(t *testing.T) outreach.Attempt {
	t.Helper()
	a, err := f.ledger.Get(context.Background(), f.ref.AttemptID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	return a
}

func TestEngine_RevisitRedirectsToEnd(t *testing.T) {
	f := newFixture(t, loopScript())

	out, err := f.engine.Start(context.Background(), f.ref)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strings.Contains(out, "Welcome to page A") || !strings.Contains(out, "<Gather") {
		t.Fatalf("expected page A gather: %s", out)
	}

	out = f.step(t, "A", "a1", false, Input{Digits: "1"})
	if !strings.Contains(out, "Page B") {
		t.Fatalf("expected page B: %s", out)
	}

	out = f.step(t, "B", "b1", false, Input{Digits: "1"})
	if strings.Contains(out, "Welcome to page A") {
		t.Fatalf("page A was re-rendered: %s", out)
	}
	if !strings.Contains(out, "Goodbye.") || !strings.Contains(out, "<Hangup>") {
		t.Fatalf("expected end page hangup: %s", out)
	}

	a := f.attempt(t)
	if diff := cmp.Diff([]string{"A", "B", "end"}, visitedPages(a.Result)); diff != "" {
		t.Fatalf("visited pages mismatch (-want +got):\n%s", diff)
	}
	if a.Disposition != outreach.DispositionIVRCompleted {
		t.Fatalf("expected ivr-completed, got %s", a.Disposition)
	}
	answers, _ := a.Result["B"].(map[string]any)
	if answers["b1"] != "1" {
		t.Fatalf("expected recorded answer, got %v", a.Result)
	}
}

func TestEngine_SpeechMissRepromptsOnce(t *testing.T) {
	f := newFixture(t, loopScript())
	_, _ = f.engine.Start(context.Background(), f.ref)
	_ = f.step(t, "A", "a1", false, Input{Digits: "1"})

	out := f.step(t, "B", "b1", false, Input{Speech: "banana"})
	if !strings.Contains(out, notUnderstood) || !strings.Contains(out, "retry=1") {
		t.Fatalf("expected a single re-prompt: %s", out)
	}

	// The second miss falls through to the next block on the page.
	out = f.step(t, "B", "b1", true, Input{Speech: "banana again"})
	if strings.Contains(out, notUnderstood) {
		t.Fatalf("re-prompted twice: %s", out)
	}
	if !strings.Contains(out, "https://audio.example/ivr/b2.mp3") {
		t.Fatalf("expected block b2 audio: %s", out)
	}
}

func TestEngine_DTMFMissRedirectsToSameStep(t *testing.T) {
	f := newFixture(t, loopScript())
	_, _ = f.engine.Start(context.Background(), f.ref)

	out := f.step(t, "A", "a1", false, Input{Digits: "9"})
	if !strings.Contains(out, "<Redirect") || !strings.Contains(out, "mode=render") || !strings.Contains(out, "block=a1") {
		t.Fatalf("expected redirect to the same step: %s", out)
	}

	out = f.step(t, "A", "a1", false, Input{})
	if !strings.Contains(out, notUnderstood) {
		t.Fatalf("silence should re-prompt: %s", out)
	}
}

func TestEngine_KeywordMatchAndWildcard(t *testing.T) {
	f := newFixture(t, loopScript())
	_, _ = f.engine.Start(context.Background(), f.ref)
	_ = f.step(t, "A", "a1", false, Input{Digits: "1"})

	out := f.step(t, "B", "b1", false, Input{Speech: "No thanks."})
	if !strings.Contains(out, "block=b2") {
		t.Fatalf("expected keyword match to b2: %s", out)
	}
	out = f.step(t, "B", "b2", false, Input{Speech: "anything at all"})
	if !strings.Contains(out, "Goodbye.") {
		t.Fatalf("expected wildcard to end: %s", out)
	}
}

func TestEngine_ScriptErrorApologizes(t *testing.T) {
	s := loopScript()
	s.ID = "other"
	f := newFixture(t, s)
	f.engine.d.Campaigns.(*campaigns.MemoryStore).PutCampaign(campaigns.Campaign{ID: "camp1", WorkspaceID: "ws1", Type: campaigns.TypeIVR, Status: campaigns.StatusRunning, IsActive: true, ScriptID: "missing"})

	out, err := f.engine.Start(context.Background(), f.ref)
	if err != nil {
		t.Fatalf("script errors must not surface: %v", err)
	}
	if !strings.Contains(out, apologyText) || !strings.Contains(out, "<Hangup>") {
		t.Fatalf("expected apology hangup: %s", out)
	}
	if d := f.attempt(t).Disposition; d != outreach.DispositionIVRError {
		t.Fatalf("expected ivr-error, got %s", d)
	}
}

func TestResolvePrecedence(t *testing.T) {
	opts := []Option{
		{Value: "1", Content: "sales", Next: "p1"},
		{Value: AnyValue, Next: "p2"},
		{Value: "2", Content: "support", Next: "p3"},
	}
	cases := []struct {
		name   string
		digits string
		speech string
		next   string
		match  Match
	}{
		{"exact digits", "1", "", "p1", MatchExact},
		{"exact speech", "", "2.", "p3", MatchExact},
		{"wildcard beats keyword", "", "support please", "p2", MatchAny},
		{"no input", "", "", "", MatchNone},
	}
	for _, tc := range cases {
		got, m := Resolve(opts, tc.digits, tc.speech)
		if m != tc.match || got.Next != tc.next {
			t.Fatalf("%s: got %q/%s, want %q/%s", tc.name, got.Next, m, tc.next, tc.match)
		}
	}

	noAny := []Option{opts[0], opts[2]}
	if got, m := Resolve(noAny, "", "I need Support"); m != MatchSubstring || got.Next != "p3" {
		t.Fatalf("expected substring match, got %q/%s", got.Next, m)
	}
	if _, m := Resolve(noAny, "7", ""); m != MatchNone {
		t.Fatalf("digits never keyword-match, got %s", m)
	}
}

func TestParseScriptValidates(t *testing.T) {
	raw := `{"id":"s","start_page":"A","pages":{"A":{"id":"A","blocks":["a1"]}},"blocks":{"a1":{"id":"a1","response_type":"dtmf","options":[{"value":"1","next":"Z"}]}}}`
	_, err := ParseScript([]byte(raw))
	var se *ScriptError
	if err == nil || !errors.As(err, &se) || se.Block != "a1" {
		t.Fatalf("expected ScriptError on a1, got %v", err)
	}
}
