package callstatus

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]Status{
		"RINGING":       Ringing,
		" in-progress ": InProgress,
		"No-Answer":     NoAnswer,
		"completed":     Completed,
		"bogus":         Unknown,
		"":              Unknown,
	}
	for raw, want := range cases {
		if got := Normalize(raw); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestClassification(t *testing.T) {
	for _, s := range []Status{Completed, Failed, NoAnswer, Busy, Canceled} {
		if !s.IsTerminal() || s.IsActive() {
			t.Fatalf("expected %q terminal and not active", s)
		}
	}
	for _, s := range []Status{Initiated, Queued, Ringing, InProgress} {
		if s.IsTerminal() || !s.IsActive() {
			t.Fatalf("expected %q active and not terminal", s)
		}
	}
	if Unknown.IsTerminal() || Unknown.IsActive() {
		t.Fatalf("unknown status must be neither terminal nor active")
	}
}

func TestActionFor(t *testing.T) {
	cases := map[string]Action{
		"in-progress": ActionConnect,
		"completed":   ActionHangUp,
		"canceled":    ActionHangUp,
		"busy":        ActionFail,
		"failed":      ActionFail,
		"no-answer":   ActionFail,
		"ringing":     ActionNone,
		"":            ActionNone,
	}
	for raw, want := range cases {
		if got := ActionFor(raw); got != want {
			t.Fatalf("ActionFor(%q) = %q, want %q", raw, got, want)
		}
	}
}
