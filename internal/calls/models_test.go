package calls

import (
	"errors"
	"testing"
	"time"

	"campaign-engine/internal/callstatus"
)

func TestApplyFinalizesTerminalCall(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c := Call{SID: "CA1", Status: callstatus.Initiated}

	if err := c.apply(Transition{Status: callstatus.InProgress, At: t0}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := c.apply(Transition{Status: callstatus.Completed, At: t0.Add(95 * time.Second)}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.EndedAt == nil || c.DurationSeconds != 95 {
		t.Fatalf("expected ended call with 95s, got ended=%v duration=%d", c.EndedAt, c.DurationSeconds)
	}

	if err := c.apply(Transition{Status: callstatus.Failed, At: t0.Add(time.Hour)}); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict after terminal, got %v", err)
	}
	if c.Status != callstatus.Completed {
		t.Fatalf("terminal status changed to %q", c.Status)
	}
}

func TestApplyPrefersProviderDuration(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c := Call{SID: "CA1", Status: callstatus.Ringing}
	if err := c.apply(Transition{Status: callstatus.Busy, DurationSeconds: 3, At: t0}); err != nil {
		t.Fatalf("busy: %v", err)
	}
	if c.DurationSeconds != 3 || c.AnsweredAt != nil {
		t.Fatalf("unexpected call: %+v", c)
	}
}
