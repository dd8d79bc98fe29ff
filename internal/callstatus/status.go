package callstatus

import "strings"

// Status is the canonical provider call status.
//
// Both the webhook handlers and any agent-facing polling loop must classify
// statuses through this package so the two never diverge.
type Status string

const (
	Unknown    Status = ""
	Queued     Status = "queued"
	Initiated  Status = "initiated"
	Ringing    Status = "ringing"
	InProgress Status = "in-progress"
	Canceled   Status = "canceled"
	Completed  Status = "completed"
	Failed     Status = "failed"
	Busy       Status = "busy"
	NoAnswer   Status = "no-answer"
)

var known = map[string]Status{
	string(Queued):     Queued,
	string(Initiated):  Initiated,
	string(Ringing):    Ringing,
	string(InProgress): InProgress,
	string(Canceled):   Canceled,
	string(Completed):  Completed,
	string(Failed):     Failed,
	string(Busy):       Busy,
	string(NoAnswer):   NoAnswer,
}

// Normalize maps a raw provider status (any case, surrounding spaces allowed)
// to its canonical value. Unrecognized or empty input yields Unknown; it never fails.
func Normalize(raw string) Status {
	if s, ok := known[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return Unknown
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	_, ok := known[string(s)]
	return ok
}

// IsTerminal reports whether no further transition is expected.
func (s Status) IsTerminal() bool {
	switch s {
	case Completed, Failed, NoAnswer, Busy, Canceled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the call is still being set up or is live.
func (s Status) IsActive() bool {
	switch s {
	case Initiated, Queued, Ringing, InProgress:
		return true
	default:
		return false
	}
}

// Action is what an agent-facing UI does in response to a status.
type Action string

const (
	ActionNone    Action = ""
	ActionConnect Action = "CONNECT"
	ActionHangUp  Action = "HANG_UP"
	ActionFail    Action = "FAIL"
)

// Action maps a status to the state-machine action.
func (s Status) Action() Action {
	switch s {
	case InProgress:
		return ActionConnect
	case Completed, Canceled:
		return ActionHangUp
	case Failed, NoAnswer, Busy:
		return ActionFail
	default:
		return ActionNone
	}
}

// ActionFor normalizes raw and returns its action.
func ActionFor(raw string) Action {
	return Normalize(raw).Action()
}
