package calls

import (
	"errors"
	"strings"
	"time"

	"campaign-engine/internal/callstatus"
)

// Call is one provider call leg, keyed by the provider sid.
//
// Multi-tenant invariant: WorkspaceID is required on every row.
// Once Status is terminal only FinalizedAt may still be written.
type Call struct {
	SID           string `json:"sid" db:"sid"`
	ParentCallSID string `json:"parent_call_sid,omitempty" db:"parent_call_sid"`

	WorkspaceID       string `json:"workspace_id" db:"workspace_id"`
	CampaignID        string `json:"campaign_id" db:"campaign_id"`
	ContactID         string `json:"contact_id" db:"contact_id"`
	OutreachAttemptID string `json:"outreach_attempt_id" db:"outreach_attempt_id"`
	QueueID           int64  `json:"queue_id" db:"queue_id"`

	From           string `json:"from" db:"from"`
	To             string `json:"to" db:"to"`
	ConferenceName string `json:"conference_name,omitempty" db:"conference_name"`

	Status     callstatus.Status `json:"status" db:"status"`
	AnsweredBy string            `json:"answered_by,omitempty" db:"answered_by"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	DurationSeconds int `json:"duration" db:"duration"`

	// FinalizedAt is set once the terminal bookkeeping (attempt disposition,
	// queue release) has committed. A terminal row without it is re-settled
	// by the next webhook for the sid.
	FinalizedAt *time.Time `json:"finalized_at,omitempty" db:"finalized_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transition is one status change for a call.
type Transition struct {
	Status callstatus.Status
	// DurationSeconds is the provider-reported duration on terminal events, 0 if absent.
	DurationSeconds int
	At              time.Time
}

// rank orders statuses so late deliveries never move a call backwards.
func rank(s callstatus.Status) int {
	switch s {
	case callstatus.Queued, callstatus.Initiated:
		return 0
	case callstatus.Ringing:
		return 1
	case callstatus.InProgress:
		return 2
	default:
		if s.IsTerminal() {
			return 3
		}
		return -1
	}
}

// apply mutates c for t. It returns ErrStateConflict when c is terminal or
// t would move it backwards.
func (c *Call) apply(t Transition) error {
	if c.Status.IsTerminal() {
		return ErrStateConflict
	}
	if rank(t.Status) < rank(c.Status) {
		return ErrStateConflict
	}
	if t.Status == c.Status {
		return nil
	}

	c.Status = t.Status
	c.UpdatedAt = t.At
	if t.Status == callstatus.InProgress && c.AnsweredAt == nil {
		at := t.At
		c.AnsweredAt = &at
	}
	if t.Status.IsTerminal() {
		end := t.At
		c.EndedAt = &end
		c.DurationSeconds = t.DurationSeconds
		if c.DurationSeconds == 0 && c.AnsweredAt != nil {
			c.DurationSeconds = int(end.Sub(*c.AnsweredAt).Seconds())
		}
	}
	return nil
}

// IsMachine reports whether an AnsweredBy value should trigger a voicemail
// drop: it names a machine and is not an end-of-message or "other" variant.
func IsMachine(answeredBy string) bool {
	v := strings.ToLower(strings.TrimSpace(answeredBy))
	return strings.Contains(v, "machine") && !strings.Contains(v, "machine_end") && !strings.Contains(v, "other")
}

// Unsettled reports a terminal call whose bookkeeping never completed.
func (c Call) Unsettled() bool {
	return c.Status.IsTerminal() && c.FinalizedAt == nil
}

var (
	ErrNotFound        = errors.New("calls: call not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
	// ErrStateConflict is a transition on a terminal call or a stale one.
	// Handlers log it and answer 200; providers redeliver webhooks.
	ErrStateConflict = errors.New("calls: stale transition")
)
