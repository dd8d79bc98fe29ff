package outreach

import (
	"errors"
	"strings"
	"time"
)

// Disposition is the closed set of attempt outcomes.
type Disposition string

const (
	DispositionInitiated          Disposition = "initiated"
	DispositionRinging            Disposition = "ringing"
	DispositionInProgress         Disposition = "in-progress"
	DispositionCompleted          Disposition = "completed"
	DispositionVoicemail          Disposition = "voicemail"
	DispositionFailed             Disposition = "failed"
	DispositionNoAnswer           Disposition = "no-answer"
	DispositionBusy               Disposition = "busy"
	DispositionCanceled           Disposition = "canceled"
	DispositionMaxRetriesExceeded Disposition = "max_retries_exceeded"
	DispositionExpired            Disposition = "expired"

	// IVR outcomes.
	DispositionIVRCompleted Disposition = "ivr-completed"
	DispositionIVRHangup    Disposition = "ivr-hangup"
	DispositionIVRError     Disposition = "ivr-error"
)

var dispositions = map[Disposition]struct{}{
	DispositionInitiated:          {},
	DispositionRinging:            {},
	DispositionInProgress:         {},
	DispositionCompleted:          {},
	DispositionVoicemail:          {},
	DispositionFailed:             {},
	DispositionNoAnswer:           {},
	DispositionBusy:               {},
	DispositionCanceled:           {},
	DispositionMaxRetriesExceeded: {},
	DispositionExpired:            {},
	DispositionIVRCompleted:       {},
	DispositionIVRHangup:          {},
	DispositionIVRError:           {},
}

// ParseDisposition rejects anything outside the closed set.
func ParseDisposition(raw string) (Disposition, error) {
	d := Disposition(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := dispositions[d]; !ok {
		return "", ErrUnknownDisposition
	}
	return d, nil
}

func (d Disposition) Valid() bool {
	_, ok := dispositions[d]
	return ok
}

// Attempt is one dial or interaction attempt for a contact in a campaign.
type Attempt struct {
	ID          string  `json:"id" db:"id"`
	WorkspaceID string  `json:"workspace_id" db:"workspace_id"`
	ContactID   string  `json:"contact_id" db:"contact_id"`
	CampaignID  string  `json:"campaign_id" db:"campaign_id"`
	UserID      *string `json:"user_id,omitempty" db:"user_id"`
	QueueID     int64   `json:"queue_id" db:"queue_id"`

	Disposition Disposition `json:"disposition" db:"disposition"`

	// Result holds structured answers keyed by script step plus bookkeeping
	// such as visitedPages. Updates merge shallowly.
	Result map[string]any `json:"result" db:"result"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CreateParams are the inputs to the idempotent creation procedure.
type CreateParams struct {
	WorkspaceID string
	ContactID   string
	CampaignID  string
	QueueID     int64
	UserID      *string
	// Since is the start of the dedupe window; an attempt created at or after
	// it for the same pair is returned instead of inserting.
	Since time.Time
	At    time.Time
}

var (
	ErrNotFound           = errors.New("outreach: attempt not found")
	ErrInvalidArgument    = errors.New("outreach: invalid argument")
	ErrUnknownDisposition = errors.New("outreach: unknown disposition")
)
