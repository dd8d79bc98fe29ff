package campaigns

import (
	"errors"
	"time"
)

type Type string

const (
	TypeLiveCall  Type = "live_call"
	TypePowerDial Type = "power_dial"
	TypeIVR       Type = "ivr"
	TypeMessage   Type = "message"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusComplete  Status = "complete"
)

// Campaign is the unit of dialing. Complete is terminal.
type Campaign struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	Title       string `json:"title" db:"title"`
	Type        Type   `json:"type" db:"type"`
	Status      Status `json:"status" db:"status"`
	IsActive    bool   `json:"is_active" db:"is_active"`

	Schedule Schedule `json:"schedule" db:"schedule"`

	ScriptID string `json:"script_id,omitempty" db:"script_id"`
	CallerID string `json:"caller_id" db:"caller_id"`
	// VoicedropAudio is the storage key of the voicemail drop recording.
	VoicedropAudio string `json:"voicedrop_audio,omitempty" db:"voicedrop_audio"`

	GroupHouseholds bool `json:"group_households" db:"group_households"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Dialable reports whether the dialer may place calls for this campaign.
func (c Campaign) Dialable() bool {
	if !c.IsActive {
		return false
	}
	switch c.Status {
	case StatusRunning, StatusScheduled:
		return c.Type != TypeMessage
	default:
		return false
	}
}

type Contact struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	Phone       string `json:"phone" db:"phone"`
	FirstName   string `json:"firstname,omitempty" db:"firstname"`
	LastName    string `json:"surname,omitempty" db:"surname"`
	Address     string `json:"address,omitempty" db:"address"`
}

var (
	ErrNotFound        = errors.New("campaigns: not found")
	ErrInvalidArgument = errors.New("campaigns: invalid argument")
	ErrTerminal        = errors.New("campaigns: campaign is complete")
)
