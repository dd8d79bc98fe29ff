package audit

import "time"

// Event is one append-only record of an operator action on a campaign.
// Events are never updated or deleted; workspace_id is always set.
type Event struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	Action      Action `json:"action" db:"action"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	// Metadata is a JSON object with action-specific counts.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Action string

const (
	ActionEnqueue    Action = "campaign.enqueue"
	ActionActivate   Action = "campaign.activate"
	ActionDeactivate Action = "campaign.deactivate"
	ActionCancel     Action = "campaign.cancel"
	ActionReset      Action = "campaign.reset"
)
