package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// SummaryRequest asks for one campaign's dialing outcome over a window.
// Workspace isolation: WorkspaceID is required.
type SummaryRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	CampaignID  string    `json:"campaign_id"`
	Range       TimeRange `json:"range"`
}

// CallStats is the per-status aggregate of call legs created in a window.
type CallStats struct {
	ByStatus             map[string]int
	TotalDurationSeconds int
}

type CampaignSummary struct {
	WorkspaceID string    `json:"workspace_id"`
	CampaignID  string    `json:"campaign_id"`
	Range       TimeRange `json:"range"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	Attempts     int            `json:"attempts"`
	Voicemails   int            `json:"voicemails"`
	Dispositions map[string]int `json:"dispositions"`

	// ConnectionRate is completed calls over all calls in the window.
	ConnectionRate float64 `json:"connection_rate"`

	// Queued is a live count, not bounded by Range.
	Queued int `json:"queued"`
}
