package queue

import (
	"errors"
	"fmt"
	"time"
)

// Entry is one contact's position in one campaign's dial list.
//
// Invariant: at most one non-queued status per contact at a time; QueueOrder
// defines FIFO dequeue order within the campaign.
type Entry struct {
	ID          int64  `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	CampaignID  string `json:"campaign_id" db:"campaign_id"`
	ContactID   string `json:"contact_id" db:"contact_id"`

	QueueOrder int    `json:"queue_order" db:"queue_order"`
	Status     Status `json:"-" db:"status"`

	// Attempts counts retry releases; it drives max-retry dequeueing.
	Attempts int `json:"attempts" db:"attempts"`

	// HouseholdKey groups contacts sharing an address (optional).
	HouseholdKey string `json:"household_key,omitempty" db:"household_key"`

	ClaimedAt *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// ReleaseReason says why a claimed entry is handed back.
type ReleaseReason string

const (
	// ReleaseRetry returns the entry to queued unless its retries are exhausted.
	ReleaseRetry ReleaseReason = "retry"
	// ReleaseTerminal removes the entry from the dial list for this run.
	ReleaseTerminal ReleaseReason = "terminal"
)

var (
	ErrNotFound        = errors.New("queue: entry not found")
	ErrInvalidArgument = errors.New("queue: invalid argument")
	// ErrDatastore wraps store failures; a failed claim was never consumed.
	ErrDatastore = errors.New("queue: datastore failure")
	// ErrContention means queued entries exist but every claim lost a race.
	ErrContention = errors.New("queue: claim contention")
)

// QueueError reports an enqueue that failed part-way. Batches before Batch
// remain committed; the upsert is idempotent so the caller may retry.
type QueueError struct {
	CampaignID string
	Batch      int
	Committed  int
	Err        error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("queue: enqueue campaign %s failed at batch %d (%d committed): %v", e.CampaignID, e.Batch, e.Committed, e.Err)
}

func (e *QueueError) Unwrap() error { return e.Err }
