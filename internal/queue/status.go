package queue

import (
	"strings"

	"campaign-engine/internal/callstatus"
)

// SentinelQueued and SentinelDequeued are the column values for the two
// non-call, non-user states.
const (
	SentinelQueued   = "queued"
	SentinelDequeued = "dequeued"
)

// Kind tags which meaning the status column carries.
type Kind string

const (
	KindQueued   Kind = "queued"
	KindAssigned Kind = "assigned"
	KindProvider Kind = "provider"
	KindDequeued Kind = "dequeued"
)

// Status is a queue entry status as an explicit variant:
// Queued, AssignedTo(user), ProviderState(call status) or Dequeued.
//
// The legacy single-column encoding is kept for storage (String) so existing
// readers of campaign_queue.status keep working.
type Status struct {
	Kind  Kind
	value string
}

func Queued() Status   { return Status{Kind: KindQueued, value: SentinelQueued} }
func Dequeued() Status { return Status{Kind: KindDequeued, value: SentinelDequeued} }

// AssignedTo marks an entry as claimed by a user, agent or worker identity.
func AssignedTo(claimant string) Status {
	return Status{Kind: KindAssigned, value: strings.TrimSpace(claimant)}
}

// ProviderState echoes the latest provider call status onto the entry.
func ProviderState(s callstatus.Status) Status {
	return Status{Kind: KindProvider, value: string(s)}
}

// String returns the storage encoding of the status column.
func (s Status) String() string { return s.value }

func (s Status) IsQueued() bool   { return s.Kind == KindQueued }
func (s Status) IsDequeued() bool { return s.Kind == KindDequeued }

// Assignee returns the claimant when the entry is assigned.
func (s Status) Assignee() (string, bool) {
	if s.Kind != KindAssigned {
		return "", false
	}
	return s.value, true
}

// CallStatus returns the echoed provider status when present.
func (s Status) CallStatus() (callstatus.Status, bool) {
	if s.Kind != KindProvider {
		return callstatus.Unknown, false
	}
	return callstatus.Status(s.value), true
}

// FromColumns rebuilds a status from the (status, status_kind) column pair.
// Rows written before status_kind existed fall back to Classify.
func FromColumns(raw, kind string) Status {
	switch Kind(kind) {
	case KindQueued:
		return Queued()
	case KindDequeued:
		return Dequeued()
	case KindAssigned:
		return AssignedTo(raw)
	case KindProvider:
		return ProviderState(callstatus.Normalize(raw))
	default:
		return Classify(raw)
	}
}

// Classify decodes a bare legacy status string: the sentinels first, then any
// recognizable provider status, otherwise a user/agent assignment.
func Classify(raw string) Status {
	v := strings.TrimSpace(raw)
	switch v {
	case SentinelQueued:
		return Queued()
	case SentinelDequeued:
		return Dequeued()
	case "":
		return Status{Kind: KindProvider}
	}
	if cs := callstatus.Normalize(v); cs != callstatus.Unknown {
		return ProviderState(cs)
	}
	return AssignedTo(v)
}

// IsQueued reports whether a raw column value is the queued sentinel.
func IsQueued(raw string) bool { return Classify(raw).IsQueued() }

// IsUserAssignment reports whether a raw column value names a claimant.
func IsUserAssignment(raw string) bool {
	_, ok := Classify(raw).Assignee()
	return ok
}

// IsAssignedToUser reports whether a raw column value is assigned to userID.
func IsAssignedToUser(raw, userID string) bool {
	who, ok := Classify(raw).Assignee()
	return ok && userID != "" && who == userID
}
