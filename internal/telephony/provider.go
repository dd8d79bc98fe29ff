package telephony

import (
	"context"
	"errors"
	"fmt"
)

// Provider is the provider-agnostic contract the dialing core depends on.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - All requests are workspace-scoped; adapters are resolved per workspace by Registry.
// - Provider error text stays inside ProviderError and logs; it is never shown to operators.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)
	UpdateCall(ctx context.Context, req UpdateCallRequest) error
	// AddConferenceParticipant dials To into the named conference, creating it on first join.
	AddConferenceParticipant(ctx context.Context, req ConferenceParticipantRequest) (PlaceCallResult, error)
}

// MachineDetection selects answering-machine detection for an outbound leg.
type MachineDetection string

const (
	MachineDetectionOff        MachineDetection = ""
	MachineDetectionEnable     MachineDetection = "Enable"
	MachineDetectionMessageEnd MachineDetection = "DetectMessageEnd"
)

type PlaceCallRequest struct {
	WorkspaceID string `json:"workspace_id"`

	To   string `json:"to"`
	From string `json:"from"`

	// CallbackURL returns the call instructions once answered.
	CallbackURL string `json:"callback_url"`
	// StatusCallbackURL receives lifecycle events.
	StatusCallbackURL string `json:"status_callback_url"`

	MachineDetection MachineDetection `json:"machine_detection,omitempty"`
	// AMDCallbackURL receives the asynchronous AnsweredBy classification.
	AMDCallbackURL string `json:"amd_callback_url,omitempty"`
}

type PlaceCallResult struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// UpdateCallRequest redirects a live call to new instructions or ends it.
type UpdateCallRequest struct {
	WorkspaceID string `json:"workspace_id"`
	SID         string `json:"sid"`

	// TwiML replaces the call's current instructions when set.
	TwiML string `json:"twiml,omitempty"`
	// Hangup ends the call (status=completed).
	Hangup bool `json:"hangup,omitempty"`
}

type ConferenceParticipantRequest struct {
	WorkspaceID string `json:"workspace_id"`

	ConferenceName string `json:"conference_name"`
	To             string `json:"to"`
	From           string `json:"from"`
	// Label tags the participant in conference events.
	Label string `json:"label"`

	StatusCallbackURL           string `json:"status_callback_url"`
	ConferenceStatusCallbackURL string `json:"conference_status_callback_url"`

	// EndConferenceOnExit tears the room down when this leg leaves.
	EndConferenceOnExit bool `json:"end_conference_on_exit"`

	MachineDetection MachineDetection `json:"machine_detection,omitempty"`
	AMDCallbackURL   string           `json:"amd_callback_url,omitempty"`
}

// ProviderError is a failed provider request.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Code       int
	Message    string
	// Retryable is false for client errors that will not succeed on retry
	// (bad number, auth); true for network errors, 429 and 5xx.
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("telephony: %s %s: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("telephony: %s %s: status %d code %d: %s", e.Provider, e.Op, e.StatusCode, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a provider error worth retrying.
// Errors of other types are treated as retryable, except context ends.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return err != nil
}

var (
	ErrNoProvider      = errors.New("telephony: no provider configured for workspace")
	ErrInvalidArgument = errors.New("telephony: invalid argument")
)
