package telephony

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// LoopbackProvider is an in-process provider for local runs and tests.
// It records every request and answers with generated call sids; no
// webhooks are sent, callers inject them.
type LoopbackProvider struct {
	mu sync.Mutex

	placed       []PlaceCallRequest
	updates      []UpdateCallRequest
	participants []ConferenceParticipantRequest

	failures []error
}

func NewLoopbackProvider() *LoopbackProvider { return &LoopbackProvider{} }

func (p *LoopbackProvider) Name() string { return "loopback" }

func (p *LoopbackProvider) HealthCheck(ctx context.Context) error { return nil }

// FailNext queues errors returned by the next dial requests, in order.
func (p *LoopbackProvider) FailNext(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, errs...)
}

func (p *LoopbackProvider) popFailureLocked() error {
	if len(p.failures) == 0 {
		return nil
	}
	err := p.failures[0]
	p.failures = p.failures[1:]
	return err
}

func newCallSID() string {
	return "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (p *LoopbackProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.popFailureLocked(); err != nil {
		return PlaceCallResult{}, err
	}
	p.placed = append(p.placed, req)
	return PlaceCallResult{SID: newCallSID(), Status: "queued"}, nil
}

func (p *LoopbackProvider) UpdateCall(ctx context.Context, req UpdateCallRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, req)
	return nil
}

func (p *LoopbackProvider) AddConferenceParticipant(ctx context.Context, req ConferenceParticipantRequest) (PlaceCallResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.popFailureLocked(); err != nil {
		return PlaceCallResult{}, err
	}
	p.participants = append(p.participants, req)
	return PlaceCallResult{SID: newCallSID(), Status: "queued"}, nil
}

func (p *LoopbackProvider) Placed() []PlaceCallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlaceCallRequest(nil), p.placed...)
}

func (p *LoopbackProvider) Updates() []UpdateCallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]UpdateCallRequest(nil), p.updates...)
}

func (p *LoopbackProvider) Participants() []ConferenceParticipantRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConferenceParticipantRequest(nil), p.participants...)
}
