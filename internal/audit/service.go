package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records operator actions. Audit is best-effort: Record logs
// failures instead of failing the action it describes.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.WorkspaceID == "" || e.Action == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Actor is who performed an action and from where.
type Actor struct {
	UserID      string
	WorkspaceID string
	Role        string
	IP          string
}

// Record appends a campaign action with details marshaled as metadata.
func (s *Service) Record(ctx context.Context, actor Actor, action Action, campaignID string, details any) {
	e := Event{
		WorkspaceID: actor.WorkspaceID,
		Action:      action,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		CampaignID:  campaignID,
	}
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			e.Metadata = string(b)
		}
	}
	if err := s.Append(ctx, e); err != nil {
		s.log.Error("audit append failed", "action", action, "campaign_id", campaignID, "err", err)
	}
}
