package campaigns

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

type Store interface {
	Get(ctx context.Context, id string) (Campaign, error)
	// ListSchedulable returns campaigns whose activation the scheduler owns.
	ListSchedulable(ctx context.Context) ([]Campaign, error)
	ListActive(ctx context.Context, t Type) ([]Campaign, error)
	Update(ctx context.Context, id string, p Patch) (Campaign, error)

	GetContact(ctx context.Context, id string) (Contact, error)
	Contacts(ctx context.Context, ids []string) ([]Contact, error)
}

// Patch updates only the non-nil fields.
type Patch struct {
	IsActive *bool
	Status   *Status
	At       time.Time
}

type Service struct {
	store Store
	log   *slog.Logger
	clock func() time.Time
}

func NewService(store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log, clock: time.Now}
}

func (s *Service) Get(ctx context.Context, id string) (Campaign, error) {
	if id == "" {
		return Campaign{}, ErrInvalidArgument
	}
	return s.store.Get(ctx, id)
}

func (s *Service) Contact(ctx context.Context, id string) (Contact, error) {
	if id == "" {
		return Contact{}, ErrInvalidArgument
	}
	return s.store.GetContact(ctx, id)
}

func (s *Service) ListActive(ctx context.Context, t Type) ([]Campaign, error) {
	return s.store.ListActive(ctx, t)
}

// Activate is the operator start action.
func (s *Service) Activate(ctx context.Context, id string) (Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	if c.Status == StatusComplete {
		return Campaign{}, ErrTerminal
	}
	active, status := true, StatusRunning
	return s.store.Update(ctx, id, Patch{IsActive: &active, Status: &status, At: s.clock().UTC()})
}

// Deactivate pauses dialing; queued contacts stay queued.
func (s *Service) Deactivate(ctx context.Context, id string) (Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	if c.Status == StatusComplete {
		return Campaign{}, ErrTerminal
	}
	active, status := false, StatusPaused
	return s.store.Update(ctx, id, Patch{IsActive: &active, Status: &status, At: s.clock().UTC()})
}

// Change records one scheduler transition.
type Change struct {
	CampaignID string
	From       Status
	To         Status
	Active     bool
}

// ApplySchedules flips is_active to match each campaign's schedule at now,
// promotes scheduled campaigns to running when they open, and completes
// campaigns whose end date has passed. Paused and draft campaigns are left
// alone. A failure on one campaign does not stop the rest.
func (s *Service) ApplySchedules(ctx context.Context) ([]Change, error) {
	now := s.clock().UTC()
	list, err := s.store.ListSchedulable(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Change, 0)
	for _, c := range list {
		p, ok := planSchedule(c, now)
		if !ok {
			continue
		}
		p.At = now
		updated, err := s.store.Update(ctx, c.ID, p)
		if err != nil {
			s.log.Error("schedule update failed", "campaign_id", c.ID, "err", err)
			continue
		}
		out = append(out, Change{CampaignID: c.ID, From: c.Status, To: updated.Status, Active: updated.IsActive})
		s.log.Info("campaign schedule applied", "campaign_id", c.ID, "status", updated.Status, "is_active", updated.IsActive)
	}
	return out, nil
}

func planSchedule(c Campaign, now time.Time) (Patch, bool) {
	switch c.Status {
	case StatusScheduled, StatusRunning:
	default:
		return Patch{}, false
	}

	if c.Schedule.Ended(now) {
		active, status := false, StatusComplete
		return Patch{IsActive: &active, Status: &status}, true
	}

	open := c.Schedule.Open(now)
	switch {
	case open && (!c.IsActive || c.Status == StatusScheduled):
		active, status := true, StatusRunning
		return Patch{IsActive: &active, Status: &status}, true
	case !open && c.IsActive:
		active := false
		return Patch{IsActive: &active}, true
	default:
		return Patch{}, false
	}
}

// HouseholdKeys maps contact id to a normalized address for household grouping.
// Contacts without an address get no key.
func (s *Service) HouseholdKeys(ctx context.Context, contactIDs []string) (map[string]string, error) {
	list, err := s.store.Contacts(ctx, contactIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(list))
	for _, c := range list {
		if k := householdKey(c.Address); k != "" {
			out[c.ID] = k
		}
	}
	return out, nil
}

func householdKey(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}
