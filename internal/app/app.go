// Package app builds the service graph shared by the api and worker processes.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"campaign-engine/internal/audio"
	"campaign-engine/internal/audit"
	"campaign-engine/internal/calls"
	"campaign-engine/internal/campaigns"
	"campaign-engine/internal/cancellation"
	"campaign-engine/internal/conference"
	"campaign-engine/internal/config"
	"campaign-engine/internal/dialer"
	"campaign-engine/internal/ivr"
	"campaign-engine/internal/outreach"
	"campaign-engine/internal/presence"
	"campaign-engine/internal/queue"
	"campaign-engine/internal/reporting"
	"campaign-engine/internal/telemetry"
	"campaign-engine/internal/telephony"
	"campaign-engine/pkg/logger"

	"github.com/redis/go-redis/v9"
)

type Services struct {
	Providers *telephony.Registry
	Callbacks telephony.CallbackURLs

	Campaigns    *campaigns.Service
	Queue        *queue.Service
	Attempts     *outreach.Ledger
	Calls        calls.Store
	Machine      *calls.Machine
	Dialer       *dialer.Dialer
	Rooms        *conference.Orchestrator
	IVR          *ivr.Engine
	Presence     *presence.Tracker
	Hangups      *cancellation.RedisHangupQueue
	Cancellation *cancellation.Service
	Reports      *reporting.Service
	Audit        *audit.Service
}

// Build wires Postgres-backed stores and Redis-backed coordination into the
// domain services. Nothing is started.
func Build(ctx context.Context, cfg config.Config, db *sql.DB, rdb *redis.Client, log *slog.Logger) (*Services, error) {
	telemetry.Register()

	signer, err := audioSigner(ctx, cfg.Audio)
	if err != nil {
		return nil, err
	}

	var def telephony.Provider = telephony.NewLoopbackProvider()
	if cfg.Twilio.AccountSID != "" {
		def = telephony.NewTwilioProvider(telephony.TwilioConfig{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			BaseURL:    cfg.Twilio.APIBaseURL,
		}, nil)
	} else {
		log.Warn("no provider credentials; calls go to the loopback provider")
	}

	s := &Services{
		Providers: telephony.NewRegistry(def),
		Callbacks: telephony.NewCallbackURLs(cfg.Twilio.PublicBaseURL),
		Calls:     calls.NewPostgresRepo(db),
		Presence:  presence.NewTracker(rdb, cfg.RedisKey("presence")),
		Hangups:   cancellation.NewRedisHangupQueue(rdb, cfg.RedisKey("hangups")),
		Audit:     audit.NewService(audit.NewPostgresRepo(db), logger.Component(log, "audit")),
	}
	s.Campaigns = campaigns.NewService(campaigns.NewPostgresStore(db), logger.Component(log, "campaigns"))
	s.Queue = queue.NewService(queue.NewPostgresStore(db), queue.Options{
		BatchSize:      cfg.Dialer.EnqueueBatch,
		MaxAttempts:    cfg.Dialer.MaxRetries,
		StaleThreshold: cfg.Dialer.StaleThreshold,
	}, logger.Component(log, "queue"))
	s.Attempts = outreach.NewLedger(outreach.NewPostgresStore(db), cfg.Dialer.DedupeWindow, logger.Component(log, "outreach"))

	// A nil *RedisLimiter must not leak into the interfaces as a non-nil value.
	var (
		limiter  dialer.Limiter
		capacity interface {
			Release(ctx context.Context, workspaceID string) error
		}
	)
	if n := cfg.Dialer.WorkspaceConcurrency; n > 0 {
		l := dialer.NewRedisLimiter(rdb, n, 0)
		limiter, capacity = l, l
	}

	s.Machine = calls.NewMachine(calls.MachineDeps{
		Calls:     s.Calls,
		Queue:     s.Queue,
		Attempts:  s.Attempts,
		Campaigns: s.Campaigns,
		Providers: s.Providers,
		Audio:     signer,
		Capacity:  capacity,
		Log:       logger.Component(log, "calls"),
	})
	s.Dialer = dialer.New(dialer.Deps{
		Campaigns: s.Campaigns,
		Queue:     s.Queue,
		Attempts:  s.Attempts,
		Calls:     s.Calls,
		Providers: s.Providers,
		Callbacks: s.Callbacks,
		Limiter:   limiter,
		Log:       logger.Component(log, "dialer"),
	}, dialer.Options{
		ProviderAttempts: cfg.Dialer.ProviderAttempts,
		BackoffInitial:   cfg.Dialer.BackoffInitial,
		BackoffMax:       cfg.Dialer.BackoffMax,
		DetectMachines:   cfg.Dialer.DetectMachines,
	})
	s.Rooms = conference.New(conference.Deps{
		Dialer:    s.Dialer,
		Queue:     s.Queue,
		Calls:     s.Calls,
		Providers: s.Providers,
		Callbacks: s.Callbacks,
		Log:       logger.Component(log, "conference"),
	}, conference.Options{MaxConcurrentDials: int64(cfg.Dialer.Workers) * 4})
	s.IVR = ivr.NewEngine(ivr.Deps{
		Scripts:   ivr.NewPostgresStore(db),
		Campaigns: s.Campaigns,
		Attempts:  s.Attempts,
		Audio:     signer,
		Callbacks: s.Callbacks,
		Log:       logger.Component(log, "ivr"),
	})
	s.Cancellation = cancellation.NewService(cancellation.Deps{
		Calls:     s.Calls,
		Attempts:  s.Attempts,
		Queue:     s.Queue,
		Campaigns: s.Campaigns,
		Hangups:   s.Hangups,
		Capacity:  capacity,
		Log:       logger.Component(log, "cancellation"),
	}, 0)
	s.Reports = reporting.NewService(reporting.NewPostgresRepo(db), s.Queue)
	return s, nil
}

type urlSigner interface {
	SignedURL(ctx context.Context, key string) (string, error)
}

func audioSigner(ctx context.Context, cfg config.AudioConfig) (urlSigner, error) {
	if cfg.Bucket == "" {
		return audio.NewPublicSigner(cfg.PublicBaseURL), nil
	}
	s, err := audio.NewS3Signer(ctx, audio.S3Config{
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		Endpoint:  cfg.Endpoint,
		PathStyle: cfg.PathStyle,
		TTL:       cfg.URLTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("app: audio signer: %w", err)
	}
	return s, nil
}
