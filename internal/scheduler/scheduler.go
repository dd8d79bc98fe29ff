package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campaign-engine/internal/campaigns"
	"campaign-engine/internal/dialer"
	"campaign-engine/internal/queue"
	"campaign-engine/internal/telemetry"

	"github.com/robfig/cron/v3"
)

// Job names, also used as metric labels.
const (
	JobActivation = "activation"
	JobStaleSweep = "stale_sweep"
	JobIVR        = "ivr_dial"
)

type CampaignScheduler interface {
	ApplySchedules(ctx context.Context) ([]campaigns.Change, error)
	ListActive(ctx context.Context, t campaigns.Type) ([]campaigns.Campaign, error)
}

type StaleSweeper interface {
	SweepStale(ctx context.Context, live queue.Liveness) (int, error)
}

type BatchDialer interface {
	DialBatch(ctx context.Context, sig dialer.Signal, n, workers int) (dialer.BatchResult, error)
}

type Deps struct {
	Campaigns CampaignScheduler
	Queue     StaleSweeper
	Liveness  queue.Liveness
	// Dialer is optional; without it the IVR job is not registered.
	Dialer BatchDialer
	Log    *slog.Logger
}

// Specs are cron expressions; a five-field spec or a six-field spec with a
// leading seconds field are both accepted. An empty spec disables the job.
type Specs struct {
	Activation string
	StaleSweep string
	IVR        string
}

type Options struct {
	Specs Specs
	// IVRBatch is the number of dial cycles per IVR campaign per tick.
	IVRBatch   int
	IVRWorkers int
	// JobTimeout bounds one run of any job.
	JobTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.IVRBatch <= 0 {
		o.IVRBatch = 10
	}
	if o.IVRWorkers <= 0 {
		o.IVRWorkers = 4
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = time.Minute
	}
	return o
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler triggers campaign activation, the stale-assignment sweep and IVR
// dialing on cron schedules. Every job is safe to miss: the next run and the
// next webhook both converge state on their own.
type Scheduler struct {
	d    Deps
	opts Options
	cron *cron.Cron

	// running guards against a slow job overlapping its next tick.
	mu      sync.Mutex
	running map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
}

func New(d Deps, opts Options) (*Scheduler, error) {
	if d.Campaigns == nil || d.Queue == nil {
		return nil, errors.New("scheduler: campaigns and queue are required")
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	s := &Scheduler{
		d:       d,
		opts:    opts.withDefaults(),
		cron:    cron.New(cron.WithParser(cronParser)),
		running: map[string]bool{},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{JobActivation, s.opts.Specs.Activation, s.RunActivation},
		{JobStaleSweep, s.opts.Specs.StaleSweep, s.RunStaleSweep},
		{JobIVR, s.opts.Specs.IVR, s.RunIVR},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if j.name == JobIVR && d.Dialer == nil {
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, func() { s.fire(j.name, j.run) }); err != nil {
			return nil, fmt.Errorf("scheduler: invalid %s schedule %q: %w", j.name, j.spec, err)
		}
		d.Log.Info("scheduled job", "job", j.name, "schedule", j.spec)
	}
	return s, nil
}

// Start starts the cron ticker.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops the ticker, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

func (s *Scheduler) fire(name string, run func(context.Context) error) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.d.Log.Warn("job still running; tick skipped", "job", name)
		telemetry.SchedulerRunsTotal.WithLabelValues(name, "skipped").Inc()
		return
	}
	s.running[name] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.JobTimeout)
	defer cancel()
	if err := run(ctx); err != nil {
		s.d.Log.Error("job failed", "job", name, "err", err)
	}
}

func observe(job string, err error) error {
	result := "ok"
	if err != nil {
		result = "error"
	}
	telemetry.SchedulerRunsTotal.WithLabelValues(job, result).Inc()
	return err
}

// RunActivation applies every campaign's schedule window once.
func (s *Scheduler) RunActivation(ctx context.Context) error {
	changes, err := s.d.Campaigns.ApplySchedules(ctx)
	if err != nil {
		return observe(JobActivation, fmt.Errorf("scheduler: apply schedules: %w", err))
	}
	if len(changes) > 0 {
		s.d.Log.Info("campaign schedules applied", "changed", len(changes))
	}
	return observe(JobActivation, nil)
}

// RunStaleSweep returns assignments held by offline claimants to the queue.
func (s *Scheduler) RunStaleSweep(ctx context.Context) error {
	n, err := s.d.Queue.SweepStale(ctx, s.d.Liveness)
	if n > 0 {
		s.d.Log.Info("stale assignments reclaimed", "count", n)
	}
	if err != nil {
		return observe(JobStaleSweep, fmt.Errorf("scheduler: sweep: %w", err))
	}
	return observe(JobStaleSweep, nil)
}

// RunIVR dials a batch for each active IVR campaign. One campaign's failure
// does not stop the others; the first error is returned.
func (s *Scheduler) RunIVR(ctx context.Context) error {
	if s.d.Dialer == nil {
		return nil
	}
	list, err := s.d.Campaigns.ListActive(ctx, campaigns.TypeIVR)
	if err != nil {
		return observe(JobIVR, fmt.Errorf("scheduler: list ivr campaigns: %w", err))
	}
	var first error
	for _, c := range list {
		sig := dialer.Signal{WorkspaceID: c.WorkspaceID, CampaignID: c.ID, Claimant: "ivr", Source: dialer.SourceScheduler}
		res, err := s.d.Dialer.DialBatch(ctx, sig, s.opts.IVRBatch, s.opts.IVRWorkers)
		if err != nil {
			s.d.Log.Error("ivr batch failed", "campaign_id", c.ID, "err", err)
			if first == nil {
				first = fmt.Errorf("scheduler: ivr campaign %s: %w", c.ID, err)
			}
			continue
		}
		if res.Placed > 0 || res.Failed > 0 {
			s.d.Log.Info("ivr batch dialed", "campaign_id", c.ID, "placed", res.Placed, "failed", res.Failed)
		}
	}
	return observe(JobIVR, first)
}
