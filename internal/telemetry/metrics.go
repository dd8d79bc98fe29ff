package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ClaimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_queue_claims_total", Help: "Queue claim attempts by result",
	}, []string{"result"})
	EnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campaign_queue_enqueued_total", Help: "Contacts enqueued",
	})
	ReclaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campaign_queue_reclaimed_total", Help: "Stale assignments returned to queued",
	})

	DialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_dials_total", Help: "Dial cycles by result",
	}, []string{"result"})
	ProviderRequestSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "telephony_request_seconds", Help: "Provider request latency", Buckets: prometheus.DefBuckets,
	}, []string{"op", "result"})

	CallTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transitions_total", Help: "Applied call status transitions",
	}, []string{"status"})
	StaleTransitionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "call_stale_transitions_total", Help: "Webhooks ignored for terminal or regressed calls",
	})
	VoicemailDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "call_voicemail_drops_total", Help: "Voicemail drops triggered by machine detection",
	})

	WebhooksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_total", Help: "Provider webhooks by kind and HTTP status",
	}, []string{"kind", "code"})

	ConferenceEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conference_events_total", Help: "Conference events consumed by the orchestrator",
	}, []string{"event"})
	ConferenceLanes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "conference_campaign_lanes", Help: "Campaign event lanes currently running",
	})

	IVRStepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ivr_steps_total", Help: "IVR responses by resolution",
	}, []string{"match"})

	HangupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cancellation_hangups_total", Help: "Provider hangup requests by stage",
	}, []string{"result"})

	SchedulerRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_runs_total", Help: "Scheduler job runs",
	}, []string{"job", "result"})
)

// Register adds every collector to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ClaimsTotal,
			EnqueuedTotal,
			ReclaimedTotal,
			DialsTotal,
			ProviderRequestSeconds,
			CallTransitionsTotal,
			StaleTransitionsTotal,
			VoicemailDropsTotal,
			WebhooksTotal,
			ConferenceEventsTotal,
			ConferenceLanes,
			IVRStepsTotal,
			HangupsTotal,
			SchedulerRunsTotal,
		)
	})
}

// Handler exposes /metrics with the singleton registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
