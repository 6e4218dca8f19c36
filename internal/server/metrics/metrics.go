// Package metrics holds the Prometheus collectors of the connect core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

type Metrics struct {
	LoginsTotal            *prometheus.CounterVec
	RegistrationsTotal     *prometheus.CounterVec
	TokensIssuedTotal      *prometheus.CounterVec
	TokensRedeemedTotal    *prometheus.CounterVec
	OAuthCallbacksTotal    *prometheus.CounterVec
	TokensPurgedTotal      prometheus.Counter
	AsyncTasksDroppedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connect_logins_total",
				Help: "Total number of password login attempts",
			},
			[]string{"outcome"},
		),
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connect_registrations_total",
				Help: "Total number of account registrations",
			},
			[]string{"outcome"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connect_verification_tokens_issued_total",
				Help: "Total number of verification tokens issued",
			},
			[]string{"purpose"},
		),
		TokensRedeemedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connect_verification_tokens_redeemed_total",
				Help: "Total number of verification token redemption attempts",
			},
			[]string{"purpose", "outcome"},
		),
		OAuthCallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connect_oauth_callbacks_total",
				Help: "Total number of OAuth callbacks",
			},
			[]string{"provider", "outcome"},
		),
		TokensPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "connect_verification_tokens_purged_total",
				Help: "Total number of expired verification tokens deleted",
			},
		),
		AsyncTasksDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connect_async_tasks_dropped_total",
				Help: "Total number of background tasks dropped because the runner was saturated",
			},
			[]string{"task"},
		),
	}

	registry.MustRegister(
		m.LoginsTotal,
		m.RegistrationsTotal,
		m.TokensIssuedTotal,
		m.TokensRedeemedTotal,
		m.OAuthCallbacksTotal,
		m.TokensPurgedTotal,
		m.AsyncTasksDroppedTotal,
	)

	return m
}

func (m *Metrics) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRegistration(outcome string) {
	if m == nil {
		return
	}
	m.RegistrationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTokenIssued(purpose string) {
	if m == nil {
		return
	}
	m.TokensIssuedTotal.WithLabelValues(purpose).Inc()
}

func (m *Metrics) RecordTokenRedeemed(purpose, outcome string) {
	if m == nil {
		return
	}
	m.TokensRedeemedTotal.WithLabelValues(purpose, outcome).Inc()
}

func (m *Metrics) RecordOAuthCallback(provider, outcome string) {
	if m == nil {
		return
	}
	m.OAuthCallbacksTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensPurgedTotal.Add(float64(n))
}

// RecordDropped matches async.Runner.OnDrop.
func (m *Metrics) RecordDropped(task string) {
	if m == nil {
		return
	}
	m.AsyncTasksDroppedTotal.WithLabelValues(task).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
