package provision

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects provisioning flow metrics.
type Metrics struct {
	registry *prometheus.Registry

	Runs             *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	PhaseTransitions *prometheus.CounterVec
	Deploys          *prometheus.CounterVec
	ApprovalBatches  *prometheus.CounterVec
	CredentialFetch  *prometheus.CounterVec
}

// NewMetrics creates a provisioning metrics collector on its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rekon_provision_runs_total",
				Help: "Provisioning runs by outcome",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rekon_provision_run_duration_seconds",
				Help:    "Wall time of a full provisioning run",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		PhaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rekon_provision_phase_transitions_total",
				Help: "Phase transitions by target phase",
			},
			[]string{"phase"},
		),
		Deploys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rekon_provision_safe_deploys_total",
				Help: "Smart-wallet deploy attempts by outcome",
			},
			[]string{"status"},
		),
		ApprovalBatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rekon_provision_approval_batches_total",
				Help: "Approval batch submissions by outcome",
			},
			[]string{"status"},
		),
		CredentialFetch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rekon_provision_credential_fetches_total",
				Help: "Credential resolutions by source (cache, issued)",
			},
			[]string{"source"},
		),
	}

	registry.MustRegister(
		m.Runs,
		m.RunDuration,
		m.PhaseTransitions,
		m.Deploys,
		m.ApprovalBatches,
		m.CredentialFetch,
	)
	return m
}

// Registry returns the prometheus registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
