// Package metrics exposes Prometheus counters for the upload pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pawdir_media"

// Label values for Uploads.
const (
	OutcomeAccepted      = "accepted"
	OutcomeRejected      = "rejected"
	OutcomeTooLarge      = "too_large"
	OutcomeUpstreamError = "upstream_error"
	OutcomeInternalError = "internal_error"
	OutcomeDeleted       = "deleted"
	OutcomeForbidden     = "forbidden"
)

// Metrics groups the counters shared by the upload handler, worker and reconciler.
type Metrics struct {
	Uploads     *prometheus.CounterVec
	Deletes     *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Reconciled  *prometheus.CounterVec
	UploadBytes prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the counters and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Image upload requests by outcome.",
		}, []string{"outcome", "owner"}),
		Deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_total",
			Help:      "Image delete requests by outcome.",
		}, []string{"outcome", "owner"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_job_transitions_total",
			Help:      "Upload job state transitions by target state.",
		}, []string{"state"}),
		Reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_actions_total",
			Help:      "Repairs applied by the reconciler.",
		}, []string{"action"}),
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes accepted into object storage.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.Uploads, m.Deletes, m.Transitions, m.Reconciled, m.UploadBytes)
	return m
}

// NewNop returns Metrics registered with a private registry, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
