package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nhle/mail-triage/internal/model"
)

// Metrics holds the Prometheus instruments for the triage engine. It is
// constructed against an explicit registry and passed to the components
// that record into it.
type Metrics struct {
	CyclesTotal          prometheus.Counter
	EmailsProcessed      prometheus.Counter
	EmailsFailed         prometheus.Counter
	ClassificationsTotal *prometheus.CounterVec
	CorrectionsTotal     prometheus.Counter
	DigestsSentTotal     prometheus.Counter
	CleanupsTotal        prometheus.Counter
}

// New creates the metric set registered against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailtriage_cycles_total",
			Help: "Completed triage cycles.",
		}),
		EmailsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailtriage_emails_processed_total",
			Help: "Emails classified and recorded.",
		}),
		EmailsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailtriage_emails_failed_total",
			Help: "Emails skipped in a cycle due to per-item errors.",
		}),
		ClassificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtriage_classifications_total",
			Help: "Classification outcomes by category.",
		}, []string{"classification"}),
		CorrectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailtriage_corrections_total",
			Help: "User corrections applied.",
		}),
		DigestsSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailtriage_digests_sent_total",
			Help: "Digests delivered.",
		}),
		CleanupsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailtriage_cleanups_total",
			Help: "Cleanup requests processed.",
		}),
	}
}

// ObserveClassification records one classification outcome.
func (m *Metrics) ObserveClassification(c model.Classification) {
	m.ClassificationsTotal.WithLabelValues(string(c)).Inc()
}
