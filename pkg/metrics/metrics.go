package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mwreactor"

// Metrics contains the Prometheus metrics of one server
type Metrics struct {
	// dispatcher
	Accepted      prometheus.Counter
	AcceptErrors  prometheus.Counter
	Admitted      *prometheus.CounterVec
	AdmitFailures *prometheus.CounterVec

	// sessions, labelled by worker id
	ActiveSessions  *prometheus.GaugeVec
	BytesEchoed     *prometheus.CounterVec
	IdleClosed      prometheus.Counter
	SessionDuration prometheus.Histogram
}

// NewMetrics creates the metrics and registers them into reg, a nil reg gets a
// private registry so that several servers can live in one process
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "accepted_total",
			Help:      "Total number of accepted connections",
		}),
		AcceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "accept_errors_total",
			Help:      "Total number of failed accept calls",
		}),
		Admitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "admitted_total",
			Help:      "Total number of connections admitted by a worker",
		}, []string{"worker"}),
		AdmitFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "admit_failures_total",
			Help:      "Total number of handles closed because they could not be admitted",
		}, []string{"reason"}),

		ActiveSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Current number of sessions owned by a worker",
		}, []string{"worker"}),
		BytesEchoed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "echoed_bytes_total",
			Help:      "Total number of bytes written back to peers",
		}, []string{"worker"}),
		IdleClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "idle_closed_total",
			Help:      "Total number of sessions closed for being idle",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Lifetime of closed sessions",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}
