// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loan"

type Metrics struct {
	Registry *prometheus.Registry

	Transitions     *prometheus.CounterVec
	StockConflicts  prometheus.Counter
	HTTPDuration    *prometheus.HistogramVec
	EmailsDropped   prometheus.Counter
	OverdueMarked   prometheus.Counter
	NotificationsGC prometheus.Counter
}

// New builds a private registry so tests and multiple instances do not collide.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Request and loan state transitions by outcome.",
		}, []string{"transition", "outcome"}),
		StockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_conflicts_total",
			Help:      "Approvals rejected for insufficient stock.",
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		EmailsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_dropped_total",
			Help:      "Notification emails dropped because the queue was full or delivery failed.",
		}),
		OverdueMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_overdue_total",
			Help:      "Loans flagged overdue by the sweeper.",
		}),
		NotificationsGC: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_notifications_purged_total",
			Help:      "Notifications deleted by the sweeper.",
		}),
	}
	m.Registry.MustRegister(
		m.Transitions, m.StockConflicts, m.HTTPDuration,
		m.EmailsDropped, m.OverdueMarked, m.NotificationsGC,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Transition records one state-machine outcome: "ok", "conflict", "error".
func (m *Metrics) Transition(name, outcome string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
