package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Cycles             *prometheus.CounterVec
	Messages           *prometheus.CounterVec
	DocumentsResolved  *prometheus.CounterVec
	ResolutionFailures prometheus.Counter
	InvoicesExtracted  prometheus.Counter
	LedgerFailures     prometheus.Counter
	CycleDuration      prometheus.Histogram
	SchedulerRunning   prometheus.Gauge
}

// NewMetrics registers metrics with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers metrics with reg, which lets tests use a private registry
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_sync_cycles_total",
			Help: "Total number of acquisition cycles by outcome",
		}, []string{"outcome"}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_sync_messages_total",
			Help: "Total number of mailbox messages processed by status",
		}, []string{"status"}),
		DocumentsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_sync_documents_resolved_total",
			Help: "Total number of PDF documents stored by provenance",
		}, []string{"provenance"}),
		ResolutionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "invoice_sync_resolution_failures_total",
			Help: "Total number of attachments or links that yielded no document",
		}),
		InvoicesExtracted: factory.NewCounter(prometheus.CounterOpts{
			Name: "invoice_sync_invoices_extracted_total",
			Help: "Total number of invoice records produced",
		}),
		LedgerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "invoice_sync_ledger_merge_failures_total",
			Help: "Total number of failed ledger merges",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "invoice_sync_cycle_duration_seconds",
			Help:    "Time spent running acquisition cycles",
			Buckets: prometheus.DefBuckets,
		}),
		SchedulerRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "invoice_sync_scheduler_running",
			Help: "Whether the background scheduler is running",
		}),
	}
}
