package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Frame metrics
	FramesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "schemat_frames_total",
			Help: "Number of registered frames by lifecycle state",
		},
		[]string{"state"},
	)

	CallsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schemat_calls_in_flight",
			Help: "Number of RPC calls currently awaiting a result",
		},
	)

	CallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schemat_call_duration_seconds",
			Help:    "Time taken to complete an RPC call, from rpc_exec/rpc_frwd dispatch to result",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Mailbox metrics
	MailboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schemat_mailbox_pending",
			Help: "Number of in-flight mailbox sends awaiting a correlated result",
		},
	)

	// TCP transport metrics
	TCPRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schemat_tcp_retries_total",
			Help: "Total number of unacknowledged TCP frames resent by the retry loop",
		},
	)

	// Atlas metrics
	AtlasRecordsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "schemat_atlas_records_total",
			Help: "Number of fid-bearing routing records by role",
		},
		[]string{"role"},
	)

	// Placement reconciliation metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schemat_reconciliation_duration_seconds",
			Help:    "Time taken for a placement reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schemat_reconciliation_cycles_total",
			Help: "Total number of placement reconciliation cycles completed",
		},
	)

	NodesDownTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schemat_nodes_down_total",
			Help: "Total number of times the reconciler has marked a node down after failed TCP probes",
		},
	)
)

func init() {
	prometheus.MustRegister(FramesTotal)
	prometheus.MustRegister(CallsInFlight)
	prometheus.MustRegister(CallDuration)
	prometheus.MustRegister(MailboxPending)
	prometheus.MustRegister(TCPRetriesTotal)
	prometheus.MustRegister(AtlasRecordsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(NodesDownTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
