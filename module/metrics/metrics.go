// Package metrics exposes chainbook's internal instrumentation via
// prometheus client_golang, the metrics library the teacher repo's
// go.mod already carries. Nothing in the consensus or RPC path depends
// on this package's values — it is observability, not protocol.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector groups the gauges/counters chainbook's engines report to.
// CurrentView, QCLatency and MempoolSize are registered but no engine
// sets them, so they always read zero.
type Collector struct {
	CommittedHeight prometheus.Gauge
	CurrentView     prometheus.Gauge
	QCLatency       prometheus.Histogram
	ViewTimeouts    prometheus.Counter
	MempoolSize     prometheus.Gauge
	BookDepth       *prometheus.GaugeVec
	TxApplied       *prometheus.CounterVec
}

// NewCollector registers chainbook's metrics against reg and returns the
// handles engines use to report them.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		CommittedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainbook", Name: "committed_height",
			Help: "Height of the highest committed block.",
		}),
		CurrentView: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainbook", Name: "current_view",
			Help: "The pacemaker's current view.",
		}),
		QCLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chainbook", Name: "qc_latency_seconds",
			Help:    "Time between a block's proposal and its QC forming.",
			Buckets: prometheus.DefBuckets,
		}),
		ViewTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainbook", Name: "view_timeouts_total",
			Help: "Number of views that expired without a QC.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainbook", Name: "mempool_size",
			Help: "Number of transactions currently admitted into the mempool.",
		}),
		BookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chainbook", Name: "book_depth",
			Help: "Number of resting orders per market and side.",
		}, []string{"market", "side"}),
		TxApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainbook", Name: "tx_applied_total",
			Help: "Transactions applied at commit, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(c.CommittedHeight, c.CurrentView, c.QCLatency, c.ViewTimeouts, c.MempoolSize, c.BookDepth, c.TxApplied)
	return c
}
