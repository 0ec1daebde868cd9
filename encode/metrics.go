package encode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	batches      prometheus.Counter
	submitWait   prometheus.Histogram
	terminations *prometheus.CounterVec
	rowGroups    *prometheus.CounterVec
}

// NewMetrics creates encoder metrics registered with reg. A nil registerer
// creates metrics which are not exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		batches: factory.NewCounter(prometheus.CounterOpts{
			Name: "encoder_batches_total",
			Help: "Number of batches submitted to column workers.",
		}),
		submitWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "encoder_submit_wait_seconds",
			Help:    "Time spent blocked on a full column queue.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		terminations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "encoder_worker_terminations_total",
			Help: "Number of column workers which stopped, by reason.",
		}, []string{"reason"}),
		rowGroups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "encoder_row_groups_total",
			Help: "Number of row groups closed, by result.",
		}, []string{"result"}),
	}
}

var noopMetrics = NewMetrics(nil)
