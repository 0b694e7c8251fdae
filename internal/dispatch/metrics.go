package dispatch

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	workItems       prometheus.Counter
	requeues        prometheus.Counter
	overloads       prometheus.Counter
	decodeTasks     *prometheus.CounterVec
	faults          *prometheus.CounterVec
	requests        *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	guarded         prometheus.Gauge
	bindings        prometheus.Gauge
	decodeDurations prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		workItems: factory.NewCounter(prometheus.CounterOpts{
			Name: "sluice_dispatch_work_items_total",
			Help: "Total number of work items enqueued by readiness events",
		}),
		requeues: factory.NewCounter(prometheus.CounterOpts{
			Name: "sluice_dispatch_requeues_total",
			Help: "Total number of work items pushed back because their connection was busy",
		}),
		overloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "sluice_dispatch_pool_overloads_total",
			Help: "Total number of submissions rejected by a saturated decode pool",
		}),
		decodeTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sluice_dispatch_decode_tasks_total",
			Help: "Total number of decode tasks by outcome",
		}, []string{"outcome"}),
		faults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sluice_dispatch_faults_total",
			Help: "Total number of connections torn down by the fault handler, by status",
		}, []string{"status"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sluice_dispatch_requests_total",
			Help: "Total number of completed requests by mode",
		}, []string{"mode"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sluice_dispatch_queue_depth",
			Help: "Current number of work items waiting in the dispatch queue",
		}),
		guarded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sluice_dispatch_guarded_connections",
			Help: "Current number of connections with a decode task in flight",
		}),
		bindings: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sluice_dispatch_bindings",
			Help: "Current number of live decoder bindings",
		}),
		decodeDurations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sluice_dispatch_decode_duration_seconds",
			Help:    "Decode task duration in seconds",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}),
	}
}

func (m *Metrics) fault(status int) {
	m.faults.WithLabelValues(strconv.Itoa(status)).Inc()
}
