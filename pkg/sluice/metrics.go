package sluice

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type handlerMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	bodySize prometheus.Histogram
}

func newHandlerMetrics(reg prometheus.Registerer) *handlerMetrics {
	factory := promauto.With(reg)
	return &handlerMetrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sluice_http_requests_total",
				Help: "Total number of HTTP requests served by the handler",
			},
			[]string{"method", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sluice_http_request_duration_seconds",
				Help:    "Handler duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sluice_http_requests_in_flight",
				Help: "Current number of requests being handled",
			},
		),
		bodySize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sluice_http_request_body_bytes",
				Help:    "Request body size in bytes",
				Buckets: []float64{0, 100, 1000, 10000, 100000, 1000000},
			},
		),
	}
}
