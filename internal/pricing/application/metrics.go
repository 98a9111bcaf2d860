package application

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wyfcoding/mcvol/metrics"
)

type pricingMetrics struct {
	requests   *prometheus.CounterVec   // operation, result
	duration   *prometheus.HistogramVec // operation
	iterations prometheus.Observer
	pinned     prometheus.Counter
	cacheHits  *prometheus.CounterVec // operation
}

func newPricingMetrics(m *metrics.Metrics) *pricingMetrics {
	return &pricingMetrics{
		requests: m.NewCounterVec(prometheus.CounterOpts{
			Name: "pricing_requests_total",
			Help: "Number of premium estimations and calibrations by result",
		}, []string{"operation", "result"}),
		duration: m.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricing_duration_seconds",
			Help:    "Latency of premium estimations and calibrations",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"operation"}),
		iterations: m.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricing_calibration_iterations",
			Help:    "Number of bisection iterations per calibration",
			Buckets: prometheus.LinearBuckets(2, 2, 12),
		}, nil).WithLabelValues(),
		pinned: m.NewCounterVec(prometheus.CounterOpts{
			Name: "pricing_calibration_pinned_total",
			Help: "Calibrations that ended at a search bound",
		}, nil).WithLabelValues(),
		cacheHits: m.NewCounterVec(prometheus.CounterOpts{
			Name: "pricing_cache_hits_total",
			Help: "Results served from the result cache",
		}, []string{"operation"}),
	}
}

func (pm *pricingMetrics) observe(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	pm.requests.WithLabelValues(operation, result).Inc()
	pm.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
