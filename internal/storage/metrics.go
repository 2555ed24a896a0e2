package storage

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for engine operations. The service and URL
// service call it on every provider round trip and cache lookup; callers
// that do not scrape metrics pass NopObserver.
type Observer interface {
	// ObserveOperation records one provider call with its outcome.
	ObserveOperation(op, provider string, duration time.Duration, err error)
	// AddUploadedBytes counts payload bytes successfully written.
	AddUploadedBytes(n int64)
	// ObserveCacheLookup records a URL cache hit or miss.
	ObserveCacheLookup(hit bool)
	// SetCacheSize tracks the current URL cache entry count.
	SetCacheSize(n int)
}

// PrometheusObserver exports engine metrics to Prometheus.
type PrometheusObserver struct {
	opDuration   *prometheus.HistogramVec
	opErrors     *prometheus.CounterVec
	uploadBytes  prometheus.Counter
	cacheLookups *prometheus.CounterVec
	cacheSize    prometheus.Gauge
}

var _ Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver registers the engine's metrics with reg. A nil reg
// uses the default registerer; re-registration reuses existing collectors.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "mediastore"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	observer := &PrometheusObserver{
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of storage provider operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "provider"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of failed storage provider operations.",
		}, []string{"operation", "provider"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Cumulative payload bytes successfully uploaded.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "url_cache_lookups_total",
			Help:      "URL cache lookups partitioned by result.",
		}, []string{"result"}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "url_cache_entries",
			Help:      "Current number of cached URLs.",
		}),
	}

	collectors := []prometheus.Collector{
		observer.opDuration, observer.opErrors, observer.uploadBytes,
		observer.cacheLookups, observer.cacheSize,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return nil, fmt.Errorf("register storage metric: %w", err)
		}
	}
	return observer, nil
}

func (o *PrometheusObserver) ObserveOperation(op, provider string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.opDuration.WithLabelValues(op, provider).Observe(duration.Seconds())
	if err != nil {
		o.opErrors.WithLabelValues(op, provider).Inc()
	}
}

func (o *PrometheusObserver) AddUploadedBytes(n int64) {
	if o == nil || n <= 0 {
		return
	}
	o.uploadBytes.Add(float64(n))
}

func (o *PrometheusObserver) ObserveCacheLookup(hit bool) {
	if o == nil {
		return
	}
	if hit {
		o.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		o.cacheLookups.WithLabelValues("miss").Inc()
	}
}

func (o *PrometheusObserver) SetCacheSize(n int) {
	if o == nil {
		return
	}
	o.cacheSize.Set(float64(n))
}

// NopObserver discards all telemetry.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) ObserveOperation(string, string, time.Duration, error) {}

func (NopObserver) AddUploadedBytes(int64) {}

func (NopObserver) ObserveCacheLookup(bool) {}

func (NopObserver) SetCacheSize(int) {}
