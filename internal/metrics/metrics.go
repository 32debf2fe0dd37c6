// Package metrics exposes the server's prometheus instrumentation, wired
// the way the teacher's cmd/server/main.go exposes /metrics via
// promhttp.Handler().
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/otcheredev/dicomweb-server/internal/pipeline"
)

// Registry bundles every collector the server registers. A nil *Registry
// is safe to call methods on (all become no-ops), so callers that disable
// metrics via config don't need to guard every call site.
type Registry struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	storeFailures   prometheus.Counter

	pipelinePipelined  prometheus.Gauge
	pipelineIndividual prometheus.Gauge
	pipelineFlushes    prometheus.Gauge
	pipelineErrors     prometheus.Gauge
	pipelineOutOfOrder prometheus.Gauge
}

// New registers all collectors against reg (typically
// prometheus.DefaultRegisterer).
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dicomweb_requests_total",
			Help: "DICOMweb requests processed, labeled by route kind and HTTP status class.",
		}, []string{"kind", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dicomweb_request_duration_seconds",
			Help:    "DICOMweb request handling latency, labeled by route kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicomweb_response_cache_hits_total",
			Help: "Response cache hits, including conditional 304s.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicomweb_response_cache_misses_total",
			Help: "Response cache misses.",
		}),
		storeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicomweb_stow_failed_instances_total",
			Help: "STOW-RS instances rejected across all store requests.",
		}),
		pipelinePipelined: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dicomweb_pipeline_pipelined_total",
			Help: "Requests that went through pipeline batching.",
		}),
		pipelineIndividual: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dicomweb_pipeline_individual_total",
			Help: "Requests executed individually (pipelining disabled).",
		}),
		pipelineFlushes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dicomweb_pipeline_flushes_total",
			Help: "Number of batch flushes performed.",
		}),
		pipelineErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dicomweb_pipeline_errors_total",
			Help: "Errors returned by the pipeline's execute function.",
		}),
		pipelineOutOfOrder: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dicomweb_pipeline_out_of_order_total",
			Help: "Non-strict-ordering completions observed out of enqueue order.",
		}),
	}

	reg.MustRegister(
		r.requestsTotal,
		r.requestDuration,
		r.cacheHits,
		r.cacheMisses,
		r.storeFailures,
		r.pipelinePipelined,
		r.pipelineIndividual,
		r.pipelineFlushes,
		r.pipelineErrors,
		r.pipelineOutOfOrder,
	)
	return r
}

// ObserveRequest records one handled request's outcome.
func (r *Registry) ObserveRequest(kind, statusClass string, d time.Duration) {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues(kind, statusClass).Inc()
	r.requestDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (r *Registry) CacheHit() {
	if r == nil {
		return
	}
	r.cacheHits.Inc()
}

func (r *Registry) CacheMiss() {
	if r == nil {
		return
	}
	r.cacheMisses.Inc()
}

func (r *Registry) StoreFailure() {
	if r == nil {
		return
	}
	r.storeFailures.Inc()
}

// SamplePipeline copies a pipeline.Metrics snapshot into the gauges. The
// pipeline has no natural "event" to hook for push-based updates, so the
// caller samples it periodically (see cmd/server's metrics ticker).
func (r *Registry) SamplePipeline(m pipeline.Metrics) {
	if r == nil {
		return
	}
	r.pipelinePipelined.Set(float64(m.Pipelined))
	r.pipelineIndividual.Set(float64(m.Individual))
	r.pipelineFlushes.Set(float64(m.Flushes))
	r.pipelineErrors.Set(float64(m.Errors))
	r.pipelineOutOfOrder.Set(float64(m.OutOfOrder))
}
