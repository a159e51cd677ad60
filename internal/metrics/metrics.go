package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup reused a cached value.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no fresh value was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
)

// Recorder publishes Prometheus metrics for tool and upstream activity.
// A nil Recorder is valid and records nothing, so callers never need to
// guard their observation sites.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	toolRequests *prometheus.CounterVec
	toolLatency  *prometheus.HistogramVec

	cacheLookups *prometheus.CounterVec

	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	toolRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursebridge",
		Subsystem: "tools",
		Name:      "requests_total",
		Help:      "Total tool invocations processed by the dispatcher.",
	}, []string{"tool", "outcome"})

	toolLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coursebridge",
		Subsystem: "tools",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed tool invocations.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"tool", "outcome"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursebridge",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups executed by the upstream clients.",
	}, []string{"category", "result"})

	upstreamRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursebridge",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "HTTP requests issued to the learning-platform backends.",
	}, []string{"service", "status_class"})

	upstreamLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coursebridge",
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for upstream HTTP requests.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"service"})

	reg.MustRegister(toolRequests, toolLatency, cacheLookups, upstreamRequests, upstreamLatency)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:         reg,
		handler:          handler,
		toolRequests:     toolRequests,
		toolLatency:      toolLatency,
		cacheLookups:     cacheLookups,
		upstreamRequests: upstreamRequests,
		upstreamLatency:  upstreamLatency,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveTool records the outcome and latency of a completed tool invocation.
func (r *Recorder) ObserveTool(tool, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	toolLabel := normalizeLabel(tool)
	outcomeLabel := normalizeLabel(outcome)
	r.toolRequests.WithLabelValues(toolLabel, outcomeLabel).Inc()
	r.toolLatency.WithLabelValues(toolLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records a cache hit or miss for a category.
func (r *Recorder) ObserveCacheLookup(category string, result CacheLookupOutcome) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.cacheLookups.WithLabelValues(normalizeLabel(category), resultLabel).Inc()
}

// ObserveUpstream records one HTTP round trip against a backend service.
// A non-positive status means the request failed before a response arrived.
func (r *Recorder) ObserveUpstream(service string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	serviceLabel := normalizeLabel(service)
	r.upstreamRequests.WithLabelValues(serviceLabel, statusClass(status)).Inc()
	r.upstreamLatency.WithLabelValues(serviceLabel).Observe(duration.Seconds())
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
