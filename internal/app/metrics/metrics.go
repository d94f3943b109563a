package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sealed_scores",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sealed_scores",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sealed_scores",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sealed_scores",
			Subsystem: "jobs",
			Name:      "submissions_total",
			Help:      "Submissions by outcome code.",
		},
		[]string{"outcome"},
	)

	callbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sealed_scores",
			Subsystem: "jobs",
			Name:      "callbacks_total",
			Help:      "Callbacks by outcome code.",
		},
		[]string{"outcome"},
	)

	callbackLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sealed_scores",
			Subsystem: "jobs",
			Name:      "callback_latency_seconds",
			Help:      "Time from submission to verified callback.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)

	pendingJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sealed_scores",
			Subsystem: "jobs",
			Name:      "pending",
			Help:      "Jobs awaiting a callback at the last sweep.",
		},
	)

	stalePendingJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sealed_scores",
			Subsystem: "jobs",
			Name:      "pending_stale",
			Help:      "Pending jobs older than the sweep threshold.",
		},
	)

	notifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sealed_scores",
			Subsystem: "events",
			Name:      "notify_failures_total",
			Help:      "Events whose delivery to at least one sink failed.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		submissions,
		callbacks,
		callbackLatency,
		pendingJobs,
		stalePendingJobs,
		notifyFailures,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordSubmission counts a submission. outcome is "accepted" or an error code.
func RecordSubmission(outcome string) {
	submissions.WithLabelValues(outcomeLabel(outcome)).Inc()
}

// RecordCallback counts a callback and, when verified, observes its latency.
func RecordCallback(outcome string, latency time.Duration) {
	callbacks.WithLabelValues(outcomeLabel(outcome)).Inc()
	if outcome == "completed" && latency > 0 {
		callbackLatency.Observe(latency.Seconds())
	}
}

// SetPendingJobs publishes the sweep result.
func SetPendingJobs(total, stale int) {
	pendingJobs.Set(float64(total))
	stalePendingJobs.Set(float64(stale))
}

// RecordNotifyFailure counts an event that did not reach every sink.
func RecordNotifyFailure() {
	notifyFailures.Inc()
}

func outcomeLabel(outcome string) string {
	if outcome == "" {
		return "unknown"
	}
	return strings.ToLower(outcome)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets WebSocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// canonicalPath collapses identifiers so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v1" || len(parts) == 1 {
		return "/" + parts[0]
	}
	resource := parts[1]
	switch {
	case len(parts) == 2:
		return "/v1/" + resource
	case resource == "jobs":
		return "/v1/jobs/:offset"
	case resource == "callbacks":
		return "/v1/callbacks/:offset"
	case resource == "results" && len(parts) == 4:
		return "/v1/results/:owner/" + parts[3]
	case resource == "results":
		return "/v1/results/:owner"
	case resource == "owners":
		return "/v1/owners/:owner/jobs"
	default:
		return "/v1/" + resource
	}
}
