package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the portal's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "program_portal",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "program_portal",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "program_portal",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	identifierAllocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "program_portal",
			Subsystem: "identifiers",
			Name:      "allocations_total",
			Help:      "Application identifier allocations by outcome.",
		},
		[]string{"result"},
	)

	identifierRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "program_portal",
			Subsystem: "identifiers",
			Name:      "allocation_retries_total",
			Help:      "Allocation attempts repeated after a uniqueness conflict.",
		},
	)

	archiveOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "program_portal",
			Subsystem: "archive",
			Name:      "operations_total",
			Help:      "Archive, restore and permanent delete operations by outcome.",
		},
		[]string{"op", "result"},
	)

	archiveEntities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "program_portal",
			Subsystem: "archive",
			Name:      "entities_total",
			Help:      "Entities affected by committed archive operations.",
		},
		[]string{"op", "entity_type"},
	)

	constraintIssues = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "program_portal",
			Subsystem: "integrity",
			Name:      "constraint_issues",
			Help:      "Live entities referencing archived or missing rows at the last scan.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		identifierAllocations,
		identifierRetries,
		archiveOperations,
		archiveEntities,
		constraintIssues,
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

// RecordAllocation records an identifier allocation outcome.
func RecordAllocation(result string) {
	identifierAllocations.WithLabelValues(result).Inc()
}

// RecordAllocationRetry counts an allocation attempt repeated after a conflict.
func RecordAllocationRetry() {
	identifierRetries.Inc()
}

// RecordArchiveOperation records the outcome of an archive-manager operation
// and, when it committed, how many entities of each type it touched.
func RecordArchiveOperation(op string, err error, affected map[string]int) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	archiveOperations.WithLabelValues(op, result).Inc()
	if err != nil {
		return
	}
	for entityType, n := range affected {
		archiveEntities.WithLabelValues(op, entityType).Add(float64(n))
	}
}

// SetConstraintIssues publishes the result of the latest integrity scan.
func SetConstraintIssues(n int) {
	constraintIssues.Set(float64(n))
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

// canonicalPath collapses entity ids so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 1 {
		return "/" + parts[0]
	}
	switch parts[0] {
	case "applications", "companies", "submissions", "ghosts":
		if parts[1] == "preview-id" {
			return "/" + parts[0] + "/preview-id"
		}
		parts[1] = ":id"
		if len(parts) > 3 {
			parts = parts[:3]
		}
		return "/" + strings.Join(parts, "/")
	}
	return "/" + parts[0] + "/" + parts[1]
}
