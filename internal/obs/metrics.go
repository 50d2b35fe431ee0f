package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Метрики workflow
var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalflow_transitions_total",
			Help: "Approval workflow transitions by action, level and outcome.",
		},
		[]string{"action", "level", "outcome"},
	)

	bulkBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "evalflow_bulk_batch_size",
		Help:    "Number of candidate documents per bulk approval.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	trackingFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalflow_tracking_sync_failures_total",
			Help: "Tracking sync writes that failed or were dropped.",
		},
		[]string{"reason"},
	)

	streamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evalflow_stream_subscribers",
		Help: "Open tracking event subscriptions (SSE clients).",
	})

	streamDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evalflow_stream_dropped_total",
		Help: "Tracking events skipped for subscribers whose buffer was full.",
	})
)

var initOnce sync.Once

// Регистрация метрик в default-регистре.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			transitionsTotal, bulkBatchSize, trackingFailures,
			streamSubscribers, streamDropped,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTransition counts one orchestrator action.
func ObserveTransition(action string, level int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	transitionsTotal.WithLabelValues(action, strconv.Itoa(level), outcome).Inc()
}

// ObserveBulk records the candidate count of a bulk approval.
func ObserveBulk(n int) {
	bulkBatchSize.Observe(float64(n))
}

// TrackingFailure counts a tracking write that did not land.
func TrackingFailure(reason string) {
	trackingFailures.WithLabelValues(reason).Inc()
}

// StreamSubscribers moves the open-subscription gauge by delta.
func StreamSubscribers(delta int) {
	streamSubscribers.Add(float64(delta))
}

func StreamDropped() {
	streamDropped.Inc()
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

var documentCollectionRoutes = map[string]bool{
	"bulk-approve": true,
	"send":         true,
	"events":       true,
	"dashboard":    true,
}

// CanonicalPath collapses identifiers so label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	for _, prefix := range []string{"/v1/documents/", "/v1/level0-authorities/", "/v1/approval-levels/"} {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		parts := strings.Split(rest, "/")
		if parts[0] == "" {
			return p
		}
		if prefix == "/v1/documents/" && documentCollectionRoutes[parts[0]] {
			return p
		}
		if prefix != "/v1/documents/" {
			if parts[0] == "resolve" || parts[0] == "migrate" || parts[0] == "assigned" {
				return p
			}
		}
		switch len(parts) {
		case 1:
			return prefix + ":id"
		case 2:
			return prefix + ":id/" + parts[1]
		default:
			return p
		}
	}
	return p
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
