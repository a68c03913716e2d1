package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Chat metrics
	chatTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_chat_turns_total",
			Help: "Total number of completed chat turns",
		},
		[]string{"model"},
	)

	inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_inference_duration_seconds",
			Help:    "Model invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	inferenceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_inference_errors_total",
			Help: "Total number of failed model invocations",
		},
		[]string{"model"},
	)

	// Stats subsystem metrics
	statsNotifyFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_stats_notify_failures_total",
			Help: "Total number of dropped stats notifications",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			chatTurnsTotal,
			inferenceDuration,
			inferenceErrorsTotal,
			statsNotifyFailuresTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordChatTurn records a completed chat turn
func RecordChatTurn(model string) {
	chatTurnsTotal.WithLabelValues(model).Inc()
}

// RecordInference records a model invocation
func RecordInference(model string, duration time.Duration, err error) {
	inferenceDuration.WithLabelValues(model).Observe(duration.Seconds())
	if err != nil {
		inferenceErrorsTotal.WithLabelValues(model).Inc()
	}
}

// RecordStatsNotifyFailure records a dropped stats notification
func RecordStatsNotifyFailure() {
	statsNotifyFailuresTotal.Inc()
}
