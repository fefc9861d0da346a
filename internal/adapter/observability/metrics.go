package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsConsumedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ocr_jobs_consumed_total",
			Help: "Total number of job envelopes popped from the inbound queue",
		},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_jobs_completed_total",
			Help: "Total number of completion envelopes emitted by status",
		},
		[]string{"status"},
	)
	JobsRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ocr_jobs_retried_total",
			Help: "Total number of jobs re-queued for retry",
		},
	)
	JobsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_jobs_dropped_total",
			Help: "Total number of inbound messages dropped before processing",
		},
		[]string{"reason"},
	)

	TierAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_tier_attempts_total",
			Help: "Total number of OCR tier invocations",
		},
		[]string{"tier"},
	)
	TierDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocr_tier_duration_seconds",
			Help:    "OCR engine invocation duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"tier"},
	)

	JudgeRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ocr_judge_requests_total",
			Help: "Total number of judge jobs enqueued at the LLM gateway",
		},
	)
	JudgeVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_judge_verdicts_total",
			Help: "Total number of judge verdicts received by outcome",
		},
		[]string{"valid"},
	)
	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_validation_callbacks_total",
			Help: "Total number of validation callbacks by outcome",
		},
		[]string{"outcome"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ocr_queue_depth",
			Help: "Current length of a Redis list queue",
		},
		[]string{"queue"},
	)
	PendingValidations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ocr_pending_validations",
			Help: "Suspended per-image workflows awaiting a verdict",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsConsumedTotal)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsRetriedTotal)
	prometheus.MustRegister(JobsDroppedTotal)
	prometheus.MustRegister(TierAttemptsTotal)
	prometheus.MustRegister(TierDuration)
	prometheus.MustRegister(JudgeRequestsTotal)
	prometheus.MustRegister(JudgeVerdictsTotal)
	prometheus.MustRegister(CallbacksTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(PendingValidations)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveTier records one engine invocation.
func ObserveTier(tier string, d time.Duration) {
	TierAttemptsTotal.WithLabelValues(tier).Inc()
	TierDuration.WithLabelValues(tier).Observe(d.Seconds())
}
