package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Generation outcomes.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalid            = "invalid"
	OutcomeUnknownModel       = "unknown_model"
	OutcomeInsufficient       = "insufficient_credits"
	OutcomeUpstreamFailed     = "upstream_failed"
	OutcomePersistenceFailed  = "persistence_failed"
	OutcomeUserNotFound       = "user_not_found"
	OutcomeReservationFailure = "reservation_failed"
	OutcomeCatalogFailure     = "catalog_failed"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dreamforge",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dreamforge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dreamforge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dreamforge",
			Subsystem: "generation",
			Name:      "requests_total",
			Help:      "Generation requests by model and outcome.",
		},
		[]string{"model", "outcome"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dreamforge",
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "End-to-end duration of generation requests.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		},
		[]string{"model"},
	)

	creditsSpent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dreamforge",
			Subsystem: "credits",
			Name:      "spent_total",
			Help:      "Credits deducted by successful generations.",
		},
		[]string{"model"},
	)

	creditsRefunded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dreamforge",
			Subsystem: "credits",
			Name:      "refunded_total",
			Help:      "Credits given back after failed generations.",
		},
	)

	creditsPurchased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dreamforge",
			Subsystem: "credits",
			Name:      "purchased_total",
			Help:      "Credits added by captured payments.",
		},
	)

	styleMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dreamforge",
			Subsystem: "generation",
			Name:      "style_misses_total",
			Help:      "Requests whose style id did not resolve.",
		},
	)

	inferenceRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dreamforge",
			Subsystem: "inference",
			Name:      "retries_total",
			Help:      "Inference attempts retried, by failure reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		generations,
		generationDuration,
		creditsSpent,
		creditsRefunded,
		creditsPurchased,
		styleMisses,
		inferenceRetries,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Paths are labelled with the matched route template to keep cardinality bounded.
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

		path := routeTemplate(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordGeneration records the outcome and duration of one generation request.
func RecordGeneration(model, outcome string, duration time.Duration) {
	if model == "" {
		model = "unknown"
	}
	generations.WithLabelValues(model, outcome).Inc()
	generationDuration.WithLabelValues(model).Observe(duration.Seconds())
}

func AddCreditsSpent(model string, credits int) {
	creditsSpent.WithLabelValues(model).Add(float64(credits))
}

func AddCreditsRefunded(credits int) {
	creditsRefunded.Add(float64(credits))
}

func AddCreditsPurchased(credits int) {
	creditsPurchased.Add(float64(credits))
}

func IncStyleMiss() {
	styleMisses.Inc()
}

func IncInferenceRetry(reason string) {
	inferenceRetries.WithLabelValues(reason).Inc()
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

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
