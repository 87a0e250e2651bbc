package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// API key metrics
	APIKeyValidations  *prometheus.CounterVec
	APIKeyValidateTime prometheus.Histogram
	APIKeysCreated     *prometheus.CounterVec
	APIKeyQuotaDenials *prometheus.CounterVec
	RateLimitHits      prometheus.Counter
	CredentialThrottle prometheus.Counter
	RequestLogFailures *prometheus.CounterVec

	// Analytics metrics
	AnalyticsQueries *prometheus.CounterVec
	AnalyticsExports *prometheus.CounterVec
	TrackedEvents    *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
}

var (
	metrics  *Metrics
	initOnce sync.Once
)

// Init initializes all Prometheus metrics
func Init() *Metrics {
	initOnce.Do(func() {
		metrics = &Metrics{
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "biolink",
					Name:      "http_requests_total",
					Help:      "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "biolink",
					Name:      "http_request_duration_seconds",
					Help:      "HTTP request duration in seconds",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
			HTTPRequestsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "biolink",
					Name:      "http_requests_in_flight",
					Help:      "Number of HTTP requests currently being processed",
				},
			),

			APIKeyValidations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "biolink",
					Name:      "api_key_validations_total",
					Help:      "API key validations by outcome",
				},
				[]string{"result"},
			),
			APIKeyValidateTime: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "biolink",
					Name:      "api_key_validation_duration_seconds",
					Help:      "Time spent validating a presented API key",
					Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
				},
			),
			APIKeysCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "biolink",
					Name:      "api_keys_created_total",
					Help:      "API keys created by owner tier",
				},
				[]string{"tier"},
			),
			APIKeyQuotaDenials: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "biolink",
					Name:      "api_key_quota_denials_total",
					Help:      "Key creations or reactivations refused by the active key quota",
				},
				[]string{"tier"},
			),
			RateLimitHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "biolink",
					Name:      "rate_limit_hits_total",
					Help:      "Requests rejected by the per-key sliding window",
				},
			),
			CredentialThrottle: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "biolink",
					Name:      "credential_failures_throttled_total",
					Help:      "Requests rejected because a client exceeded its failed credential budget",
				},
			),
			RequestLogFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "biolink",
					Name:      "request_log_failures_total",
					Help:      "Best-effort usage log writes that failed",
				},
				[]string{"sink"},
			),

			AnalyticsQueries: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "biolink",
					Name:      "analytics_queries_total",
					Help:      "Analytics reads by query type and whether the tier gate withheld data",
				},
				[]string{"query", "gated"},
			),
			AnalyticsExports: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "biolink",
					Name:      "analytics_exports_total",
					Help:      "Analytics exports by format and status",
				},
				[]string{"format", "status"},
			),
			TrackedEvents: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "biolink",
					Name:      "tracked_events_total",
					Help:      "Profile events recorded into daily buckets",
				},
				[]string{"event"},
			),

			DBConnectionsActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "biolink",
					Name:      "db_connections_active",
					Help:      "Number of active database connections",
				},
			),
			DBConnectionsIdle: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "biolink",
					Name:      "db_connections_idle",
					Help:      "Number of idle database connections",
				},
			),

			CircuitBreakerState: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "biolink",
					Name:      "circuit_breaker_state",
					Help:      "Circuit breaker state (0=closed, 1=open, 0.5=half-open)",
				},
				[]string{"breaker"},
			),
		}
	})

	return metrics
}

// Get returns the global metrics instance
func Get() *Metrics {
	return Init()
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinHandler returns a Gin-compatible handler for Prometheus metrics
func GinHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordKeyValidation records the outcome of one API key validation
func RecordKeyValidation(result string, duration time.Duration) {
	m := Get()
	m.APIKeyValidations.WithLabelValues(result).Inc()
	m.APIKeyValidateTime.Observe(duration.Seconds())
}

// RecordKeyCreated records a new API key for a tier
func RecordKeyCreated(tier string) {
	Get().APIKeysCreated.WithLabelValues(tier).Inc()
}

// RecordKeyQuotaDenied records a refused creation or reactivation
func RecordKeyQuotaDenied(tier string) {
	Get().APIKeyQuotaDenials.WithLabelValues(tier).Inc()
}

// RecordRateLimitHit records a request rejected by the sliding window
func RecordRateLimitHit() {
	Get().RateLimitHits.Inc()
}

// RecordCredentialThrottled records a request refused by the failure throttle
func RecordCredentialThrottled() {
	Get().CredentialThrottle.Inc()
}

// RecordRequestLogFailure records a swallowed usage log write failure
func RecordRequestLogFailure(sink string) {
	Get().RequestLogFailures.WithLabelValues(sink).Inc()
}

// RecordAnalyticsQuery records an analytics read
func RecordAnalyticsQuery(query string, gated bool) {
	Get().AnalyticsQueries.WithLabelValues(query, strconv.FormatBool(gated)).Inc()
}

// RecordAnalyticsExport records an export attempt
func RecordAnalyticsExport(format, status string) {
	Get().AnalyticsExports.WithLabelValues(format, status).Inc()
}

// RecordTrackedEvent records an ingested profile event
func RecordTrackedEvent(event string) {
	Get().TrackedEvents.WithLabelValues(event).Inc()
}

// SetDBConnections sets database connection metrics
func SetDBConnections(active, idle int) {
	Get().DBConnectionsActive.Set(float64(active))
	Get().DBConnectionsIdle.Set(float64(idle))
}

// SetCircuitBreakerState sets the circuit breaker state
// state: 0=closed, 1=open, 0.5=half-open
func SetCircuitBreakerState(name string, state float64) {
	Get().CircuitBreakerState.WithLabelValues(name).Set(state)
}
