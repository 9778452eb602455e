package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	EnrollmentOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollment_operations_total",
			Help: "Enrollment operations by outcome",
		},
		[]string{"operation", "status"},
	)

	EnrollmentConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollment_version_conflicts_total",
			Help: "Optimistic lock conflicts while saving an enrollment",
		},
		[]string{"operation"},
	)

	EnrollmentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enrollment_operation_duration_seconds",
			Help:    "Duration of enrollment operations including retries",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	RateLimitedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the per-IP rate limiter",
		},
		[]string{"method"},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(EnrollmentOperations)
	prometheus.MustRegister(EnrollmentConflicts)
	prometheus.MustRegister(EnrollmentDuration)
	prometheus.MustRegister(RateLimitedRequests)
}

// ObserveEnrollment 记录一次选课操作的结果与耗时
func ObserveEnrollment(operation, status string, dur time.Duration) {
	EnrollmentOperations.WithLabelValues(operation, status).Inc()
	EnrollmentDuration.WithLabelValues(operation).Observe(dur.Seconds())
}

func IncEnrollmentConflict(operation string) {
	EnrollmentConflicts.WithLabelValues(operation).Inc()
}

func IncRateLimited(method string) {
	RateLimitedRequests.WithLabelValues(method).Inc()
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
