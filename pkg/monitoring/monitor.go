package monitoring

import (
	"strconv"
	"sync"
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

	UpstreamRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_api_requests_total",
			Help: "Requests sent to the exam API",
		},
		[]string{"operation", "status"},
	)

	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exam_api_request_duration_seconds",
			Help:    "Latency of exam API requests",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	TokenRefreshCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_token_refresh_total",
			Help: "Access token refreshes by result",
		},
		[]string{"result"},
	)

	AnswerSaveCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_answer_saves_total",
			Help: "Answer saves by flush mode and settlement",
		},
		[]string{"mode", "result"},
	)

	SubmissionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_submissions_total",
			Help: "Submission attempts by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	ActiveAttempts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exam_active_attempts",
			Help: "Attempts currently open in this process",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCounter)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(UpstreamRequestCounter)
		prometheus.MustRegister(UpstreamDuration)
		prometheus.MustRegister(TokenRefreshCounter)
		prometheus.MustRegister(AnswerSaveCounter)
		prometheus.MustRegister(SubmissionCounter)
		prometheus.MustRegister(ActiveAttempts)
	})
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
