package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workchat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workchat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	feedActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workchat_feed_active_connections",
			Help: "Number of active live feed connections.",
		},
		[]string{"kind"},
	)
	feedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workchat_feed_events_total",
			Help: "Total number of live feed events emitted.",
		},
		[]string{"kind", "event"},
	)
	feedTickErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workchat_feed_tick_errors_total",
			Help: "Total number of poll ticks that failed and delivered nothing.",
		},
	)
	receiptFanOutErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workchat_receipt_fanout_errors_total",
			Help: "Total number of receipt fan-out failures after a durable send.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workchat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		feedActiveConnections,
		feedEventsTotal,
		feedTickErrorsTotal,
		receiptFanOutErrorsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncFeedActive(kind string) {
	feedActiveConnections.WithLabelValues(kind).Inc()
}

func DecFeedActive(kind string) {
	feedActiveConnections.WithLabelValues(kind).Dec()
}

func IncFeedEvent(kind, event string) {
	feedEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncFeedTickError() {
	feedTickErrorsTotal.Inc()
}

func IncReceiptFanOutError() {
	receiptFanOutErrorsTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
