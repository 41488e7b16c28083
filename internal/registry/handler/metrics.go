package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canapi_registry_requests_total",
		Help: "Total registry HTTP requests by method, route, and response status.",
	}, []string{"method", "path", "status"})

	registryRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "canapi_registry_request_duration_seconds",
		Help:    "Registry request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	documentsServedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canapi_registry_documents_served_total",
		Help: "Documents served by result (hit, miss).",
	}, []string{"result"})

	documentsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canapi_registry_documents_published_total",
		Help: "Total documents published.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		registryRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		registryRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func recordServed(found bool) {
	if found {
		documentsServedTotal.WithLabelValues("hit").Inc()
	} else {
		documentsServedTotal.WithLabelValues("miss").Inc()
	}
}

func recordPublished() {
	documentsPublishedTotal.Inc()
}
