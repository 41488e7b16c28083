// Package metrics holds the Prometheus collectors shared by the client
// runtime: endpoint calls, client builds and resolutions.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	endpointCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canapi_endpoint_calls_total",
		Help: "Total endpoint calls by api, HTTP method and response status.",
	}, []string{"api", "method", "status"})

	endpointCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "canapi_endpoint_call_duration_seconds",
		Help:    "Endpoint call duration in seconds, including body read.",
		Buckets: prometheus.DefBuckets,
	}, []string{"api", "method"})

	clientsBuiltTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canapi_clients_built_total",
		Help: "Total client APIs constructed (first build per name).",
	})

	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canapi_resolutions_total",
		Help: "Total resolve lookups by source and result.",
	}, []string{"source", "result"})
)

// RecordCall records one endpoint call. status 0 means the request failed
// before a response was received.
func RecordCall(api, method string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	endpointCallsTotal.WithLabelValues(api, method, label).Inc()
	endpointCallDuration.WithLabelValues(api, method).Observe(d.Seconds())
}

// RecordBuild records the first construction of a client API.
func RecordBuild() {
	clientsBuiltTotal.Inc()
}

// RecordResolve records a lookup against source ("cache", "local",
// "remote") with result "hit", "miss" or "error".
func RecordResolve(source, result string) {
	resolutionsTotal.WithLabelValues(source, result).Inc()
}
