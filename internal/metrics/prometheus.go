package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcphub_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcphub_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcphub_connections_active",
		Help: "Number of cached MCP connections",
	})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcphub_reconnects_total",
		Help: "Connections rebuilt after staleness or transport death",
	}, []string{"server", "reason"})

	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcphub_tool_calls_total",
		Help: "Total tool invocations",
	}, []string{"server", "tool", "status"})

	ToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcphub_tool_call_duration_seconds",
		Help:    "Tool invocation duration",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"server", "tool"})

	OAuthRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcphub_oauth_refreshes_total",
		Help: "Token refresh grants",
	}, []string{"server", "status"})

	AuthSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcphub_auth_sessions_total",
		Help: "Authorization sessions by terminal status",
	}, []string{"server", "status"})
)
