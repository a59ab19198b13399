package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every carthingy metric and is served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// SessionsActive is 1 while a query session is connecting or streaming.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "carthingy_query_sessions_active",
			Help: "Number of query sessions currently connecting or streaming.",
		},
	)

	// SessionsTotal counts finished sessions by outcome (Completed, Failed, Closed).
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carthingy_query_sessions_total",
			Help: "Total number of finished query sessions by outcome.",
		},
		[]string{"outcome"},
	)

	// SessionDuration measures start to terminal phase.
	SessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carthingy_query_session_duration_seconds",
			Help:    "Duration of query sessions from start to a terminal phase.",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	// LinesTotal counts decoded inbound lines by message kind.
	LinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carthingy_query_lines_total",
			Help: "Total number of inbound protocol lines by decoded kind.",
		},
		[]string{"kind"},
	)

	ParseErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "carthingy_query_parse_errors_total",
			Help: "Total number of malformed inbound lines.",
		},
	)

	ProtocolViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "carthingy_query_protocol_violations_total",
			Help: "Total number of non-fatal protocol violations.",
		},
	)

	// ReportsTotal counts reporter deliveries by sink (carstore, mqtt, archive) and status.
	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carthingy_reports_total",
			Help: "Total number of completed records delivered to a sink.",
		},
		[]string{"sink", "status"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		SessionsActive,
		SessionsTotal,
		SessionDuration,
		LinesTotal,
		ParseErrorsTotal,
		ProtocolViolationsTotal,
		ReportsTotal,
	)
}
