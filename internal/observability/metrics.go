package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_http_request_duration_seconds",
			Help:    "HTTP request latency by route; /v1/ask spans several model round trips.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path", "status"},
	)

	pipelineInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_pipeline_invocations_total",
			Help: "Total number of question pipeline invocations by outcome.",
		},
		[]string{"outcome"},
	)
	gateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_gate_decisions_total",
			Help: "Total number of SQL safety gate decisions by decision and reason.",
		},
		[]string{"decision", "reason"},
	)
	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_stage_duration_seconds",
			Help:    "Pipeline stage latency in seconds.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
	completionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_completion_requests_total",
			Help: "Total number of completion requests by task and outcome.",
		},
		[]string{"task", "outcome"},
	)
	chartRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_chart_runs_total",
			Help: "Total number of chart rendering attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		pipelineInvocationsTotal,
		gateDecisionsTotal,
		stageDurationSeconds,
		completionRequestsTotal,
		chartRunsTotal,
	)
}

func ObservePipelineInvocation(outcome string) {
	pipelineInvocationsTotal.WithLabelValues(outcome).Inc()
}

func ObserveGateDecision(decision, reason string) {
	gateDecisionsTotal.WithLabelValues(decision, reason).Inc()
}

func ObserveStage(stage string, elapsed time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func ObserveCompletion(task string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	completionRequestsTotal.WithLabelValues(task, outcome).Inc()
}

func ObserveChartRun(outcome string) {
	chartRunsTotal.WithLabelValues(outcome).Inc()
}
